package hodl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDraftGroupLifecycle(t *testing.T) {
	group := NewDraftGroup()

	require.NoError(t, group.AddDraft(0, Bal(100)))
	require.NoError(t, group.AddDraft(1, Bal(200)))
	assert.Equal(t, Bal(300), group.TotalAmount)

	require.EqualError(t, group.CanConvertDraft(), "cannot convert draft from not funded group")

	require.NoError(t, group.Fund("payer"))
	assert.True(t, group.Funded())
	require.EqualError(t, group.Fund("payer"), "draft group already funded")

	require.EqualError(t, group.AddDraft(2, Bal(1)), "cannot add draft, group already funded")
	require.EqualError(t, group.Discard(), "cannot discard, draft group already funded")
	require.EqualError(t, group.CanDeleteDraft(), "cannot delete draft, draft group is not discarded")

	require.NoError(t, group.CanConvertDraft())
	require.NoError(t, group.RemoveDraft(0, Bal(100)))
	require.NoError(t, group.RemoveDraft(1, Bal(200)))
	assert.True(t, group.TotalAmount.IsZero())
	assert.Empty(t, group.DraftIndices)
}

func TestDraftGroupDiscard(t *testing.T) {
	group := NewDraftGroup()
	require.NoError(t, group.AddDraft(0, Bal(100)))

	require.NoError(t, group.Discard())
	require.EqualError(t, group.Discard(), "draft group already discarded")

	require.EqualError(t, group.AddDraft(1, Bal(1)), "cannot add draft, draft group is discarded")
	require.EqualError(t, group.Fund("payer"), "cannot fund draft, draft group is discarded")
	require.EqualError(t, group.CanConvertDraft(), "cannot convert draft, draft group is discarded")

	require.NoError(t, group.CanDeleteDraft())
	require.NoError(t, group.RemoveDraft(0, Bal(100)))
}

func TestDraftValidateNew(t *testing.T) {
	draft := Draft{
		DraftGroupID: 0,
		LockupCreate: LockupCreate{
			AccountID: "alice",
			Schedule: Schedule{
				{Timestamp: 0, Balance: Bal(0)},
				{Timestamp: 100, Balance: Bal(1000)},
			},
		},
	}

	require.NoError(t, draft.ValidateNew())
	assert.Equal(t, Bal(1000), draft.TotalBalance())

	draft.LockupCreate.Schedule = Schedule{}
	require.Error(t, draft.ValidateNew())
}
