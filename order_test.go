package hodl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPercentage(t *testing.T) {
	require.NoError(t, checkPercentage(0))
	require.NoError(t, checkPercentage(1550))
	require.NoError(t, checkPercentage(FullPercentage))
	require.Error(t, checkPercentage(FullPercentage+1))
}

func TestApplyPercentageConservation(t *testing.T) {
	// approved + refund must always equal the requested amount.
	for _, bp := range []uint32{0, 1, 1550, 3333, 5000, 9999, 10000} {
		requested := Bal(1000001)
		approved := applyPercentage(requested, bp)
		refund := requested.Sub(approved)

		assert.Equal(t, requested, approved.Add(refund), "bp=%d", bp)
		assert.True(t, approved.Cmp(requested) <= 0, "bp=%d", bp)
	}

	assert.Equal(t, Bal(155), applyPercentage(Bal(1000), 1550))
	assert.True(t, applyPercentage(Bal(1000), 0).IsZero())
	assert.Equal(t, Bal(1000), applyPercentage(Bal(1000), FullPercentage))

	// truncation favors the refund
	assert.Equal(t, Bal(0), applyPercentage(Bal(1), 9999))
}

func TestOrderExecutionAdd(t *testing.T) {
	exec := NewOrderExecution("alice")
	exec.Add(0, Bal(100), Bal(50))
	exec.Add(3, Bal(200), Bal(0))

	assert.Equal(t, Bal(300), exec.TotalApproved)
	assert.Equal(t, OrderLine{Approved: Bal(100), Refund: Bal(50)}, exec.Results[0])
	assert.Equal(t, OrderLine{Approved: Bal(200), Refund: Bal(0)}, exec.Results[3])
}

func TestBalanceMulDiv(t *testing.T) {
	big, err := ParseBalance("340282366920938463463374607431768211455") // 2^128-1
	require.NoError(t, err)

	// The full product does not fit 128 bits; the result must anyway.
	half := big.MulDiv(5000, 10000)
	assert.Equal(t, "170141183460469231731687303715884105727", half.String())

	_, err = ParseBalance("340282366920938463463374607431768211456") // 2^128
	require.Error(t, err)

	_, err = ParseBalance("nope")
	require.Error(t, err)
}
