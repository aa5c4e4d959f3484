package hodl

import (
	"context"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokenService struct {
	mu        sync.Mutex
	submitted map[uuid.UUID]Transfer
	states    map[uuid.UUID]TransferState
	deposits  []*Deposit
}

func newFakeTokenService() *fakeTokenService {
	return &fakeTokenService{
		submitted: map[uuid.UUID]Transfer{},
		states:    map[uuid.UUID]TransferState{},
	}
}

func (f *fakeTokenService) Submit(_ context.Context, t Transfer) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.submitted[t.ID] = t
	return nil
}

func (f *fakeTokenService) State(_ context.Context, id uuid.UUID) (TransferState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, ok := f.states[id]
	if !ok {
		return TransferUnknown, nil
	}

	return state, nil
}

func (f *fakeTokenService) ListDeposits(_ context.Context, offset uint64, limit int) ([]*Deposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*Deposit
	for _, d := range f.deposits {
		if d.Sequence >= offset && len(out) < limit {
			out = append(out, d)
		}
	}

	return out, nil
}

func (f *fakeTokenService) setState(id uuid.UUID, state TransferState) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.states[id] = state
}

func testServer(t *testing.T, now TimestampSec) (*Server, *Ledger, *fakeTokenService) {
	t.Helper()

	db := testDB(t)
	l := NewLedger(Config{
		TokenAccountID:   "token",
		VaultAccountID:   "vault",
		Manager:          "manager",
		DepositWhitelist: []string{"operator"},
	})
	l.now = func() TimestampSec { return now }

	token := newFakeTokenService()
	s := NewServer(db, l, token, ServerConfig{Issuer: "test"})
	require.NoError(t, s.Init())

	return s, l, token
}

func TestServerDepositFlow(t *testing.T) {
	ctx := context.Background()
	s, l, token := testServer(t, 50)

	token.deposits = []*Deposit{
		{Sequence: 0, SenderID: "operator", Amount: Bal(1000), Memo: depositMemo(t, linearCreate("alice", 1000))},
		{Sequence: 1, SenderID: "stranger", Amount: Bal(77), Memo: "{}"},
	}

	require.NoError(t, s.pollDeposits(ctx))

	require.NoError(t, s.view(func(txn *badger.Txn) error {
		views, err := l.GetAccountLockups(txn, "alice")
		require.NoError(t, err)
		require.Len(t, views, 1)
		assert.Equal(t, Bal(1000), views[0].TotalBalance)
		return nil
	}))

	var offset uint64
	require.NoError(t, ReadProperty(s.db, depositsOffsetProperty, &offset))
	assert.Equal(t, uint64(2), offset)

	// The rejected deposit was bounced back with a deterministic refund
	// id, so a crash between refund and offset write cannot double-pay.
	refundID := uuid.NewSHA1(uuid.NameSpaceOID, []byte("refund:1"))
	refund, ok := token.submitted[refundID]
	require.True(t, ok)
	assert.Equal(t, "stranger", refund.Receiver)
	assert.Equal(t, Bal(77), refund.Amount)

	// Re-polling finds nothing new.
	require.NoError(t, s.pollDeposits(ctx))
	require.NoError(t, ReadProperty(s.db, depositsOffsetProperty, &offset))
	assert.Equal(t, uint64(2), offset)
}

func TestServerDepositConvertsDrafts(t *testing.T) {
	ctx := context.Background()
	s, l, token := testServer(t, 50)

	var groupID DraftGroupIndex
	require.NoError(t, s.update(func(txn *badger.Txn) error {
		var err error
		if groupID, err = l.CreateDraftGroup(txn, "operator"); err != nil {
			return err
		}

		_, err = l.CreateDrafts(txn, "operator", []Draft{
			{DraftGroupID: groupID, LockupCreate: linearCreate("alice", 100)},
		})
		return err
	}))

	token.deposits = []*Deposit{{
		Sequence: 0,
		SenderID: "operator",
		Amount:   Bal(100),
		Memo:     depositMemo(t, DraftGroupFunding{DraftGroupID: groupID, TryConvert: true}),
	}}

	require.NoError(t, s.pollDeposits(ctx))

	require.NoError(t, s.view(func(txn *badger.Txn) error {
		views, err := l.GetAccountLockups(txn, "alice")
		require.NoError(t, err)
		require.Len(t, views, 1)

		_, err = l.GetDraftGroup(txn, groupID)
		require.ErrorIs(t, err, ErrDraftGroupNotFound)
		return nil
	}))
}

func TestServerTransferFlow(t *testing.T) {
	ctx := context.Background()
	s, l, token := testServer(t, 50)

	require.NoError(t, s.update(func(txn *badger.Txn) error {
		_, err := l.HandleDeposit(txn, "operator", Bal(1000), depositMemo(t, linearCreate("alice", 1000)))
		return err
	}))

	var op *PendingOperation
	require.NoError(t, s.update(func(txn *badger.Txn) error {
		var err error
		op, err = l.Claim(txn, "alice", nil)
		return err
	}))
	require.NotNil(t, op)

	legID := op.Legs[0].ID

	// The leg was never handed over; the poll loop re-submits it.
	require.NoError(t, s.pollTransfers(ctx))
	_, ok := token.submitted[legID]
	require.True(t, ok)

	// Still pending: nothing resolves.
	token.setState(legID, TransferPending)
	require.NoError(t, s.pollTransfers(ctx))

	require.NoError(t, s.view(func(txn *badger.Txn) error {
		ops, err := listPendingOps(txn)
		require.NoError(t, err)
		assert.Len(t, ops, 1)
		return nil
	}))

	token.setState(legID, TransferDone)
	require.NoError(t, s.pollTransfers(ctx))

	require.NoError(t, s.view(func(txn *badger.Txn) error {
		ops, err := listPendingOps(txn)
		require.NoError(t, err)
		assert.Empty(t, ops)
		return nil
	}))
}
