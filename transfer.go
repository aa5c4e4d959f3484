package hodl

import (
	"context"

	"github.com/google/uuid"
)

type TransferState string

const (
	// TransferUnknown means the token service has never seen the
	// transfer; the server submits it (again).
	TransferUnknown TransferState = "unknown"
	TransferPending TransferState = "pending"
	TransferDone    TransferState = "done"
	TransferFailed  TransferState = "failed"
)

// Transfer is one outgoing payment of the configured token.
type Transfer struct {
	ID       uuid.UUID
	Receiver string
	Amount   Balance
	Memo     string
}

// Deposit is an inbound payment observed by the token service, ordered
// by Sequence.
type Deposit struct {
	Sequence uint64
	SenderID string
	Amount   Balance
	Memo     string
}

// TokenService is the external fungible-token collaborator. Calls are
// asynchronous from the ledger's point of view: Submit only hands the
// transfer over, and the outcome is learned later by polling State.
// Submit must be idempotent by transfer ID, since delivery is
// at-least-once attempted.
type TokenService interface {
	Submit(ctx context.Context, t Transfer) error
	State(ctx context.Context, id uuid.UUID) (TransferState, error)
	ListDeposits(ctx context.Context, offset uint64, limit int) ([]*Deposit, error)
}
