package hodl

import (
	"time"

	"github.com/google/uuid"
)

// PendingKind names the entry point a pending operation compensates for.
type PendingKind string

const (
	PendingClaim       PendingKind = "claim"
	PendingTermination PendingKind = "termination"
	PendingAdjustment  PendingKind = "adjustment"
	PendingRevoke      PendingKind = "revoke"
	PendingOrders      PendingKind = "orders"
)

type LegStatus string

const (
	LegPending LegStatus = "pending"
	LegSuccess LegStatus = "success"
	LegFailure LegStatus = "failure"
)

// TransferLeg is one outgoing token transfer within a pending operation.
// Authorize batches carry one leg per account; every other operation has
// exactly one.
type TransferLeg struct {
	ID       uuid.UUID `json:"id"`
	Receiver string    `json:"receiver"`
	Amount   Balance   `json:"amount"`
	Memo     string    `json:"memo"`
	Status   LegStatus `json:"status"`
}

type IndexedSchedule struct {
	Index    LockupIndex `json:"index"`
	Schedule Schedule    `json:"schedule"`
}

// PendingOperation is the serializable compensation record written before
// any transfer goes out: everything the completion callback needs to
// finalize on success or roll back on failure. State mutated by the
// originating call is already committed by the time transfers execute, so
// this record is the only bridge across the asynchronous boundary.
type PendingOperation struct {
	ID        uuid.UUID   `json:"id"`
	Kind      PendingKind `json:"kind"`
	CreatedAt time.Time   `json:"created_at"`

	// Claim: the claimant account and the claims to undo on failure.
	AccountID string        `json:"account_id,omitempty"`
	Claims    []LockupClaim `json:"claims,omitempty"`

	// Termination: the refunded amount, re-parked on failure.
	Amount Balance `json:"amount,omitempty"`

	// Adjustment and revoke: the schedules restored on failure.
	PrevSchedules []IndexedSchedule `json:"prev_schedules,omitempty"`

	// Orders: one execution per leg, same order.
	Orders []*OrderExecution `json:"orders,omitempty"`

	Legs []TransferLeg `json:"legs"`
}

func (op *PendingOperation) Resolved() bool {
	for _, leg := range op.Legs {
		if leg.Status == LegPending {
			return false
		}
	}

	return true
}

func (op *PendingOperation) leg(id uuid.UUID) *TransferLeg {
	for i := range op.Legs {
		if op.Legs[i].ID == id {
			return &op.Legs[i]
		}
	}

	return nil
}
