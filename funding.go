package hodl

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// DraftGroupFunding is the deposit directive that funds a whole draft
// group with one transfer.
type DraftGroupFunding struct {
	DraftGroupID DraftGroupIndex `json:"draft_group_id"`
	// TryConvert asks the ledger to convert the drafts right away,
	// best effort, with whatever budget is left.
	TryConvert bool `json:"try_convert,omitempty"`
}

// DepositOutcome reports what an inbound funding deposit produced.
type DepositOutcome struct {
	LockupIndex  *LockupIndex     `json:"lockup_index,omitempty"`
	DraftGroupID *DraftGroupIndex `json:"draft_group_id,omitempty"`
	// ConvertDraftIDs lists the drafts to convert opportunistically
	// after the funding commits.
	ConvertDraftIDs []DraftIndex `json:"convert_draft_ids,omitempty"`
}

// HandleDeposit applies an inbound token deposit carrying a JSON
// directive: either a LockupCreate or a DraftGroupFunding (an untagged
// union, told apart by the draft_group_id key). Any error rejects the
// deposit as a whole; no ledger state changes and the amount is bounced
// back to the sender.
func (l *Ledger) HandleDeposit(txn *badger.Txn, senderID string, amount Balance, memo string) (*DepositOutcome, error) {
	if err := l.requireDepositWhitelist(txn, senderID); err != nil {
		return nil, err
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(memo), &probe); err != nil {
		return nil, fmt.Errorf("malformed deposit directive: %w", err)
	}

	if _, ok := probe["draft_group_id"]; ok {
		var funding DraftGroupFunding
		if err := json.Unmarshal([]byte(memo), &funding); err != nil {
			return nil, fmt.Errorf("malformed draft group funding: %w", err)
		}

		return l.fundDraftGroup(txn, senderID, amount, funding)
	}

	var create LockupCreate
	if err := json.Unmarshal([]byte(memo), &create); err != nil {
		return nil, fmt.Errorf("malformed lockup create: %w", err)
	}

	lockup := create.Lockup(senderID)
	if err := lockup.ValidateNew(amount); err != nil {
		return nil, err
	}

	index, err := l.addLockup(txn, &lockup)
	if err != nil {
		return nil, err
	}

	emitLockupCreated(index, &lockup, nil)
	return &DepositOutcome{LockupIndex: &index}, nil
}

// fundDraftGroup accepts a deposit matching the group total exactly.
// Partial funding and overfunding are both rejected.
func (l *Ledger) fundDraftGroup(txn *badger.Txn, senderID string, amount Balance, funding DraftGroupFunding) (*DepositOutcome, error) {
	group, err := getDraftGroup(txn, funding.DraftGroupID)
	if err != nil {
		return nil, err
	}

	if !group.TotalAmount.Equal(amount) {
		return nil, errors.New("the draft group total balance doesn't match the transferred balance")
	}

	if err := group.Fund(senderID); err != nil {
		return nil, err
	}

	if err := saveDraftGroup(txn, funding.DraftGroupID, group); err != nil {
		return nil, err
	}

	emitDraftGroupFunded(funding.DraftGroupID, amount, senderID)

	outcome := &DepositOutcome{DraftGroupID: &funding.DraftGroupID}
	if funding.TryConvert {
		for index := range group.DraftIndices {
			outcome.ConvertDraftIDs = append(outcome.ConvertDraftIDs, index)
		}
	}

	return outcome, nil
}
