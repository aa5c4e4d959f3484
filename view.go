package hodl

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
)

// Read-side projections. Each view snapshots the derived balances at the
// moment it was built.

type LockupView struct {
	Index             LockupIndex        `json:"index"`
	AccountID         string             `json:"account_id"`
	Schedule          Schedule           `json:"schedule"`
	ClaimedBalance    Balance            `json:"claimed_balance"`
	TerminationConfig *TerminationConfig `json:"termination_config,omitempty"`
	IsAdjustable      bool               `json:"is_adjustable,omitempty"`
	TotalBalance      Balance            `json:"total_balance"`
	UnclaimedBalance  Balance            `json:"unclaimed_balance"`
	Timestamp         TimestampSec       `json:"timestamp"`
}

func (l *Ledger) lockupView(index LockupIndex, lockup *Lockup) *LockupView {
	now := l.now()
	return &LockupView{
		Index:             index,
		AccountID:         lockup.AccountID,
		Schedule:          lockup.Schedule,
		ClaimedBalance:    lockup.ClaimedBalance,
		TerminationConfig: lockup.TerminationConfig,
		IsAdjustable:      lockup.IsAdjustable,
		TotalBalance:      lockup.Schedule.TotalBalance(),
		UnclaimedBalance:  lockup.UnclaimedBalance(now),
		Timestamp:         now,
	}
}

func (l *Ledger) GetLockup(txn *badger.Txn, index LockupIndex) (*LockupView, error) {
	lockup, err := getLockup(txn, index)
	if err != nil {
		return nil, err
	}

	return l.lockupView(index, lockup), nil
}

func (l *Ledger) GetLockups(txn *badger.Txn, indices []LockupIndex) ([]*LockupView, error) {
	views := make([]*LockupView, 0, len(indices))
	for _, index := range indices {
		view, err := l.GetLockup(txn, index)
		if err != nil {
			return nil, err
		}

		views = append(views, view)
	}

	return views, nil
}

func (l *Ledger) GetAccountLockups(txn *badger.Txn, accountID string) ([]*LockupView, error) {
	indices, err := getAccountLockups(txn, accountID)
	if err != nil {
		return nil, err
	}

	views := make([]*LockupView, 0, len(indices))
	for index := range indices {
		view, err := l.GetLockup(txn, index)
		if err != nil {
			return nil, err
		}

		views = append(views, view)
	}

	return views, nil
}

func (l *Ledger) GetNumLockups(txn *badger.Txn) (uint32, error) {
	return numLockups(txn)
}

// GetLockupsPaged walks lockup indices [from, from+limit); gaps are
// impossible since indices are never reused and lockups never deleted.
func (l *Ledger) GetLockupsPaged(txn *badger.Txn, from, limit uint32) ([]*LockupView, error) {
	num, err := numLockups(txn)
	if err != nil {
		return nil, err
	}

	if limit == 0 {
		limit = num
	}

	var views []*LockupView
	for index := from; index < num && uint32(len(views)) < limit; index++ {
		view, err := l.GetLockup(txn, LockupIndex(index))
		if err != nil {
			return nil, err
		}

		views = append(views, view)
	}

	return views, nil
}

type DraftGroupView struct {
	Index       DraftGroupIndex `json:"index"`
	TotalAmount Balance         `json:"total_amount"`
	PayerID     string          `json:"payer_id,omitempty"`
	DraftIDs    []DraftIndex    `json:"draft_indices"`
	Discarded   bool            `json:"discarded"`
	Funded      bool            `json:"funded"`
}

func draftGroupView(index DraftGroupIndex, group *DraftGroup) *DraftGroupView {
	ids := make([]DraftIndex, 0, len(group.DraftIndices))
	for id := range group.DraftIndices {
		ids = append(ids, id)
	}

	return &DraftGroupView{
		Index:       index,
		TotalAmount: group.TotalAmount,
		PayerID:     group.PayerID,
		DraftIDs:    ids,
		Discarded:   group.Discarded,
		Funded:      group.Funded(),
	}
}

func (l *Ledger) GetDraftGroup(txn *badger.Txn, index DraftGroupIndex) (*DraftGroupView, error) {
	group, err := getDraftGroup(txn, index)
	if err != nil {
		return nil, err
	}

	return draftGroupView(index, group), nil
}

// GetDraftGroupsPaged scans group ids [from, to); ids of converted-away
// groups are skipped.
func (l *Ledger) GetDraftGroupsPaged(txn *badger.Txn, from, to uint32) ([]*DraftGroupView, error) {
	var next uint32
	if err := readProperty(txn, propNextDraftGroup, &next); err != nil {
		return nil, err
	}

	if to == 0 || to > next {
		to = next
	}

	var views []*DraftGroupView
	for index := from; index < to; index++ {
		view, err := l.GetDraftGroup(txn, DraftGroupIndex(index))
		if err != nil {
			if errors.Is(err, ErrDraftGroupNotFound) {
				continue
			}

			return nil, err
		}

		views = append(views, view)
	}

	return views, nil
}

type DraftView struct {
	Index            DraftIndex      `json:"index"`
	DraftGroupID     DraftGroupIndex `json:"draft_group_id"`
	LockupCreate     LockupCreate    `json:"lockup_create"`
	TotalBalance     Balance         `json:"total_balance"`
	UnclaimedBalance Balance         `json:"unclaimed_balance"`
	Timestamp        TimestampSec    `json:"timestamp"`
}

func (l *Ledger) GetDraft(txn *badger.Txn, index DraftIndex) (*DraftView, error) {
	draft, err := getDraft(txn, index)
	if err != nil {
		return nil, err
	}

	now := l.now()
	return &DraftView{
		Index:            index,
		DraftGroupID:     draft.DraftGroupID,
		LockupCreate:     draft.LockupCreate,
		TotalBalance:     draft.TotalBalance(),
		UnclaimedBalance: draft.LockupCreate.Schedule.UnlockedBalance(now),
		Timestamp:        now,
	}, nil
}

func (l *Ledger) GetDrafts(txn *badger.Txn, indices []DraftIndex) ([]*DraftView, error) {
	views := make([]*DraftView, 0, len(indices))
	for _, index := range indices {
		view, err := l.GetDraft(txn, index)
		if err != nil {
			return nil, err
		}

		views = append(views, view)
	}

	return views, nil
}

func (l *Ledger) GetNumDraftGroups(txn *badger.Txn) (int32, error) {
	var n int32
	err := readProperty(txn, propNumDraftGroups, &n)
	return n, err
}

func (l *Ledger) NextDraftGroupID(txn *badger.Txn) (uint32, error) {
	var next uint32
	err := readProperty(txn, propNextDraftGroup, &next)
	return next, err
}

func (l *Ledger) NextDraftID(txn *badger.Txn) (uint32, error) {
	var next uint32
	err := readProperty(txn, propNextDraft, &next)
	return next, err
}

func (l *Ledger) GetDepositWhitelist(txn *badger.Txn) ([]string, error) {
	return l.whitelist(txn, propDepositWhitelist)
}

func (l *Ledger) GetDraftOperatorsWhitelist(txn *badger.Txn) ([]string, error) {
	return l.whitelist(txn, propDraftOperators)
}

func (l *Ledger) TokenAccountID() string {
	return l.cfg.TokenAccountID
}
