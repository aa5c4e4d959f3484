package hodl

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/zyedidia/generic/mapset"
)

var (
	ErrNotAuthorized = errors.New("account is not authorized")
	ErrExecuting     = errors.New("orders execution is in progress")
)

const (
	propManager          = "manager"
	propMultisig         = "multisig"
	propDepositWhitelist = "deposit_whitelist"
	propDraftOperators   = "draft_operators_whitelist"
	propExecuting        = "is_executing"
	propNextLockup       = "next_lockup_index"
	propNextDraft        = "next_draft_id"
	propNextDraftGroup   = "next_draft_group_id"
	propNumDraftGroups   = "num_draft_groups"
)

type Config struct {
	// TokenAccountID is the single fungible token this deployment
	// manages.
	TokenAccountID string
	// VaultAccountID is the ledger's own account; revoked lockups are
	// reassigned to it.
	VaultAccountID string
	Manager        string
	// Initial whitelists, written once on first launch.
	DepositWhitelist []string
	DraftOperators   []string
	// MaxTransferLegs bounds an authorize batch: the fan-out must fit
	// the budget available to process the completion callback.
	MaxTransferLegs int
}

// Ledger owns all lockups, drafts, draft groups and orders. Every method
// runs inside the caller's badger transaction: an error means nothing is
// committed, which is the synchronous all-or-nothing failure mode.
// Asynchronous transfer failures are reconciled later via ResolveTransfer.
type Ledger struct {
	cfg Config
	now func() TimestampSec
}

func NewLedger(cfg Config) *Ledger {
	if cfg.MaxTransferLegs <= 0 {
		cfg.MaxTransferLegs = 16
	}

	return &Ledger{cfg: cfg, now: currentTimestampSec}
}

// Init seeds manager and whitelists on first launch.
func (l *Ledger) Init(txn *badger.Txn) error {
	var manager string
	if err := readProperty(txn, propManager, &manager); err != nil {
		return err
	}

	if manager != "" {
		return nil
	}

	if err := saveProperty(txn, propManager, l.cfg.Manager); err != nil {
		return err
	}

	if err := saveProperty(txn, propDepositWhitelist, l.cfg.DepositWhitelist); err != nil {
		return err
	}

	operators := l.cfg.DraftOperators
	if operators == nil {
		operators = l.cfg.DepositWhitelist
	}

	return saveProperty(txn, propDraftOperators, operators)
}

// whitelists

func containsAccount(list []string, accountID string) bool {
	for _, id := range list {
		if id == accountID {
			return true
		}
	}

	return false
}

func (l *Ledger) whitelist(txn *badger.Txn, prop string) ([]string, error) {
	var list []string
	err := readProperty(txn, prop, &list)
	return list, err
}

func (l *Ledger) requireDepositWhitelist(txn *badger.Txn, accountID string) error {
	list, err := l.whitelist(txn, propDepositWhitelist)
	if err != nil {
		return err
	}

	if !containsAccount(list, accountID) {
		return fmt.Errorf("%w: %s is not in the deposit whitelist", ErrNotAuthorized, accountID)
	}

	return nil
}

func (l *Ledger) requireDraftOperator(txn *badger.Txn, accountID string) error {
	operators, err := l.whitelist(txn, propDraftOperators)
	if err != nil {
		return err
	}

	if containsAccount(operators, accountID) {
		return nil
	}

	return l.requireDepositWhitelist(txn, accountID)
}

func (l *Ledger) requireManager(txn *badger.Txn, accountID string) error {
	var manager string
	if err := readProperty(txn, propManager, &manager); err != nil {
		return err
	}

	if accountID == "" || accountID != manager {
		return fmt.Errorf("%w: only the manager may do this", ErrNotAuthorized)
	}

	return nil
}

func (l *Ledger) requireMultisig(txn *badger.Txn, accountID string) error {
	var multisig string
	if err := readProperty(txn, propMultisig, &multisig); err != nil {
		return err
	}

	if multisig == "" {
		return errors.New("multisig account is not set, operation is impossible")
	}

	if accountID != multisig {
		return fmt.Errorf("%w: only the multisig account may update the contract", ErrNotAuthorized)
	}

	return nil
}

func (l *Ledger) updateWhitelist(txn *badger.Txn, prop string, add, remove []string) error {
	list, err := l.whitelist(txn, prop)
	if err != nil {
		return err
	}

	for _, id := range add {
		if !containsAccount(list, id) {
			list = append(list, id)
		}
	}

	if len(remove) > 0 {
		kept := list[:0]
		for _, id := range list {
			if !containsAccount(remove, id) {
				kept = append(kept, id)
			}
		}
		list = kept
	}

	if prop == propDepositWhitelist && len(list) == 0 {
		return errors.New("cannot remove all accounts from the deposit whitelist")
	}

	return saveProperty(txn, prop, list)
}

// UpdateDepositWhitelist adds and removes operator accounts. Only current
// operators may change the list, and it can never be emptied.
func (l *Ledger) UpdateDepositWhitelist(txn *badger.Txn, caller string, add, remove []string) error {
	if err := l.requireDepositWhitelist(txn, caller); err != nil {
		return err
	}

	return l.updateWhitelist(txn, propDepositWhitelist, add, remove)
}

func (l *Ledger) UpdateDraftOperators(txn *badger.Txn, caller string, add, remove []string) error {
	if err := l.requireDepositWhitelist(txn, caller); err != nil {
		return err
	}

	return l.updateWhitelist(txn, propDraftOperators, add, remove)
}

func (l *Ledger) SetMultisig(txn *badger.Txn, caller, multisig string) error {
	if err := l.requireManager(txn, caller); err != nil {
		return err
	}

	return saveProperty(txn, propMultisig, multisig)
}

// lockups

func (l *Ledger) addLockup(txn *badger.Txn, lockup *Lockup) (LockupIndex, error) {
	next, err := nextIndex(txn, propNextLockup)
	if err != nil {
		return 0, err
	}

	index := LockupIndex(next)
	if err := saveLockup(txn, index, lockup); err != nil {
		return 0, err
	}

	indices, err := getAccountLockups(txn, lockup.AccountID)
	if err != nil {
		return 0, err
	}

	indices[index] = true
	return index, saveAccountLockups(txn, lockup.AccountID, indices)
}

// ClaimRequest selects a lockup and an optional amount; a nil amount
// claims everything currently unlocked.
type ClaimRequest struct {
	Index  LockupIndex `json:"index"`
	Amount *Balance    `json:"amount,omitempty"`
}

// computeClaims runs the synchronous half of a claim: it bumps the
// claimed balances and returns the claim records. With nil requests every
// lockup of the account is claimed in full.
func (l *Ledger) computeClaims(txn *badger.Txn, accountID string, reqs []ClaimRequest) ([]LockupClaim, error) {
	if reqs == nil {
		indices, err := getAccountLockups(txn, accountID)
		if err != nil {
			return nil, err
		}

		for index := range indices {
			reqs = append(reqs, ClaimRequest{Index: index})
		}
	}

	now := l.now()

	var claims []LockupClaim
	for _, req := range reqs {
		lockup, err := getLockup(txn, req.Index)
		if err != nil {
			return nil, err
		}

		if lockup.AccountID != accountID {
			return nil, fmt.Errorf("%w: lockup %d belongs to another account", ErrNotAuthorized, req.Index)
		}

		amount := lockup.UnclaimedBalance(now)
		if req.Amount != nil {
			amount = *req.Amount
		}

		if amount.IsZero() {
			continue
		}

		claim, err := lockup.Claim(req.Index, amount, now)
		if err != nil {
			return nil, err
		}

		if err := saveLockup(txn, req.Index, lockup); err != nil {
			return nil, err
		}

		claims = append(claims, claim)
	}

	return claims, nil
}

// Claim computes the newly claimable balance and prepares the transfer.
// The returned pending operation is nil when there is nothing to pay out.
// Fully claimed lockups leave the account index only once the transfer
// settles.
func (l *Ledger) Claim(txn *badger.Txn, accountID string, reqs []ClaimRequest) (*PendingOperation, error) {
	claims, err := l.computeClaims(txn, accountID, reqs)
	if err != nil {
		return nil, err
	}

	total := Bal(0)
	for _, claim := range claims {
		total = total.Add(claim.ClaimAmount)
	}

	if total.IsZero() {
		return nil, nil
	}

	op := &PendingOperation{
		ID:        uuid.New(),
		Kind:      PendingClaim,
		CreatedAt: time.Now(),
		AccountID: accountID,
		Claims:    claims,
		Legs: []TransferLeg{{
			ID:       uuid.New(),
			Receiver: accountID,
			Amount:   total,
			Memo:     fmt.Sprintf("Claim by %s", accountID),
			Status:   LegPending,
		}},
	}

	return op, savePendingOp(txn, op)
}

// PlaceOrder computes claims like Claim does but enqueues them as pending
// orders awaiting authorization instead of paying them out.
func (l *Ledger) PlaceOrder(txn *badger.Txn, accountID string, reqs []ClaimRequest) ([]LockupClaim, error) {
	executing, err := l.IsExecuting(txn)
	if err != nil {
		return nil, err
	}

	if executing {
		return nil, fmt.Errorf("%w: cannot place an order now", ErrExecuting)
	}

	claims, err := l.computeClaims(txn, accountID, reqs)
	if err != nil {
		return nil, err
	}

	if len(claims) == 0 {
		return nil, nil
	}

	orders, err := getOrders(txn, accountID)
	if err != nil {
		return nil, err
	}

	orders = append(orders, claims...)
	return claims, saveOrders(txn, accountID, orders)
}

// Terminate consumes the lockup's termination config and prepares the
// refund of the unvested balance to the termination beneficiary.
func (l *Ledger) Terminate(
	txn *badger.Txn,
	operator string,
	index LockupIndex,
	revealed Schedule,
	terminationTimestamp *TimestampSec,
) (*PendingOperation, Balance, error) {
	if err := l.requireDepositWhitelist(txn, operator); err != nil {
		return nil, Balance{}, err
	}

	lockup, err := getLockup(txn, index)
	if err != nil {
		return nil, Balance{}, err
	}

	ts := l.now()
	if terminationTimestamp != nil {
		ts = *terminationTimestamp
	}

	unvested, beneficiaryID, err := lockup.Terminate(revealed, ts)
	if err != nil {
		return nil, Balance{}, err
	}

	if err := saveLockup(txn, index, lockup); err != nil {
		return nil, Balance{}, err
	}

	emitLockupTerminated(index, unvested, ts)

	if unvested.IsZero() {
		return nil, unvested, nil
	}

	op := &PendingOperation{
		ID:        uuid.New(),
		Kind:      PendingTermination,
		CreatedAt: time.Now(),
		AccountID: beneficiaryID,
		Amount:    unvested,
		Legs: []TransferLeg{{
			ID:       uuid.New(),
			Receiver: beneficiaryID,
			Amount:   unvested,
			Memo:     fmt.Sprintf("Termination refund for lockup #%d", index),
			Status:   LegPending,
		}},
	}

	return op, unvested, savePendingOp(txn, op)
}

// Adjust pro-rates an annual-cliff grant that has not vested anything
// yet: every checkpoint balance is scaled by the fraction of the year
// elapsed since the grant started, and the difference is refunded.
func (l *Ledger) Adjust(txn *badger.Txn, operator, beneficiaryID string, index LockupIndex) (*PendingOperation, error) {
	if err := l.requireDepositWhitelist(txn, operator); err != nil {
		return nil, err
	}

	lockup, err := getLockup(txn, index)
	if err != nil {
		return nil, err
	}

	if !lockup.IsAdjustable {
		return nil, errors.New("lockup is not adjustable")
	}

	if len(lockup.Schedule) == 0 {
		return nil, errors.New("checkpoint is required")
	}

	now := l.now()
	cliffEnd := lockup.Schedule[0].Timestamp
	if now >= cliffEnd {
		return nil, errors.New("cliff already ended")
	}

	// The grant start is derived by rewinding one year; a cliff earlier
	// than that would wrap the unsigned timestamp.
	if cliffEnd < OneYearSeconds {
		return nil, errors.New("the cliff predates a full vesting year")
	}

	createdAt := cliffEnd - OneYearSeconds
	bp := uint64(now-createdAt) * uint64(FullPercentage) / uint64(OneYearSeconds)

	prev := lockup.Schedule
	lockup.Schedule = prev.Scaled(bp)
	if err := saveLockup(txn, index, lockup); err != nil {
		return nil, err
	}

	refund := prev.TotalBalance().Sub(lockup.Schedule.TotalBalance())
	emitLockupAdjusted(index, bp, refund)

	if refund.IsZero() {
		return nil, nil
	}

	op := &PendingOperation{
		ID:            uuid.New(),
		Kind:          PendingAdjustment,
		CreatedAt:     time.Now(),
		PrevSchedules: []IndexedSchedule{{Index: index, Schedule: prev}},
		Legs: []TransferLeg{{
			ID:       uuid.New(),
			Receiver: beneficiaryID,
			Amount:   refund,
			Memo:     fmt.Sprintf("Adjusted lockup #%d", index),
			Status:   LegPending,
		}},
	}

	return op, savePendingOp(txn, op)
}

// RevokeLockups cuts the given adjustable lockups down to what was
// already claimed and prepares a single batched refund of the combined
// unclaimed remainder. The batch is all-or-nothing: if the transfer
// fails, every schedule is restored.
func (l *Ledger) RevokeLockups(txn *badger.Txn, operator, beneficiaryID string, indices []LockupIndex) (*PendingOperation, error) {
	if err := l.requireDepositWhitelist(txn, operator); err != nil {
		return nil, err
	}

	total := Bal(0)
	prev := make([]IndexedSchedule, 0, len(indices))

	for _, index := range indices {
		lockup, err := getLockup(txn, index)
		if err != nil {
			return nil, err
		}

		if !lockup.IsAdjustable {
			return nil, errors.New("lockup is not adjustable")
		}

		total = total.Add(lockup.Schedule.TotalBalance().Sub(lockup.ClaimedBalance))
		prev = append(prev, IndexedSchedule{Index: index, Schedule: lockup.Schedule})

		// The claimed portion is already paid out and stays out of the
		// refund; the schedule shrinks to exactly that amount so the
		// lockup remains consistent while the refund is in flight.
		lockup.Schedule = NewUnlockedSchedule(lockup.ClaimedBalance)
		if err := saveLockup(txn, index, lockup); err != nil {
			return nil, err
		}
	}

	emitLockupsRevoked(indices, total)

	if total.IsZero() {
		return nil, nil
	}

	op := &PendingOperation{
		ID:            uuid.New(),
		Kind:          PendingRevoke,
		CreatedAt:     time.Now(),
		PrevSchedules: prev,
		Legs: []TransferLeg{{
			ID:       uuid.New(),
			Receiver: beneficiaryID,
			Amount:   total,
			Memo:     fmt.Sprintf("Revoke for lockups %v", indices),
			Status:   LegPending,
		}},
	}

	return op, savePendingOp(txn, op)
}

// orders

func (l *Ledger) IsExecuting(txn *badger.Txn) (bool, error) {
	var executing bool
	err := readProperty(txn, propExecuting, &executing)
	return executing, err
}

func (l *Ledger) setExecuting(txn *badger.Txn, executing bool) error {
	return saveProperty(txn, propExecuting, executing)
}

// ResetExecutionStatus is the operator escape hatch for a batch whose
// callback never arrived.
func (l *Ledger) ResetExecutionStatus(txn *badger.Txn, operator string) error {
	if err := l.requireDepositWhitelist(txn, operator); err != nil {
		return err
	}

	return l.setExecuting(txn, false)
}

func (l *Ledger) GetOrders(txn *badger.Txn, accountID string) ([]LockupClaim, error) {
	return getOrders(txn, accountID)
}

func (l *Ledger) refund(txn *badger.Txn, index LockupIndex, amount Balance) error {
	lockup, err := getLockup(txn, index)
	if err != nil {
		return err
	}

	lockup.ClaimedBalance = lockup.ClaimedBalance.Sub(amount)
	return saveLockup(txn, index, lockup)
}

// executeOrder cuts every pending order of the account by the authorized
// percentage. The refused portion immediately becomes claimable again;
// the orders queue is cleared.
func (l *Ledger) executeOrder(txn *badger.Txn, accountID string, percentage uint32) (*OrderExecution, error) {
	orders, err := getOrders(txn, accountID)
	if err != nil {
		return nil, err
	}

	if len(orders) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrOrdersNotFound, accountID)
	}

	exec := NewOrderExecution(accountID)
	for _, order := range orders {
		requested := order.ClaimAmount
		approved := applyPercentage(requested, percentage)
		refund := requested.Sub(approved)

		if !refund.IsZero() {
			if err := l.refund(txn, order.Index, refund); err != nil {
				return nil, err
			}
		}

		exec.Add(order.Index, approved, refund)
	}

	return exec, saveOrders(txn, accountID, nil)
}

// Authorize buys back the given accounts' pending orders at the given
// percentage and fans out one transfer leg per account. Only one batch
// may be in flight at a time.
func (l *Ledger) Authorize(txn *badger.Txn, operator string, accountIDs []string, percentage uint32) (*PendingOperation, error) {
	if err := l.requireDepositWhitelist(txn, operator); err != nil {
		return nil, err
	}

	if err := checkPercentage(percentage); err != nil {
		return nil, err
	}

	executing, err := l.IsExecuting(txn)
	if err != nil {
		return nil, err
	}

	if executing {
		return nil, ErrExecuting
	}

	if len(accountIDs) > l.cfg.MaxTransferLegs {
		return nil, fmt.Errorf("batch of %d transfer legs exceeds the limit of %d", len(accountIDs), l.cfg.MaxTransferLegs)
	}

	if len(accountIDs) == 0 {
		return nil, nil
	}

	op := &PendingOperation{
		ID:        uuid.New(),
		Kind:      PendingOrders,
		CreatedAt: time.Now(),
	}

	for _, accountID := range accountIDs {
		exec, err := l.executeOrder(txn, accountID, percentage)
		if err != nil {
			return nil, err
		}

		op.Orders = append(op.Orders, exec)
		op.Legs = append(op.Legs, TransferLeg{
			ID:       uuid.New(),
			Receiver: accountID,
			Amount:   exec.TotalApproved,
			Memo:     fmt.Sprintf("Authorize claimed %s balance from %s", exec.TotalApproved, accountID),
			Status:   LegPending,
		})
	}

	if err := l.setExecuting(txn, true); err != nil {
		return nil, err
	}

	return op, savePendingOp(txn, op)
}

// Buy is the synchronous variant of Authorize: orders are cut and
// cleared, but settlement of the approved amounts happens out of band and
// no transfer legs are issued.
func (l *Ledger) Buy(txn *badger.Txn, operator string, accountIDs []string, percentage uint32) ([]*OrderExecution, error) {
	if err := l.requireDepositWhitelist(txn, operator); err != nil {
		return nil, err
	}

	if err := checkPercentage(percentage); err != nil {
		return nil, err
	}

	result := make([]*OrderExecution, 0, len(accountIDs))
	for _, accountID := range accountIDs {
		exec, err := l.executeOrder(txn, accountID, percentage)
		if err != nil {
			return nil, err
		}

		result = append(result, exec)
	}

	return result, nil
}

// RevokeOrder withdraws one pending order of the caller, making the
// claimed amount claimable again. Blocked while a batch is in flight.
func (l *Ledger) RevokeOrder(txn *badger.Txn, accountID string, index LockupIndex) error {
	executing, err := l.IsExecuting(txn)
	if err != nil {
		return err
	}

	if executing {
		return fmt.Errorf("%w: cannot revoke an order now", ErrExecuting)
	}

	orders, err := getOrders(txn, accountID)
	if err != nil {
		return err
	}

	if len(orders) == 0 {
		return fmt.Errorf("%w: %s", ErrOrdersNotFound, accountID)
	}

	pos := -1
	for i, order := range orders {
		if order.Index == index {
			pos = i
			break
		}
	}

	if pos < 0 {
		return fmt.Errorf("no order for lockup %d", index)
	}

	order := orders[pos]
	orders = append(orders[:pos], orders[pos+1:]...)

	if err := saveOrders(txn, accountID, orders); err != nil {
		return err
	}

	return l.refund(txn, order.Index, order.ClaimAmount)
}

// drafts

func (l *Ledger) CreateDraftGroup(txn *badger.Txn, operator string) (DraftGroupIndex, error) {
	if err := l.requireDraftOperator(txn, operator); err != nil {
		return 0, err
	}

	next, err := nextIndex(txn, propNextDraftGroup)
	if err != nil {
		return 0, err
	}

	if err := bumpDraftGroupCount(txn, 1); err != nil {
		return 0, err
	}

	index := DraftGroupIndex(next)
	return index, saveDraftGroup(txn, index, NewDraftGroup())
}

func bumpDraftGroupCount(txn *badger.Txn, delta int32) error {
	var n int32
	if err := readProperty(txn, propNumDraftGroups, &n); err != nil {
		return err
	}

	return saveProperty(txn, propNumDraftGroups, n+delta)
}

func (l *Ledger) CreateDrafts(txn *badger.Txn, operator string, drafts []Draft) ([]DraftIndex, error) {
	if err := l.requireDraftOperator(txn, operator); err != nil {
		return nil, err
	}

	indices := make([]DraftIndex, 0, len(drafts))
	for i := range drafts {
		draft := drafts[i]
		if err := draft.ValidateNew(); err != nil {
			return nil, err
		}

		group, err := getDraftGroup(txn, draft.DraftGroupID)
		if err != nil {
			return nil, err
		}

		next, err := nextIndex(txn, propNextDraft)
		if err != nil {
			return nil, err
		}

		index := DraftIndex(next)
		if err := group.AddDraft(index, draft.TotalBalance()); err != nil {
			return nil, err
		}

		if err := saveDraftGroup(txn, draft.DraftGroupID, group); err != nil {
			return nil, err
		}

		if err := saveDraft(txn, index, &draft); err != nil {
			return nil, err
		}

		indices = append(indices, index)
	}

	return indices, nil
}

// ConvertDrafts materializes funded drafts into real lockups. Anyone may
// call it: it only moves already funded value to its declared shape.
func (l *Ledger) ConvertDrafts(txn *badger.Txn, draftIDs []DraftIndex) ([]LockupIndex, error) {
	groups := map[DraftGroupIndex]*DraftGroup{}

	indices := make([]LockupIndex, 0, len(draftIDs))
	for _, draftID := range draftIDs {
		draft, err := getDraft(txn, draftID)
		if err != nil {
			return nil, err
		}

		group, ok := groups[draft.DraftGroupID]
		if !ok {
			if group, err = getDraftGroup(txn, draft.DraftGroupID); err != nil {
				return nil, err
			}
			groups[draft.DraftGroupID] = group
		}

		if err := group.CanConvertDraft(); err != nil {
			return nil, err
		}

		if err := group.RemoveDraft(draftID, draft.TotalBalance()); err != nil {
			return nil, err
		}

		lockup := draft.LockupCreate.Lockup(group.PayerID)
		index, err := l.addLockup(txn, &lockup)
		if err != nil {
			return nil, err
		}

		if err := deleteDraft(txn, draftID); err != nil {
			return nil, err
		}

		emitLockupCreated(index, &lockup, &draftID)
		indices = append(indices, index)
	}

	for groupID, group := range groups {
		if len(group.DraftIndices) == 0 {
			if err := deleteDraftGroup(txn, groupID); err != nil {
				return nil, err
			}

			if err := bumpDraftGroupCount(txn, -1); err != nil {
				return nil, err
			}

			continue
		}

		if err := saveDraftGroup(txn, groupID, group); err != nil {
			return nil, err
		}
	}

	return indices, nil
}

func (l *Ledger) DiscardDraftGroup(txn *badger.Txn, operator string, groupID DraftGroupIndex) error {
	if err := l.requireDraftOperator(txn, operator); err != nil {
		return err
	}

	group, err := getDraftGroup(txn, groupID)
	if err != nil {
		return err
	}

	if err := group.Discard(); err != nil {
		return err
	}

	return saveDraftGroup(txn, groupID, group)
}

// DeleteDrafts removes drafts from discarded, never funded groups. An
// emptied group is removed with its drafts.
func (l *Ledger) DeleteDrafts(txn *badger.Txn, draftIDs []DraftIndex) error {
	groups := map[DraftGroupIndex]*DraftGroup{}

	for _, draftID := range draftIDs {
		draft, err := getDraft(txn, draftID)
		if err != nil {
			return err
		}

		group, ok := groups[draft.DraftGroupID]
		if !ok {
			if group, err = getDraftGroup(txn, draft.DraftGroupID); err != nil {
				return err
			}
			groups[draft.DraftGroupID] = group
		}

		if err := group.CanDeleteDraft(); err != nil {
			return err
		}

		if err := group.RemoveDraft(draftID, draft.TotalBalance()); err != nil {
			return err
		}

		if err := deleteDraft(txn, draftID); err != nil {
			return err
		}
	}

	for groupID, group := range groups {
		if len(group.DraftIndices) == 0 {
			if err := deleteDraftGroup(txn, groupID); err != nil {
				return err
			}

			if err := bumpDraftGroupCount(txn, -1); err != nil {
				return err
			}

			continue
		}

		if err := saveDraftGroup(txn, groupID, group); err != nil {
			return err
		}
	}

	return nil
}

// callbacks

// ResolveTransfer records the reported outcome of one transfer leg.
// Results are idempotent per leg (transfers are at-least-once attempted).
// Once every leg of the operation is resolved, the operation is applied:
// finalization on success, compensation on failure.
func (l *Ledger) ResolveTransfer(txn *badger.Txn, legID uuid.UUID, success bool) (*PendingOperation, error) {
	op, err := getPendingOpByLeg(txn, legID)
	if err != nil || op == nil {
		return nil, err
	}

	leg := op.leg(legID)
	if leg == nil || leg.Status != LegPending {
		return nil, nil
	}

	if success {
		leg.Status = LegSuccess
	} else {
		leg.Status = LegFailure
	}

	if !op.Resolved() {
		return nil, savePendingOp(txn, op)
	}

	if err := l.applyResolved(txn, op); err != nil {
		return nil, err
	}

	return op, deletePendingOp(txn, op)
}

func (l *Ledger) applyResolved(txn *badger.Txn, op *PendingOperation) error {
	switch op.Kind {
	case PendingClaim:
		return l.applyClaim(txn, op)
	case PendingTermination:
		return l.applyTermination(txn, op)
	case PendingAdjustment:
		return l.applyAdjustment(txn, op)
	case PendingRevoke:
		return l.applyRevoke(txn, op)
	case PendingOrders:
		return l.applyOrders(txn, op)
	default:
		return fmt.Errorf("unknown pending operation kind %q", op.Kind)
	}
}

func (l *Ledger) applyClaim(txn *badger.Txn, op *PendingOperation) error {
	if op.Legs[0].Status == LegSuccess {
		remove := mapset.New[LockupIndex]()
		for _, claim := range op.Claims {
			if claim.IsFinal {
				remove.Put(claim.Index)
			}

			emitLockupClaimed(claim.Index, claim.ClaimAmount)
		}

		if remove.Size() == 0 {
			return nil
		}

		indices, err := getAccountLockups(txn, op.AccountID)
		if err != nil {
			return err
		}

		remove.Each(func(index LockupIndex) {
			delete(indices, index)
		})

		return saveAccountLockups(txn, op.AccountID, indices)
	}

	// Transfer failed: give the claimed balance back and make sure every
	// lockup is back in the account index.
	indices, err := getAccountLockups(txn, op.AccountID)
	if err != nil {
		return err
	}

	for _, claim := range op.Claims {
		indices[claim.Index] = true
		if err := l.refund(txn, claim.Index, claim.ClaimAmount); err != nil {
			return err
		}
	}

	return saveAccountLockups(txn, op.AccountID, indices)
}

// applyTermination: a termination is irreversible, so a failed refund
// does not resurrect the old schedule. The refund amount is re-parked as
// a fresh, immediately unlocked lockup owned by the beneficiary, who can
// claim it whenever the transfer path recovers.
func (l *Ledger) applyTermination(txn *badger.Txn, op *PendingOperation) error {
	if op.Legs[0].Status == LegSuccess {
		return nil
	}

	lockup := NewUnlockedLockupSince(op.AccountID, op.Amount, l.now())
	index, err := l.addLockup(txn, &lockup)
	if err != nil {
		return err
	}

	emitLockupCreated(index, &lockup, nil)
	return nil
}

func (l *Ledger) applyAdjustment(txn *badger.Txn, op *PendingOperation) error {
	if op.Legs[0].Status == LegSuccess {
		return nil
	}

	return l.restoreSchedules(txn, op.PrevSchedules)
}

func (l *Ledger) applyRevoke(txn *badger.Txn, op *PendingOperation) error {
	if op.Legs[0].Status != LegSuccess {
		return l.restoreSchedules(txn, op.PrevSchedules)
	}

	// Retire each lockup in place: sever the beneficiary binding and
	// reassign it to the ledger's own account.
	for _, prev := range op.PrevSchedules {
		lockup, err := getLockup(txn, prev.Index)
		if err != nil {
			return err
		}

		indices, err := getAccountLockups(txn, lockup.AccountID)
		if err != nil {
			return err
		}

		delete(indices, prev.Index)
		if err := saveAccountLockups(txn, lockup.AccountID, indices); err != nil {
			return err
		}

		lockup.AccountID = l.cfg.VaultAccountID
		if err := saveLockup(txn, prev.Index, lockup); err != nil {
			return err
		}
	}

	return nil
}

func (l *Ledger) restoreSchedules(txn *badger.Txn, schedules []IndexedSchedule) error {
	for _, prev := range schedules {
		lockup, err := getLockup(txn, prev.Index)
		if err != nil {
			return err
		}

		lockup.Schedule = prev.Schedule
		if err := saveLockup(txn, prev.Index, lockup); err != nil {
			return err
		}
	}

	return nil
}

func (l *Ledger) applyOrders(txn *badger.Txn, op *PendingOperation) error {
	result := NewOrdersResult()

	for i, leg := range op.Legs {
		exec := op.Orders[i]

		if leg.Status != LegSuccess {
			// Treat the whole account as rejected: the approved amounts
			// go back to being claimable, like the refused cut already
			// did at execution time.
			for index, line := range exec.Results {
				if line.Approved.IsZero() {
					continue
				}

				if err := l.refund(txn, index, line.Approved); err != nil {
					return err
				}
			}

			result.Rejected = append(result.Rejected, exec.AccountID)
			continue
		}

		result.Approved[exec.AccountID] = exec.TotalApproved

		indices, err := getAccountLockups(txn, exec.AccountID)
		if err != nil {
			return err
		}

		for index := range exec.Results {
			lockup, err := getLockup(txn, index)
			if err != nil {
				return err
			}

			if lockup.FullyClaimed() {
				delete(indices, index)
			}
		}

		if err := saveAccountLockups(txn, exec.AccountID, indices); err != nil {
			return err
		}
	}

	emitOrdersExecuted(result)
	return l.setExecuting(txn, false)
}
