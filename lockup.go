package hodl

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

type LockupIndex uint32

// ScheduleHash is the sha256 commit digest of an undisclosed vesting
// schedule, hex-encoded in JSON.
type ScheduleHash [32]byte

func (h ScheduleHash) String() string {
	return hex.EncodeToString(h[:])
}

func (h ScheduleHash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *ScheduleHash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("decode schedule hash: %w", err)
	}

	if len(b) != len(h) {
		return fmt.Errorf("schedule hash must be %d bytes", len(h))
	}

	copy(h[:], b)
	return nil
}

// VestingConditions is a tagged union describing how the vested balance
// is computed when a lockup is terminated. Exactly one arm is set.
type VestingConditions struct {
	SameAsLockupSchedule bool          `json:"same_as_lockup_schedule,omitempty"`
	Hash                 *ScheduleHash `json:"hash,omitempty"`
	Schedule             Schedule      `json:"schedule,omitempty"`
}

func (v VestingConditions) validate() error {
	n := 0
	if v.SameAsLockupSchedule {
		n++
	}
	if v.Hash != nil {
		n++
	}
	if v.Schedule != nil {
		n++
	}

	if n != 1 {
		return errors.New("vesting conditions require exactly one variant")
	}

	return nil
}

// TerminationConfig allows an early termination of the lockup. It is
// consumed by the first successful terminate call.
type TerminationConfig struct {
	// The account that paid for the lockup creation and receives the
	// unvested balance upon termination.
	BeneficiaryID   string            `json:"beneficiary_id"`
	VestingSchedule VestingConditions `json:"vesting_schedule"`
}

type LockupClaim struct {
	Index       LockupIndex `json:"index"`
	ClaimAmount Balance     `json:"claim_amount"`
	IsFinal     bool        `json:"is_final"`
}

type Lockup struct {
	AccountID         string             `json:"account_id"`
	Schedule          Schedule           `json:"schedule"`
	ClaimedBalance    Balance            `json:"claimed_balance"`
	TerminationConfig *TerminationConfig `json:"termination_config,omitempty"`
	IsAdjustable      bool               `json:"is_adjustable,omitempty"`
}

func NewUnlockedLockup(accountID string, total Balance) Lockup {
	return NewUnlockedLockupSince(accountID, total, 1)
}

func NewUnlockedLockupSince(accountID string, total Balance, ts TimestampSec) Lockup {
	return Lockup{
		AccountID:      accountID,
		Schedule:       NewUnlockedScheduleSince(total, ts),
		ClaimedBalance: Bal(0),
	}
}

// Claim increments the claimed balance by amount, bounded by the balance
// currently unlocked. The token transfer itself is a separate step; on
// transfer failure the returned claim is used to roll the balance back.
func (l *Lockup) Claim(index LockupIndex, amount Balance, now TimestampSec) (LockupClaim, error) {
	unlocked := l.Schedule.UnlockedBalance(now)
	claimed := l.ClaimedBalance.Add(amount)
	if claimed.Cmp(unlocked) > 0 {
		return LockupClaim{}, fmt.Errorf("too big claim amount for lockup %d", index)
	}

	l.ClaimedBalance = claimed
	return LockupClaim{
		Index:       index,
		ClaimAmount: amount,
		IsFinal:     claimed.Equal(l.Schedule.TotalBalance()),
	}, nil
}

// UnclaimedBalance is the portion unlocked at now but not yet claimed.
// It saturates at zero: with a revoke in flight the claimed balance may
// exceed what the cut-down schedule has unlocked so far.
func (l *Lockup) UnclaimedBalance(now TimestampSec) Balance {
	unlocked := l.Schedule.UnlockedBalance(now)
	if unlocked.Cmp(l.ClaimedBalance) < 0 {
		return Bal(0)
	}

	return unlocked.Sub(l.ClaimedBalance)
}

// FullyClaimed is the shared predicate both the claim and the order
// callback paths use to decide whether the lockup leaves the account
// index.
func (l *Lockup) FullyClaimed() bool {
	return l.ClaimedBalance.Equal(l.Schedule.TotalBalance())
}

// Terminate consumes the termination config, resolves the vesting curve
// per the committed conditions, truncates the lockup schedule to the
// vested balance and returns the unvested remainder with the account it
// is refunded to. A second call fails: the config is already taken.
func (l *Lockup) Terminate(revealed Schedule, ts TimestampSec) (Balance, string, error) {
	cfg := l.TerminationConfig
	if cfg == nil {
		return Balance{}, "", errors.New("no termination config")
	}

	total := l.Schedule.TotalBalance()

	var vesting Schedule
	switch {
	case cfg.VestingSchedule.SameAsLockupSchedule:
		vesting = l.Schedule
	case cfg.VestingSchedule.Hash != nil:
		if revealed == nil {
			return Balance{}, "", errors.New("revealed schedule required for the termination")
		}

		if ScheduleHash(revealed.Hash()) != *cfg.VestingSchedule.Hash {
			return Balance{}, "", errors.New("the revealed schedule hash doesn't match")
		}

		if err := revealed.Validate(total); err != nil {
			return Balance{}, "", err
		}

		if err := l.Schedule.ValidateTermination(revealed); err != nil {
			return Balance{}, "", err
		}

		vesting = revealed
	case cfg.VestingSchedule.Schedule != nil:
		vesting = cfg.VestingSchedule.Schedule
	default:
		return Balance{}, "", errors.New("vesting conditions require exactly one variant")
	}

	vested := vesting.UnlockedBalance(ts)
	unvested := total.Sub(vested)

	if !unvested.IsZero() {
		if err := l.Schedule.Terminate(vested, ts); err != nil {
			return Balance{}, "", err
		}
	}

	l.TerminationConfig = nil
	return unvested, cfg.BeneficiaryID, nil
}

// ValidateNew checks a freshly created lockup against the transferred
// balance before it enters the ledger.
func (l *Lockup) ValidateNew(totalBalance Balance) error {
	if !l.ClaimedBalance.IsZero() {
		return errors.New("the initial claimed balance should be 0")
	}

	if err := l.Schedule.Validate(totalBalance); err != nil {
		return err
	}

	if cfg := l.TerminationConfig; cfg != nil {
		if err := cfg.VestingSchedule.validate(); err != nil {
			return err
		}

		// An explicit vesting schedule is verifiable now; a hash commit
		// is verified at reveal time.
		if vs := cfg.VestingSchedule.Schedule; vs != nil {
			if err := vs.Validate(totalBalance); err != nil {
				return err
			}

			if err := l.Schedule.ValidateTermination(vs); err != nil {
				return err
			}
		}
	}

	return nil
}

// LockupCreate is the blueprint of a lockup carried by a funding deposit
// or staged in a draft.
type LockupCreate struct {
	AccountID       string             `json:"account_id"`
	Schedule        Schedule           `json:"schedule"`
	VestingSchedule *VestingConditions `json:"vesting_schedule,omitempty"`
	IsAdjustable    bool               `json:"is_adjustable,omitempty"`
}

// Lockup materializes the blueprint. The payer becomes the termination
// beneficiary when vesting conditions are present.
func (c *LockupCreate) Lockup(payerID string) Lockup {
	lockup := Lockup{
		AccountID:      c.AccountID,
		Schedule:       c.Schedule.Clone(),
		ClaimedBalance: Bal(0),
		IsAdjustable:   c.IsAdjustable,
	}

	if c.VestingSchedule != nil {
		lockup.TerminationConfig = &TerminationConfig{
			BeneficiaryID:   payerID,
			VestingSchedule: *c.VestingSchedule,
		}
	}

	return lockup
}
