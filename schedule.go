package hodl

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/holiman/uint256"
)

// Checkpoint is a point on the cumulative unlock curve: at Timestamp the
// schedule has unlocked Balance in total.
type Checkpoint struct {
	Timestamp TimestampSec `json:"timestamp"`
	Balance   Balance      `json:"balance"`
}

// Schedule is a piecewise-linear cumulative unlock curve defined by
// checkpoints with strictly increasing timestamps. Nothing is unlocked
// before the first checkpoint; everything is unlocked at or after the
// last one.
type Schedule []Checkpoint

func NewUnlockedSchedule(total Balance) Schedule {
	return NewUnlockedScheduleSince(total, 1)
}

func NewUnlockedScheduleSince(total Balance, ts TimestampSec) Schedule {
	return Schedule{
		{Timestamp: ts - 1, Balance: Bal(0)},
		{Timestamp: ts, Balance: total},
	}
}

func (s Schedule) TotalBalance() Balance {
	if len(s) == 0 {
		return Bal(0)
	}

	return s[len(s)-1].Balance
}

// UnlockedBalance evaluates the curve at ts. Between two checkpoints the
// value is linearly interpolated with truncating division; the product is
// computed in 256 bits so 128-bit balances cannot overflow it.
func (s Schedule) UnlockedBalance(ts TimestampSec) Balance {
	n := len(s)
	idx := sort.Search(n, func(i int) bool {
		return s[i].Timestamp >= ts
	})

	if idx < n && s[idx].Timestamp == ts {
		return s[idx].Balance
	}

	if idx == 0 {
		return Bal(0)
	}

	if idx == n {
		return s.TotalBalance()
	}

	prev, next := s[idx-1], s[idx]

	var span uint256.Int
	span.Sub(&next.Balance.Int, &prev.Balance.Int)
	span.Mul(&span, uint256.NewInt(uint64(ts-prev.Timestamp)))
	span.Div(&span, uint256.NewInt(uint64(next.Timestamp-prev.Timestamp)))

	var out Balance
	out.Int.Add(&prev.Balance.Int, &span)
	return out
}

// Validate checks the schedule's structural invariants and that the final
// checkpoint equals totalBalance.
func (s Schedule) Validate(totalBalance Balance) error {
	if len(s) == 0 {
		return errors.New("schedule requires at least one checkpoint")
	}

	for i, cp := range s {
		if !cp.Balance.fits128() {
			return fmt.Errorf("checkpoint %d balance exceeds 128 bits", i)
		}

		if i == 0 {
			continue
		}

		if cp.Timestamp <= s[i-1].Timestamp {
			return fmt.Errorf("checkpoint %d timestamp is not increasing", i)
		}

		if cp.Balance.Cmp(s[i-1].Balance) < 0 {
			return fmt.Errorf("checkpoint %d balance is decreasing", i)
		}
	}

	if !s.TotalBalance().Equal(totalBalance) {
		return fmt.Errorf(
			"schedule total %s doesn't match the expected balance %s",
			s.TotalBalance(), totalBalance,
		)
	}

	return nil
}

// ValidateTermination checks that the vesting curve never runs ahead of
// the lockup curve. Checked at the breakpoints of both schedules, which is
// sufficient for piecewise-linear curves.
func (s Schedule) ValidateTermination(vesting Schedule) error {
	for _, cp := range vesting {
		if cp.Balance.Cmp(s.UnlockedBalance(cp.Timestamp)) > 0 {
			return errors.New("the vesting schedule is ahead of the lockup schedule")
		}
	}

	for _, cp := range s {
		if vesting.UnlockedBalance(cp.Timestamp).Cmp(cp.Balance) > 0 {
			return errors.New("the vesting schedule is ahead of the lockup schedule")
		}
	}

	return nil
}

// Terminate irreversibly truncates the schedule, pinning it to the vested
// balance at ts. Checkpoints at or after ts, and trailing checkpoints
// whose balance already exceeds vested, are dropped.
func (s *Schedule) Terminate(vested Balance, ts TimestampSec) error {
	if vested.Cmp(s.TotalBalance()) > 0 {
		return errors.New("vested balance exceeds the schedule total")
	}

	if vested.Cmp(s.UnlockedBalance(ts)) > 0 {
		return errors.New("vested balance is not reachable at the termination timestamp")
	}

	kept := *s
	for len(kept) > 0 {
		last := kept[len(kept)-1]
		if last.Timestamp >= ts || last.Balance.Cmp(vested) > 0 {
			kept = kept[:len(kept)-1]
			continue
		}

		break
	}

	*s = append(kept, Checkpoint{Timestamp: ts, Balance: vested})
	return nil
}

// Scaled returns a copy with every checkpoint balance multiplied by
// bp/10000, truncating.
func (s Schedule) Scaled(bp uint64) Schedule {
	out := make(Schedule, len(s))
	for i, cp := range s {
		out[i] = Checkpoint{
			Timestamp: cp.Timestamp,
			Balance:   cp.Balance.MulDiv(bp, 10000),
		}
	}

	return out
}

func (s Schedule) Clone() Schedule {
	out := make(Schedule, len(s))
	copy(out, s)
	return out
}

// Hash is the commit digest for the commit-reveal termination flow:
// sha256 over the little-endian encoding of the checkpoint count followed
// by each checkpoint's timestamp and 128-bit balance.
func (s Schedule) Hash() [32]byte {
	h := sha256.New()

	var buf [20]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(s)))
	h.Write(buf[:4])

	for _, cp := range s {
		binary.LittleEndian.PutUint32(buf[:4], cp.Timestamp)
		binary.LittleEndian.PutUint64(buf[4:12], cp.Balance.Int[0])
		binary.LittleEndian.PutUint64(buf[12:20], cp.Balance.Int[1])
		h.Write(buf[:])
	}

	var out [32]byte
	h.Sum(out[:0])
	return out
}
