package hodl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleUnlockedBalance(t *testing.T) {
	s := Schedule{
		{Timestamp: 1000, Balance: Bal(0)},
		{Timestamp: 2000, Balance: Bal(1000)},
	}

	assert.True(t, s.UnlockedBalance(999).IsZero())
	assert.True(t, s.UnlockedBalance(1000).IsZero())
	assert.Equal(t, Bal(500), s.UnlockedBalance(1500))
	assert.Equal(t, Bal(1000), s.UnlockedBalance(2000))
	assert.Equal(t, Bal(1000), s.UnlockedBalance(5000))

	// truncating interpolation
	assert.Equal(t, Bal(1), s.UnlockedBalance(1001))
}

func TestScheduleUnlockedBalanceCliff(t *testing.T) {
	// A cliff is expressed by two checkpoints one second apart.
	s := Schedule{
		{Timestamp: 999, Balance: Bal(0)},
		{Timestamp: 1000, Balance: Bal(400)},
		{Timestamp: 2000, Balance: Bal(1000)},
	}

	assert.True(t, s.UnlockedBalance(999).IsZero())
	assert.Equal(t, Bal(400), s.UnlockedBalance(1000))
	assert.Equal(t, Bal(700), s.UnlockedBalance(1500))
}

func TestScheduleValidate(t *testing.T) {
	require.Error(t, Schedule{}.Validate(Bal(0)))

	ok := Schedule{
		{Timestamp: 10, Balance: Bal(0)},
		{Timestamp: 20, Balance: Bal(100)},
	}
	require.NoError(t, ok.Validate(Bal(100)))
	require.Error(t, ok.Validate(Bal(99)))

	notIncreasing := Schedule{
		{Timestamp: 10, Balance: Bal(0)},
		{Timestamp: 10, Balance: Bal(100)},
	}
	require.Error(t, notIncreasing.Validate(Bal(100)))

	decreasing := Schedule{
		{Timestamp: 10, Balance: Bal(50)},
		{Timestamp: 20, Balance: Bal(40)},
	}
	require.Error(t, decreasing.Validate(Bal(40)))
}

func TestScheduleValidateTermination(t *testing.T) {
	lockup := Schedule{
		{Timestamp: 0, Balance: Bal(0)},
		{Timestamp: 100, Balance: Bal(1000)},
	}

	behind := Schedule{
		{Timestamp: 50, Balance: Bal(0)},
		{Timestamp: 100, Balance: Bal(1000)},
	}
	require.NoError(t, lockup.ValidateTermination(behind))

	ahead := Schedule{
		{Timestamp: 0, Balance: Bal(0)},
		{Timestamp: 50, Balance: Bal(1000)},
	}
	require.Error(t, lockup.ValidateTermination(ahead))

	// Equal curves are allowed.
	require.NoError(t, lockup.ValidateTermination(lockup.Clone()))
}

func TestScheduleTerminate(t *testing.T) {
	s := Schedule{
		{Timestamp: 0, Balance: Bal(0)},
		{Timestamp: 100, Balance: Bal(1000)},
	}

	require.NoError(t, s.Terminate(Bal(500), 50))
	assert.Equal(t, Bal(500), s.TotalBalance())
	assert.Equal(t, Bal(500), s.UnlockedBalance(50))
	assert.Equal(t, Bal(500), s.UnlockedBalance(100))

	s = Schedule{
		{Timestamp: 0, Balance: Bal(0)},
		{Timestamp: 100, Balance: Bal(1000)},
	}
	require.Error(t, s.Terminate(Bal(2000), 50), "vested above total")
	require.Error(t, s.Terminate(Bal(900), 50), "vested not reachable at ts")
}

func TestScheduleScaled(t *testing.T) {
	s := Schedule{
		{Timestamp: 0, Balance: Bal(0)},
		{Timestamp: 100, Balance: Bal(999)},
	}

	half := s.Scaled(5000)
	assert.Equal(t, Bal(499), half.TotalBalance())
	assert.Equal(t, TimestampSec(100), half[1].Timestamp)

	full := s.Scaled(10000)
	assert.Equal(t, Bal(999), full.TotalBalance())
}

func TestScheduleHash(t *testing.T) {
	a := Schedule{
		{Timestamp: 10, Balance: Bal(0)},
		{Timestamp: 20, Balance: Bal(100)},
	}

	assert.Equal(t, a.Hash(), a.Clone().Hash())

	b := a.Clone()
	b[1].Balance = Bal(101)
	assert.NotEqual(t, a.Hash(), b.Hash())

	c := a.Clone()
	c[1].Timestamp = 21
	assert.NotEqual(t, a.Hash(), c.Hash())
}

func TestNewUnlockedSchedule(t *testing.T) {
	s := NewUnlockedSchedule(Bal(42))
	require.NoError(t, s.Validate(Bal(42)))
	assert.Equal(t, Bal(42), s.UnlockedBalance(1))
	assert.True(t, s.UnlockedBalance(0).IsZero())
}
