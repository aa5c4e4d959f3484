package hodl

import (
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
)

// Balance is a token amount in base units. Amounts are capped at 128 bits
// so that schedule interpolation can run its intermediate products inside
// uint256 without overflow. JSON encoding is a decimal string.
type Balance struct {
	uint256.Int
}

func Bal(v uint64) Balance {
	var b Balance
	b.SetUint64(v)
	return b
}

func ParseBalance(s string) (Balance, error) {
	var b Balance
	if err := b.SetFromDecimal(s); err != nil {
		return Balance{}, fmt.Errorf("parse balance: %w", err)
	}

	if !b.fits128() {
		return Balance{}, fmt.Errorf("balance %s exceeds 128 bits", s)
	}

	return b, nil
}

func (b Balance) fits128() bool {
	return b.BitLen() <= 128
}

func (b Balance) Add(other Balance) Balance {
	var out Balance
	out.Int.Add(&b.Int, &other.Int)
	return out
}

// Sub panics on underflow; callers compare first. Ledger balances never
// go negative.
func (b Balance) Sub(other Balance) Balance {
	if b.Cmp(other) < 0 {
		panic(fmt.Sprintf("balance underflow: %s - %s", b.Dec(), other.Dec()))
	}

	var out Balance
	out.Int.Sub(&b.Int, &other.Int)
	return out
}

func (b Balance) Cmp(other Balance) int {
	return b.Int.Cmp(&other.Int)
}

func (b Balance) Equal(other Balance) bool {
	return b.Cmp(other) == 0
}

func (b Balance) IsZero() bool {
	return b.Int.IsZero()
}

func (b Balance) String() string {
	return b.Dec()
}

// MulDiv returns b * num / den with truncating division. The product is
// taken in 256 bits, so it cannot overflow for 128-bit balances.
func (b Balance) MulDiv(num, den uint64) Balance {
	var p uint256.Int
	p.Mul(&b.Int, uint256.NewInt(num))

	var out Balance
	out.Int.Div(&p, uint256.NewInt(den))
	return out
}

func (b Balance) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Dec())
}

func (b *Balance) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	v, err := ParseBalance(s)
	if err != nil {
		return err
	}

	*b = v
	return nil
}
