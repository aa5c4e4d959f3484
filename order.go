package hodl

import "fmt"

// Percentages are integer basis points out of 10000 (e.g. 1550 for
// 15.50%).
const FullPercentage uint32 = 10000

func checkPercentage(bp uint32) error {
	if bp > FullPercentage {
		return fmt.Errorf("percentage %d is out of range [0 .. 10000]", bp)
	}

	return nil
}

func applyPercentage(value Balance, bp uint32) Balance {
	return value.MulDiv(uint64(bp), uint64(FullPercentage))
}

// OrderLine is the outcome of cutting a single order by the authorized
// percentage: approved + refund always equals the requested amount.
type OrderLine struct {
	Approved Balance `json:"approved"`
	Refund   Balance `json:"refund"`
}

// OrderExecution captures what an authorize/buy call decided for one
// account's pending orders. It doubles as the compensation record for the
// transfer leg: a failed leg refunds every approved amount.
type OrderExecution struct {
	AccountID     string                    `json:"account_id"`
	TotalApproved Balance                   `json:"total_approved"`
	Results       map[LockupIndex]OrderLine `json:"results"`
}

func NewOrderExecution(accountID string) *OrderExecution {
	return &OrderExecution{
		AccountID:     accountID,
		TotalApproved: Bal(0),
		Results:       map[LockupIndex]OrderLine{},
	}
}

func (e *OrderExecution) Add(index LockupIndex, approved, refund Balance) {
	e.Results[index] = OrderLine{Approved: approved, Refund: refund}
	e.TotalApproved = e.TotalApproved.Add(approved)
}

// OrdersResult is the final reconciliation of an authorize batch: the
// approved total per account for legs that settled, and the accounts
// whose legs failed and were fully rolled back.
type OrdersResult struct {
	Approved map[string]Balance `json:"approved"`
	Rejected []string           `json:"rejected"`
}

func NewOrdersResult() *OrdersResult {
	return &OrdersResult{Approved: map[string]Balance{}}
}
