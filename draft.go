package hodl

import "errors"

type (
	DraftIndex      uint32
	DraftGroupIndex uint32
)

// Draft stages a lockup blueprint inside a draft group until the group is
// funded and the draft converted.
type Draft struct {
	DraftGroupID DraftGroupIndex `json:"draft_group_id"`
	LockupCreate LockupCreate    `json:"lockup_create"`
}

func (d *Draft) TotalBalance() Balance {
	return d.LockupCreate.Schedule.TotalBalance()
}

func (d *Draft) ValidateNew() error {
	// Any payer id works for validation; the real payer is only known
	// once the group is funded.
	lockup := d.LockupCreate.Lockup(d.LockupCreate.AccountID)
	return lockup.ValidateNew(d.TotalBalance())
}

// DraftGroup collects drafts so that many lockups can be funded by a
// single deposit carrying exactly TotalAmount. PayerID transitions from
// empty to set exactly once, at funding time.
type DraftGroup struct {
	TotalAmount  Balance             `json:"total_amount"`
	PayerID      string              `json:"payer_id,omitempty"`
	DraftIndices map[DraftIndex]bool `json:"draft_indices"`
	Discarded    bool                `json:"discarded"`
}

func NewDraftGroup() *DraftGroup {
	return &DraftGroup{
		TotalAmount:  Bal(0),
		DraftIndices: map[DraftIndex]bool{},
	}
}

func (g *DraftGroup) Funded() bool {
	return g.PayerID != ""
}

func (g *DraftGroup) CanAddDraft() error {
	if g.Discarded {
		return errors.New("cannot add draft, draft group is discarded")
	}

	if g.Funded() {
		return errors.New("cannot add draft, group already funded")
	}

	return nil
}

func (g *DraftGroup) AddDraft(id DraftIndex, amount Balance) error {
	if err := g.CanAddDraft(); err != nil {
		return err
	}

	g.DraftIndices[id] = true
	g.TotalAmount = g.TotalAmount.Add(amount)
	return nil
}

func (g *DraftGroup) CanConvertDraft() error {
	if g.Discarded {
		return errors.New("cannot convert draft, draft group is discarded")
	}

	if !g.Funded() {
		return errors.New("cannot convert draft from not funded group")
	}

	return nil
}

func (g *DraftGroup) Fund(payerID string) error {
	if g.Discarded {
		return errors.New("cannot fund draft, draft group is discarded")
	}

	if g.Funded() {
		return errors.New("draft group already funded")
	}

	g.PayerID = payerID
	return nil
}

func (g *DraftGroup) Discard() error {
	if g.Discarded {
		return errors.New("draft group already discarded")
	}

	if g.Funded() {
		return errors.New("cannot discard, draft group already funded")
	}

	g.Discarded = true
	return nil
}

// CanDeleteDraft permits deleting drafts only from a discarded, never
// funded group.
func (g *DraftGroup) CanDeleteDraft() error {
	if !g.Discarded {
		return errors.New("cannot delete draft, draft group is not discarded")
	}

	if g.Funded() {
		return errors.New("cannot delete draft, draft group already funded")
	}

	return nil
}

func (g *DraftGroup) RemoveDraft(id DraftIndex, amount Balance) error {
	if !g.DraftIndices[id] {
		return errors.New("invariant: draft not in group")
	}

	if g.TotalAmount.Cmp(amount) < 0 {
		return errors.New("invariant: draft group total below draft balance")
	}

	delete(g.DraftIndices, id)
	g.TotalAmount = g.TotalAmount.Sub(amount)
	return nil
}
