package hodl

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/dgraph-io/badger/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/spf13/cast"
	"github.com/twitchtv/twirp"
)

func (s *Server) Handler() http.Handler {
	m := chi.NewMux()
	m.Use(middleware.Recoverer)
	m.Use(middleware.RealIP)
	m.Use(middleware.Logger)
	m.Use(middleware.Heartbeat("/hc"))
	m.Use(cors.AllowAll().Handler)
	m.Use(handleAuth(s.cfg.Issuer, s.cfg.VerifyToken))

	m.Post("/v1/claim", s.claim)

	m.Post("/v1/orders", s.placeOrder)
	m.Delete("/v1/orders/{index}", s.revokeOrder)
	m.Get("/v1/orders/{account}", s.getOrders)
	m.Post("/v1/authorize", s.authorize)
	m.Post("/v1/buy", s.buy)
	m.Post("/v1/execution/reset", s.resetExecutionStatus)

	m.Post("/v1/terminate", s.terminate)
	m.Post("/v1/adjust", s.adjust)
	m.Post("/v1/revoke", s.revokeLockups)

	m.Post("/v1/draft-groups", s.createDraftGroup)
	m.Delete("/v1/draft-groups/{id}", s.discardDraftGroup)
	m.Post("/v1/drafts", s.createDrafts)
	m.Post("/v1/drafts/convert", s.convertDrafts)
	m.Post("/v1/drafts/delete", s.deleteDrafts)

	m.Get("/v1/lockups", s.listLockups)
	m.Get("/v1/lockups/{index}", s.getLockup)
	m.Get("/v1/accounts/{account}/lockups", s.getAccountLockups)
	m.Get("/v1/draft-groups", s.listDraftGroups)
	m.Get("/v1/draft-groups/{id}", s.getDraftGroup)
	m.Get("/v1/drafts", s.listDrafts)
	m.Get("/v1/drafts/{id}", s.getDraft)
	m.Get("/v1/whitelists/deposit", s.getDepositWhitelist)
	m.Get("/v1/whitelists/draft-operators", s.getDraftOperators)
	m.Get("/v1/info", s.getInfo)
	m.Post("/v1/schedules/hash", s.hashSchedule)
	m.Post("/v1/schedules/validate", s.validateSchedule)

	m.Post("/v1/whitelists/deposit", s.updateDepositWhitelist)
	m.Post("/v1/whitelists/draft-operators", s.updateDraftOperators)
	m.Post("/v1/multisig", s.setMultisig)
	m.Post("/v1/contract", s.updateContract)

	return m
}

func renderJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)

	_ = json.NewEncoder(w).Encode(v)
}

func renderErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrLockupNotFound),
		errors.Is(err, ErrDraftNotFound),
		errors.Is(err, ErrDraftGroupNotFound),
		errors.Is(err, ErrOrdersNotFound):
		err = twirp.NotFoundError(err.Error())
	case errors.Is(err, ErrNotAuthorized):
		err = twirp.PermissionDenied.Error(err.Error())
	case errors.Is(err, ErrExecuting):
		err = twirp.NewError(twirp.Aborted, err.Error())
	case errors.Is(err, badger.ErrConflict):
		err = twirp.NewError(twirp.Aborted, "conflict, retry")
	default:
		if _, ok := err.(twirp.Error); !ok {
			err = twirp.InvalidArgument.Error(err.Error())
		}
	}

	_ = twirp.WriteError(w, err)
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return twirp.InvalidArgumentError("body", err.Error())
	}

	return nil
}

func requireAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID, ok := AccountFrom(r.Context())
	if !ok {
		renderErr(w, twirp.Unauthenticated.Error("auth required"))
	}

	return accountID, ok
}

// claim pays out the caller's newly unlocked balance. The response
// reports what was computed; the transfer itself settles later and may
// still be reverted, so clients re-query rather than trust it as final.
func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var body struct {
		Amounts []ClaimRequest `json:"amounts,omitempty"`
	}

	if err := decodeBody(r, &body); err != nil {
		renderErr(w, err)
		return
	}

	var op *PendingOperation
	err := s.update(func(txn *badger.Txn) error {
		var err error
		op, err = s.ledger.Claim(txn, accountID, body.Amounts)
		return err
	})

	if err != nil {
		renderErr(w, err)
		return
	}

	s.submitOp(r.Context(), op)

	total := Bal(0)
	var claims []LockupClaim
	if op != nil {
		total = op.Legs[0].Amount
		claims = op.Claims
	}

	renderJSON(w, map[string]interface{}{
		"total":  total,
		"claims": claims,
	})
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var body struct {
		Amounts []ClaimRequest `json:"amounts,omitempty"`
	}

	if err := decodeBody(r, &body); err != nil {
		renderErr(w, err)
		return
	}

	var claims []LockupClaim
	err := s.update(func(txn *badger.Txn) error {
		var err error
		claims, err = s.ledger.PlaceOrder(txn, accountID, body.Amounts)
		return err
	})

	if err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, map[string]interface{}{"orders": claims})
}

func (s *Server) revokeOrder(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	index := LockupIndex(cast.ToUint32(chi.URLParam(r, "index")))

	if err := s.update(func(txn *badger.Txn) error {
		return s.ledger.RevokeOrder(txn, accountID, index)
	}); err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, map[string]interface{}{"ok": true})
}

func (s *Server) getOrders(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account")

	var orders []LockupClaim
	if err := s.view(func(txn *badger.Txn) error {
		var err error
		orders, err = s.ledger.GetOrders(txn, accountID)
		return err
	}); err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, orders)
}

type orderRequest struct {
	AccountIDs []string `json:"account_ids"`
	Percentage *uint32  `json:"percentage,omitempty"`
}

func (req orderRequest) percentage() uint32 {
	if req.Percentage != nil {
		return *req.Percentage
	}

	return FullPercentage
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) {
	operator, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var body orderRequest
	if err := decodeBody(r, &body); err != nil {
		renderErr(w, err)
		return
	}

	var op *PendingOperation
	err := s.update(func(txn *badger.Txn) error {
		var err error
		op, err = s.ledger.Authorize(txn, operator, body.AccountIDs, body.percentage())
		return err
	})

	if err != nil {
		renderErr(w, err)
		return
	}

	if op == nil {
		renderJSON(w, NewOrdersResult())
		return
	}

	s.submitOp(r.Context(), op)

	renderJSON(w, map[string]interface{}{
		"operation_id": op.ID,
		"executions":   op.Orders,
	})
}

func (s *Server) buy(w http.ResponseWriter, r *http.Request) {
	operator, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var body orderRequest
	if err := decodeBody(r, &body); err != nil {
		renderErr(w, err)
		return
	}

	var executions []*OrderExecution
	err := s.update(func(txn *badger.Txn) error {
		var err error
		executions, err = s.ledger.Buy(txn, operator, body.AccountIDs, body.percentage())
		return err
	})

	if err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, executions)
}

func (s *Server) resetExecutionStatus(w http.ResponseWriter, r *http.Request) {
	operator, ok := requireAccount(w, r)
	if !ok {
		return
	}

	if err := s.update(func(txn *badger.Txn) error {
		return s.ledger.ResetExecutionStatus(txn, operator)
	}); err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, map[string]interface{}{"ok": true})
}

func (s *Server) terminate(w http.ResponseWriter, r *http.Request) {
	operator, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var body struct {
		LockupIndex          LockupIndex   `json:"lockup_index"`
		HashedSchedule       Schedule      `json:"hashed_schedule,omitempty"`
		TerminationTimestamp *TimestampSec `json:"termination_timestamp,omitempty"`
	}

	if err := decodeBody(r, &body); err != nil {
		renderErr(w, err)
		return
	}

	var (
		op       *PendingOperation
		unvested Balance
	)

	err := s.update(func(txn *badger.Txn) error {
		var err error
		op, unvested, err = s.ledger.Terminate(txn, operator, body.LockupIndex, body.HashedSchedule, body.TerminationTimestamp)
		return err
	})

	if err != nil {
		renderErr(w, err)
		return
	}

	s.submitOp(r.Context(), op)

	renderJSON(w, map[string]interface{}{"unvested": unvested})
}

// confirmGate is the anti-accidental-call guard on destructive operator
// calls, this deployment's one-yocto convention.
func confirmGate(w http.ResponseWriter, confirm bool) bool {
	if !confirm {
		renderErr(w, twirp.InvalidArgumentError("confirm", "explicit confirmation required"))
		return false
	}

	return true
}

func (s *Server) adjust(w http.ResponseWriter, r *http.Request) {
	operator, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var body struct {
		BeneficiaryID string      `json:"beneficiary_id"`
		LockupIndex   LockupIndex `json:"lockup_index"`
		Confirm       bool        `json:"confirm"`
	}

	if err := decodeBody(r, &body); err != nil {
		renderErr(w, err)
		return
	}

	if !confirmGate(w, body.Confirm) {
		return
	}

	var op *PendingOperation
	err := s.update(func(txn *badger.Txn) error {
		var err error
		op, err = s.ledger.Adjust(txn, operator, body.BeneficiaryID, body.LockupIndex)
		return err
	})

	if err != nil {
		renderErr(w, err)
		return
	}

	s.submitOp(r.Context(), op)

	renderJSON(w, map[string]interface{}{"ok": true})
}

func (s *Server) revokeLockups(w http.ResponseWriter, r *http.Request) {
	operator, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var body struct {
		BeneficiaryID string        `json:"beneficiary_id"`
		LockupIndices []LockupIndex `json:"lockup_indices"`
		Confirm       bool          `json:"confirm"`
	}

	if err := decodeBody(r, &body); err != nil {
		renderErr(w, err)
		return
	}

	if !confirmGate(w, body.Confirm) {
		return
	}

	var op *PendingOperation
	err := s.update(func(txn *badger.Txn) error {
		var err error
		op, err = s.ledger.RevokeLockups(txn, operator, body.BeneficiaryID, body.LockupIndices)
		return err
	})

	if err != nil {
		renderErr(w, err)
		return
	}

	s.submitOp(r.Context(), op)

	renderJSON(w, map[string]interface{}{"ok": true})
}

func (s *Server) createDraftGroup(w http.ResponseWriter, r *http.Request) {
	operator, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var id DraftGroupIndex
	if err := s.update(func(txn *badger.Txn) error {
		var err error
		id, err = s.ledger.CreateDraftGroup(txn, operator)
		return err
	}); err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, map[string]interface{}{"id": id})
}

func (s *Server) discardDraftGroup(w http.ResponseWriter, r *http.Request) {
	operator, ok := requireAccount(w, r)
	if !ok {
		return
	}

	id := DraftGroupIndex(cast.ToUint32(chi.URLParam(r, "id")))

	if err := s.update(func(txn *badger.Txn) error {
		return s.ledger.DiscardDraftGroup(txn, operator, id)
	}); err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, map[string]interface{}{"ok": true})
}

func (s *Server) createDrafts(w http.ResponseWriter, r *http.Request) {
	operator, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var body struct {
		Drafts []Draft `json:"drafts"`
	}

	if err := decodeBody(r, &body); err != nil {
		renderErr(w, err)
		return
	}

	var ids []DraftIndex
	if err := s.update(func(txn *badger.Txn) error {
		var err error
		ids, err = s.ledger.CreateDrafts(txn, operator, body.Drafts)
		return err
	}); err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, map[string]interface{}{"ids": ids})
}

func (s *Server) convertDrafts(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DraftIDs []DraftIndex `json:"draft_ids"`
	}

	if err := decodeBody(r, &body); err != nil {
		renderErr(w, err)
		return
	}

	var indices []LockupIndex
	if err := s.update(func(txn *badger.Txn) error {
		var err error
		indices, err = s.ledger.ConvertDrafts(txn, body.DraftIDs)
		return err
	}); err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, map[string]interface{}{"lockup_indices": indices})
}

func (s *Server) deleteDrafts(w http.ResponseWriter, r *http.Request) {
	operator, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var body struct {
		DraftIDs []DraftIndex `json:"draft_ids"`
	}

	if err := decodeBody(r, &body); err != nil {
		renderErr(w, err)
		return
	}

	if err := s.update(func(txn *badger.Txn) error {
		if err := s.ledger.requireDraftOperator(txn, operator); err != nil {
			return err
		}

		return s.ledger.DeleteDrafts(txn, body.DraftIDs)
	}); err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, map[string]interface{}{"ok": true})
}

// views

// listLockups serves both the paged walk and, with an ids parameter,
// the point lookup of an explicit index list.
func (s *Server) listLockups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if ids := q.Get("ids"); ids != "" {
		indices := make([]LockupIndex, 0)
		for _, part := range strings.Split(ids, ",") {
			indices = append(indices, LockupIndex(cast.ToUint32(strings.TrimSpace(part))))
		}

		var views []*LockupView
		if err := s.view(func(txn *badger.Txn) error {
			var err error
			views, err = s.ledger.GetLockups(txn, indices)
			return err
		}); err != nil {
			renderErr(w, err)
			return
		}

		renderJSON(w, views)
		return
	}

	from := cast.ToUint32(q.Get("from"))
	limit := cast.ToUint32(q.Get("limit"))

	var views []*LockupView
	if err := s.view(func(txn *badger.Txn) error {
		var err error
		views, err = s.ledger.GetLockupsPaged(txn, from, limit)
		return err
	}); err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, views)
}

func (s *Server) getLockup(w http.ResponseWriter, r *http.Request) {
	index := LockupIndex(cast.ToUint32(chi.URLParam(r, "index")))

	var view *LockupView
	if err := s.view(func(txn *badger.Txn) error {
		var err error
		view, err = s.ledger.GetLockup(txn, index)
		return err
	}); err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, view)
}

func (s *Server) getAccountLockups(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account")

	var views []*LockupView
	if err := s.view(func(txn *badger.Txn) error {
		var err error
		views, err = s.ledger.GetAccountLockups(txn, accountID)
		return err
	}); err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, views)
}

func (s *Server) listDraftGroups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := cast.ToUint32(q.Get("from"))
	to := cast.ToUint32(q.Get("to"))

	var views []*DraftGroupView
	if err := s.view(func(txn *badger.Txn) error {
		var err error
		views, err = s.ledger.GetDraftGroupsPaged(txn, from, to)
		return err
	}); err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, views)
}

func (s *Server) getDraftGroup(w http.ResponseWriter, r *http.Request) {
	id := DraftGroupIndex(cast.ToUint32(chi.URLParam(r, "id")))

	var view *DraftGroupView
	if err := s.view(func(txn *badger.Txn) error {
		var err error
		view, err = s.ledger.GetDraftGroup(txn, id)
		return err
	}); err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, view)
}

func (s *Server) listDrafts(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query().Get("ids")
	if ids == "" {
		renderErr(w, twirp.InvalidArgumentError("ids", "draft ids required"))
		return
	}

	indices := make([]DraftIndex, 0)
	for _, part := range strings.Split(ids, ",") {
		indices = append(indices, DraftIndex(cast.ToUint32(strings.TrimSpace(part))))
	}

	var views []*DraftView
	if err := s.view(func(txn *badger.Txn) error {
		var err error
		views, err = s.ledger.GetDrafts(txn, indices)
		return err
	}); err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, views)
}

func (s *Server) getDraft(w http.ResponseWriter, r *http.Request) {
	id := DraftIndex(cast.ToUint32(chi.URLParam(r, "id")))

	var view *DraftView
	if err := s.view(func(txn *badger.Txn) error {
		var err error
		view, err = s.ledger.GetDraft(txn, id)
		return err
	}); err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, view)
}

func (s *Server) getDepositWhitelist(w http.ResponseWriter, r *http.Request) {
	var list []string
	if err := s.view(func(txn *badger.Txn) error {
		var err error
		list, err = s.ledger.GetDepositWhitelist(txn)
		return err
	}); err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, list)
}

func (s *Server) getDraftOperators(w http.ResponseWriter, r *http.Request) {
	var list []string
	if err := s.view(func(txn *badger.Txn) error {
		var err error
		list, err = s.ledger.GetDraftOperatorsWhitelist(txn)
		return err
	}); err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, list)
}

func (s *Server) getInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"version":          Version,
		"token_account_id": s.ledger.TokenAccountID(),
	}

	if err := s.view(func(txn *badger.Txn) error {
		numLockups, err := s.ledger.GetNumLockups(txn)
		if err != nil {
			return err
		}

		numGroups, err := s.ledger.GetNumDraftGroups(txn)
		if err != nil {
			return err
		}

		nextGroup, err := s.ledger.NextDraftGroupID(txn)
		if err != nil {
			return err
		}

		nextDraft, err := s.ledger.NextDraftID(txn)
		if err != nil {
			return err
		}

		executing, err := s.ledger.IsExecuting(txn)
		if err != nil {
			return err
		}

		info["num_lockups"] = numLockups
		info["num_draft_groups"] = numGroups
		info["next_draft_group_id"] = nextGroup
		info["next_draft_id"] = nextDraft
		info["is_executing"] = executing
		return nil
	}); err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, info)
}

func (s *Server) hashSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Schedule Schedule `json:"schedule"`
	}

	if err := decodeBody(r, &body); err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, map[string]interface{}{"hash": ScheduleHash(body.Schedule.Hash())})
}

func (s *Server) validateSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Schedule            Schedule `json:"schedule"`
		TotalBalance        Balance  `json:"total_balance"`
		TerminationSchedule Schedule `json:"termination_schedule,omitempty"`
	}

	if err := decodeBody(r, &body); err != nil {
		renderErr(w, err)
		return
	}

	if err := body.Schedule.Validate(body.TotalBalance); err != nil {
		renderErr(w, err)
		return
	}

	if body.TerminationSchedule != nil {
		if err := body.TerminationSchedule.Validate(body.TotalBalance); err != nil {
			renderErr(w, err)
			return
		}

		if err := body.Schedule.ValidateTermination(body.TerminationSchedule); err != nil {
			renderErr(w, err)
			return
		}
	}

	renderJSON(w, map[string]interface{}{"ok": true})
}

// admin

func (s *Server) updateWhitelistHandler(w http.ResponseWriter, r *http.Request, draftOperators bool) {
	caller, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var body struct {
		Add    []string `json:"add,omitempty"`
		Remove []string `json:"remove,omitempty"`
	}

	if err := decodeBody(r, &body); err != nil {
		renderErr(w, err)
		return
	}

	for _, id := range append(body.Add, body.Remove...) {
		if id == "" || !govalidator.IsPrintableASCII(id) {
			renderErr(w, twirp.InvalidArgumentError("account_id", "invalid account id"))
			return
		}
	}

	if err := s.update(func(txn *badger.Txn) error {
		if draftOperators {
			return s.ledger.UpdateDraftOperators(txn, caller, body.Add, body.Remove)
		}

		return s.ledger.UpdateDepositWhitelist(txn, caller, body.Add, body.Remove)
	}); err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, map[string]interface{}{"ok": true})
}

func (s *Server) updateDepositWhitelist(w http.ResponseWriter, r *http.Request) {
	s.updateWhitelistHandler(w, r, false)
}

func (s *Server) updateDraftOperators(w http.ResponseWriter, r *http.Request) {
	s.updateWhitelistHandler(w, r, true)
}

func (s *Server) setMultisig(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var body struct {
		AccountID string `json:"account_id"`
	}

	if err := decodeBody(r, &body); err != nil {
		renderErr(w, err)
		return
	}

	if err := s.update(func(txn *badger.Txn) error {
		return s.ledger.SetMultisig(txn, caller, body.AccountID)
	}); err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, map[string]interface{}{"ok": true})
}

// updateContract stages a new executable uploaded by the multisig
// account; the supervisor picks it up and redeploys in place.
func (s *Server) updateContract(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireAccount(w, r)
	if !ok {
		return
	}

	if err := s.view(func(txn *badger.Txn) error {
		return s.ledger.requireMultisig(txn, caller)
	}); err != nil {
		renderErr(w, err)
		return
	}

	code, err := io.ReadAll(r.Body)
	if err != nil || len(code) == 0 {
		renderErr(w, twirp.InvalidArgumentError("body", "no code input"))
		return
	}

	if s.cfg.UpdatePath == "" {
		renderErr(w, twirp.NewError(twirp.FailedPrecondition, "update path is not configured"))
		return
	}

	if err := os.WriteFile(s.cfg.UpdatePath, code, 0o600); err != nil {
		slog.Error("stage contract update failed", "err", err)
		renderErr(w, twirp.InternalErrorWith(err))
		return
	}

	slog.Info("contract update staged", "bytes", len(code), "by", caller)
	renderJSON(w, map[string]interface{}{"ok": true, "bytes": len(code)})
}
