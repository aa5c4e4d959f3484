package hodl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const Version = "1.0.0"

const depositsOffsetProperty = "deposits_offset"

type ServerConfig struct {
	// Issuer of the bearer tokens accepted by the auth middleware.
	Issuer string
	// VerifyToken authenticates bearer tokens with the issuer's
	// service. The middleware rejects every token when unset.
	VerifyToken VerifyToken
	// UpdatePath is where update_contract stages the uploaded binary.
	UpdatePath string
	// PollInterval drives the deposit and transfer loops.
	PollInterval time.Duration
}

// Server wires the ledger, its badger store and the external token
// service together. A single mutex serializes every state-changing entry
// point: the ledger behaves like a contract on a chain that runs calls
// one at a time.
type Server struct {
	db     *badger.DB
	ledger *Ledger
	token  TokenService
	cfg    ServerConfig

	mu sync.Mutex
}

func NewServer(db *badger.DB, ledger *Ledger, token TokenService, cfg ServerConfig) *Server {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	return &Server{
		db:     db,
		ledger: ledger,
		token:  token,
		cfg:    cfg,
	}
}

// Init seeds the ledger state on first launch.
func (s *Server) Init() error {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := s.ledger.Init(txn); err != nil {
		return err
	}

	return txn.Commit()
}

func (s *Server) Run(ctx context.Context) error {
	var g errgroup.Group

	g.Go(func() error {
		return s.LoopDeposits(ctx)
	})

	g.Go(func() error {
		return s.LoopTransfers(ctx)
	})

	return g.Wait()
}

// update runs fn inside one write transaction under the entry-point
// mutex. An error discards the transaction: synchronous failures never
// leave partial state behind.
func (s *Server) update(fn func(txn *badger.Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}

	return txn.Commit()
}

func (s *Server) view(fn func(txn *badger.Txn) error) error {
	txn := s.db.NewTransaction(false)
	defer txn.Discard()

	return fn(txn)
}

// submitOp hands the operation's transfer legs to the token service.
// Failures are only logged: the transfer loop re-submits legs the token
// service does not know yet.
func (s *Server) submitOp(ctx context.Context, op *PendingOperation) {
	if op == nil {
		return
	}

	for _, leg := range op.Legs {
		t := Transfer{
			ID:       leg.ID,
			Receiver: leg.Receiver,
			Amount:   leg.Amount,
			Memo:     leg.Memo,
		}

		if err := s.token.Submit(ctx, t); err != nil {
			slog.Error("submit transfer failed", "id", leg.ID, "err", err)
		}
	}
}

// LoopTransfers drives the asynchronous half of every operation: it
// polls the token service for the fate of in-flight legs and feeds the
// outcomes back into the ledger.
func (s *Server) LoopTransfers(ctx context.Context) error {
	for {
		_ = s.pollTransfers(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

func (s *Server) pollTransfers(ctx context.Context) error {
	txn := s.db.NewTransaction(false)
	ops, err := listPendingOps(txn)
	txn.Discard()

	if err != nil {
		slog.Error("list pending operations failed", "err", err)
		return err
	}

	for _, op := range ops {
		for _, leg := range op.Legs {
			if leg.Status != LegPending {
				continue
			}

			state, err := s.token.State(ctx, leg.ID)
			if err != nil {
				slog.Error("read transfer state failed", "id", leg.ID, "err", err)
				continue
			}

			switch state {
			case TransferUnknown:
				// Never reached the token service; attempt again.
				s.submitOp(ctx, &PendingOperation{Legs: []TransferLeg{leg}})
			case TransferDone, TransferFailed:
				if err := s.resolveTransfer(leg.ID, state == TransferDone); err != nil {
					slog.Error("resolve transfer failed", "id", leg.ID, "err", err)
				}
			}
		}
	}

	return nil
}

func (s *Server) resolveTransfer(legID uuid.UUID, success bool) error {
	return s.update(func(txn *badger.Txn) error {
		op, err := s.ledger.ResolveTransfer(txn, legID, success)
		if err != nil {
			return err
		}

		if op != nil {
			slog.Info("pending operation resolved", "id", op.ID, "kind", op.Kind, "success", success)
		}

		return nil
	})
}

// LoopDeposits pages inbound deposits and applies their funding
// directives. The offset advances in the same transaction as the
// deposit's effect, so each deposit is applied exactly once.
func (s *Server) LoopDeposits(ctx context.Context) error {
	for {
		_ = s.pollDeposits(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

func (s *Server) pollDeposits(ctx context.Context) error {
	var offset uint64
	if err := ReadProperty(s.db, depositsOffsetProperty, &offset); err != nil {
		return err
	}

	const limit = 100
	deposits, err := s.token.ListDeposits(ctx, offset, limit)
	if err != nil {
		slog.Error("list deposits failed", "err", err)
		return err
	}

	for _, deposit := range deposits {
		if err := s.handleDeposit(ctx, deposit); err != nil {
			return err
		}
	}

	return nil
}

func (s *Server) handleDeposit(ctx context.Context, deposit *Deposit) error {
	var outcome *DepositOutcome

	err := s.update(func(txn *badger.Txn) error {
		var err error
		outcome, err = s.ledger.HandleDeposit(txn, deposit.SenderID, deposit.Amount, deposit.Memo)
		if err != nil {
			return err
		}

		return saveProperty(txn, depositsOffsetProperty, deposit.Sequence+1)
	})

	if err != nil {
		slog.Warn("rejecting deposit",
			"seq", deposit.Sequence,
			"sender", deposit.SenderID,
			"amount", deposit.Amount,
			"err", err,
		)

		return s.bounceDeposit(ctx, deposit)
	}

	slog.Info("deposit applied", "seq", deposit.Sequence, "sender", deposit.SenderID, "amount", deposit.Amount)

	if len(outcome.ConvertDraftIDs) > 0 {
		// Best effort, like converting with leftover execution budget:
		// a failure here leaves the drafts for an explicit convert call.
		if err := s.update(func(txn *badger.Txn) error {
			_, err := s.ledger.ConvertDrafts(txn, outcome.ConvertDraftIDs)
			return err
		}); err != nil {
			slog.Warn("opportunistic draft conversion failed", "err", err)
		}
	}

	return nil
}

// bounceDeposit returns a rejected deposit to its sender and advances
// the offset past it. The refund id is derived from the deposit sequence
// so retries stay idempotent.
func (s *Server) bounceDeposit(ctx context.Context, deposit *Deposit) error {
	if err := s.update(func(txn *badger.Txn) error {
		return saveProperty(txn, depositsOffsetProperty, deposit.Sequence+1)
	}); err != nil {
		return err
	}

	refundID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("refund:%d", deposit.Sequence)))
	t := Transfer{
		ID:       refundID,
		Receiver: deposit.SenderID,
		Amount:   deposit.Amount,
		Memo:     "Refund of a rejected deposit",
	}

	if err := s.token.Submit(ctx, t); err != nil {
		slog.Error("refund rejected deposit failed", "seq", deposit.Sequence, "err", err)
	}

	return nil
}
