package hodl

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/fox-one/mixin-sdk-go/v2"
	"github.com/fox-one/mixin-sdk-go/v2/mixinnet"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// MixinTokenService settles transfers and observes deposits through the
// Mixin safe network. Transfer IDs double as safe transaction request
// IDs, which is what makes Submit idempotent.
type MixinTokenService struct {
	client   *mixin.Client
	spendKey mixinnet.Key

	// AssetID is the only asset this ledger accounts for; utxos of any
	// other asset are ignored.
	assetID  string
	decimals int32
}

func NewMixinTokenService(client *mixin.Client, spendKey mixinnet.Key, assetID string, decimals int32) *MixinTokenService {
	return &MixinTokenService{
		client:   client,
		spendKey: spendKey,
		assetID:  assetID,
		decimals: decimals,
	}
}

// VerifyToken authenticates a bearer token against the Mixin API and
// returns the user id it was issued to.
func (s *MixinTokenService) VerifyToken(ctx context.Context, token string) (string, error) {
	u, err := mixin.UserMe(ctx, token)
	if err != nil {
		return "", fmt.Errorf("verify token failed: %w", err)
	}

	return u.UserID, nil
}

// toAmount converts base units into the decimal representation the
// network expects.
func (s *MixinTokenService) toAmount(b Balance) decimal.Decimal {
	return decimal.NewFromBigInt(b.ToBig(), -s.decimals)
}

func (s *MixinTokenService) fromAmount(d decimal.Decimal) (Balance, error) {
	scaled := d.Shift(s.decimals)
	if !scaled.IsInteger() || scaled.IsNegative() {
		return Balance{}, fmt.Errorf("amount %s is not a whole number of base units", d)
	}

	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return Balance{}, fmt.Errorf("amount %s overflows", d)
	}

	return Balance{Int: *v}, nil
}

func (s *MixinTokenService) Submit(ctx context.Context, t Transfer) error {
	utxos, err := s.client.SafeListUtxos(ctx, mixin.SafeListUtxoOption{
		Members:   []string{s.client.ClientID},
		Threshold: 1,
		Limit:     255,
	})
	if err != nil {
		return fmt.Errorf("list utxos failed: %w", err)
	}

	var spendable []*mixin.SafeUtxo
	for _, utxo := range utxos {
		if utxo.AssetID == s.assetID && utxo.State == mixin.SafeUtxoStateUnspent {
			spendable = append(spendable, utxo)
		}
	}

	if len(spendable) == 0 {
		return fmt.Errorf("no spendable utxos for asset %s", s.assetID)
	}

	b := mixin.NewSafeTransactionBuilder(spendable)
	b.Hint = t.ID.String()
	b.Memo = t.Memo

	tx, err := s.client.MakeTransaction(ctx, b, []*mixin.TransactionOutput{
		{
			Address: mixin.RequireNewMixAddress([]string{t.Receiver}, 1),
			Amount:  s.toAmount(t.Amount),
		},
	})
	if err != nil {
		return fmt.Errorf("make transaction failed: %w", err)
	}

	raw, err := tx.Dump()
	if err != nil {
		return fmt.Errorf("tx dump failed: %w", err)
	}

	req, err := s.client.SafeCreateTransactionRequest(ctx, &mixin.SafeTransactionRequestInput{
		RequestID:      t.ID.String(),
		RawTransaction: raw,
	})

	if err != nil {
		return fmt.Errorf("create transaction request failed: %w", err)
	}

	if err := mixin.SafeSignTransaction(tx, s.spendKey, req.Views, 0); err != nil {
		return fmt.Errorf("sign transaction failed: %w", err)
	}

	data, err := tx.DumpData()
	if err != nil {
		return fmt.Errorf("tx dump data failed: %w", err)
	}

	if _, err := s.client.SafeSubmitTransactionRequest(ctx, &mixin.SafeTransactionRequestInput{
		RequestID:      t.ID.String(),
		RawTransaction: hex.EncodeToString(data),
	}); err != nil {
		return fmt.Errorf("submit transaction failed: %w", err)
	}

	return nil
}

func (s *MixinTokenService) State(ctx context.Context, id uuid.UUID) (TransferState, error) {
	req, err := s.client.SafeReadTransactionRequest(ctx, id.String())
	if err != nil {
		if mixin.IsErrorCodes(err, 404) {
			return TransferUnknown, nil
		}

		return TransferUnknown, fmt.Errorf("read transaction request failed: %w", err)
	}

	switch req.State {
	case "spent", "signed":
		return TransferDone, nil
	case "failed":
		return TransferFailed, nil
	default:
		return TransferPending, nil
	}
}

func (s *MixinTokenService) ListDeposits(ctx context.Context, offset uint64, limit int) ([]*Deposit, error) {
	utxos, err := s.client.SafeListUtxos(ctx, mixin.SafeListUtxoOption{
		Members:   []string{s.client.ClientID},
		Threshold: 1,
		Offset:    offset,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list utxos failed: %w", err)
	}

	var deposits []*Deposit
	for _, utxo := range utxos {
		// A transaction may split into several outputs; only the first
		// carries the deposit semantics.
		if utxo.OutputIndex > 0 || utxo.AssetID != s.assetID {
			continue
		}

		if len(utxo.Senders) == 0 {
			slog.Warn("deposit without sender skipped", "seq", utxo.Sequence)
			continue
		}

		amount, err := s.fromAmount(utxo.Amount)
		if err != nil {
			slog.Warn("deposit with bad amount skipped", "seq", utxo.Sequence, "err", err)
			continue
		}

		memo := utxo.Extra
		if b, err := hex.DecodeString(utxo.Extra); err == nil {
			memo = string(b)
		}

		deposits = append(deposits, &Deposit{
			Sequence: utxo.Sequence,
			SenderID: utxo.Senders[0],
			Amount:   amount,
			Memo:     memo,
		})
	}

	return deposits, nil
}
