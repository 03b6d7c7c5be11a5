// Package claims verifies purchase claims against the ledger.
package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"github.com/woofai-token/Woofaiserver/internal/domain"
	"github.com/woofai-token/Woofaiserver/internal/storage"
)

// AmountPolicy decides how the credited amount is compared with the claim.
type AmountPolicy string

const (
	// PolicyExact requires |credited - claimed| <= epsilon.
	PolicyExact AmountPolicy = "exact"
	// PolicyAtLeast requires credited >= claimed - epsilon.
	PolicyAtLeast AmountPolicy = "at_least"
)

// DefaultEpsilonLamports tolerates wallet rounding of the displayed amount.
const DefaultEpsilonLamports = 10_000

// IsValid checks if the policy is a known value.
func (p AmountPolicy) IsValid() bool {
	return p == PolicyExact || p == PolicyAtLeast
}

// Config holds validation settings.
type Config struct {
	TreasuryAddress string // receiving address payments must credit
	Policy          AmountPolicy
	EpsilonLamports uint64
	EnforceSender   bool // all crediting transfers must come from the buyer
}

// RecordLookup finds prior disbursements.
type RecordLookup interface {
	GetRecord(ctx context.Context, reference string) (*domain.DisbursementRecord, error)
}

// TransactionSource reads payment transactions.
type TransactionSource interface {
	GetTransaction(ctx context.Context, reference string) (*domain.LedgerTransaction, error)
}

// Validator turns a PurchaseClaim into a ValidatedPurchase.
type Validator struct {
	cfg     Config
	records RecordLookup
	ledger  TransactionSource
	logger  *slog.Logger
	now     func() time.Time
}

// NewValidator creates a validator.
func NewValidator(cfg Config, records RecordLookup, ledger TransactionSource, logger *slog.Logger) (*Validator, error) {
	if _, err := decodeWallet(cfg.TreasuryAddress, false); err != nil {
		return nil, fmt.Errorf("treasury address: %w", err)
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyExact
	}
	if !cfg.Policy.IsValid() {
		return nil, fmt.Errorf("unknown amount policy %q", cfg.Policy)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		cfg:     cfg,
		records: records,
		ledger:  ledger,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Validate runs structural, duplicate, ledger, authenticity, and sender checks
// in that order. An already disbursed payment returns an
// *domain.AlreadyProcessedError carrying the prior record.
func (v *Validator) Validate(ctx context.Context, claim domain.PurchaseClaim) (*domain.ValidatedPurchase, error) {
	claimed, err := CheckStructure(claim)
	if err != nil {
		return nil, err
	}

	record, err := v.records.GetRecord(ctx, claim.TransactionReference)
	switch {
	case err == nil:
		return nil, &domain.AlreadyProcessedError{Record: record}
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("lookup record: %w", err)
	}

	tx, err := v.ledger.GetTransaction(ctx, claim.TransactionReference)
	if err != nil {
		return nil, fmt.Errorf("lookup transaction: %w", err)
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: %s not found", domain.ErrUnconfirmedTransaction, claim.TransactionReference)
	}
	if !tx.Succeeded() {
		return nil, fmt.Errorf("%w: %s not confirmed or failed on-chain", domain.ErrUnconfirmedTransaction, claim.TransactionReference)
	}

	credited := tx.CreditedTo(v.cfg.TreasuryAddress)
	if len(credited) == 0 {
		return nil, fmt.Errorf("%w: no transfer to %s", domain.ErrWrongRecipient, v.cfg.TreasuryAddress)
	}
	var total uint64
	for _, tr := range credited {
		if total > math.MaxUint64-tr.Lamports {
			return nil, fmt.Errorf("%w: credited amount overflows", domain.ErrAmountMismatch)
		}
		total += tr.Lamports
	}
	if !v.amountMatches(total, claimed) {
		return nil, fmt.Errorf("%w: credited %d lamports, claimed %d (%s)",
			domain.ErrAmountMismatch, total, claimed, v.cfg.Policy)
	}

	if v.cfg.EnforceSender {
		for _, tr := range credited {
			if tr.Source != claim.BuyerAddress {
				return nil, fmt.Errorf("%w: transfer from %s", domain.ErrSenderMismatch, tr.Source)
			}
		}
	}

	ts := v.now().UTC()
	if tx.BlockTime > 0 {
		ts = time.Unix(tx.BlockTime, 0).UTC()
	}
	v.logger.Debug("claim validated",
		"event", "claim_validated",
		"transaction_reference", claim.TransactionReference,
		"lamports", total,
	)
	return &domain.ValidatedPurchase{
		TransactionReference: claim.TransactionReference,
		BuyerAddress:         claim.BuyerAddress,
		NativeLamports:       total,
		Timestamp:            ts,
	}, nil
}

func (v *Validator) amountMatches(credited, claimed uint64) bool {
	eps := v.cfg.EpsilonLamports
	switch v.cfg.Policy {
	case PolicyAtLeast:
		return credited >= claimed || claimed-credited <= eps
	default:
		if credited >= claimed {
			return credited-claimed <= eps
		}
		return claimed-credited <= eps
	}
}

// CheckStructure validates claim fields without I/O and returns the claimed
// amount in lamports.
func CheckStructure(claim domain.PurchaseClaim) (uint64, error) {
	if strings.TrimSpace(claim.TransactionReference) == "" {
		return 0, fmt.Errorf("%w: transaction reference is required", domain.ErrMalformedClaim)
	}
	sig, err := base58.Decode(claim.TransactionReference)
	if err != nil || len(sig) != 64 {
		return 0, fmt.Errorf("%w: transaction reference must be a base58 64-byte signature", domain.ErrMalformedClaim)
	}

	if strings.TrimSpace(claim.BuyerAddress) == "" {
		return 0, fmt.Errorf("%w: buyer address is required", domain.ErrMalformedClaim)
	}
	if _, err := decodeWallet(claim.BuyerAddress, true); err != nil {
		return 0, fmt.Errorf("%w: buyer address: %v", domain.ErrMalformedClaim, err)
	}

	return ToLamports(claim.NativeAmount)
}

// ToLamports converts a SOL amount to lamports, rounding down. Amounts that
// are not positive or below one lamport are malformed.
func ToLamports(amount decimal.Decimal) (uint64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("%w: amount must be positive", domain.ErrMalformedClaim)
	}
	lamports := amount.Shift(domain.NativeDecimals).Floor()
	if lamports.LessThan(decimal.NewFromInt(1)) {
		return 0, fmt.Errorf("%w: amount is below one lamport", domain.ErrMalformedClaim)
	}
	if lamports.GreaterThan(decimal.NewFromUint64(math.MaxUint64)) {
		return 0, fmt.Errorf("%w: amount too large", domain.ErrMalformedClaim)
	}
	return lamports.BigInt().Uint64(), nil
}

// decodeWallet decodes a base58 public key. With onCurve set it also requires
// the key to be a valid ed25519 point, which excludes program-derived addresses.
func decodeWallet(address string, onCurve bool) ([]byte, error) {
	key, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("invalid base58: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("expected 32 bytes, got %d", len(key))
	}
	if onCurve {
		if _, err := new(edwards25519.Point).SetBytes(key); err != nil {
			return nil, errors.New("address is not on the ed25519 curve")
		}
	}
	return key, nil
}
