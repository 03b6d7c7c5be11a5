package disbursement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/woofai-token/Woofaiserver/internal/claims"
	"github.com/woofai-token/Woofaiserver/internal/domain"
	"github.com/woofai-token/Woofaiserver/internal/idhash"
	"github.com/woofai-token/Woofaiserver/internal/observability"
	"github.com/woofai-token/Woofaiserver/internal/pricing"
	"github.com/woofai-token/Woofaiserver/internal/storage"
)

// ClaimValidator verifies a claim against the ledger.
type ClaimValidator interface {
	Validate(ctx context.Context, claim domain.PurchaseClaim) (*domain.ValidatedPurchase, error)
}

// Quoter prices a validated purchase.
type Quoter interface {
	Compute(ctx context.Context, purchase *domain.ValidatedPurchase, now time.Time) (*pricing.Quote, error)
}

// Disburser pays out a priced purchase. Reconcile resolves a transfer left
// open by an earlier claim for the same reference before it is priced again.
type Disburser interface {
	Reconcile(ctx context.Context, ref string) error
	Disburse(ctx context.Context, purchase *domain.ValidatedPurchase, quote *pricing.Quote) (*domain.DisbursementRecord, error)
}

// Result is the outcome of a successful claim.
type Result struct {
	Record           *domain.DisbursementRecord
	AlreadyProcessed bool
}

// Engine sequences validation, pricing, and disbursement for one claim.
type Engine struct {
	validator ClaimValidator
	quoter    Quoter
	disburser Disburser
	records   storage.DisbursementStore
	audit     storage.AuditStore
	locks     *KeyedMutex
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine creates an engine. audit may be nil.
func NewEngine(
	validator ClaimValidator,
	quoter Quoter,
	disburser Disburser,
	records storage.DisbursementStore,
	audit storage.AuditStore,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		validator: validator,
		quoter:    quoter,
		disburser: disburser,
		records:   records,
		audit:     audit,
		locks:     NewKeyedMutex(),
		logger:    logger,
		now:       time.Now,
	}
}

// Process handles one claim. Claims for the same reference are serialized;
// a claim whose payment was already disbursed returns the prior record with
// AlreadyProcessed set.
func (e *Engine) Process(ctx context.Context, claim domain.PurchaseClaim) (res *Result, err error) {
	done := observability.ClaimStarted()
	defer done()
	start := time.Now()

	claim.TransactionReference = strings.TrimSpace(claim.TransactionReference)
	claim.BuyerAddress = strings.TrimSpace(claim.BuyerAddress)
	ref := claim.TransactionReference

	defer func() {
		e.finish(ctx, claim, res, err, time.Since(start))
	}()

	if _, err := claims.CheckStructure(claim); err != nil {
		return nil, err
	}
	if rec, err := e.records.GetRecord(ctx, ref); err == nil {
		return &Result{Record: rec, AlreadyProcessed: true}, nil
	}
	unlock := e.locks.Lock(ref)
	defer unlock()

	res, err = e.process(ctx, claim)
	var ape *domain.AlreadyProcessedError
	if errors.As(err, &ape) {
		return &Result{Record: ape.Record, AlreadyProcessed: true}, nil
	}
	return res, err
}

func (e *Engine) process(ctx context.Context, claim domain.PurchaseClaim) (*Result, error) {
	purchase, err := e.validator.Validate(ctx, claim)
	if err != nil {
		return nil, err
	}

	// A pending transfer still holds its allocation and must not be priced
	// against the current phase.
	if err := e.disburser.Reconcile(ctx, purchase.TransactionReference); err != nil {
		return nil, err
	}

	quote, err := e.quoter.Compute(ctx, purchase, e.now())
	if err != nil {
		return nil, err
	}

	rec, err := e.disburser.Disburse(ctx, purchase, quote)
	if err != nil {
		return nil, err
	}
	return &Result{Record: rec}, nil
}

// finish records metrics, logs, and appends the audit event for one claim.
func (e *Engine) finish(ctx context.Context, claim domain.PurchaseClaim, res *Result, err error, elapsed time.Duration) {
	reason := ReasonOf(err)
	event := &domain.AuditEvent{
		TransactionReference: claim.TransactionReference,
		BuyerAddress:         claim.BuyerAddress,
		Reason:               reason.Code,
		OccurredAt:           e.now().UTC(),
	}
	if res != nil && res.Record != nil {
		event.TokenAmount = res.Record.TokenAmount
		event.PhaseID = res.Record.PhaseID
		if res.AlreadyProcessed {
			event.Reason = CodeAlreadyProcessed
		}
	}
	event.EventID = idhash.ComputeAuditEventID(event.TransactionReference, event.Reason, event.OccurredAt)

	observability.RecordClaim(event.Reason, elapsed.Seconds())

	log := e.logger.With(
		"event", "claim_processed",
		"transaction_reference", claim.TransactionReference,
		"reason", event.Reason,
		"duration_ms", elapsed.Milliseconds(),
	)
	switch {
	case err == nil:
		log.Info("claim processed",
			"token_amount", event.TokenAmount,
			"phase_id", event.PhaseID,
			"already_processed", res.AlreadyProcessed,
		)
	case reason.Code == CodeInternal:
		log.Error("claim failed", "error", err)
	default:
		log.Warn("claim rejected", "error", err)
	}

	if e.audit == nil {
		return
	}
	if aerr := e.audit.Append(context.WithoutCancel(ctx), event); aerr != nil && !errors.Is(aerr, storage.ErrDuplicateKey) {
		e.logger.Warn("audit append failed",
			"event", "audit_failed",
			"transaction_reference", claim.TransactionReference,
			"error", fmt.Errorf("append audit event: %w", aerr),
		)
	}
}
