// Package disbursement pays out validated purchases exactly once per
// payment reference.
package disbursement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/woofai-token/Woofaiserver/internal/domain"
	"github.com/woofai-token/Woofaiserver/internal/ledger"
	"github.com/woofai-token/Woofaiserver/internal/observability"
	"github.com/woofai-token/Woofaiserver/internal/pricing"
	"github.com/woofai-token/Woofaiserver/internal/storage"
)

// DefaultConfirmTimeout bounds submission plus confirmation of one transfer.
const DefaultConfirmTimeout = 60 * time.Second

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	ConfirmTimeout time.Duration
	Logger         *slog.Logger
}

// Executor moves tokens for a priced purchase: it resolves accounts,
// reserves the allocation, submits one signed transfer, and records the
// result once the ledger confirms it.
type Executor struct {
	store      storage.DisbursementStore
	ledger     ledger.Ledger
	directory  ledger.Directory
	transfers  ledger.Transferer
	reconciler *Reconciler
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewExecutor creates an executor.
func NewExecutor(
	store storage.DisbursementStore,
	l ledger.Ledger,
	directory ledger.Directory,
	transfers ledger.Transferer,
	reconciler *Reconciler,
	cfg ExecutorConfig,
) *Executor {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		store:      store,
		ledger:     l,
		directory:  directory,
		transfers:  transfers,
		reconciler: reconciler,
		timeout:    cfg.ConfirmTimeout,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

// Disburse transfers quote.TokenAmount to the buyer and returns the record.
// When a reservation for the reference already exists, its transfer is
// reconciled instead of submitting another one.
func (e *Executor) Disburse(ctx context.Context, purchase *domain.ValidatedPurchase, quote *pricing.Quote) (*domain.DisbursementRecord, error) {
	ref := purchase.TransactionReference

	receiving, err := e.directory.ResolveOrCreateTokenAccount(ctx, purchase.BuyerAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccountCreationFailed, err)
	}
	if receiving.Created {
		observability.RecordAccountCreated()
		e.logger.Info("buyer token account created",
			"event", "token_account_created",
			"transaction_reference", ref,
			"owner", purchase.BuyerAddress,
			"token_account", receiving.Address,
		)
	}

	treasury, err := e.directory.ResolveTokenAccount(ctx, e.transfers.TreasuryOwner())
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrTreasuryAccountMissing, err)
		}
		return nil, fmt.Errorf("resolve treasury token account: %w", err)
	}

	tx, err := e.transfers.BuildTransfer(ctx, treasury.Address, receiving.Address, quote.TokenAmount)
	if err != nil {
		return nil, fmt.Errorf("build transfer: %w", err)
	}

	reservation := &domain.Reservation{
		TransactionReference: ref,
		BuyerAddress:         purchase.BuyerAddress,
		ReceivingAccount:     receiving.Address,
		TokenAmount:          quote.TokenAmount,
		NativeLamports:       purchase.NativeLamports,
		PhaseID:              quote.PhaseID,
		TransferSignature:    tx.Signature,
		LastValidBlockHeight: tx.LastValidBlockHeight,
	}
	if err := e.reserve(ctx, reservation, quote.PhaseCap); err != nil {
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, err
		}
		rec, retry, err := e.resolveExisting(ctx, ref)
		if !retry {
			return rec, err
		}
		if err := e.reserve(ctx, reservation, quote.PhaseCap); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				return nil, fmt.Errorf("%w: reservation for %s is held by another process", ErrAmbiguousTransferOutcome, ref)
			}
			return nil, err
		}
	}

	return e.submit(ctx, reservation, tx)
}

// Reconcile resolves an open reservation for ref without submitting. It
// returns *domain.AlreadyProcessedError when the earlier transfer landed and
// ErrAmbiguousTransferOutcome while it may still land. A missing or released
// reservation returns nil.
func (e *Executor) Reconcile(ctx context.Context, ref string) error {
	existing, err := e.store.GetReservation(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get reservation: %w", err)
	}
	if existing.Status == domain.ReservationReleased {
		return nil
	}
	_, _, err = e.resolveExisting(ctx, ref)
	return err
}

func (e *Executor) reserve(ctx context.Context, r *domain.Reservation, phaseCap uint64) error {
	err := e.store.Reserve(ctx, r, phaseCap)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrAllocationExceeded):
		return fmt.Errorf("%w: phase %s", ErrAllocationExhausted, r.PhaseID)
	case errors.Is(err, storage.ErrDuplicateKey):
		return err
	default:
		return fmt.Errorf("reserve: %w", err)
	}
}

// resolveExisting reconciles a prior reservation for ref. It reports retry
// when the prior transfer provably cannot land.
func (e *Executor) resolveExisting(ctx context.Context, ref string) (*domain.DisbursementRecord, bool, error) {
	existing, err := e.store.GetReservation(ctx, ref)
	if err != nil {
		return nil, false, fmt.Errorf("get reservation: %w", err)
	}
	resolution, rec, err := e.reconciler.Resolve(ctx, existing)
	if err != nil {
		e.logger.Warn("reconcile of existing reservation failed",
			"event", "reconcile_error",
			"transaction_reference", ref,
			"error", err,
		)
	}
	switch resolution {
	case ResolutionSettled:
		return nil, false, &domain.AlreadyProcessedError{Record: rec}
	case ResolutionReleased:
		return nil, true, nil
	default:
		return nil, false, fmt.Errorf("%w: transfer %s for %s still pending",
			ErrAmbiguousTransferOutcome, existing.TransferSignature, ref)
	}
}

// submit sends the reserved transfer and drives the reservation to a final
// state. Submission and confirmation outlive the caller's cancellation and
// are bounded by the confirm timeout.
func (e *Executor) submit(ctx context.Context, r *domain.Reservation, tx *ledger.SignedTransaction) (*domain.DisbursementRecord, error) {
	ctx = context.WithoutCancel(ctx)
	confirmCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	log := e.logger.With(
		"transaction_reference", r.TransactionReference,
		"transfer_signature", tx.Signature,
		"token_amount", r.TokenAmount,
		"phase_id", r.PhaseID,
	)

	start := time.Now()
	observability.RecordTransferSubmitted()
	if err := e.ledger.SubmitTransaction(confirmCtx, tx); err != nil {
		if errors.Is(err, ledger.ErrRejected) && e.unseen(confirmCtx, tx.Signature, log) {
			observability.RecordTransferOutcome("failed", 0)
			return nil, e.releaseAfter(ctx, r, log, err)
		}
		log.Warn("transfer submission outcome unknown", "event", "transfer_submit_ambiguous", "error", err)
	}

	outcome, err := e.ledger.Confirm(confirmCtx, tx.Signature, tx.LastValidBlockHeight)
	switch outcome {
	case ledger.OutcomeConfirmed:
		observability.RecordTransferOutcome("confirmed", time.Since(start).Seconds())
		rec, err := e.store.Settle(ctx, r.TransactionReference, e.now().UTC())
		if err != nil {
			log.Error("transfer confirmed but settle failed", "event", "settle_failed", "error", err)
			return nil, fmt.Errorf("settle: %w", err)
		}
		observability.RecordDisbursement(rec.TokenAmount, rec.NativeLamports, rec.SettledAt.Unix())
		log.Info("tokens disbursed", "event", "disbursed", "buyer", r.BuyerAddress)
		return rec, nil

	case ledger.OutcomeFailed, ledger.OutcomeExpired:
		observability.RecordTransferOutcome(outcome.String(), 0)
		return nil, e.releaseAfter(ctx, r, log, fmt.Errorf("transfer %s", outcome))

	default:
		observability.RecordTransferOutcome("ambiguous", 0)
		if markErr := e.store.MarkAmbiguous(ctx, r.TransactionReference); markErr != nil {
			log.Error("mark ambiguous failed", "event", "mark_ambiguous_failed", "error", markErr)
		}
		log.Warn("transfer outcome unknown", "event", "transfer_ambiguous", "error", err)
		return nil, fmt.Errorf("%w: transfer %s", ErrAmbiguousTransferOutcome, tx.Signature)
	}
}

// unseen reports whether the node has no status for a rejected signature.
// A known status, or a failed lookup, means the transfer may have landed.
func (e *Executor) unseen(ctx context.Context, signature string, log *slog.Logger) bool {
	status, err := e.ledger.SignatureStatus(ctx, signature)
	if err != nil {
		log.Warn("status check after rejection failed", "event", "rejected_status_error", "error", err)
		return false
	}
	return status == nil
}

func (e *Executor) releaseAfter(ctx context.Context, r *domain.Reservation, log *slog.Logger, cause error) error {
	if err := e.store.Release(ctx, r.TransactionReference); err != nil {
		log.Error("release failed", "event", "release_failed", "error", err)
		return fmt.Errorf("%w: %v (release failed: %v)", ErrTransferFailed, cause, err)
	}
	log.Warn("transfer failed, reservation released", "event", "transfer_failed", "error", cause)
	return fmt.Errorf("%w: %v", ErrTransferFailed, cause)
}
