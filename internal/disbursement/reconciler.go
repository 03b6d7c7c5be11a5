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
	"github.com/woofai-token/Woofaiserver/internal/storage"
)

// Resolution is the result of reconciling one reservation.
type Resolution int

const (
	// ResolutionPending means the transfer may still land.
	ResolutionPending Resolution = iota
	// ResolutionSettled means the transfer landed and the record was written.
	ResolutionSettled
	// ResolutionReleased means the transfer cannot land and the allocation was freed.
	ResolutionReleased
)

// String returns the label used in logs and metrics.
func (r Resolution) String() string {
	switch r {
	case ResolutionSettled:
		return "settled"
	case ResolutionReleased:
		return "released"
	default:
		return "pending"
	}
}

// DefaultReconcileBatch bounds one reconcile pass.
const DefaultReconcileBatch = 100

// Reconciler resolves reservations whose transfer outcome is not yet known.
type Reconciler struct {
	store  storage.DisbursementStore
	ledger ledger.Ledger
	logger *slog.Logger
	batch  int
	now    func() time.Time
}

// NewReconciler creates a reconciler.
func NewReconciler(store storage.DisbursementStore, l ledger.Ledger, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:  store,
		ledger: l,
		logger: logger,
		batch:  DefaultReconcileBatch,
		now:    time.Now,
	}
}

// Resolve settles a reservation whose transfer landed, releases one whose
// transfer failed or whose blockhash expired unlanded, and leaves the rest.
// The returned record is set when the reservation is (or already was) settled.
func (r *Reconciler) Resolve(ctx context.Context, res *domain.Reservation) (Resolution, *domain.DisbursementRecord, error) {
	switch res.Status {
	case domain.ReservationSettled:
		rec, err := r.store.GetRecord(ctx, res.TransactionReference)
		if err != nil {
			return ResolutionPending, nil, fmt.Errorf("get record: %w", err)
		}
		return ResolutionSettled, rec, nil
	case domain.ReservationReleased:
		return ResolutionReleased, nil, nil
	}

	status, err := r.ledger.SignatureStatus(ctx, res.TransferSignature)
	if err != nil {
		return ResolutionPending, nil, err
	}
	if status == nil {
		expired, err := r.expired(ctx, res)
		if err != nil || !expired {
			return ResolutionPending, nil, err
		}
		return r.release(ctx, res, "blockhash expired")
	}
	if status.Err != nil {
		return r.release(ctx, res, fmt.Sprintf("transfer failed on-chain: %v", status.Err))
	}
	if !status.Landed() {
		return ResolutionPending, nil, nil
	}

	rec, err := r.store.Settle(ctx, res.TransactionReference, r.now().UTC())
	if err != nil {
		return ResolutionPending, nil, fmt.Errorf("settle %s: %w", res.TransactionReference, err)
	}
	observability.RecordDisbursement(rec.TokenAmount, rec.NativeLamports, rec.SettledAt.Unix())
	r.logger.Info("reservation settled",
		"event", "reconcile_settled",
		"transaction_reference", res.TransactionReference,
		"transfer_signature", res.TransferSignature,
		"token_amount", rec.TokenAmount,
		"phase_id", rec.PhaseID,
	)
	return ResolutionSettled, rec, nil
}

// expired reports whether the finalized height passed the reservation's
// last valid height with the signature still unknown.
func (r *Reconciler) expired(ctx context.Context, res *domain.Reservation) (bool, error) {
	if res.LastValidBlockHeight == 0 {
		return false, nil
	}
	height, err := r.ledger.BlockHeight(ctx)
	if err != nil {
		return false, err
	}
	if height <= res.LastValidBlockHeight {
		return false, nil
	}
	status, err := r.ledger.SignatureStatus(ctx, res.TransferSignature)
	if err != nil {
		return false, err
	}
	return status == nil, nil
}

func (r *Reconciler) release(ctx context.Context, res *domain.Reservation, why string) (Resolution, *domain.DisbursementRecord, error) {
	if err := r.store.Release(ctx, res.TransactionReference); err != nil {
		return ResolutionPending, nil, fmt.Errorf("release %s: %w", res.TransactionReference, err)
	}
	r.logger.Warn("reservation released",
		"event", "reconcile_released",
		"transaction_reference", res.TransactionReference,
		"transfer_signature", res.TransferSignature,
		"reason", why,
	)
	return ResolutionReleased, nil, nil
}

// RunOnce reconciles one batch of open reservations and returns counts by
// resolution. Per-reservation errors are logged and counted as pending.
func (r *Reconciler) RunOnce(ctx context.Context) (map[string]int, error) {
	open, err := r.store.ListOpen(ctx, r.batch)
	if err != nil {
		return nil, fmt.Errorf("list open reservations: %w", err)
	}

	counts := make(map[string]int)
	remaining := 0
	for _, res := range open {
		if ctx.Err() != nil {
			return counts, ctx.Err()
		}
		resolution, _, err := r.Resolve(ctx, res)
		if err != nil {
			r.logger.Warn("reconcile failed",
				"event", "reconcile_error",
				"transaction_reference", res.TransactionReference,
				"error", err,
			)
		}
		counts[resolution.String()]++
		if resolution == ResolutionPending {
			remaining++
		}
	}

	observability.RecordReconcile(counts, remaining, r.now().Unix())
	if len(open) > 0 {
		r.logger.Info("reconcile pass complete",
			"event", "reconcile_pass",
			"open", len(open),
			"settled", counts[ResolutionSettled.String()],
			"released", counts[ResolutionReleased.String()],
			"pending", remaining,
		)
	}
	return counts, nil
}

// Run reconciles every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("reconcile pass failed", "event", "reconcile_pass_failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
