package storage

import (
	"context"
	"time"

	"github.com/woofai-token/Woofaiserver/internal/domain"
)

// DisbursementStore persists reservations and disbursement records.
//
// A reservation is written before a transfer is submitted and carries the
// unique transaction reference. Settling a reservation writes the immutable
// DisbursementRecord in the same transaction.
type DisbursementStore interface {
	// GetRecord retrieves the disbursement record for a payment reference.
	// Returns ErrNotFound if none exists.
	GetRecord(ctx context.Context, reference string) (*domain.DisbursementRecord, error)

	// GetReservation retrieves the reservation for a payment reference.
	// Returns ErrNotFound if none exists.
	GetReservation(ctx context.Context, reference string) (*domain.Reservation, error)

	// Reserve inserts a reservation and checks the phase allocation atomically.
	// A released reservation for the same reference is replaced.
	// Returns ErrDuplicateKey if an open or settled reservation exists, and
	// ErrAllocationExceeded if allocated + r.TokenAmount > phaseCap.
	Reserve(ctx context.Context, r *domain.Reservation, phaseCap uint64) error

	// Settle marks an open reservation settled and writes its record.
	// Settling an already settled reservation returns the existing record.
	// Returns ErrNotFound if no reservation exists and ErrInvalidTransition
	// if it was released.
	Settle(ctx context.Context, reference string, settledAt time.Time) (*domain.DisbursementRecord, error)

	// Release frees an open reservation's allocation.
	// Returns ErrInvalidTransition if the reservation was settled.
	Release(ctx context.Context, reference string) error

	// MarkAmbiguous flags an open reservation whose transfer outcome is unknown.
	MarkAmbiguous(ctx context.Context, reference string) error

	// ListOpen returns reservations in reserved or ambiguous status,
	// oldest first, up to limit (0 = no limit).
	ListOpen(ctx context.Context, limit int) ([]*domain.Reservation, error)

	// Stats aggregates allocation and settlement totals for a phase.
	// An empty phaseID aggregates across all phases.
	Stats(ctx context.Context, phaseID string) (*domain.PhaseStats, error)
}

// AuditStore is an append-only log of claim outcomes.
type AuditStore interface {
	// Append adds an event. Returns ErrDuplicateKey if EventID exists.
	Append(ctx context.Context, e *domain.AuditEvent) error

	// GetByReference returns events for a payment reference, ordered by OccurredAt ASC.
	GetByReference(ctx context.Context, reference string) ([]*domain.AuditEvent, error)
}
