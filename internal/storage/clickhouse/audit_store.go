package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/woofai-token/Woofaiserver/internal/domain"
	"github.com/woofai-token/Woofaiserver/internal/observability"
	"github.com/woofai-token/Woofaiserver/internal/storage"
)

// AuditStore implements storage.AuditStore using ClickHouse.
type AuditStore struct {
	conn *Conn
}

// NewAuditStore creates a new AuditStore.
func NewAuditStore(conn *Conn) *AuditStore {
	return &AuditStore{conn: conn}
}

// Compile-time interface check.
var _ storage.AuditStore = (*AuditStore)(nil)

// Append adds an event. Returns ErrDuplicateKey if event_id exists.
func (s *AuditStore) Append(ctx context.Context, e *domain.AuditEvent) (err error) {
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "audit_append", time.Since(start).Seconds(), err)
	}()

	if e == nil || e.EventID == "" {
		return storage.ErrInvalidInput
	}

	// ReplacingMergeTree collapses duplicates eventually; check first to keep append-only semantics.
	exists, err := s.exists(ctx, e.TransactionReference, e.EventID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	query := `
		INSERT INTO claim_audit (
			event_id, transaction_reference, buyer_address,
			reason, token_amount, phase_id, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	err = s.conn.Exec(ctx, query,
		e.EventID, e.TransactionReference, e.BuyerAddress,
		e.Reason, e.TokenAmount, e.PhaseID, e.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// GetByReference returns events for a reference ordered by occurred_at ASC.
func (s *AuditStore) GetByReference(ctx context.Context, reference string) ([]*domain.AuditEvent, error) {
	query := `
		SELECT
			event_id, transaction_reference, buyer_address,
			reason, token_amount, phase_id, occurred_at
		FROM claim_audit FINAL
		WHERE transaction_reference = ?
		ORDER BY occurred_at ASC, event_id ASC
	`

	rows, err := s.conn.Query(ctx, query, reference)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []*domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		if err := rows.Scan(
			&e.EventID, &e.TransactionReference, &e.BuyerAddress,
			&e.Reason, &e.TokenAmount, &e.PhaseID, &e.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}
	return events, nil
}

// exists checks if an event with the given key exists.
func (s *AuditStore) exists(ctx context.Context, reference, eventID string) (bool, error) {
	query := `
		SELECT count(*) FROM claim_audit
		WHERE transaction_reference = ? AND event_id = ?
	`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, reference, eventID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
