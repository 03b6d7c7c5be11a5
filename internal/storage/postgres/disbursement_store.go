package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/woofai-token/Woofaiserver/internal/domain"
	"github.com/woofai-token/Woofaiserver/internal/storage"
)

// DisbursementStore implements storage.DisbursementStore using PostgreSQL.
//
// Token amounts and lamports are NUMERIC(20,0) and travel as text so the
// full uint64 range survives the round trip.
type DisbursementStore struct {
	pool *Pool
}

// NewDisbursementStore creates a new DisbursementStore.
func NewDisbursementStore(pool *Pool) *DisbursementStore {
	return &DisbursementStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DisbursementStore = (*DisbursementStore)(nil)

const reservationColumns = `
	transaction_reference, buyer_address, receiving_account,
	token_amount::text, native_lamports::text, phase_id,
	transfer_signature, last_valid_block_height::text, status,
	created_at, updated_at`

const recordColumns = `
	transaction_reference, buyer_address, token_amount::text,
	native_lamports::text, phase_id, settled_at, ledger_tx_reference`

// GetRecord retrieves the record for a reference. Returns ErrNotFound if missing.
func (s *DisbursementStore) GetRecord(ctx context.Context, reference string) (_ *domain.DisbursementRecord, err error) {
	defer observe("get_record", time.Now(), &err)

	query := `SELECT ` + recordColumns + ` FROM disbursement_records WHERE transaction_reference = $1`

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, reference))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get disbursement record: %w", err)
	}
	return rec, nil
}

// GetReservation retrieves the reservation for a reference. Returns ErrNotFound if missing.
func (s *DisbursementStore) GetReservation(ctx context.Context, reference string) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE transaction_reference = $1`

	r, err := scanReservation(s.pool.QueryRow(ctx, query, reference))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return r, nil
}

// Reserve inserts a reservation after checking the phase allocation.
// Reservations for the same phase are serialised with a transaction-scoped
// advisory lock keyed by the phase id.
func (s *DisbursementStore) Reserve(ctx context.Context, r *domain.Reservation, phaseCap uint64) (err error) {
	defer observe("reserve", time.Now(), &err)

	if r == nil || r.TransactionReference == "" || r.PhaseID == "" || r.TokenAmount == 0 {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, r.PhaseID); err != nil {
		return fmt.Errorf("lock phase %s: %w", r.PhaseID, err)
	}

	var allocatedText string
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(token_amount), 0)::text
		FROM reservations
		WHERE phase_id = $1 AND status <> 'released'
	`, r.PhaseID).Scan(&allocatedText)
	if err != nil {
		return fmt.Errorf("sum phase allocation: %w", err)
	}
	allocated, err := strconv.ParseUint(allocatedText, 10, 64)
	if err != nil {
		return fmt.Errorf("parse phase allocation %q: %w", allocatedText, err)
	}
	if allocated+r.TokenAmount < allocated || allocated+r.TokenAmount > phaseCap {
		return storage.ErrAllocationExceeded
	}

	// A released reservation may be replaced; any other status is a duplicate.
	tag, err := tx.Exec(ctx, `
		INSERT INTO reservations (
			transaction_reference, buyer_address, receiving_account,
			token_amount, native_lamports, phase_id,
			transfer_signature, last_valid_block_height, status,
			created_at, updated_at
		) VALUES (
			$1, $2, $3,
			$4::numeric, $5::numeric, $6,
			$7, $8::numeric, 'reserved',
			now(), now()
		)
		ON CONFLICT (transaction_reference) DO UPDATE SET
			buyer_address = EXCLUDED.buyer_address,
			receiving_account = EXCLUDED.receiving_account,
			token_amount = EXCLUDED.token_amount,
			native_lamports = EXCLUDED.native_lamports,
			phase_id = EXCLUDED.phase_id,
			transfer_signature = EXCLUDED.transfer_signature,
			last_valid_block_height = EXCLUDED.last_valid_block_height,
			status = 'reserved',
			updated_at = now()
		WHERE reservations.status = 'released'
	`,
		r.TransactionReference, r.BuyerAddress, r.ReceivingAccount,
		formatUint(r.TokenAmount), formatUint(r.NativeLamports), r.PhaseID,
		r.TransferSignature, formatUint(r.LastValidBlockHeight),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrDuplicateKey
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reservation: %w", err)
	}
	return nil
}

// Settle marks a reservation settled and writes its record in one transaction.
func (s *DisbursementStore) Settle(ctx context.Context, reference string, settledAt time.Time) (_ *domain.DisbursementRecord, err error) {
	defer observe("settle", time.Now(), &err)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := scanReservation(tx.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE transaction_reference = $1 FOR UPDATE`,
		reference,
	))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("lock reservation: %w", err)
	}

	switch r.Status {
	case domain.ReservationSettled:
		rec, err := scanRecord(tx.QueryRow(ctx,
			`SELECT `+recordColumns+` FROM disbursement_records WHERE transaction_reference = $1`,
			reference,
		))
		if err != nil {
			return nil, fmt.Errorf("get settled record: %w", err)
		}
		return rec, nil
	case domain.ReservationReleased:
		return nil, storage.ErrInvalidTransition
	}

	rec := r.Record(settledAt)
	_, err = tx.Exec(ctx, `
		INSERT INTO disbursement_records (
			transaction_reference, buyer_address, token_amount,
			native_lamports, phase_id, settled_at, ledger_tx_reference
		) VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7)
	`,
		rec.TransactionReference, rec.BuyerAddress, formatUint(rec.TokenAmount),
		formatUint(rec.NativeLamports), rec.PhaseID, rec.SettledAt, rec.LedgerTxReference,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, storage.ErrDuplicateKey
		}
		return nil, fmt.Errorf("insert disbursement record: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE reservations SET status = 'settled', updated_at = now()
		WHERE transaction_reference = $1
	`, reference); err != nil {
		return nil, fmt.Errorf("mark reservation settled: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit settle: %w", err)
	}
	return rec, nil
}

// Release frees an open reservation.
func (s *DisbursementStore) Release(ctx context.Context, reference string) error {
	return s.transition(ctx, reference, domain.ReservationReleased)
}

// MarkAmbiguous flags an open reservation as ambiguous.
func (s *DisbursementStore) MarkAmbiguous(ctx context.Context, reference string) error {
	return s.transition(ctx, reference, domain.ReservationAmbiguous)
}

func (s *DisbursementStore) transition(ctx context.Context, reference string, to domain.ReservationStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reservations SET status = $2, updated_at = now()
		WHERE transaction_reference = $1 AND status IN ('reserved', 'ambiguous')
	`, reference, string(to))
	if err != nil {
		return fmt.Errorf("update reservation %s: %w", to, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx,
		`SELECT status FROM reservations WHERE transaction_reference = $1`, reference,
	).Scan(&current)
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("get reservation status: %w", err)
	}
	if domain.ReservationStatus(current) == to {
		return nil
	}
	return storage.ErrInvalidTransition
}

// ListOpen returns reserved or ambiguous reservations, oldest first.
func (s *DisbursementStore) ListOpen(ctx context.Context, limit int) ([]*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE status IN ('reserved', 'ambiguous')
		ORDER BY created_at ASC, transaction_reference ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query open reservations: %w", err)
	}
	defer rows.Close()

	var result []*domain.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}
	return result, nil
}

// Stats aggregates totals for a phase, or all phases when phaseID is empty.
func (s *DisbursementStore) Stats(ctx context.Context, phaseID string) (*domain.PhaseStats, error) {
	var allocated, settled, raised string
	var count int64

	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COALESCE(SUM(token_amount), 0)::text FROM reservations
			 WHERE status <> 'released' AND ($1 = '' OR phase_id = $1)),
			COALESCE(SUM(token_amount), 0)::text,
			COALESCE(SUM(native_lamports), 0)::text,
			COUNT(*)
		FROM disbursement_records
		WHERE $1 = '' OR phase_id = $1
	`, phaseID).Scan(&allocated, &settled, &raised, &count)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}

	stats := &domain.PhaseStats{PhaseID: phaseID, Disbursements: count}
	if stats.TokensAllocated, err = strconv.ParseUint(allocated, 10, 64); err != nil {
		return nil, fmt.Errorf("parse allocated %q: %w", allocated, err)
	}
	if stats.TokensSettled, err = strconv.ParseUint(settled, 10, 64); err != nil {
		return nil, fmt.Errorf("parse settled %q: %w", settled, err)
	}
	if stats.LamportsRaised, err = strconv.ParseUint(raised, 10, 64); err != nil {
		return nil, fmt.Errorf("parse raised %q: %w", raised, err)
	}
	return stats, nil
}

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var (
		r                           domain.Reservation
		amount, lamports, lastValid string
		status                      string
	)
	err := row.Scan(
		&r.TransactionReference, &r.BuyerAddress, &r.ReceivingAccount,
		&amount, &lamports, &r.PhaseID,
		&r.TransferSignature, &lastValid, &status,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Status = domain.ReservationStatus(status)
	if r.TokenAmount, err = strconv.ParseUint(amount, 10, 64); err != nil {
		return nil, fmt.Errorf("parse token_amount: %w", err)
	}
	if r.NativeLamports, err = strconv.ParseUint(lamports, 10, 64); err != nil {
		return nil, fmt.Errorf("parse native_lamports: %w", err)
	}
	if r.LastValidBlockHeight, err = strconv.ParseUint(lastValid, 10, 64); err != nil {
		return nil, fmt.Errorf("parse last_valid_block_height: %w", err)
	}
	return &r, nil
}

func scanRecord(row pgx.Row) (*domain.DisbursementRecord, error) {
	var (
		rec              domain.DisbursementRecord
		amount, lamports string
	)
	err := row.Scan(
		&rec.TransactionReference, &rec.BuyerAddress, &amount,
		&lamports, &rec.PhaseID, &rec.SettledAt, &rec.LedgerTxReference,
	)
	if err != nil {
		return nil, err
	}

	if rec.TokenAmount, err = strconv.ParseUint(amount, 10, 64); err != nil {
		return nil, fmt.Errorf("parse token_amount: %w", err)
	}
	if rec.NativeLamports, err = strconv.ParseUint(lamports, 10, 64); err != nil {
		return nil, fmt.Errorf("parse native_lamports: %w", err)
	}
	return &rec, nil
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
