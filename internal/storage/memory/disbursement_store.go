package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/woofai-token/Woofaiserver/internal/domain"
	"github.com/woofai-token/Woofaiserver/internal/storage"
)

// DisbursementStore is an in-memory implementation of storage.DisbursementStore.
// A single mutex serialises reservations, which makes the allocation check atomic.
type DisbursementStore struct {
	mu           sync.RWMutex
	reservations map[string]*domain.Reservation        // keyed by transaction reference
	records      map[string]*domain.DisbursementRecord // keyed by transaction reference
	now          func() time.Time
}

// NewDisbursementStore creates a new in-memory disbursement store.
func NewDisbursementStore() *DisbursementStore {
	return &DisbursementStore{
		reservations: make(map[string]*domain.Reservation),
		records:      make(map[string]*domain.DisbursementRecord),
		now:          time.Now,
	}
}

// Compile-time interface check.
var _ storage.DisbursementStore = (*DisbursementStore)(nil)

// GetRecord retrieves the record for a reference. Returns ErrNotFound if missing.
func (s *DisbursementStore) GetRecord(_ context.Context, reference string) (*domain.DisbursementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[reference]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *rec
	return &copy, nil
}

// GetReservation retrieves the reservation for a reference. Returns ErrNotFound if missing.
func (s *DisbursementStore) GetReservation(_ context.Context, reference string) (*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reservations[reference]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *r
	return &copy, nil
}

// Reserve inserts a reservation after checking the phase allocation.
func (s *DisbursementStore) Reserve(_ context.Context, r *domain.Reservation, phaseCap uint64) error {
	if r == nil || r.TransactionReference == "" || r.PhaseID == "" || r.TokenAmount == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.reservations[r.TransactionReference]; ok && existing.Status != domain.ReservationReleased {
		return storage.ErrDuplicateKey
	}

	allocated := s.allocatedLocked(r.PhaseID)
	if allocated+r.TokenAmount < allocated || allocated+r.TokenAmount > phaseCap {
		return storage.ErrAllocationExceeded
	}

	now := s.now()
	copy := *r
	copy.Status = domain.ReservationReserved
	copy.CreatedAt = now
	copy.UpdatedAt = now
	s.reservations[r.TransactionReference] = &copy
	return nil
}

// Settle marks a reservation settled and writes its record.
func (s *DisbursementStore) Settle(_ context.Context, reference string, settledAt time.Time) (*domain.DisbursementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[reference]
	if !ok {
		return nil, storage.ErrNotFound
	}
	switch r.Status {
	case domain.ReservationSettled:
		rec := *s.records[reference]
		return &rec, nil
	case domain.ReservationReleased:
		return nil, storage.ErrInvalidTransition
	}

	if _, exists := s.records[reference]; exists {
		return nil, storage.ErrDuplicateKey
	}

	rec := r.Record(settledAt)
	s.records[reference] = rec
	r.Status = domain.ReservationSettled
	r.UpdatedAt = s.now()

	copy := *rec
	return &copy, nil
}

// Release frees an open reservation.
func (s *DisbursementStore) Release(_ context.Context, reference string) error {
	return s.transition(reference, domain.ReservationReleased)
}

// MarkAmbiguous flags an open reservation as ambiguous.
func (s *DisbursementStore) MarkAmbiguous(_ context.Context, reference string) error {
	return s.transition(reference, domain.ReservationAmbiguous)
}

func (s *DisbursementStore) transition(reference string, to domain.ReservationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[reference]
	if !ok {
		return storage.ErrNotFound
	}
	if r.Status == to {
		return nil
	}
	if !r.Status.Open() {
		return storage.ErrInvalidTransition
	}
	r.Status = to
	r.UpdatedAt = s.now()
	return nil
}

// ListOpen returns reserved or ambiguous reservations, oldest first.
func (s *DisbursementStore) ListOpen(_ context.Context, limit int) ([]*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Reservation
	for _, r := range s.reservations {
		if r.Status.Open() {
			copy := *r
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].TransactionReference < result[j].TransactionReference
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Stats aggregates totals for a phase, or all phases when phaseID is empty.
func (s *DisbursementStore) Stats(_ context.Context, phaseID string) (*domain.PhaseStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &domain.PhaseStats{PhaseID: phaseID}
	if phaseID == "" {
		for _, r := range s.reservations {
			if r.Status != domain.ReservationReleased {
				stats.TokensAllocated += r.TokenAmount
			}
		}
	} else {
		stats.TokensAllocated = s.allocatedLocked(phaseID)
	}

	for _, rec := range s.records {
		if phaseID != "" && rec.PhaseID != phaseID {
			continue
		}
		stats.TokensSettled += rec.TokenAmount
		stats.LamportsRaised += rec.NativeLamports
		stats.Disbursements++
	}
	return stats, nil
}

// allocatedLocked sums non-released reservations for a phase. Caller holds mu.
func (s *DisbursementStore) allocatedLocked(phaseID string) uint64 {
	var total uint64
	for _, r := range s.reservations {
		if r.PhaseID == phaseID && r.Status != domain.ReservationReleased {
			total += r.TokenAmount
		}
	}
	return total
}
