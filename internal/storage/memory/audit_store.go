package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/woofai-token/Woofaiserver/internal/domain"
	"github.com/woofai-token/Woofaiserver/internal/storage"
)

// AuditStore is an in-memory implementation of storage.AuditStore.
type AuditStore struct {
	mu     sync.RWMutex
	events map[string]*domain.AuditEvent // keyed by event_id
}

// NewAuditStore creates a new in-memory audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{
		events: make(map[string]*domain.AuditEvent),
	}
}

// Compile-time interface check.
var _ storage.AuditStore = (*AuditStore)(nil)

// Append adds an event. Returns ErrDuplicateKey if event_id exists.
func (s *AuditStore) Append(_ context.Context, e *domain.AuditEvent) error {
	if e == nil || e.EventID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[e.EventID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *e
	s.events[e.EventID] = &copy
	return nil
}

// GetByReference returns events for a reference ordered by OccurredAt ASC.
func (s *AuditStore) GetByReference(_ context.Context, reference string) ([]*domain.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.AuditEvent
	for _, e := range s.events {
		if e.TransactionReference == reference {
			copy := *e
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].OccurredAt.Equal(result[j].OccurredAt) {
			return result[i].EventID < result[j].EventID
		}
		return result[i].OccurredAt.Before(result[j].OccurredAt)
	})
	return result, nil
}
