// Package pricing selects the active presale phase and converts confirmed
// payments into token quantities.
package pricing

import (
	"fmt"
	"sort"
	"time"

	"github.com/woofai-token/Woofaiserver/internal/domain"
)

// Schedule is an ordered, non-overlapping set of pricing phases.
// It is immutable after construction.
type Schedule struct {
	phases []domain.PricingPhase
}

// NewSchedule validates and orders phases by start time.
func NewSchedule(phases []domain.PricingPhase) (*Schedule, error) {
	if len(phases) == 0 {
		return nil, fmt.Errorf("at least one pricing phase is required")
	}
	sorted := make([]domain.PricingPhase, len(phases))
	copy(sorted, phases)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartTime.Before(sorted[j].StartTime)
	})

	seen := make(map[string]struct{}, len(sorted))
	for i, p := range sorted {
		if p.ID == "" {
			return nil, fmt.Errorf("phase %d: id is required", i)
		}
		if _, ok := seen[p.ID]; ok {
			return nil, fmt.Errorf("phase %s: duplicate id", p.ID)
		}
		seen[p.ID] = struct{}{}
		if !p.Rate.IsPositive() {
			return nil, fmt.Errorf("phase %s: rate must be positive", p.ID)
		}
		if p.AllocationCap.IsNegative() {
			return nil, fmt.Errorf("phase %s: allocation cap must not be negative", p.ID)
		}
		if !p.EndTime.After(p.StartTime) {
			return nil, fmt.Errorf("phase %s: end must be after start", p.ID)
		}
		if i > 0 && p.StartTime.Before(sorted[i-1].EndTime) {
			return nil, fmt.Errorf("phase %s overlaps phase %s", p.ID, sorted[i-1].ID)
		}
	}
	return &Schedule{phases: sorted}, nil
}

// Active returns the phase whose [StartTime, EndTime) contains now.
func (s *Schedule) Active(now time.Time) (domain.PricingPhase, bool) {
	for _, p := range s.phases {
		if p.Contains(now) {
			return p, true
		}
	}
	return domain.PricingPhase{}, false
}

// Next returns the first phase starting after now.
func (s *Schedule) Next(now time.Time) (domain.PricingPhase, bool) {
	for _, p := range s.phases {
		if p.StartTime.After(now) {
			return p, true
		}
	}
	return domain.PricingPhase{}, false
}

// Get returns a phase by ID.
func (s *Schedule) Get(id string) (domain.PricingPhase, bool) {
	for _, p := range s.phases {
		if p.ID == id {
			return p, true
		}
	}
	return domain.PricingPhase{}, false
}

// Phases returns a copy of all phases in start order.
func (s *Schedule) Phases() []domain.PricingPhase {
	out := make([]domain.PricingPhase, len(s.phases))
	copy(out, s.phases)
	return out
}
