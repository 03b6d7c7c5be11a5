package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricingPhase is a time-boxed pricing and allocation window.
// Phases are configured at startup and are immutable afterwards.
type PricingPhase struct {
	ID            string
	Rate          decimal.Decimal // whole tokens per 1 SOL
	AllocationCap decimal.Decimal // whole tokens available in this phase
	StartTime     time.Time       // inclusive
	EndTime       time.Time       // exclusive
}

// Contains reports whether t falls within [StartTime, EndTime).
func (p PricingPhase) Contains(t time.Time) bool {
	return !t.Before(p.StartTime) && t.Before(p.EndTime)
}

// PricePerToken returns the price of one whole token in SOL.
func (p PricingPhase) PricePerToken() decimal.Decimal {
	if p.Rate.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(1).DivRound(p.Rate, NativeDecimals)
}
