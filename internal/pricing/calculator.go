package pricing

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/woofai-token/Woofaiserver/internal/domain"
	"github.com/woofai-token/Woofaiserver/internal/ledger"
)

// ErrQuantityOverflow indicates a token quantity that does not fit in uint64.
var ErrQuantityOverflow = fmt.Errorf("%w: token quantity overflows", domain.ErrMalformedClaim)

var maxUint64 = decimal.NewFromUint64(math.MaxUint64)

// MintSource provides mint decimals.
type MintSource interface {
	Mint(ctx context.Context) (*ledger.MintInfo, error)
}

// StatsSource provides per-phase allocation totals.
type StatsSource interface {
	Stats(ctx context.Context, phaseID string) (*domain.PhaseStats, error)
}

// Quote is the token amount owed for a validated purchase.
type Quote struct {
	PhaseID     string
	TokenAmount uint64 // smallest units
	Decimals    uint8
	PhaseCap    uint64 // phase allocation in smallest units
}

// Calculator prices validated purchases against the schedule.
type Calculator struct {
	schedule *Schedule
	mint     MintSource
	stats    StatsSource
}

// NewCalculator creates a calculator.
func NewCalculator(schedule *Schedule, mint MintSource, stats StatsSource) *Calculator {
	return &Calculator{schedule: schedule, mint: mint, stats: stats}
}

// Schedule returns the phase schedule.
func (c *Calculator) Schedule() *Schedule {
	return c.schedule
}

// Compute selects the phase active at now, converts the ledger-confirmed
// lamports into token units, and pre-checks the phase allocation. The store
// repeats the allocation check atomically when reserving.
func (c *Calculator) Compute(ctx context.Context, purchase *domain.ValidatedPurchase, now time.Time) (*Quote, error) {
	phase, ok := c.schedule.Active(now)
	if !ok {
		return nil, fmt.Errorf("%w at %s", domain.ErrPresaleInactive, now.UTC().Format(time.RFC3339))
	}

	mint, err := c.mint.Mint(ctx)
	if err != nil {
		return nil, fmt.Errorf("load mint: %w", err)
	}

	amount, err := TokenQuantity(purchase.NativeLamports, phase.Rate, mint.Decimals)
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, fmt.Errorf("%w: payment of %d lamports buys less than one token unit", domain.ErrMalformedClaim, purchase.NativeLamports)
	}

	phaseCap, err := CapUnits(phase.AllocationCap, mint.Decimals)
	if err != nil {
		return nil, fmt.Errorf("phase %s cap: %w", phase.ID, err)
	}

	stats, err := c.stats.Stats(ctx, phase.ID)
	if err != nil {
		return nil, fmt.Errorf("load phase stats: %w", err)
	}
	if amount > phaseCap || stats.TokensAllocated > phaseCap-amount {
		return nil, fmt.Errorf("%w: phase %s has %d of %d units allocated, requested %d",
			domain.ErrAllocationExhausted, phase.ID, stats.TokensAllocated, phaseCap, amount)
	}

	return &Quote{
		PhaseID:     phase.ID,
		TokenAmount: amount,
		Decimals:    mint.Decimals,
		PhaseCap:    phaseCap,
	}, nil
}

// TokenQuantity returns floor(lamports * rate * 10^decimals / 10^9).
func TokenQuantity(lamports uint64, rate decimal.Decimal, decimals uint8) (uint64, error) {
	q := decimal.NewFromUint64(lamports).
		Mul(rate).
		Shift(int32(decimals) - domain.NativeDecimals).
		Floor()
	if q.IsNegative() {
		return 0, fmt.Errorf("%w: negative quantity", domain.ErrMalformedClaim)
	}
	if q.GreaterThan(maxUint64) {
		return 0, ErrQuantityOverflow
	}
	return q.BigInt().Uint64(), nil
}

// CapUnits converts a whole-token cap into smallest units.
func CapUnits(allocation decimal.Decimal, decimals uint8) (uint64, error) {
	units := allocation.Shift(int32(decimals)).Floor()
	if units.IsNegative() {
		return 0, fmt.Errorf("negative allocation")
	}
	if units.GreaterThan(maxUint64) {
		return 0, fmt.Errorf("allocation %s exceeds the uint64 unit range", allocation)
	}
	return units.BigInt().Uint64(), nil
}

// UnitsToTokens converts smallest units into whole tokens.
func UnitsToTokens(units uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromUint64(units).Shift(-int32(decimals))
}
