package dispatch

import (
	"time"

	"github.com/shopspring/decimal"
)

// FareEstimate is the result of a fare calculation: the quoted price and an
// estimated trip duration.
type FareEstimate struct {
	Price decimal.Decimal
	ETA   time.Duration
}

// PricingCalculator computes the fare and ETA for a ride at creation time,
// following original_source's calculate_price_and_eta: base fare plus a
// per-cell rate, floored at a minimum fare, with duration scaled linearly
// by distance. Cancellation never adjusts price (see SPEC_FULL.md OQ2).
type PricingCalculator struct {
	BaseFare     decimal.Decimal
	PricePerCell decimal.Decimal
	MinFare      decimal.Decimal
	TimePerCell  time.Duration
}

// NewPricingCalculator builds a calculator from the configured constants.
func NewPricingCalculator(baseFare, pricePerCell, minFare string, timePerCell time.Duration) PricingCalculator {
	return PricingCalculator{
		BaseFare:     decimal.RequireFromString(baseFare),
		PricePerCell: decimal.RequireFromString(pricePerCell),
		MinFare:      decimal.RequireFromString(minFare),
		TimePerCell:  timePerCell,
	}
}

// Estimate computes price and ETA for a ride spanning the given Manhattan
// distance in grid cells.
func (c PricingCalculator) Estimate(distanceCells int) FareEstimate {
	dist := decimal.NewFromInt(int64(distanceCells))
	price := c.BaseFare.Add(c.PricePerCell.Mul(dist))
	if price.LessThan(c.MinFare) {
		price = c.MinFare
	}
	return FareEstimate{
		Price: price,
		ETA:   c.TimePerCell * time.Duration(distanceCells),
	}
}
