package dispatch

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPricingCalculator_Estimate(t *testing.T) {
	calc := PricingCalculator{
		BaseFare:     decimal.NewFromInt(2),
		PricePerCell: decimal.NewFromFloat(0.5),
		MinFare:      decimal.NewFromInt(3),
		TimePerCell:  20 * time.Second,
	}

	cases := []struct {
		name     string
		distance int
		wantFare string
		wantETA  time.Duration
	}{
		{"zero distance floors at min fare", 0, "3", 0},
		{"short ride below min fare floors", 1, "3", 20 * time.Second},
		{"longer ride exceeds min fare", 10, "7", 200 * time.Second},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			est := calc.Estimate(tc.distance)
			if !est.Price.Equal(decimal.RequireFromString(tc.wantFare)) {
				t.Errorf("price = %s, want %s", est.Price, tc.wantFare)
			}
			if est.ETA != tc.wantETA {
				t.Errorf("eta = %v, want %v", est.ETA, tc.wantETA)
			}
		})
	}
}

func TestNewPricingCalculator(t *testing.T) {
	calc := NewPricingCalculator("2", "0.5", "3", 20*time.Second)
	est := calc.Estimate(10)
	if !est.Price.Equal(decimal.RequireFromString("7")) {
		t.Errorf("price = %s, want 7", est.Price)
	}
}
