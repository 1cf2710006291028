package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

const secondsPerYear = 365 * 24 * 60 * 60

var (
	bpsDenominator  = decimal.NewFromInt(10000)
	yearDenominator = decimal.NewFromInt(secondsPerYear)
)

// FeeInput carries everything the fee calculation needs. It is assembled by
// the coordinator right before commit, or by callers requesting a quote.
type FeeInput struct {
	TotalAssets decimal.Decimal
	TotalSupply decimal.Decimal
	Watermark   decimal.Decimal // highest settled share price
	Decimals    int32           // vault share decimals

	ManagementFeeBps  int64
	PerformanceFeeBps int64
	HurdleRateBps     int64
	IsHardHurdle      bool

	LastChargedManagement  time.Time
	LastChargedPerformance time.Time
	Now                    time.Time
}

// FeeQuote is the result of a fee calculation, in asset units.
type FeeQuote struct {
	Management  decimal.Decimal
	Performance decimal.Decimal
	Total       decimal.Decimal
}

// CalculateFees computes accrued management and performance fees. Pure: no
// side effects, usable both as an external quote and internally before commit.
//
// Management accrues linearly over elapsed seconds on current total assets.
// Performance is charged only on the profit above both the watermark level
// and the hurdle return; a hard hurdle charges the excess only, a soft hurdle
// charges the full delta once the hurdle is cleared.
func CalculateFees(in FeeInput) FeeQuote {
	scale := decimal.New(1, in.Decimals)
	lastTotalAssets := in.TotalSupply.Mul(in.Watermark).Div(scale)

	elapsedMgmt := elapsedSeconds(in.LastChargedManagement, in.Now)
	management := in.TotalAssets.
		Mul(elapsedMgmt).
		Mul(decimal.NewFromInt(in.ManagementFeeBps)).
		Div(yearDenominator).
		Div(bpsDenominator)

	working := in.TotalAssets.Sub(management)

	performance := decimal.Zero
	delta := working.Sub(lastTotalAssets)
	if delta.Sign() > 0 {
		elapsedPerf := elapsedSeconds(in.LastChargedPerformance, in.Now)
		hurdleReturn := lastTotalAssets.
			Mul(decimal.NewFromInt(in.HurdleRateBps)).
			Mul(elapsedPerf).
			Div(yearDenominator).
			Div(bpsDenominator)

		if delta.GreaterThan(hurdleReturn) {
			base := delta
			if in.IsHardHurdle {
				base = delta.Sub(hurdleReturn)
			}
			performance = base.
				Mul(decimal.NewFromInt(in.PerformanceFeeBps)).
				Div(bpsDenominator)
		}
	}

	return FeeQuote{
		Management:  management,
		Performance: performance,
		Total:       management.Add(performance),
	}
}

func elapsedSeconds(since, now time.Time) decimal.Decimal {
	if since.IsZero() || !now.After(since) {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(now.Sub(since) / time.Second))
}
