package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var feeEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func baseFeeInput() FeeInput {
	return FeeInput{
		TotalAssets:            decimal.NewFromInt(1_000_000),
		TotalSupply:            decimal.NewFromInt(1000),
		Watermark:              decimal.NewFromInt(1000), // lastTotalAssets = 1,000,000
		Decimals:               0,
		LastChargedManagement:  feeEpoch,
		LastChargedPerformance: feeEpoch,
		Now:                    feeEpoch.Add(secondsPerYear * time.Second),
	}
}

func TestCalculateFees_Management(t *testing.T) {
	t.Run("Full Year", func(t *testing.T) {
		in := baseFeeInput()
		in.ManagementFeeBps = 100 // 1% p.a.

		q := CalculateFees(in)
		if !q.Management.Equal(decimal.NewFromInt(10_000)) {
			t.Errorf("Expected 10000, got %v", q.Management)
		}
	})

	t.Run("Scales Linearly With Elapsed Seconds", func(t *testing.T) {
		in := baseFeeInput()
		in.ManagementFeeBps = 100
		in.Now = feeEpoch.Add(secondsPerYear / 2 * time.Second)

		q := CalculateFees(in)
		if !q.Management.Equal(decimal.NewFromInt(5_000)) {
			t.Errorf("Expected 5000 for half a year, got %v", q.Management)
		}
	})

	t.Run("Zero Elapsed Means Zero Fee", func(t *testing.T) {
		in := baseFeeInput()
		in.ManagementFeeBps = 100
		in.Now = feeEpoch

		q := CalculateFees(in)
		if !q.Management.IsZero() {
			t.Errorf("Expected zero, got %v", q.Management)
		}
	})
}

func TestCalculateFees_Performance(t *testing.T) {
	t.Run("Zero When Delta Below Watermark", func(t *testing.T) {
		in := baseFeeInput()
		in.TotalAssets = decimal.NewFromInt(900_000) // below watermark level
		in.PerformanceFeeBps = 2000

		q := CalculateFees(in)
		if !q.Performance.IsZero() {
			t.Errorf("Expected zero performance fee, got %v", q.Performance)
		}
	})

	t.Run("Zero When Delta Within Hurdle", func(t *testing.T) {
		in := baseFeeInput()
		in.TotalAssets = decimal.NewFromInt(1_040_000) // +4%
		in.PerformanceFeeBps = 2000
		in.HurdleRateBps = 500 // 5% hurdle return = 50,000

		q := CalculateFees(in)
		if !q.Performance.IsZero() {
			t.Errorf("Expected zero below hurdle, got %v", q.Performance)
		}
	})

	t.Run("Soft Hurdle Charges Full Delta", func(t *testing.T) {
		in := baseFeeInput()
		in.TotalAssets = decimal.NewFromInt(1_100_000) // +100,000
		in.PerformanceFeeBps = 2000                    // 20%
		in.HurdleRateBps = 500                         // hurdle return 50,000

		q := CalculateFees(in)
		if !q.Performance.Equal(decimal.NewFromInt(20_000)) {
			t.Errorf("Expected 20000, got %v", q.Performance)
		}
	})

	t.Run("Hard Hurdle Charges Excess Only", func(t *testing.T) {
		in := baseFeeInput()
		in.TotalAssets = decimal.NewFromInt(1_100_000)
		in.PerformanceFeeBps = 2000
		in.HurdleRateBps = 500
		in.IsHardHurdle = true

		q := CalculateFees(in)
		if !q.Performance.Equal(decimal.NewFromInt(10_000)) {
			t.Errorf("Expected 10000, got %v", q.Performance)
		}
	})

	t.Run("Management Fee Deducted Before Delta", func(t *testing.T) {
		in := baseFeeInput()
		in.TotalAssets = decimal.NewFromInt(1_010_000)
		in.ManagementFeeBps = 100 // 10,100 management on current assets
		in.PerformanceFeeBps = 2000

		q := CalculateFees(in)
		// working total 999,900 is back below the watermark level
		if !q.Performance.IsZero() {
			t.Errorf("Expected zero after management deduction, got %v", q.Performance)
		}
		if !q.Total.Equal(q.Management) {
			t.Errorf("Total should equal management, got %v", q.Total)
		}
	})
}

func TestCalculateFees_Pure(t *testing.T) {
	in := baseFeeInput()
	in.ManagementFeeBps = 100
	in.PerformanceFeeBps = 2000

	first := CalculateFees(in)
	second := CalculateFees(in)
	if !first.Total.Equal(second.Total) {
		t.Error("Repeated quotes must be identical")
	}
}
