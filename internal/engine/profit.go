package engine

import (
	"settle_go/internal/domain"

	"github.com/shopspring/decimal"
)

// ProfitInput describes a surplus to cascade. Profit is only ever non-zero
// when the external position holds more economic value than the mint/redeem
// ledger expects.
type ProfitInput struct {
	ProfitAssets   decimal.Decimal // strictly positive, asset units
	ProfitShareBps int64           // caller-chosen vault adapter cut, 0..10000

	Config            domain.SettlementConfig
	LedgerTotalAssets decimal.Decimal // insurance target base
	InsuranceAssets   decimal.Decimal // current asset value of the insurance account
	TotalSupply       decimal.Decimal // vault supply; zero skips the adapter leg
	VaultSettlement   bool            // adapter leg applies to vault settlements only
}

// DistributeProfit cascades profit shares through insurance, treasury and the
// settling vault adapter. Whatever remains after the three legs stays with
// the ledger as implicit capital; no transfer is emitted for it.
//
// All legs are expressed in whole share units; the initial conversion rounds
// up so the cascade never undershoots the profit it was asked to distribute.
func DistributeProfit(pos domain.YieldPosition, in ProfitInput) (domain.ProfitDistribution, error) {
	var dist domain.ProfitDistribution

	if in.ProfitShareBps < 0 || in.ProfitShareBps > 10000 {
		return dist, domain.NewInvariantError("profitShareBps", "must be between 0 and 10000")
	}
	if in.ProfitAssets.Sign() <= 0 {
		return dist, domain.NewInvariantError("profit", "distribution requires a positive profit")
	}
	if in.Config.InsuranceBps > 0 && in.Config.Insurance == "" {
		return dist, domain.NewInvariantError("insurance", "insurance account required when insuranceBps > 0")
	}
	if in.Config.TreasuryBps > 0 && in.Config.Treasury == "" {
		return dist, domain.NewInvariantError("treasury", "treasury account required when treasuryBps > 0")
	}

	totalShares, err := CeilingShares(pos, in.ProfitAssets)
	if err != nil {
		return dist, err
	}
	remaining := totalShares

	dist.InsuranceShares = decimal.Zero
	dist.TreasuryShares = decimal.Zero
	dist.VaultAdapterShares = decimal.Zero

	// Insurance absorbs first, capped by its deficit against the target.
	if in.Config.InsuranceBps > 0 {
		target := in.LedgerTotalAssets.
			Mul(decimal.NewFromInt(in.Config.InsuranceBps)).
			Div(bpsDenominator)
		deficit := target.Sub(in.InsuranceAssets)
		if deficit.Sign() > 0 {
			deficitShares, err := CeilingShares(pos, deficit)
			if err != nil {
				return dist, err
			}
			dist.InsuranceShares = decimal.Min(remaining, deficitShares)
			remaining = remaining.Sub(dist.InsuranceShares)
		}
	}

	if in.Config.TreasuryBps > 0 && remaining.Sign() > 0 {
		dist.TreasuryShares = remaining.
			Mul(decimal.NewFromInt(in.Config.TreasuryBps)).
			Div(bpsDenominator).
			Floor()
		remaining = remaining.Sub(dist.TreasuryShares)
	}

	// The vault adapter leg is skipped at zero supply to avoid inflating the
	// share price before any holder exists.
	if in.VaultSettlement && in.ProfitShareBps > 0 && !in.TotalSupply.IsZero() && remaining.Sign() > 0 {
		dist.VaultAdapterShares = remaining.
			Mul(decimal.NewFromInt(in.ProfitShareBps)).
			Div(bpsDenominator).
			Floor()
	}

	return dist, nil
}
