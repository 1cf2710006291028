package domain

import "github.com/shopspring/decimal"

// VaultType distinguishes the two settlement flows.
type VaultType string

const (
	// VaultTypeInstitutional vaults settle custodially without yield
	// reconciliation: close, net, move assets, propose.
	VaultTypeInstitutional VaultType = "INSTITUTIONAL"
	// VaultTypeYield vaults hold external yield-bearing positions and settle
	// with depeg reconciliation, fee charging and profit distribution.
	VaultTypeYield VaultType = "YIELD"
)

// AdapterPosition is the virtual share balance an execution agent holds in an
// external yield-bearing venue on behalf of one (vault, asset) pair. It is
// mutated only through agent-mediated transfers; the core reads it.
type AdapterPosition struct {
	Vault   string          `gorm:"primaryKey" json:"vault"`
	Asset   string          `gorm:"primaryKey" json:"asset"`
	Account string          `gorm:"index" json:"account"`
	Shares  decimal.Decimal `gorm:"type:text" json:"shares"`
}

// SettlementConfig is the per-vault profit routing configuration resolved
// from the registry: where insurance and treasury cuts go and how large
// their targets are, in basis points.
type SettlementConfig struct {
	Treasury     string
	Insurance    string
	TreasuryBps  int64
	InsuranceBps int64
}

// ProfitDistribution is the outcome of a profit cascade, in share units.
// The three legs never sum to more than the total profit shares; whatever is
// left stays with the ledger as implicit capital.
type ProfitDistribution struct {
	InsuranceShares    decimal.Decimal
	TreasuryShares     decimal.Decimal
	VaultAdapterShares decimal.Decimal
}

// Total is the sum of all distributed legs.
func (d ProfitDistribution) Total() decimal.Decimal {
	return d.InsuranceShares.Add(d.TreasuryShares).Add(d.VaultAdapterShares)
}
