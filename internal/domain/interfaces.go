package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// VaultLedger is the token ledger holding batches and token supply for each
// vault. The settlement core consumes it; minting and burning live behind it.
type VaultLedger interface {
	CurrentBatch(vault, asset string) (*Batch, error)
	// CloseBatch closes the current batch and, when createNext is set, opens
	// the successor. Returns the closed batch with its immutable id.
	CloseBatch(vault, asset string, createNext bool) (*Batch, error)
	// ReopenBatch compensates a CloseBatch whose settlement failed before a
	// proposal existed: the closed batch becomes the live open batch again
	// and any requests accumulated on the successor fold back into it.
	ReopenBatch(vault, asset string, id uint64) error
	TotalSupply(vault string) (decimal.Decimal, error)
	Decimals(vault string) (int32, error)
	// ExpectedAssets is the asset total the ledger believes the external
	// position holds; its divergence from the queried total is the depeg.
	ExpectedAssets(vault, asset string) (decimal.Decimal, error)
	// ApplySettlement is invoked by the settlement ledger when an accepted
	// proposal executes: marks the batch settled and adjusts the ledger view.
	ApplySettlement(p *SettlementProposal) error
}

// SettlementLedger owns the proposal cooldown/approval state machine:
// propose, optional guardian accept, cooldown-gated execute, cancel.
type SettlementLedger interface {
	Propose(ctx context.Context, p *SettlementProposal) (string, error)
	Execute(ctx context.Context, id string) error
	Accept(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
	Proposal(ctx context.Context, id string) (*SettlementProposal, error)
}

// Registry resolves accounts and configuration for the settlement flows.
type Registry interface {
	// Adapter is the venue account the agent operates for (vault, asset).
	Adapter(vault, asset string) (string, error)
	// LedgerAdapter is the venue account backing the mint/redeem ledger.
	LedgerAdapter(asset string) (string, error)
	VaultByType(t VaultType, asset string) (string, error)
	VaultType(vault string) (VaultType, error)
	SettlementConfig(vault string) (SettlementConfig, error)
	Treasury() (string, error)
}

// YieldPosition is the external yield-bearing venue position for one asset.
// Balances are read through it; mutations go through agent command batches.
type YieldPosition interface {
	TotalAssets(ctx context.Context, account string) (decimal.Decimal, error)
	SharesOf(ctx context.Context, account string) (decimal.Decimal, error)
	ConvertToShares(assets decimal.Decimal) (decimal.Decimal, error)
	ConvertToAssets(shares decimal.Decimal) (decimal.Decimal, error)
}

// PositionSource resolves the venue position serving an asset.
type PositionSource interface {
	Position(asset string) (YieldPosition, error)
}

// FeeSource provides per-vault fee state and receives charge notifications.
type FeeSource interface {
	FeeState(vault string) (*FeeState, error)
	NotifyCharged(vault string, now time.Time, settledSharePrice decimal.Decimal) error
}
