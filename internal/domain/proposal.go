package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Proposal lifecycle states. Executed and Cancelled are terminal.
const (
	ProposalPending   = "PENDING"
	ProposalExecuted  = "EXECUTED"
	ProposalCancelled = "CANCELLED"
)

// SettlementProposal is the cooldown-gated declaration of a batch's final
// accounting, consumed by the downstream ledger to adjust supply and share
// prices. TotalAssets is always a value read from the external position,
// never derived by addition.
type SettlementProposal struct {
	ID          string          `gorm:"primaryKey" json:"id"`
	Asset       string          `gorm:"index" json:"asset"`
	Vault       string          `gorm:"index" json:"vault"`
	BatchID     uint64          `json:"batch_id"`
	TotalAssets decimal.Decimal `gorm:"type:text" json:"total_assets"`
	Netted      decimal.Decimal `gorm:"type:text" json:"netted"` // signed
	Yield       decimal.Decimal `gorm:"type:text" json:"yield"`  // signed
	ExecuteAfter time.Time      `json:"execute_after"`

	LastFeesChargedManagement  time.Time `json:"last_fees_charged_management"`
	LastFeesChargedPerformance time.Time `json:"last_fees_charged_performance"`

	Accepted  bool      `json:"accepted"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsNetNegative reports whether the proposal nets out of the external
// position (more redeemed than deposited).
func (p *SettlementProposal) IsNetNegative() bool {
	return p.Netted.Sign() < 0
}

// CanExecute checks the cooldown gate and terminal states. Execution before
// the deadline fails deterministically; the relayer re-invokes later.
func (p *SettlementProposal) CanExecute(now time.Time) error {
	if p.Status != ProposalPending {
		return NewStateError("execute proposal", ErrProposalTerminal)
	}
	if now.Before(p.ExecuteAfter) {
		return ErrCooldownActive
	}
	return nil
}

// MarkAccepted records the optional guardian approval on a pending proposal.
func (p *SettlementProposal) MarkAccepted() error {
	if p.Status != ProposalPending {
		return NewStateError("accept proposal", ErrProposalTerminal)
	}
	p.Accepted = true
	p.UpdatedAt = time.Now()
	return nil
}

// MarkExecuted transitions the proposal to its executed terminal state.
func (p *SettlementProposal) MarkExecuted(now time.Time) error {
	if err := p.CanExecute(now); err != nil {
		return err
	}
	p.Status = ProposalExecuted
	p.UpdatedAt = time.Now()
	return nil
}

// MarkCancelled cancels a pending proposal. A proposal may be cancelled any
// time before execution, never after.
func (p *SettlementProposal) MarkCancelled() error {
	if p.Status != ProposalPending {
		return NewStateError("cancel proposal", ErrProposalTerminal)
	}
	p.Status = ProposalCancelled
	p.UpdatedAt = time.Now()
	return nil
}
