package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Batch is the accumulation period for mint/redeem requests against one
// (vault, asset) pair. A batch is closed exactly once and settled exactly
// once; the two flags act as the ordering mutex for the whole lifecycle.
//
// Deposited is in asset units; Requested is in pending share units and is
// converted to asset units at the current share price during settlement.
type Batch struct {
	Asset           string          `gorm:"primaryKey" json:"asset"`
	Vault           string          `gorm:"primaryKey" json:"vault"`
	ID              uint64          `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Deposited       decimal.Decimal `gorm:"type:text" json:"deposited"`
	Requested       decimal.Decimal `gorm:"type:text" json:"requested"`
	IsClosed        bool            `json:"is_closed"`
	IsSettled       bool            `json:"is_settled"`
	GrossSharePrice decimal.Decimal `gorm:"type:text" json:"gross_share_price"`
	NetSharePrice   decimal.Decimal `gorm:"type:text" json:"net_share_price"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewBatch creates an open batch with id for a (vault, asset) pair.
func NewBatch(vault, asset string, id uint64) *Batch {
	return &Batch{
		Asset:           asset,
		Vault:           vault,
		ID:              id,
		Deposited:       decimal.Zero,
		Requested:       decimal.Zero,
		GrossSharePrice: decimal.Zero,
		NetSharePrice:   decimal.Zero,
		CreatedAt:       time.Now(),
	}
}

// NettedAssets is deposited minus requested, with requested already converted
// to asset units by the caller. Exact decimal arithmetic, no fractional loss.
func (b *Batch) NettedAssets(requestedAssets decimal.Decimal) decimal.Decimal {
	return b.Deposited.Sub(requestedAssets)
}

// RecordDeposit accumulates a mint request. Only valid while the batch is open.
func (b *Batch) RecordDeposit(assets decimal.Decimal) error {
	if b.IsClosed {
		return NewStateError("record deposit", ErrBatchClosed)
	}
	if assets.Sign() <= 0 {
		return NewInvariantError("assets", "deposit must be positive")
	}
	b.Deposited = b.Deposited.Add(assets)
	return nil
}

// RecordRedeemRequest accumulates a redemption request in share units.
func (b *Batch) RecordRedeemRequest(shares decimal.Decimal) error {
	if b.IsClosed {
		return NewStateError("record redeem", ErrBatchClosed)
	}
	if shares.Sign() <= 0 {
		return NewInvariantError("shares", "redeem request must be positive")
	}
	b.Requested = b.Requested.Add(shares)
	return nil
}

// Close transitions the batch OPEN -> CLOSED. Re-closing fails.
func (b *Batch) Close() error {
	if b.IsClosed {
		return NewStateError("close batch", ErrBatchClosed)
	}
	if b.IsSettled {
		return NewStateError("close batch", ErrBatchSettled)
	}
	b.IsClosed = true
	b.UpdatedAt = time.Now()
	return nil
}

// Reopen transitions the batch CLOSED -> OPEN again. Used to compensate a
// close whose settlement failed downstream, so pending requests are never
// stranded in a closed batch. A settled batch cannot be reopened.
func (b *Batch) Reopen() error {
	if b.IsSettled {
		return NewStateError("reopen batch", ErrBatchSettled)
	}
	if !b.IsClosed {
		return NewStateError("reopen batch", ErrBatchNotClosed)
	}
	b.IsClosed = false
	b.UpdatedAt = time.Now()
	return nil
}

// MarkSettled transitions the batch CLOSED -> SETTLED and records the final
// share prices. Settling an open or already-settled batch fails.
func (b *Batch) MarkSettled(grossPrice, netPrice decimal.Decimal) error {
	if !b.IsClosed {
		return NewStateError("settle batch", ErrBatchNotClosed)
	}
	if b.IsSettled {
		return NewStateError("settle batch", ErrBatchSettled)
	}
	b.IsSettled = true
	b.GrossSharePrice = grossPrice
	b.NetSharePrice = netPrice
	b.UpdatedAt = time.Now()
	return nil
}
