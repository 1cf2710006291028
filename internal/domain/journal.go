package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferRecord is one executed venue command, journaled for audit.
// Records are written only after the command batch committed; batches rolled
// back by a transaction leave no trace.
type TransferRecord struct {
	ID        string          `gorm:"primaryKey" json:"id"`
	Asset     string          `gorm:"index" json:"asset"`
	Op        string          `json:"op"`
	Account   string          `json:"account"`
	To        string          `json:"to,omitempty"`
	Shares    decimal.Decimal `gorm:"type:text" json:"shares"`
	Assets    decimal.Decimal `gorm:"type:text" json:"assets"`
	Output    decimal.Decimal `gorm:"type:text" json:"output"`
	CreatedAt time.Time       `json:"created_at"`
}
