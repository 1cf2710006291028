package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeeState is the per-vault fee accounting state. SharePriceWatermark is the
// highest share price ever settled; performance fees are charged only above
// it, so recovered losses are never charged twice.
type FeeState struct {
	Vault               string          `gorm:"primaryKey" json:"vault"`
	ManagementFeeBps    int64           `json:"management_fee_bps"`
	PerformanceFeeBps   int64           `json:"performance_fee_bps"`
	HurdleRateBps       int64           `json:"hurdle_rate_bps"`
	IsHardHurdle        bool            `json:"is_hard_hurdle"`
	SharePriceWatermark decimal.Decimal `gorm:"type:text" json:"share_price_watermark"`

	LastChargedManagement  time.Time `json:"last_charged_management"`
	LastChargedPerformance time.Time `json:"last_charged_performance"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// NotifyCharged records a completed fee charge. The watermark only ever
// ratchets up: a settled price below the current watermark leaves it intact.
func (f *FeeState) NotifyCharged(now time.Time, settledSharePrice decimal.Decimal) {
	f.LastChargedManagement = now
	f.LastChargedPerformance = now
	if settledSharePrice.GreaterThan(f.SharePriceWatermark) {
		f.SharePriceWatermark = settledSharePrice
	}
	f.UpdatedAt = now
}
