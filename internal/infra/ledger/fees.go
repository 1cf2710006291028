package ledger

import (
	"fmt"
	"sync"
	"time"

	"settle_go/internal/domain"
	"settle_go/internal/infra"
	"settle_go/internal/infra/storage"

	"github.com/shopspring/decimal"
)

// FeeBook holds per-vault fee state, seeded from configuration on first run
// and restored from storage afterwards. Charge notifications write through.
type FeeBook struct {
	store *storage.Storage

	mu     sync.Mutex
	states map[string]*domain.FeeState
}

// NewFeeBook builds the fee book for the configured vaults. A vault with no
// persisted state starts with a par watermark and the epoch set to now.
func NewFeeBook(store *storage.Storage, vaults []infra.VaultConfig, now time.Time) (*FeeBook, error) {
	f := &FeeBook{store: store, states: make(map[string]*domain.FeeState, len(vaults))}
	for _, vc := range vaults {
		fs, err := store.GetFeeState(vc.Name)
		if err != nil {
			return nil, fmt.Errorf("restore fee state for %s: %w", vc.Name, err)
		}
		if fs == nil {
			fs = &domain.FeeState{
				Vault:                  vc.Name,
				SharePriceWatermark:    decimal.New(1, vc.Decimals),
				LastChargedManagement:  now,
				LastChargedPerformance: now,
			}
		}
		// Rates always come from configuration, not from the snapshot.
		fs.ManagementFeeBps = vc.ManagementFeeBps
		fs.PerformanceFeeBps = vc.PerformanceFeeBps
		fs.HurdleRateBps = vc.HurdleRateBps
		fs.IsHardHurdle = vc.IsHardHurdle
		if err := store.SaveFeeState(fs); err != nil {
			return nil, err
		}
		f.states[vc.Name] = fs
	}
	return f, nil
}

// FeeState returns the live fee state for a vault.
func (f *FeeBook) FeeState(vault string) (*domain.FeeState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fs, ok := f.states[vault]
	if !ok {
		return nil, fmt.Errorf("no fee state for %s", vault)
	}
	return fs, nil
}

// NotifyCharged records a completed fee charge and persists the new state.
func (f *FeeBook) NotifyCharged(vault string, now time.Time, settledSharePrice decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fs, ok := f.states[vault]
	if !ok {
		return fmt.Errorf("no fee state for %s", vault)
	}
	fs.NotifyCharged(now, settledSharePrice)
	return f.store.SaveFeeState(fs)
}
