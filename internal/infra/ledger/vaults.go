package ledger

import (
	"fmt"
	"sync"

	"settle_go/internal/domain"
	"settle_go/internal/infra"
	"settle_go/internal/infra/storage"

	"github.com/shopspring/decimal"
)

// Vaults is the token ledger side of settlement: per-vault batches, supply
// and the expected asset total. State is held in memory and written through
// to storage on every mutation; on startup the current batch is restored.
type Vaults struct {
	store *storage.Storage

	mu       sync.Mutex
	batches  map[string]*domain.Batch
	supply   map[string]decimal.Decimal
	decimals map[string]int32
	expected map[string]decimal.Decimal
}

func pairKey(vault, asset string) string { return vault + "|" + asset }

// NewVaults builds the vault ledger from configuration, restoring any
// persisted batch state. Vaults without history start at batch 1.
func NewVaults(store *storage.Storage, vaults []infra.VaultConfig) (*Vaults, error) {
	v := &Vaults{
		store:    store,
		batches:  make(map[string]*domain.Batch),
		supply:   make(map[string]decimal.Decimal),
		decimals: make(map[string]int32),
		expected: make(map[string]decimal.Decimal),
	}
	for _, vc := range vaults {
		v.decimals[vc.Name] = vc.Decimals
		v.supply[vc.Name] = decimal.Zero
		v.expected[pairKey(vc.Name, vc.Asset)] = decimal.Zero

		batch, err := store.CurrentBatch(vc.Name, vc.Asset)
		if err != nil {
			return nil, fmt.Errorf("restore batch for %s/%s: %w", vc.Name, vc.Asset, err)
		}
		if batch == nil || batch.IsSettled {
			next := uint64(1)
			if batch != nil {
				next = batch.ID + 1
			}
			batch = domain.NewBatch(vc.Name, vc.Asset, next)
			if err := store.SaveBatch(batch); err != nil {
				return nil, err
			}
		}
		v.batches[pairKey(vc.Name, vc.Asset)] = batch
	}
	return v, nil
}

// CurrentBatch returns the live batch for a (vault, asset) pair.
func (v *Vaults) CurrentBatch(vault, asset string) (*domain.Batch, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.currentLocked(vault, asset)
}

func (v *Vaults) currentLocked(vault, asset string) (*domain.Batch, error) {
	b, ok := v.batches[pairKey(vault, asset)]
	if !ok {
		return nil, fmt.Errorf("no batch for %s/%s", vault, asset)
	}
	return b, nil
}

// CloseBatch closes the current batch, persists it and, when createNext is
// set, opens and persists the successor.
func (v *Vaults) CloseBatch(vault, asset string, createNext bool) (*domain.Batch, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	b, err := v.currentLocked(vault, asset)
	if err != nil {
		return nil, err
	}
	if err := b.Close(); err != nil {
		return nil, err
	}
	if err := v.store.SaveBatch(b); err != nil {
		return nil, err
	}
	if createNext {
		next := domain.NewBatch(vault, asset, b.ID+1)
		if err := v.store.SaveBatch(next); err != nil {
			return nil, err
		}
		v.batches[pairKey(vault, asset)] = next
	}
	return b, nil
}

// ReopenBatch undoes a CloseBatch whose settlement failed before a proposal
// was recorded. The closed batch becomes the live open batch again; requests
// that accumulated on the successor in the meantime fold back into it and
// the successor row is removed.
func (v *Vaults) ReopenBatch(vault, asset string, id uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	b, err := v.store.GetBatch(vault, asset, id)
	if err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("no batch %d for %s/%s", id, vault, asset)
	}
	if err := b.Reopen(); err != nil {
		return err
	}

	if live, ok := v.batches[pairKey(vault, asset)]; ok && live.ID == id+1 {
		if live.Deposited.Sign() > 0 {
			if err := b.RecordDeposit(live.Deposited); err != nil {
				return err
			}
		}
		if live.Requested.Sign() > 0 {
			if err := b.RecordRedeemRequest(live.Requested); err != nil {
				return err
			}
		}
		if err := v.store.DeleteBatch(vault, asset, live.ID); err != nil {
			return err
		}
	}
	if err := v.store.SaveBatch(b); err != nil {
		return err
	}
	v.batches[pairKey(vault, asset)] = b
	return nil
}

// RecordDeposit accumulates a mint request on the current batch.
func (v *Vaults) RecordDeposit(vault, asset string, assets decimal.Decimal) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	b, err := v.currentLocked(vault, asset)
	if err != nil {
		return err
	}
	if err := b.RecordDeposit(assets); err != nil {
		return err
	}
	return v.store.SaveBatch(b)
}

// RecordRedeemRequest accumulates a redemption request on the current batch.
func (v *Vaults) RecordRedeemRequest(vault, asset string, shares decimal.Decimal) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	b, err := v.currentLocked(vault, asset)
	if err != nil {
		return err
	}
	if err := b.RecordRedeemRequest(shares); err != nil {
		return err
	}
	return v.store.SaveBatch(b)
}

// TotalSupply returns the vault share supply.
func (v *Vaults) TotalSupply(vault string) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.supply[vault]
	if !ok {
		return decimal.Zero, fmt.Errorf("unknown vault %s", vault)
	}
	return s, nil
}

// Decimals returns the vault share decimals.
func (v *Vaults) Decimals(vault string) (int32, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	d, ok := v.decimals[vault]
	if !ok {
		return 0, fmt.Errorf("unknown vault %s", vault)
	}
	return d, nil
}

// ExpectedAssets returns the asset total the ledger believes the external
// position holds for a (vault, asset) pair.
func (v *Vaults) ExpectedAssets(vault, asset string) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.expected[pairKey(vault, asset)]
	if !ok {
		return decimal.Zero, fmt.Errorf("unknown pair %s/%s", vault, asset)
	}
	return e, nil
}

// ApplySettlement finalizes the batch a proposal refers to: derives the
// settlement share price from the proposal's total assets, mints shares for
// the batched deposits, burns the batched redemptions and resets the expected
// asset total to the proposed value.
func (v *Vaults) ApplySettlement(p *domain.SettlementProposal) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	batch, err := v.store.GetBatch(p.Vault, p.Asset, p.BatchID)
	if err != nil {
		return err
	}
	if batch == nil {
		return fmt.Errorf("no batch %d for %s/%s", p.BatchID, p.Vault, p.Asset)
	}
	// The live batch may be the one settling (split custodial flow).
	if live, ok := v.batches[pairKey(p.Vault, p.Asset)]; ok && live.ID == p.BatchID {
		batch = live
	}

	supply, ok := v.supply[p.Vault]
	if !ok {
		return fmt.Errorf("unknown vault %s", p.Vault)
	}
	scale := decimal.New(1, v.decimals[p.Vault])

	// New vaults settle at par until shares exist.
	price := scale
	if supply.Sign() > 0 {
		price = p.TotalAssets.Mul(scale).Div(supply)
	}
	if price.Sign() <= 0 {
		return domain.NewInvariantError("price", "settlement price must be positive")
	}

	minted := batch.Deposited.Mul(scale).Div(price).Floor()
	v.supply[p.Vault] = supply.Add(minted).Sub(batch.Requested)
	if v.supply[p.Vault].Sign() < 0 {
		return domain.NewInvariantError("supply", "settlement burns more shares than exist")
	}
	v.expected[pairKey(p.Vault, p.Asset)] = p.TotalAssets

	if err := batch.MarkSettled(price, price); err != nil {
		return err
	}
	if err := v.store.SaveBatch(batch); err != nil {
		return err
	}

	// A settled batch may not stay live; replace it when necessary.
	if live, ok := v.batches[pairKey(p.Vault, p.Asset)]; ok && live.ID == p.BatchID {
		next := domain.NewBatch(p.Vault, p.Asset, p.BatchID+1)
		if err := v.store.SaveBatch(next); err != nil {
			return err
		}
		v.batches[pairKey(p.Vault, p.Asset)] = next
	}
	return nil
}
