package venue

import (
	"context"
	"fmt"
	"sync"

	"settle_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Venue is the in-process book of the external yield-bearing venue: per-asset
// share price and per-account share balances. The settlement core reads it
// through domain.YieldPosition; all mutations go through the Executor.
type Venue struct {
	mu    sync.RWMutex
	books map[string]*book
}

type book struct {
	price   decimal.Decimal // assets per share
	shares  map[string]decimal.Decimal
	pending map[string]decimal.Decimal // requested redeems awaiting execution
}

// New creates a venue serving the given assets, each starting at par.
func New(assets []string) *Venue {
	v := &Venue{books: make(map[string]*book, len(assets))}
	for _, a := range assets {
		v.books[a] = &book{
			price:   decimal.NewFromInt(1),
			shares:  make(map[string]decimal.Decimal),
			pending: make(map[string]decimal.Decimal),
		}
	}
	return v
}

func (v *Venue) book(asset string) (*book, error) {
	b, ok := v.books[asset]
	if !ok {
		return nil, fmt.Errorf("unknown venue asset %s", asset)
	}
	return b, nil
}

// SetPrice updates the share price for an asset. Fed by the price stream.
func (v *Venue) SetPrice(asset string, price decimal.Decimal) error {
	if price.Sign() <= 0 {
		return fmt.Errorf("share price must be positive")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	b, err := v.book(asset)
	if err != nil {
		return err
	}
	b.price = price
	return nil
}

// Credit adds shares to an account, bypassing the deposit protocol. Used for
// bootstrapping balances known from an external statement.
func (v *Venue) Credit(asset, account string, shares decimal.Decimal) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	b, err := v.book(asset)
	if err != nil {
		return err
	}
	b.shares[account] = b.balance(account).Add(shares)
	return nil
}

func (b *book) balance(account string) decimal.Decimal {
	if s, ok := b.shares[account]; ok {
		return s
	}
	return decimal.Zero
}

// Position returns the YieldPosition view for an asset.
func (v *Venue) Position(asset string) (domain.YieldPosition, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if _, err := v.book(asset); err != nil {
		return nil, err
	}
	return &Position{venue: v, asset: asset}, nil
}

// Position is the per-asset read view over the venue book.
type Position struct {
	venue *Venue
	asset string
}

// TotalAssets returns the asset value of an account's shares.
func (p *Position) TotalAssets(_ context.Context, account string) (decimal.Decimal, error) {
	p.venue.mu.RLock()
	defer p.venue.mu.RUnlock()
	b, err := p.venue.book(p.asset)
	if err != nil {
		return decimal.Zero, err
	}
	return b.balance(account).Mul(b.price).Floor(), nil
}

// SharesOf returns an account's share balance.
func (p *Position) SharesOf(_ context.Context, account string) (decimal.Decimal, error) {
	p.venue.mu.RLock()
	defer p.venue.mu.RUnlock()
	b, err := p.venue.book(p.asset)
	if err != nil {
		return decimal.Zero, err
	}
	return b.balance(account), nil
}

// ConvertToShares converts asset units to whole share units, rounding down.
func (p *Position) ConvertToShares(assets decimal.Decimal) (decimal.Decimal, error) {
	p.venue.mu.RLock()
	defer p.venue.mu.RUnlock()
	b, err := p.venue.book(p.asset)
	if err != nil {
		return decimal.Zero, err
	}
	if b.price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("share price not available for %s", p.asset)
	}
	return assets.Div(b.price).Floor(), nil
}

// ConvertToAssets converts share units to asset units, rounding down.
func (p *Position) ConvertToAssets(shares decimal.Decimal) (decimal.Decimal, error) {
	p.venue.mu.RLock()
	defer p.venue.mu.RUnlock()
	b, err := p.venue.book(p.asset)
	if err != nil {
		return decimal.Zero, err
	}
	return shares.Mul(b.price).Floor(), nil
}
