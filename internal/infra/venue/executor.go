package venue

import (
	"context"
	"fmt"
	"sync"

	"settle_go/internal/agent"

	"github.com/shopspring/decimal"
)

// Executor applies agent command batches to the venue book. A batch applies
// all-or-nothing; Transact extends the same guarantee over a whole function.
type Executor struct {
	venue *Venue
	mu    sync.Mutex // serializes Transact sections
}

// NewExecutor creates an executor over the venue.
func NewExecutor(v *Venue) *Executor {
	return &Executor{venue: v}
}

// Execute applies a command batch atomically: it validates and stages every
// command against a copy of the touched books and commits only a fully
// successful batch.
func (e *Executor) Execute(_ context.Context, cmds []agent.Command) ([]agent.Result, error) {
	e.venue.mu.Lock()
	defer e.venue.mu.Unlock()

	staged := make(map[string]*book, 1)
	stage := func(asset string) (*book, error) {
		if b, ok := staged[asset]; ok {
			return b, nil
		}
		orig, err := e.venue.book(asset)
		if err != nil {
			return nil, err
		}
		staged[asset] = orig.clone()
		return staged[asset], nil
	}

	results := make([]agent.Result, 0, len(cmds))
	for i, cmd := range cmds {
		b, err := stage(cmd.Asset)
		if err != nil {
			return nil, err
		}
		out, err := b.apply(cmd)
		if err != nil {
			return nil, fmt.Errorf("command %d (%s): %w", i, cmd.Op, err)
		}
		results = append(results, agent.Result{Index: i, Output: out})
	}

	for asset, b := range staged {
		e.venue.books[asset] = b
	}
	return results, nil
}

// Transact runs fn all-or-nothing against the venue: every book change made
// inside fn is rolled back when fn returns an error.
func (e *Executor) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.venue.mu.Lock()
	snapshot := make(map[string]*book, len(e.venue.books))
	for asset, b := range e.venue.books {
		snapshot[asset] = b.clone()
	}
	e.venue.mu.Unlock()

	if err := fn(ctx); err != nil {
		e.venue.mu.Lock()
		e.venue.books = snapshot
		e.venue.mu.Unlock()
		return err
	}
	return nil
}

func (b *book) clone() *book {
	c := &book{
		price:   b.price,
		shares:  make(map[string]decimal.Decimal, len(b.shares)),
		pending: make(map[string]decimal.Decimal, len(b.pending)),
	}
	for k, v := range b.shares {
		c.shares[k] = v
	}
	for k, v := range b.pending {
		c.pending[k] = v
	}
	return c
}

func (b *book) apply(cmd agent.Command) (decimal.Decimal, error) {
	switch cmd.Op {
	case agent.OpTransferShares:
		if cmd.Shares.Sign() < 0 {
			return decimal.Zero, fmt.Errorf("negative share amount")
		}
		from := b.balance(cmd.Account)
		if from.LessThan(cmd.Shares) {
			return decimal.Zero, fmt.Errorf("insufficient shares on %s", cmd.Account)
		}
		b.shares[cmd.Account] = from.Sub(cmd.Shares)
		b.shares[cmd.To] = b.balance(cmd.To).Add(cmd.Shares)
		return cmd.Shares, nil

	case agent.OpDeposit:
		if cmd.Assets.Sign() <= 0 {
			return decimal.Zero, fmt.Errorf("deposit must be positive")
		}
		// Mint rounds up so the deposited value is always covered.
		minted := cmd.Assets.Div(b.price).Ceil()
		b.shares[cmd.Account] = b.balance(cmd.Account).Add(minted)
		return minted, nil

	case agent.OpRequestRedeem:
		if b.balance(cmd.Account).LessThan(cmd.Shares) {
			return decimal.Zero, fmt.Errorf("insufficient shares to redeem on %s", cmd.Account)
		}
		b.pending[cmd.Account] = b.pending[cmd.Account].Add(cmd.Shares)
		return cmd.Shares, nil

	case agent.OpExecuteRedeem:
		if b.pending[cmd.Account].LessThan(cmd.Shares) {
			return decimal.Zero, fmt.Errorf("redeem not requested for %s", cmd.Account)
		}
		b.pending[cmd.Account] = b.pending[cmd.Account].Sub(cmd.Shares)
		b.shares[cmd.Account] = b.balance(cmd.Account).Sub(cmd.Shares)
		return cmd.Shares, nil

	default:
		return decimal.Zero, fmt.Errorf("unknown op %v", cmd.Op)
	}
}
