package engine

import (
	"context"
	"fmt"
	"time"

	"settle_go/internal/agent"
	"settle_go/internal/domain"

	"github.com/shopspring/decimal"
)

// fakePosition is a venue position with a fixed share price. Conversions
// truncate to whole units, like the real venue.
type fakePosition struct {
	price  decimal.Decimal
	shares map[string]decimal.Decimal
}

func newFakePosition(price decimal.Decimal) *fakePosition {
	return &fakePosition{price: price, shares: make(map[string]decimal.Decimal)}
}

func (p *fakePosition) balance(account string) decimal.Decimal {
	if s, ok := p.shares[account]; ok {
		return s
	}
	return decimal.Zero
}

func (p *fakePosition) TotalAssets(_ context.Context, account string) (decimal.Decimal, error) {
	return p.ConvertToAssets(p.balance(account))
}

func (p *fakePosition) SharesOf(_ context.Context, account string) (decimal.Decimal, error) {
	return p.balance(account), nil
}

func (p *fakePosition) ConvertToShares(assets decimal.Decimal) (decimal.Decimal, error) {
	if p.price.IsZero() {
		return decimal.Zero, fmt.Errorf("zero share price")
	}
	return assets.Div(p.price).Floor(), nil
}

func (p *fakePosition) ConvertToAssets(shares decimal.Decimal) (decimal.Decimal, error) {
	return shares.Mul(p.price).Floor(), nil
}

// fakeExecutor applies commands directly to a fakePosition and supports
// snapshot/rollback for Transact.
type fakeExecutor struct {
	pos     *fakePosition
	pending map[string]decimal.Decimal
	// dropDeposits makes deposits vanish, to provoke shortfall checks.
	dropDeposits bool
}

func newFakeExecutor(pos *fakePosition) *fakeExecutor {
	return &fakeExecutor{pos: pos, pending: make(map[string]decimal.Decimal)}
}

func (e *fakeExecutor) Execute(_ context.Context, cmds []agent.Command) ([]agent.Result, error) {
	results := make([]agent.Result, 0, len(cmds))
	for i, cmd := range cmds {
		switch cmd.Op {
		case agent.OpTransferShares:
			from := e.pos.balance(cmd.Account)
			if from.LessThan(cmd.Shares) {
				return nil, fmt.Errorf("insufficient shares on %s", cmd.Account)
			}
			e.pos.shares[cmd.Account] = from.Sub(cmd.Shares)
			e.pos.shares[cmd.To] = e.pos.balance(cmd.To).Add(cmd.Shares)
			results = append(results, agent.Result{Index: i, Output: cmd.Shares})
		case agent.OpDeposit:
			if e.dropDeposits {
				results = append(results, agent.Result{Index: i})
				continue
			}
			minted := cmd.Assets.Div(e.pos.price).Ceil()
			e.pos.shares[cmd.Account] = e.pos.balance(cmd.Account).Add(minted)
			results = append(results, agent.Result{Index: i, Output: minted})
		case agent.OpRequestRedeem:
			if e.pos.balance(cmd.Account).LessThan(cmd.Shares) {
				return nil, fmt.Errorf("insufficient shares to redeem on %s", cmd.Account)
			}
			e.pending[cmd.Account] = cmd.Shares
			results = append(results, agent.Result{Index: i, Output: cmd.Shares})
		case agent.OpExecuteRedeem:
			if !e.pending[cmd.Account].Equal(cmd.Shares) {
				return nil, fmt.Errorf("redeem not requested for %s", cmd.Account)
			}
			delete(e.pending, cmd.Account)
			e.pos.shares[cmd.Account] = e.pos.balance(cmd.Account).Sub(cmd.Shares)
			results = append(results, agent.Result{Index: i, Output: cmd.Shares})
		default:
			return nil, fmt.Errorf("unknown op %v", cmd.Op)
		}
	}
	return results, nil
}

func (e *fakeExecutor) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	snapshot := make(map[string]decimal.Decimal, len(e.pos.shares))
	for k, v := range e.pos.shares {
		snapshot[k] = v
	}
	if err := fn(ctx); err != nil {
		e.pos.shares = snapshot
		return err
	}
	return nil
}

// fakeVaults is an in-memory vault ledger.
type fakeVaults struct {
	batches  map[string]*domain.Batch // key vault|asset
	closed   map[string]*domain.Batch // key vault|asset, latest closed unsettled batch
	nextID   map[string]uint64
	supply   map[string]decimal.Decimal
	decimals map[string]int32
	expected map[string]decimal.Decimal
}

func newFakeVaults() *fakeVaults {
	return &fakeVaults{
		batches:  make(map[string]*domain.Batch),
		closed:   make(map[string]*domain.Batch),
		nextID:   make(map[string]uint64),
		supply:   make(map[string]decimal.Decimal),
		decimals: make(map[string]int32),
		expected: make(map[string]decimal.Decimal),
	}
}

func key(vault, asset string) string { return vault + "|" + asset }

func (v *fakeVaults) seed(vault, asset string, batch *domain.Batch) {
	v.batches[key(vault, asset)] = batch
	v.nextID[key(vault, asset)] = batch.ID + 1
}

func (v *fakeVaults) CurrentBatch(vault, asset string) (*domain.Batch, error) {
	b, ok := v.batches[key(vault, asset)]
	if !ok {
		return nil, fmt.Errorf("no batch for %s/%s", vault, asset)
	}
	return b, nil
}

func (v *fakeVaults) CloseBatch(vault, asset string, createNext bool) (*domain.Batch, error) {
	b, err := v.CurrentBatch(vault, asset)
	if err != nil {
		return nil, err
	}
	if err := b.Close(); err != nil {
		return nil, err
	}
	if createNext {
		v.closed[key(vault, asset)] = b
		next := domain.NewBatch(vault, asset, v.nextID[key(vault, asset)])
		v.nextID[key(vault, asset)]++
		v.batches[key(vault, asset)] = next
	}
	return b, nil
}

func (v *fakeVaults) ReopenBatch(vault, asset string, id uint64) error {
	b, ok := v.closed[key(vault, asset)]
	if !ok || b.ID != id {
		return fmt.Errorf("no closed batch %d for %s/%s", id, vault, asset)
	}
	if err := b.Reopen(); err != nil {
		return err
	}
	if live, ok := v.batches[key(vault, asset)]; ok && live.ID == id+1 {
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
		v.nextID[key(vault, asset)] = live.ID
	}
	delete(v.closed, key(vault, asset))
	v.batches[key(vault, asset)] = b
	return nil
}

func (v *fakeVaults) TotalSupply(vault string) (decimal.Decimal, error) {
	return v.supply[vault], nil
}

func (v *fakeVaults) Decimals(vault string) (int32, error) {
	return v.decimals[vault], nil
}

func (v *fakeVaults) ExpectedAssets(vault, asset string) (decimal.Decimal, error) {
	return v.expected[key(vault, asset)], nil
}

func (v *fakeVaults) ApplySettlement(p *domain.SettlementProposal) error {
	v.expected[key(p.Vault, p.Asset)] = p.TotalAssets
	return nil
}

// fakeRegistry resolves fixed accounts.
type fakeRegistry struct {
	institutional string
	yield         string
	adapters      map[string]string // vault -> adapter account
	ledgerAcct    string
	treasury      string
	config        domain.SettlementConfig
}

func (r *fakeRegistry) Adapter(vault, _ string) (string, error) {
	a, ok := r.adapters[vault]
	if !ok {
		return "", fmt.Errorf("no adapter for %s", vault)
	}
	return a, nil
}

func (r *fakeRegistry) LedgerAdapter(_ string) (string, error) { return r.ledgerAcct, nil }

func (r *fakeRegistry) VaultByType(t domain.VaultType, _ string) (string, error) {
	if t == domain.VaultTypeYield {
		return r.yield, nil
	}
	return r.institutional, nil
}

func (r *fakeRegistry) VaultType(vault string) (domain.VaultType, error) {
	if vault == r.yield {
		return domain.VaultTypeYield, nil
	}
	return domain.VaultTypeInstitutional, nil
}

func (r *fakeRegistry) SettlementConfig(_ string) (domain.SettlementConfig, error) {
	return r.config, nil
}

func (r *fakeRegistry) Treasury() (string, error) { return r.treasury, nil }

// fakeLedger stores proposals in memory.
type fakeLedger struct {
	proposals map[string]*domain.SettlementProposal
	seq       int
	failNext  bool
	now       func() time.Time
}

func newFakeLedger(now func() time.Time) *fakeLedger {
	return &fakeLedger{proposals: make(map[string]*domain.SettlementProposal), now: now}
}

func (l *fakeLedger) Propose(_ context.Context, p *domain.SettlementProposal) (string, error) {
	if l.failNext {
		l.failNext = false
		return "", fmt.Errorf("ledger unavailable")
	}
	l.seq++
	p.ID = fmt.Sprintf("prop-%d", l.seq)
	l.proposals[p.ID] = p
	return p.ID, nil
}

func (l *fakeLedger) Execute(_ context.Context, id string) error {
	p, ok := l.proposals[id]
	if !ok {
		return domain.ErrProposalNotFound
	}
	return p.MarkExecuted(l.now())
}

func (l *fakeLedger) Accept(_ context.Context, id string) error {
	p, ok := l.proposals[id]
	if !ok {
		return domain.ErrProposalNotFound
	}
	return p.MarkAccepted()
}

func (l *fakeLedger) Cancel(_ context.Context, id string) error {
	p, ok := l.proposals[id]
	if !ok {
		return domain.ErrProposalNotFound
	}
	return p.MarkCancelled()
}

func (l *fakeLedger) Proposal(_ context.Context, id string) (*domain.SettlementProposal, error) {
	p, ok := l.proposals[id]
	if !ok {
		return nil, domain.ErrProposalNotFound
	}
	return p, nil
}

// fakeFees is an in-memory fee source.
type fakeFees struct {
	states map[string]*domain.FeeState
}

func (f *fakeFees) FeeState(vault string) (*domain.FeeState, error) {
	fs, ok := f.states[vault]
	if !ok {
		return nil, fmt.Errorf("no fee state for %s", vault)
	}
	return fs, nil
}

func (f *fakeFees) NotifyCharged(vault string, now time.Time, price decimal.Decimal) error {
	fs, err := f.FeeState(vault)
	if err != nil {
		return err
	}
	fs.NotifyCharged(now, price)
	return nil
}
