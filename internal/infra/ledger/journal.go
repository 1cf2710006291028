package ledger

import (
	"context"
	"sync"
	"time"

	"settle_go/internal/agent"
	"settle_go/internal/domain"
	"settle_go/internal/infra"
	"settle_go/internal/infra/storage"

	"github.com/google/uuid"
)

// adapterRef locates the (vault, asset) pair an adapter account serves.
type adapterRef struct {
	vault string
	asset string
}

// Journal decorates a venue executor with a persistent audit trail: every
// committed command gets a journal record and the adapter position snapshots
// it touched are refreshed. Records buffered inside a transaction are
// discarded when the transaction rolls back.
type Journal struct {
	store  *storage.Storage
	inner  agent.Executor
	source domain.PositionSource
	now    func() time.Time

	adapters map[string]adapterRef

	mu      sync.Mutex
	inTx    bool
	pending []domain.TransferRecord
	touched map[string]bool // adapter accounts awaiting a snapshot refresh
}

// NewJournal wraps inner with journaling. now defaults to time.Now.
func NewJournal(store *storage.Storage, inner agent.Executor, source domain.PositionSource, vaults []infra.VaultConfig, now func() time.Time) *Journal {
	if now == nil {
		now = time.Now
	}
	adapters := make(map[string]adapterRef, len(vaults))
	for _, vc := range vaults {
		adapters[vc.AdapterAccount] = adapterRef{vault: vc.Name, asset: vc.Asset}
	}
	return &Journal{
		store:    store,
		inner:    inner,
		source:   source,
		now:      now,
		adapters: adapters,
		touched:  make(map[string]bool),
	}
}

// Execute runs the batch on the venue and journals it once it committed.
func (j *Journal) Execute(ctx context.Context, cmds []agent.Command) ([]agent.Result, error) {
	results, err := j.inner.Execute(ctx, cmds)
	if err != nil {
		return nil, err
	}

	ts := j.now()
	records := make([]domain.TransferRecord, len(cmds))
	for i, cmd := range cmds {
		records[i] = domain.TransferRecord{
			ID:        uuid.NewString(),
			Asset:     cmd.Asset,
			Op:        cmd.Op.String(),
			Account:   cmd.Account,
			To:        cmd.To,
			Shares:    cmd.Shares,
			Assets:    cmd.Assets,
			Output:    results[i].Output,
			CreatedAt: ts,
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	for _, cmd := range cmds {
		j.markLocked(cmd.Account)
		j.markLocked(cmd.To)
	}
	if j.inTx {
		j.pending = append(j.pending, records...)
		return results, nil
	}
	if err := j.commitLocked(ctx, records); err != nil {
		return nil, err
	}
	return results, nil
}

// Transact delegates to the venue transaction and flushes the journal only
// when the whole unit commits.
func (j *Journal) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	j.mu.Lock()
	j.inTx = true
	j.pending = nil
	j.mu.Unlock()

	err := j.inner.Transact(ctx, fn)

	j.mu.Lock()
	defer j.mu.Unlock()
	j.inTx = false
	records := j.pending
	j.pending = nil
	if err != nil {
		j.touched = make(map[string]bool)
		return err
	}
	return j.commitLocked(ctx, records)
}

// TransfersForAsset lists the journaled transfers for one asset.
func (j *Journal) TransfersForAsset(asset string) ([]domain.TransferRecord, error) {
	return j.store.TransfersForAsset(asset)
}

func (j *Journal) markLocked(account string) {
	if _, ok := j.adapters[account]; ok {
		j.touched[account] = true
	}
}

func (j *Journal) commitLocked(ctx context.Context, records []domain.TransferRecord) error {
	if err := j.store.SaveTransfers(records); err != nil {
		return err
	}
	for account := range j.touched {
		ref := j.adapters[account]
		pos, err := j.source.Position(ref.asset)
		if err != nil {
			return err
		}
		shares, err := pos.SharesOf(ctx, account)
		if err != nil {
			return err
		}
		snapshot := &domain.AdapterPosition{
			Vault:   ref.vault,
			Asset:   ref.asset,
			Account: account,
			Shares:  shares,
		}
		if err := j.store.SavePosition(snapshot); err != nil {
			return err
		}
	}
	j.touched = make(map[string]bool)
	return nil
}
