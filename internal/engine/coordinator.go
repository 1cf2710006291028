package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"settle_go/internal/agent"
	"settle_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Coordinator drives the per-asset batch lifecycle:
// OPEN -> CLOSED -> PROPOSED -> SETTLED, with PROPOSED -> CANCELLED as the
// alternate terminal state. It composes the pure helpers (netting, fees,
// profit) and talks to the external collaborators through narrow interfaces.
//
// All operations run under a single writer lock and inside an executor
// transaction: any failure in a chain of external calls unwinds every change
// made within the operation.
type Coordinator struct {
	vaults    domain.VaultLedger
	ledger    domain.SettlementLedger
	registry  domain.Registry
	positions domain.PositionSource
	fees      domain.FeeSource
	exec      agent.Executor

	cooldown time.Duration
	log      *slog.Logger
	now      func() time.Time

	mu sync.Mutex
}

// Deps wires the coordinator's collaborators.
type Deps struct {
	Vaults    domain.VaultLedger
	Ledger    domain.SettlementLedger
	Registry  domain.Registry
	Positions domain.PositionSource
	Fees      domain.FeeSource
	Executor  agent.Executor
	Cooldown  time.Duration
	Logger    *slog.Logger
	Now       func() time.Time // defaults to time.Now
}

// NewCoordinator creates a settlement coordinator.
func NewCoordinator(d Deps) *Coordinator {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Coordinator{
		vaults:    d.Vaults,
		ledger:    d.Ledger,
		registry:  d.Registry,
		positions: d.Positions,
		fees:      d.Fees,
		exec:      d.Executor,
		cooldown:  d.Cooldown,
		log:       d.Logger,
		now:       d.Now,
	}
}

// SettleResult reports the outcome of a settlement run. Proposed is false
// when the batch netted to zero and no proposal was submitted; the empty
// ProposalID is then deliberately distinguishable from a real id.
type SettleResult struct {
	Proposed    bool
	ProposalID  string
	BatchID     uint64
	Netted      decimal.Decimal
	Yield       decimal.Decimal
	TotalAssets decimal.Decimal
	Fees        FeeQuote
}

// CloseBatch closes the current batch for (vaultType, asset) without settling
// it, leaving it current for a later finalize call. Relayer capability required.
func (c *Coordinator) CloseBatch(ctx context.Context, auth domain.AuthContext, vaultType domain.VaultType, asset string) (*domain.Batch, error) {
	if err := auth.Require(domain.RoleRelayer); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	vault, err := c.registry.VaultByType(vaultType, asset)
	if err != nil {
		return nil, err
	}

	var batch *domain.Batch
	err = c.exec.Transact(ctx, func(ctx context.Context) error {
		batch, err = c.vaults.CloseBatch(vault, asset, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.log.Info("batch closed", slog.String("asset", asset), slog.String("vault", vault), slog.Uint64("batch", batch.ID))
	return batch, nil
}

// SettleInstitutional runs the combined synchronous institutional flow:
// close, net, execute the deposit/redeem flow on the external position,
// propose with totalAssets read directly from the position.
func (c *Coordinator) SettleInstitutional(ctx context.Context, auth domain.AuthContext, asset string) (*SettleResult, error) {
	if err := auth.Require(domain.RoleRelayer); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	vault, err := c.registry.VaultByType(domain.VaultTypeInstitutional, asset)
	if err != nil {
		return nil, err
	}

	var res *SettleResult
	err = c.exec.Transact(ctx, func(ctx context.Context) error {
		batch, err := c.vaults.CloseBatch(vault, asset, true)
		if err != nil {
			return err
		}
		res, err = c.settleClosedInstitutional(ctx, vault, asset, batch)
		if err != nil {
			return c.reopenOnFailure(vault, asset, batch.ID, err)
		}
		return nil
	})
	return res, err
}

// reopenOnFailure compensates a CloseBatch whose settlement failed before a
// proposal was recorded. Batch state is written through to storage, so the
// venue-book rollback alone would leave the batch stranded closed with its
// requests unreachable. The original error stays the reported one.
func (c *Coordinator) reopenOnFailure(vault, asset string, id uint64, cause error) error {
	if err := c.vaults.ReopenBatch(vault, asset, id); err != nil {
		c.log.Error("batch reopen failed after settlement error",
			slog.String("vault", vault),
			slog.String("asset", asset),
			slog.Uint64("batch", id),
			slog.String("error", err.Error()))
	}
	return cause
}

// FinalizeCustodial settles a previously closed institutional batch. This is
// the split variant of the flow: close first (CloseBatch), move custody out
// of band, then finalize with the post-transfer balance assertion.
func (c *Coordinator) FinalizeCustodial(ctx context.Context, auth domain.AuthContext, asset string) (*SettleResult, error) {
	if err := auth.Require(domain.RoleRelayer); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	vault, err := c.registry.VaultByType(domain.VaultTypeInstitutional, asset)
	if err != nil {
		return nil, err
	}

	var res *SettleResult
	err = c.exec.Transact(ctx, func(ctx context.Context) error {
		batch, err := c.vaults.CurrentBatch(vault, asset)
		if err != nil {
			return err
		}
		if !batch.IsClosed {
			return domain.NewStateError("finalize custodial", domain.ErrBatchNotClosed)
		}
		if batch.IsSettled {
			return domain.NewStateError("finalize custodial", domain.ErrBatchSettled)
		}
		res, err = c.settleClosedInstitutional(ctx, vault, asset, batch)
		return err
	})
	return res, err
}

func (c *Coordinator) settleClosedInstitutional(ctx context.Context, vault, asset string, batch *domain.Batch) (*SettleResult, error) {
	adapter, err := c.registry.Adapter(vault, asset)
	if err != nil {
		return nil, err
	}
	pos, err := c.positions.Position(asset)
	if err != nil {
		return nil, err
	}

	// Read state once, before any externally-observable call, and thread the
	// values forward instead of re-reading.
	prevAssets, err := pos.TotalAssets(ctx, adapter)
	if err != nil {
		return nil, err
	}
	requestedAssets, err := pos.ConvertToAssets(batch.Requested)
	if err != nil {
		return nil, err
	}
	netted := Net(batch.Deposited, requestedAssets)

	if netted.IsZero() {
		c.log.Info("institutional settlement netted to zero, no proposal",
			slog.String("asset", asset), slog.Uint64("batch", batch.ID))
		return &SettleResult{
			Proposed:    false,
			BatchID:     batch.ID,
			Netted:      decimal.Zero,
			TotalAssets: prevAssets,
		}, nil
	}

	transfer, err := NettingTransfer(batch, pos, netted)
	if err != nil {
		return nil, err
	}

	var cmds []agent.Command
	var expectedMin decimal.Decimal
	if transfer.Direction == IntoPosition {
		cmds = []agent.Command{agent.Deposit(asset, adapter, netted)}
		expectedMin = prevAssets.Add(netted)
	} else {
		cmds = agent.Redeem(asset, adapter, transfer.Shares)
		redeemed, err := pos.ConvertToAssets(transfer.Shares)
		if err != nil {
			return nil, err
		}
		expectedMin = prevAssets.Sub(redeemed)
	}
	if _, err := c.exec.Execute(ctx, cmds); err != nil {
		return nil, err
	}

	// Custodial safety assertion: the only post-transfer re-read in the flow.
	totalAssets, err := pos.TotalAssets(ctx, adapter)
	if err != nil {
		return nil, err
	}
	if totalAssets.LessThan(expectedMin) {
		return nil, &domain.ShortfallError{Account: adapter, Expected: expectedMin, Actual: totalAssets}
	}

	now := c.now()
	proposal := &domain.SettlementProposal{
		Asset:        asset,
		Vault:        vault,
		BatchID:      batch.ID,
		TotalAssets:  totalAssets,
		Netted:       netted,
		Yield:        decimal.Zero,
		ExecuteAfter: now.Add(c.cooldown),
		Status:       domain.ProposalPending,
	}
	id, err := c.ledger.Propose(ctx, proposal)
	if err != nil {
		return nil, err
	}

	c.log.Info("institutional settlement proposed",
		slog.String("asset", asset),
		slog.Uint64("batch", batch.ID),
		slog.String("proposal", id),
		slog.String("netted", netted.String()),
		slog.String("total_assets", totalAssets.String()))

	return &SettleResult{
		Proposed:    true,
		ProposalID:  id,
		BatchID:     batch.ID,
		Netted:      netted,
		TotalAssets: totalAssets,
	}, nil
}

// SettleVault runs the yield-bearing vault flow: close, reconcile the depeg
// (loss recovery or profit cascade), charge fees, recompute netting against
// the now-current position and propose carrying both fee timestamps.
func (c *Coordinator) SettleVault(ctx context.Context, auth domain.AuthContext, asset string, profitShareBps int64) (*SettleResult, error) {
	if err := auth.Require(domain.RoleRelayer); err != nil {
		return nil, err
	}
	if profitShareBps < 0 || profitShareBps > 10000 {
		return nil, domain.NewInvariantError("profitShareBps", "must be between 0 and 10000")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	vault, err := c.registry.VaultByType(domain.VaultTypeYield, asset)
	if err != nil {
		return nil, err
	}

	var res *SettleResult
	err = c.exec.Transact(ctx, func(ctx context.Context) error {
		batch, err := c.vaults.CloseBatch(vault, asset, true)
		if err != nil {
			return err
		}
		res, err = c.settleClosedVault(ctx, vault, asset, batch, profitShareBps)
		if err != nil {
			return c.reopenOnFailure(vault, asset, batch.ID, err)
		}
		return nil
	})
	return res, err
}

func (c *Coordinator) settleClosedVault(ctx context.Context, vault, asset string, batch *domain.Batch, profitShareBps int64) (*SettleResult, error) {
	adapter, err := c.registry.Adapter(vault, asset)
	if err != nil {
		return nil, err
	}
	ledgerAcct, err := c.registry.LedgerAdapter(asset)
	if err != nil {
		return nil, err
	}
	cfg, err := c.registry.SettlementConfig(vault)
	if err != nil {
		return nil, err
	}
	treasury, err := c.registry.Treasury()
	if err != nil {
		return nil, err
	}
	pos, err := c.positions.Position(asset)
	if err != nil {
		return nil, err
	}

	// Ledger view, read once up front and threaded forward.
	expected, err := c.vaults.ExpectedAssets(vault, asset)
	if err != nil {
		return nil, err
	}
	supply, err := c.vaults.TotalSupply(vault)
	if err != nil {
		return nil, err
	}
	decimals, err := c.vaults.Decimals(vault)
	if err != nil {
		return nil, err
	}

	actual, err := pos.TotalAssets(ctx, ledgerAcct)
	if err != nil {
		return nil, err
	}

	// depeg = expected - actual: positive is a shortfall the vault adapter
	// restores, negative is surplus profit to cascade.
	depeg := expected.Sub(actual)
	yield := depeg.Neg()

	switch {
	case depeg.Sign() > 0:
		// Loss recovery runs before any fee computation.
		shares, err := CeilingShares(pos, depeg)
		if err != nil {
			return nil, err
		}
		if _, err := c.exec.Execute(ctx, []agent.Command{
			agent.TransferShares(asset, adapter, ledgerAcct, shares),
		}); err != nil {
			return nil, err
		}
		c.log.Info("loss recovered from vault adapter",
			slog.String("asset", asset), slog.String("shares", shares.String()))

	case depeg.Sign() < 0:
		profit := depeg.Neg()
		insuranceAssets := decimal.Zero
		if cfg.Insurance != "" {
			insuranceAssets, err = pos.TotalAssets(ctx, cfg.Insurance)
			if err != nil {
				return nil, err
			}
		}
		dist, err := DistributeProfit(pos, ProfitInput{
			ProfitAssets:      profit,
			ProfitShareBps:    profitShareBps,
			Config:            cfg,
			LedgerTotalAssets: expected,
			InsuranceAssets:   insuranceAssets,
			TotalSupply:       supply,
			VaultSettlement:   true,
		})
		if err != nil {
			return nil, err
		}

		var cmds []agent.Command
		if dist.InsuranceShares.Sign() > 0 {
			cmds = append(cmds, agent.TransferShares(asset, ledgerAcct, cfg.Insurance, dist.InsuranceShares))
		}
		if dist.TreasuryShares.Sign() > 0 {
			cmds = append(cmds, agent.TransferShares(asset, ledgerAcct, cfg.Treasury, dist.TreasuryShares))
		}
		if dist.VaultAdapterShares.Sign() > 0 {
			cmds = append(cmds, agent.TransferShares(asset, ledgerAcct, adapter, dist.VaultAdapterShares))
		}
		if len(cmds) > 0 {
			if _, err := c.exec.Execute(ctx, cmds); err != nil {
				return nil, err
			}
		}
		c.log.Info("profit cascaded",
			slog.String("asset", asset),
			slog.String("profit", profit.String()),
			slog.String("insurance_shares", dist.InsuranceShares.String()),
			slog.String("treasury_shares", dist.TreasuryShares.String()),
			slog.String("adapter_shares", dist.VaultAdapterShares.String()))
	}

	// Fees are charged on the reconciled position, only when time has passed
	// since the last charge and only while there are holders.
	now := c.now()
	fs, err := c.fees.FeeState(vault)
	if err != nil {
		return nil, err
	}
	var quote FeeQuote
	lastMgmt := fs.LastChargedManagement
	lastPerf := fs.LastChargedPerformance
	if !supply.IsZero() && now.After(fs.LastChargedManagement) {
		assetsAfter, err := pos.TotalAssets(ctx, ledgerAcct)
		if err != nil {
			return nil, err
		}
		quote = CalculateFees(FeeInput{
			TotalAssets:            assetsAfter,
			TotalSupply:            supply,
			Watermark:              fs.SharePriceWatermark,
			Decimals:               decimals,
			ManagementFeeBps:       fs.ManagementFeeBps,
			PerformanceFeeBps:      fs.PerformanceFeeBps,
			HurdleRateBps:          fs.HurdleRateBps,
			IsHardHurdle:           fs.IsHardHurdle,
			LastChargedManagement:  fs.LastChargedManagement,
			LastChargedPerformance: fs.LastChargedPerformance,
			Now:                    now,
		})
		if quote.Total.Sign() > 0 {
			feeShares, err := CeilingShares(pos, quote.Total)
			if err != nil {
				return nil, err
			}
			if _, err := c.exec.Execute(ctx, []agent.Command{
				agent.TransferShares(asset, ledgerAcct, treasury, feeShares),
			}); err != nil {
				return nil, err
			}
		}
		grossPrice := assetsAfter.Mul(decimal.New(1, decimals)).Div(supply)
		if err := c.fees.NotifyCharged(vault, now, grossPrice); err != nil {
			return nil, err
		}
		lastMgmt = now
		lastPerf = now
	}

	// Final netting against the now-current position.
	requestedAssets, err := pos.ConvertToAssets(batch.Requested)
	if err != nil {
		return nil, err
	}
	netted := Net(batch.Deposited, requestedAssets)
	transfer, err := NettingTransfer(batch, pos, netted)
	if err != nil {
		return nil, err
	}
	if transfer != nil {
		// Deposits net into the vault adapter's position, redemptions out.
		from, to := ledgerAcct, adapter
		if transfer.Direction == OutOfPosition {
			from, to = adapter, ledgerAcct
		}
		if _, err := c.exec.Execute(ctx, []agent.Command{
			agent.TransferShares(asset, from, to, transfer.Shares),
		}); err != nil {
			return nil, err
		}
	}

	// Always read, never derive.
	newTotalAssets, err := pos.TotalAssets(ctx, ledgerAcct)
	if err != nil {
		return nil, err
	}

	proposal := &domain.SettlementProposal{
		Asset:                      asset,
		Vault:                      vault,
		BatchID:                    batch.ID,
		TotalAssets:                newTotalAssets,
		Netted:                     netted,
		Yield:                      yield,
		ExecuteAfter:               now.Add(c.cooldown),
		LastFeesChargedManagement:  lastMgmt,
		LastFeesChargedPerformance: lastPerf,
		Status:                     domain.ProposalPending,
	}
	id, err := c.ledger.Propose(ctx, proposal)
	if err != nil {
		return nil, err
	}

	c.log.Info("vault settlement proposed",
		slog.String("asset", asset),
		slog.Uint64("batch", batch.ID),
		slog.String("proposal", id),
		slog.String("netted", netted.String()),
		slog.String("yield", yield.String()),
		slog.String("fees", quote.Total.String()),
		slog.String("total_assets", newTotalAssets.String()))

	return &SettleResult{
		Proposed:    true,
		ProposalID:  id,
		BatchID:     batch.ID,
		Netted:      netted,
		Yield:       yield,
		TotalAssets: newTotalAssets,
		Fees:        quote,
	}, nil
}

// ExecuteProposal drives execution of an accepted proposal through the
// settlement ledger. The ledger enforces the cooldown gate.
func (c *Coordinator) ExecuteProposal(ctx context.Context, auth domain.AuthContext, id string) error {
	if err := auth.Require(domain.RoleRelayer); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.exec.Transact(ctx, func(ctx context.Context) error {
		if err := c.ledger.Execute(ctx, id); err != nil {
			return err
		}
		c.log.Info("proposal executed", slog.String("proposal", id))
		return nil
	})
}

// AcceptProposal records the optional guardian approval.
func (c *Coordinator) AcceptProposal(ctx context.Context, auth domain.AuthContext, id string) error {
	if err := auth.Require(domain.RoleGuardian); err != nil {
		return err
	}
	return c.ledger.Accept(ctx, id)
}

// CancelProposal cancels a pending proposal; allowed any time before
// execution, never after.
func (c *Coordinator) CancelProposal(ctx context.Context, auth domain.AuthContext, id string) error {
	if err := auth.Require(domain.RoleGuardian); err != nil {
		return err
	}
	return c.ledger.Cancel(ctx, id)
}

// ProposalNetNegative reports whether a proposal nets out of the position.
func (c *Coordinator) ProposalNetNegative(ctx context.Context, id string) (bool, error) {
	p, err := c.ledger.Proposal(ctx, id)
	if err != nil {
		return false, err
	}
	return p.IsNetNegative(), nil
}

// QuoteFees computes the fees that would accrue if the vault settled now.
func (c *Coordinator) QuoteFees(ctx context.Context, asset string) (FeeQuote, error) {
	vault, err := c.registry.VaultByType(domain.VaultTypeYield, asset)
	if err != nil {
		return FeeQuote{}, err
	}
	ledgerAcct, err := c.registry.LedgerAdapter(asset)
	if err != nil {
		return FeeQuote{}, err
	}
	pos, err := c.positions.Position(asset)
	if err != nil {
		return FeeQuote{}, err
	}
	fs, err := c.fees.FeeState(vault)
	if err != nil {
		return FeeQuote{}, err
	}
	supply, err := c.vaults.TotalSupply(vault)
	if err != nil {
		return FeeQuote{}, err
	}
	decimals, err := c.vaults.Decimals(vault)
	if err != nil {
		return FeeQuote{}, err
	}
	totalAssets, err := pos.TotalAssets(ctx, ledgerAcct)
	if err != nil {
		return FeeQuote{}, err
	}

	return CalculateFees(FeeInput{
		TotalAssets:            totalAssets,
		TotalSupply:            supply,
		Watermark:              fs.SharePriceWatermark,
		Decimals:               decimals,
		ManagementFeeBps:       fs.ManagementFeeBps,
		PerformanceFeeBps:      fs.PerformanceFeeBps,
		HurdleRateBps:          fs.HurdleRateBps,
		IsHardHurdle:           fs.IsHardHurdle,
		LastChargedManagement:  fs.LastChargedManagement,
		LastChargedPerformance: fs.LastChargedPerformance,
		Now:                    c.now(),
	}), nil
}
