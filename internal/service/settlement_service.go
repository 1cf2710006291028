package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"settle_go/internal/domain"
	"settle_go/internal/engine"
	"settle_go/internal/infra"
)

// ProfitShareSource resolves the configured vault adapter profit cut.
type ProfitShareSource interface {
	VaultByType(t domain.VaultType, asset string) (string, error)
	ProfitShareBps(vault string) (int64, error)
}

// ProposalSource reads proposals and lists the ones whose cooldown elapsed.
type ProposalSource interface {
	Proposal(ctx context.Context, id string) (*domain.SettlementProposal, error)
	Matured(ctx context.Context) ([]string, error)
}

// TransferLog reads the journaled venue transfers.
type TransferLog interface {
	TransfersForAsset(asset string) ([]domain.TransferRecord, error)
}

// SettlementService is the application-facing settlement API: it resolves
// actors to capabilities, dispatches to the coordinator and records metrics.
type SettlementService struct {
	coord     *engine.Coordinator
	shares    ProfitShareSource
	proposals ProposalSource
	transfers TransferLog
	metrics   *infra.Metrics
	log       *slog.Logger

	mu    sync.RWMutex
	roles map[string]map[domain.Role]bool // actor -> granted roles
}

// NewSettlementService creates the service with an initial role book.
func NewSettlementService(coord *engine.Coordinator, shares ProfitShareSource, proposals ProposalSource, transfers TransferLog, metrics *infra.Metrics, log *slog.Logger) *SettlementService {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	if log == nil {
		log = slog.Default()
	}
	return &SettlementService{
		coord:     coord,
		shares:    shares,
		proposals: proposals,
		transfers: transfers,
		metrics:   metrics,
		log:       log,
		roles:     make(map[string]map[domain.Role]bool),
	}
}

// Seed grants roles to an actor without admin checks. Used at bootstrap for
// configured actors only.
func (s *SettlementService) Seed(actor string, roles ...domain.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grantLocked(actor, roles...)
}

func (s *SettlementService) grantLocked(actor string, roles ...domain.Role) {
	m, ok := s.roles[actor]
	if !ok {
		m = make(map[domain.Role]bool)
		s.roles[actor] = m
	}
	for _, r := range roles {
		m[r] = true
	}
}

// GrantRole grants a capability to an actor. Admin only.
func (s *SettlementService) GrantRole(auth domain.AuthContext, actor string, role domain.Role) error {
	if err := auth.Require(domain.RoleAdmin); err != nil {
		return err
	}
	switch role {
	case domain.RoleRelayer, domain.RoleGuardian, domain.RoleAdmin:
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grantLocked(actor, role)
	s.log.Info("role granted", slog.String("actor", actor), slog.String("role", string(role)), slog.String("by", auth.Actor))
	return nil
}

// AuthFor builds the auth context for an actor from the role book.
func (s *SettlementService) AuthFor(actor string) domain.AuthContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var roles []domain.Role
	for r := range s.roles[actor] {
		roles = append(roles, r)
	}
	return domain.NewAuthContext(actor, roles...)
}

// SettleAsset settles every vault serving the asset: the institutional flow
// first, then the yield flow with the configured profit share.
func (s *SettlementService) SettleAsset(ctx context.Context, auth domain.AuthContext, asset string) ([]*engine.SettleResult, error) {
	var results []*engine.SettleResult

	if _, err := s.shares.VaultByType(domain.VaultTypeInstitutional, asset); err == nil {
		res, err := s.SettleInstitutional(ctx, auth, asset)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	if vault, err := s.shares.VaultByType(domain.VaultTypeYield, asset); err == nil {
		bps, err := s.shares.ProfitShareBps(vault)
		if err != nil {
			return results, err
		}
		res, err := s.SettleVault(ctx, auth, asset, bps)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no vault serves asset %s", asset)
	}
	return results, nil
}

// SettleInstitutional runs the combined institutional flow.
func (s *SettlementService) SettleInstitutional(ctx context.Context, auth domain.AuthContext, asset string) (*engine.SettleResult, error) {
	start := time.Now()
	res, err := s.coord.SettleInstitutional(ctx, auth, asset)
	if err != nil {
		s.metrics.RecordError()
		return nil, err
	}
	s.metrics.RecordBatchClosed()
	s.metrics.RecordSettlement(time.Since(start).Nanoseconds(), res.Proposed)
	return res, nil
}

// SettleVault runs the yield vault flow with an explicit profit share.
func (s *SettlementService) SettleVault(ctx context.Context, auth domain.AuthContext, asset string, profitShareBps int64) (*engine.SettleResult, error) {
	start := time.Now()
	res, err := s.coord.SettleVault(ctx, auth, asset, profitShareBps)
	if err != nil {
		s.metrics.RecordError()
		return nil, err
	}
	s.metrics.RecordBatchClosed()
	s.metrics.RecordSettlement(time.Since(start).Nanoseconds(), res.Proposed)
	return res, nil
}

// CloseBatch closes the current batch without settling it.
func (s *SettlementService) CloseBatch(ctx context.Context, auth domain.AuthContext, vaultType domain.VaultType, asset string) (*domain.Batch, error) {
	batch, err := s.coord.CloseBatch(ctx, auth, vaultType, asset)
	if err != nil {
		s.metrics.RecordError()
		return nil, err
	}
	s.metrics.RecordBatchClosed()
	return batch, nil
}

// FinalizeCustodial settles a previously closed institutional batch.
func (s *SettlementService) FinalizeCustodial(ctx context.Context, auth domain.AuthContext, asset string) (*engine.SettleResult, error) {
	start := time.Now()
	res, err := s.coord.FinalizeCustodial(ctx, auth, asset)
	if err != nil {
		s.metrics.RecordError()
		return nil, err
	}
	s.metrics.RecordSettlement(time.Since(start).Nanoseconds(), res.Proposed)
	return res, nil
}

// ExecuteProposal executes one matured proposal.
func (s *SettlementService) ExecuteProposal(ctx context.Context, auth domain.AuthContext, id string) error {
	if err := s.coord.ExecuteProposal(ctx, auth, id); err != nil {
		s.metrics.RecordError()
		return err
	}
	s.metrics.RecordProposalExecuted()
	return nil
}

// ExecuteMatured executes every pending proposal past its cooldown. Failures
// on one proposal do not block the rest.
func (s *SettlementService) ExecuteMatured(ctx context.Context, auth domain.AuthContext) (int, error) {
	ids, err := s.proposals.Matured(ctx)
	if err != nil {
		return 0, err
	}
	executed := 0
	for _, id := range ids {
		if err := s.ExecuteProposal(ctx, auth, id); err != nil {
			s.log.Warn("matured proposal execution failed", slog.String("proposal", id), slog.Any("error", err))
			continue
		}
		executed++
	}
	return executed, nil
}

// Proposal returns a proposal by id.
func (s *SettlementService) Proposal(ctx context.Context, id string) (*domain.SettlementProposal, error) {
	return s.proposals.Proposal(ctx, id)
}

// ProposalNetNegative reports whether the proposal nets assets out of the
// external position.
func (s *SettlementService) ProposalNetNegative(ctx context.Context, id string) (bool, error) {
	return s.coord.ProposalNetNegative(ctx, id)
}

// Transfers lists the journaled venue transfers for an asset.
func (s *SettlementService) Transfers(asset string) ([]domain.TransferRecord, error) {
	if s.transfers == nil {
		return nil, nil
	}
	return s.transfers.TransfersForAsset(asset)
}

// AcceptProposal records the guardian approval.
func (s *SettlementService) AcceptProposal(ctx context.Context, auth domain.AuthContext, id string) error {
	return s.coord.AcceptProposal(ctx, auth, id)
}

// CancelProposal cancels a pending proposal.
func (s *SettlementService) CancelProposal(ctx context.Context, auth domain.AuthContext, id string) error {
	if err := s.coord.CancelProposal(ctx, auth, id); err != nil {
		return err
	}
	s.metrics.RecordProposalCancelled()
	return nil
}

// QuoteFees returns the fees that would accrue if the asset's yield vault
// settled now.
func (s *SettlementService) QuoteFees(ctx context.Context, asset string) (engine.FeeQuote, error) {
	return s.coord.QuoteFees(ctx, asset)
}
