package ledger

import (
	"context"
	"sync"
	"time"

	"settle_go/internal/domain"
	"settle_go/internal/infra/storage"

	"github.com/google/uuid"
)

// Settlement is the proposal ledger: it assigns ids, persists every state
// transition and drives the vault ledger when a proposal executes.
type Settlement struct {
	store  *storage.Storage
	vaults domain.VaultLedger
	now    func() time.Time

	mu sync.Mutex
}

// NewSettlement creates the settlement ledger. now defaults to time.Now.
func NewSettlement(store *storage.Storage, vaults domain.VaultLedger, now func() time.Time) *Settlement {
	if now == nil {
		now = time.Now
	}
	return &Settlement{store: store, vaults: vaults, now: now}
}

// Propose assigns an id, stamps timestamps and persists a pending proposal.
func (s *Settlement) Propose(_ context.Context, p *domain.SettlementProposal) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = uuid.NewString()
	p.Status = domain.ProposalPending
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt
	if err := s.store.SaveProposal(p); err != nil {
		return "", err
	}
	return p.ID, nil
}

// Execute transitions a pending proposal past its cooldown gate and applies
// the settlement to the vault ledger. The transition persists only after the
// ledger accepted it.
func (s *Settlement) Execute(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.load(id)
	if err != nil {
		return err
	}
	if err := p.MarkExecuted(s.now()); err != nil {
		return err
	}
	if err := s.vaults.ApplySettlement(p); err != nil {
		return err
	}
	return s.store.SaveProposal(p)
}

// Accept records the guardian approval on a pending proposal.
func (s *Settlement) Accept(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.load(id)
	if err != nil {
		return err
	}
	if err := p.MarkAccepted(); err != nil {
		return err
	}
	return s.store.SaveProposal(p)
}

// Cancel moves a pending proposal to its cancelled terminal state.
func (s *Settlement) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.load(id)
	if err != nil {
		return err
	}
	if err := p.MarkCancelled(); err != nil {
		return err
	}
	return s.store.SaveProposal(p)
}

// Proposal returns a proposal by id.
func (s *Settlement) Proposal(_ context.Context, id string) (*domain.SettlementProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(id)
}

// Matured returns the ids of pending proposals whose cooldown has elapsed.
func (s *Settlement) Matured(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, err := s.store.PendingProposals()
	if err != nil {
		return nil, err
	}
	now := s.now()
	var ids []string
	for _, p := range pending {
		if !now.Before(p.ExecuteAfter) {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

func (s *Settlement) load(id string) (*domain.SettlementProposal, error) {
	p, err := s.store.GetProposal(id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrProposalNotFound
	}
	return p, nil
}
