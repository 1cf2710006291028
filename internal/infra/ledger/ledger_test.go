package ledger

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"settle_go/internal/domain"
	"settle_go/internal/infra"
	"settle_go/internal/infra/storage"

	"github.com/shopspring/decimal"
)

func setupStore(t *testing.T) *storage.Storage {
	t.Helper()
	path := t.Name() + ".db"
	store, err := storage.NewStorage(path)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() {
		os.Remove(path)
	})
	return store
}

func testVaultConfig() []infra.VaultConfig {
	return []infra.VaultConfig{
		{Name: "vault-a", Type: "INSTITUTIONAL", Asset: "USDQ", AdapterAccount: "acct-a", Decimals: 0},
	}
}

func TestVaultsStartAtBatchOne(t *testing.T) {
	store := setupStore(t)
	v, err := NewVaults(store, testVaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	b, err := v.CurrentBatch("vault-a", "USDQ")
	if err != nil {
		t.Fatal(err)
	}
	if b.ID != 1 || b.IsClosed {
		t.Errorf("expected open batch 1, got %+v", b)
	}
}

func TestVaultsCloseBatch(t *testing.T) {
	store := setupStore(t)
	v, _ := NewVaults(store, testVaultConfig())

	if err := v.RecordDeposit("vault-a", "USDQ", decimal.NewFromInt(100)); err != nil {
		t.Fatal(err)
	}

	closed, err := v.CloseBatch("vault-a", "USDQ", true)
	if err != nil {
		t.Fatal(err)
	}
	if !closed.IsClosed || !closed.Deposited.Equal(decimal.NewFromInt(100)) {
		t.Errorf("unexpected closed batch: %+v", closed)
	}

	// successor opened
	current, _ := v.CurrentBatch("vault-a", "USDQ")
	if current.ID != 2 || current.IsClosed {
		t.Errorf("expected open batch 2, got %+v", current)
	}

	// deposits to a closed batch are impossible; the live batch takes them
	if err := v.RecordDeposit("vault-a", "USDQ", decimal.NewFromInt(5)); err != nil {
		t.Fatal(err)
	}
	if !current.Deposited.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected deposit on batch 2, got %v", current.Deposited)
	}
}

func TestVaultsReopenBatch(t *testing.T) {
	store := setupStore(t)
	v, _ := NewVaults(store, testVaultConfig())

	v.RecordDeposit("vault-a", "USDQ", decimal.NewFromInt(100))
	closed, err := v.CloseBatch("vault-a", "USDQ", true)
	if err != nil {
		t.Fatal(err)
	}

	// requests land on the successor before the reopen
	if err := v.RecordDeposit("vault-a", "USDQ", decimal.NewFromInt(7)); err != nil {
		t.Fatal(err)
	}

	if err := v.ReopenBatch("vault-a", "USDQ", closed.ID); err != nil {
		t.Fatal(err)
	}

	b, _ := v.CurrentBatch("vault-a", "USDQ")
	if b.ID != 1 || b.IsClosed {
		t.Fatalf("expected open batch 1, got %+v", b)
	}
	if !b.Deposited.Equal(decimal.NewFromInt(107)) {
		t.Errorf("expected successor deposits folded back, got %v", b.Deposited)
	}

	// the successor row is gone; a restart restores the reopened batch
	gone, err := store.GetBatch("vault-a", "USDQ", 2)
	if err != nil {
		t.Fatal(err)
	}
	if gone != nil {
		t.Errorf("expected successor deleted, got %+v", gone)
	}
	v2, err := NewVaults(store, testVaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	restored, _ := v2.CurrentBatch("vault-a", "USDQ")
	if restored.ID != 1 || restored.IsClosed || !restored.Deposited.Equal(decimal.NewFromInt(107)) {
		t.Errorf("expected restored open batch 1 with 107 deposited, got %+v", restored)
	}

	// a second close reuses the freed successor id
	reclosed, err := v.CloseBatch("vault-a", "USDQ", true)
	if err != nil {
		t.Fatal(err)
	}
	if reclosed.ID != 1 {
		t.Errorf("expected batch 1 closed again, got %d", reclosed.ID)
	}
}

func TestVaultsReopenSettledBatchFails(t *testing.T) {
	store := setupStore(t)
	v, _ := NewVaults(store, testVaultConfig())

	v.RecordDeposit("vault-a", "USDQ", decimal.NewFromInt(100))
	closed, _ := v.CloseBatch("vault-a", "USDQ", true)
	err := v.ApplySettlement(&domain.SettlementProposal{
		Vault:       "vault-a",
		Asset:       "USDQ",
		BatchID:     closed.ID,
		TotalAssets: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := v.ReopenBatch("vault-a", "USDQ", closed.ID); !errors.Is(err, domain.ErrBatchSettled) {
		t.Errorf("expected ErrBatchSettled, got %v", err)
	}
}

func TestVaultsRestoreFromStorage(t *testing.T) {
	store := setupStore(t)
	v, _ := NewVaults(store, testVaultConfig())
	v.RecordDeposit("vault-a", "USDQ", decimal.NewFromInt(42))

	// A second ledger over the same store sees the live batch.
	v2, err := NewVaults(store, testVaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	b, _ := v2.CurrentBatch("vault-a", "USDQ")
	if b.ID != 1 || !b.Deposited.Equal(decimal.NewFromInt(42)) {
		t.Errorf("expected restored batch 1 with 42 deposited, got %+v", b)
	}
}

func TestVaultsApplySettlement(t *testing.T) {
	store := setupStore(t)
	v, _ := NewVaults(store, testVaultConfig())

	v.RecordDeposit("vault-a", "USDQ", decimal.NewFromInt(100))
	closed, err := v.CloseBatch("vault-a", "USDQ", true)
	if err != nil {
		t.Fatal(err)
	}

	err = v.ApplySettlement(&domain.SettlementProposal{
		Vault:       "vault-a",
		Asset:       "USDQ",
		BatchID:     closed.ID,
		TotalAssets: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatal(err)
	}

	// first settlement mints at par
	supply, _ := v.TotalSupply("vault-a")
	if !supply.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected supply 100, got %v", supply)
	}
	expected, _ := v.ExpectedAssets("vault-a", "USDQ")
	if !expected.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected assets 100, got %v", expected)
	}

	settled, _ := store.GetBatch("vault-a", "USDQ", closed.ID)
	if !settled.IsSettled {
		t.Error("batch not marked settled in storage")
	}

	// settling the same batch twice fails on the batch state machine
	err = v.ApplySettlement(&domain.SettlementProposal{
		Vault: "vault-a", Asset: "USDQ", BatchID: closed.ID,
		TotalAssets: decimal.NewFromInt(100),
	})
	if !errors.Is(err, domain.ErrBatchSettled) {
		t.Errorf("expected ErrBatchSettled, got %v", err)
	}
}

func TestVaultsSettleLiveBatchOpensSuccessor(t *testing.T) {
	store := setupStore(t)
	v, _ := NewVaults(store, testVaultConfig())

	v.RecordDeposit("vault-a", "USDQ", decimal.NewFromInt(10))
	// split custodial flow: close without successor, the batch stays live
	closed, err := v.CloseBatch("vault-a", "USDQ", false)
	if err != nil {
		t.Fatal(err)
	}

	err = v.ApplySettlement(&domain.SettlementProposal{
		Vault: "vault-a", Asset: "USDQ", BatchID: closed.ID,
		TotalAssets: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatal(err)
	}

	current, _ := v.CurrentBatch("vault-a", "USDQ")
	if current.ID != closed.ID+1 || current.IsClosed {
		t.Errorf("expected fresh successor batch, got %+v", current)
	}
}

func TestSettlementLifecycle(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	v, _ := NewVaults(store, testVaultConfig())

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewSettlement(store, v, func() time.Time { return clock })

	v.RecordDeposit("vault-a", "USDQ", decimal.NewFromInt(100))
	closed, _ := v.CloseBatch("vault-a", "USDQ", true)

	id, err := s.Propose(ctx, &domain.SettlementProposal{
		Vault: "vault-a", Asset: "USDQ", BatchID: closed.ID,
		TotalAssets:  decimal.NewFromInt(100),
		Netted:       decimal.NewFromInt(100),
		ExecuteAfter: clock.Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected a proposal id")
	}

	t.Run("Cooldown Blocks Execution", func(t *testing.T) {
		if err := s.Execute(ctx, id); !errors.Is(err, domain.ErrCooldownActive) {
			t.Errorf("expected ErrCooldownActive, got %v", err)
		}
	})

	t.Run("Not Matured Yet", func(t *testing.T) {
		ids, err := s.Matured(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) != 0 {
			t.Errorf("expected no matured proposals, got %v", ids)
		}
	})

	t.Run("Executes After Cooldown", func(t *testing.T) {
		clock = clock.Add(time.Hour)

		ids, err := s.Matured(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) != 1 || ids[0] != id {
			t.Fatalf("expected matured proposal %s, got %v", id, ids)
		}

		if err := s.Execute(ctx, id); err != nil {
			t.Fatal(err)
		}
		p, err := s.Proposal(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if p.Status != domain.ProposalExecuted {
			t.Errorf("expected EXECUTED, got %s", p.Status)
		}

		// the vault ledger applied the settlement
		supply, _ := v.TotalSupply("vault-a")
		if !supply.Equal(decimal.NewFromInt(100)) {
			t.Errorf("expected supply 100 after execution, got %v", supply)
		}
	})

	t.Run("Executed Is Terminal", func(t *testing.T) {
		if err := s.Cancel(ctx, id); !errors.Is(err, domain.ErrProposalTerminal) {
			t.Errorf("expected ErrProposalTerminal, got %v", err)
		}
	})
}

func TestSettlementAcceptAndCancel(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	v, _ := NewVaults(store, testVaultConfig())
	s := NewSettlement(store, v, nil)

	id, err := s.Propose(ctx, &domain.SettlementProposal{
		Vault: "vault-a", Asset: "USDQ", BatchID: 1,
		TotalAssets:  decimal.NewFromInt(1),
		ExecuteAfter: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Accept(ctx, id); err != nil {
		t.Fatal(err)
	}
	p, _ := s.Proposal(ctx, id)
	if !p.Accepted {
		t.Error("proposal not accepted")
	}

	if err := s.Cancel(ctx, id); err != nil {
		t.Fatal(err)
	}
	p, _ = s.Proposal(ctx, id)
	if p.Status != domain.ProposalCancelled {
		t.Errorf("expected CANCELLED, got %s", p.Status)
	}

	if err := s.Accept(ctx, "missing"); !errors.Is(err, domain.ErrProposalNotFound) {
		t.Errorf("expected ErrProposalNotFound, got %v", err)
	}
}
