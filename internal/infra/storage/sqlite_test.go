package storage

import (
	"os"
	"testing"
	"time"

	"settle_go/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *Storage {
	dbName := "test.db"
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	if err := db.AutoMigrate(
		&domain.Batch{},
		&domain.SettlementProposal{},
		&domain.FeeState{},
		&domain.AdapterPosition{},
	); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	t.Cleanup(func() {
		os.Remove(dbName)
	})

	return &Storage{db: db}
}

func TestSaveAndGetBatch(t *testing.T) {
	s := setupTestDB(t)

	batch := domain.NewBatch("vault-a", "USDQ", 1)
	batch.Deposited = decimal.NewFromInt(100)

	// 1. Create
	if err := s.SaveBatch(batch); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	// 2. Get
	fetched, err := s.GetBatch("vault-a", "USDQ", 1)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if fetched == nil {
		t.Fatal("fetched batch is nil")
	}
	if !fetched.Deposited.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected deposited 100, got %v", fetched.Deposited)
	}
}

func TestCurrentBatch(t *testing.T) {
	s := setupTestDB(t)

	for id := uint64(1); id <= 3; id++ {
		if err := s.SaveBatch(domain.NewBatch("vault-a", "USDQ", id)); err != nil {
			t.Fatalf("SaveBatch failed: %v", err)
		}
	}

	current, err := s.CurrentBatch("vault-a", "USDQ")
	if err != nil {
		t.Fatalf("CurrentBatch failed: %v", err)
	}
	if current == nil || current.ID != 3 {
		t.Errorf("expected batch 3, got %+v", current)
	}

	// Unknown pair
	missing, err := s.CurrentBatch("vault-b", "USDQ")
	if err != nil {
		t.Fatalf("CurrentBatch failed: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown pair")
	}
}

func TestUpdateBatch(t *testing.T) {
	s := setupTestDB(t)

	batch := domain.NewBatch("vault-a", "USDQ", 1)
	s.SaveBatch(batch)

	// Update
	if err := batch.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.SaveBatch(batch); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	fetched, _ := s.GetBatch("vault-a", "USDQ", 1)
	if !fetched.IsClosed {
		t.Error("expected batch to be closed after update")
	}
}

func TestProposalRoundTrip(t *testing.T) {
	s := setupTestDB(t)

	p := &domain.SettlementProposal{
		ID:           "prop-1",
		Asset:        "USDQ",
		Vault:        "vault-a",
		BatchID:      1,
		TotalAssets:  decimal.NewFromInt(1000),
		Netted:       decimal.NewFromInt(-50),
		Yield:        decimal.NewFromInt(20),
		ExecuteAfter: time.Now().Add(time.Hour),
		Status:       domain.ProposalPending,
	}
	if err := s.SaveProposal(p); err != nil {
		t.Fatalf("SaveProposal failed: %v", err)
	}

	fetched, err := s.GetProposal("prop-1")
	if err != nil {
		t.Fatalf("GetProposal failed: %v", err)
	}
	if fetched == nil {
		t.Fatal("fetched proposal is nil")
	}
	if !fetched.Netted.Equal(decimal.NewFromInt(-50)) {
		t.Errorf("expected netted -50, got %v", fetched.Netted)
	}
	if !fetched.IsNetNegative() {
		t.Error("expected net negative proposal")
	}
}

func TestPendingProposals(t *testing.T) {
	s := setupTestDB(t)

	s.SaveProposal(&domain.SettlementProposal{ID: "p1", Status: domain.ProposalPending})
	s.SaveProposal(&domain.SettlementProposal{ID: "p2", Status: domain.ProposalExecuted})
	s.SaveProposal(&domain.SettlementProposal{ID: "p3", Status: domain.ProposalPending})

	pending, err := s.PendingProposals()
	if err != nil {
		t.Fatalf("PendingProposals failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("expected 2 pending proposals, got %d", len(pending))
	}
}

func TestFeeStateRoundTrip(t *testing.T) {
	s := setupTestDB(t)

	fs := &domain.FeeState{
		Vault:               "vault-a",
		ManagementFeeBps:    100,
		PerformanceFeeBps:   2000,
		SharePriceWatermark: decimal.NewFromInt(1),
	}
	if err := s.SaveFeeState(fs); err != nil {
		t.Fatalf("SaveFeeState failed: %v", err)
	}

	fetched, err := s.GetFeeState("vault-a")
	if err != nil {
		t.Fatalf("GetFeeState failed: %v", err)
	}
	if fetched == nil || fetched.ManagementFeeBps != 100 {
		t.Errorf("unexpected fee state: %+v", fetched)
	}

	missing, err := s.GetFeeState("vault-x")
	if err != nil {
		t.Fatalf("GetFeeState failed: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown vault")
	}
}

func TestPositionRoundTrip(t *testing.T) {
	s := setupTestDB(t)

	p := &domain.AdapterPosition{
		Vault:   "vault-a",
		Asset:   "USDQ",
		Account: "acct-1",
		Shares:  decimal.NewFromInt(500),
	}
	if err := s.SavePosition(p); err != nil {
		t.Fatalf("SavePosition failed: %v", err)
	}

	fetched, err := s.GetPosition("vault-a", "USDQ")
	if err != nil {
		t.Fatalf("GetPosition failed: %v", err)
	}
	if fetched == nil || !fetched.Shares.Equal(decimal.NewFromInt(500)) {
		t.Errorf("unexpected position: %+v", fetched)
	}
}
