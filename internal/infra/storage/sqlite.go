package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"settle_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage persists settlement state between runs
type Storage struct {
	db *gorm.DB
}

// NewStorage creates a new SQLite storage instance at path
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		path = defaultDBPath()
	}

	// Ensure directory exists
	dbDir := filepath.Dir(path)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(
		&domain.Batch{},
		&domain.SettlementProposal{},
		&domain.FeeState{},
		&domain.AdapterPosition{},
		&domain.TransferRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

func defaultDBPath() string {
	return filepath.Join("data", "settle.db")
}

// ======================================================================================
// Batch Operations
// ======================================================================================

// SaveBatch creates or updates a batch
func (s *Storage) SaveBatch(batch *domain.Batch) error {
	return s.db.Save(batch).Error
}

// GetBatch retrieves a batch by its composite key
func (s *Storage) GetBatch(vault, asset string, id uint64) (*domain.Batch, error) {
	var batch domain.Batch
	err := s.db.First(&batch, "vault = ? AND asset = ? AND id = ?", vault, asset, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	return &batch, err
}

// CurrentBatch retrieves the highest-numbered batch for a (vault, asset) pair
func (s *Storage) CurrentBatch(vault, asset string) (*domain.Batch, error) {
	var batch domain.Batch
	err := s.db.Order("id DESC").First(&batch, "vault = ? AND asset = ?", vault, asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &batch, err
}

// DeleteBatch removes a batch row, used when a successor is rolled back
func (s *Storage) DeleteBatch(vault, asset string, id uint64) error {
	return s.db.Delete(&domain.Batch{}, "vault = ? AND asset = ? AND id = ?", vault, asset, id).Error
}

// ======================================================================================
// Proposal Operations
// ======================================================================================

// SaveProposal creates or updates a settlement proposal
func (s *Storage) SaveProposal(p *domain.SettlementProposal) error {
	return s.db.Save(p).Error
}

// GetProposal retrieves a proposal by id
func (s *Storage) GetProposal(id string) (*domain.SettlementProposal, error) {
	var p domain.SettlementProposal
	err := s.db.First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &p, err
}

// PendingProposals retrieves all proposals still awaiting execution
func (s *Storage) PendingProposals() ([]domain.SettlementProposal, error) {
	var proposals []domain.SettlementProposal
	err := s.db.Find(&proposals, "status = ?", domain.ProposalPending).Error
	return proposals, err
}

// ======================================================================================
// Fee State Operations
// ======================================================================================

// SaveFeeState creates or updates per-vault fee state
func (s *Storage) SaveFeeState(fs *domain.FeeState) error {
	return s.db.Save(fs).Error
}

// GetFeeState retrieves the fee state for a vault
func (s *Storage) GetFeeState(vault string) (*domain.FeeState, error) {
	var fs domain.FeeState
	err := s.db.First(&fs, "vault = ?", vault).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &fs, err
}

// ======================================================================================
// Position Operations
// ======================================================================================

// SavePosition creates or updates an adapter position snapshot
func (s *Storage) SavePosition(p *domain.AdapterPosition) error {
	return s.db.Save(p).Error
}

// GetPosition retrieves the position snapshot for a (vault, asset) pair
func (s *Storage) GetPosition(vault, asset string) (*domain.AdapterPosition, error) {
	var p domain.AdapterPosition
	err := s.db.First(&p, "vault = ? AND asset = ?", vault, asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &p, err
}

// ======================================================================================
// Transfer Journal Operations
// ======================================================================================

// SaveTransfers appends a batch of journal records
func (s *Storage) SaveTransfers(records []domain.TransferRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.db.Create(&records).Error
}

// TransfersForAsset retrieves the journaled transfers for an asset, oldest first
func (s *Storage) TransfersForAsset(asset string) ([]domain.TransferRecord, error) {
	var records []domain.TransferRecord
	err := s.db.Order("created_at ASC").Find(&records, "asset = ?", asset).Error
	return records, err
}
