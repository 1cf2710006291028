package app

import (
	"log/slog"
	"time"

	"settle_go/internal/domain"
	"settle_go/internal/engine"
	"settle_go/internal/infra"
	"settle_go/internal/infra/ledger"
	"settle_go/internal/infra/registry"
	"settle_go/internal/infra/storage"
	"settle_go/internal/infra/venue"
	"settle_go/internal/service"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config     *infra.Config
	Storage    *storage.Storage
	Vaults     *ledger.Vaults
	Settlement *ledger.Settlement
	Fees       *ledger.FeeBook
	Registry   *registry.Registry
	Venue      *venue.Venue
	Service    *service.SettlementService
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, DB, ledgers, venue)
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping settlement engine...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized")

	// 4. Restore ledgers from storage
	b.Vaults, err = ledger.NewVaults(store, cfg.Vaults)
	if err != nil {
		return err
	}
	b.Settlement = ledger.NewSettlement(store, b.Vaults, nil)
	b.Fees, err = ledger.NewFeeBook(store, cfg.Vaults, time.Now())
	if err != nil {
		return err
	}
	slog.Info("✅ Ledgers restored", slog.Int("vaults", len(cfg.Vaults)))

	// 5. Registry and venue
	b.Registry, err = registry.New(cfg)
	if err != nil {
		return err
	}
	assets := make([]string, 0, len(cfg.Assets))
	for _, a := range cfg.Assets {
		assets = append(assets, a.Symbol)
	}
	b.Venue = venue.New(assets)

	// 6. Settlement core and service
	journal := ledger.NewJournal(store, venue.NewExecutor(b.Venue), b.Venue, cfg.Vaults, nil)
	coord := engine.NewCoordinator(engine.Deps{
		Vaults:    b.Vaults,
		Ledger:    b.Settlement,
		Registry:  b.Registry,
		Positions: b.Venue,
		Fees:      b.Fees,
		Executor:  journal,
		Cooldown:  cfg.Cooldown(),
		Logger:    logger,
	})
	b.Service = service.NewSettlementService(coord, b.Registry, b.Settlement, journal, infra.GlobalMetrics, logger)

	// 7. Seed the role book from configured API keys
	for _, k := range cfg.Server.APIKeys {
		roles := make([]domain.Role, 0, len(k.Roles))
		for _, r := range k.Roles {
			roles = append(roles, domain.Role(r))
		}
		b.Service.Seed(k.Actor, roles...)
	}
	slog.Info("✅ Settlement service ready", slog.Int("actors", len(cfg.Server.APIKeys)))

	return nil
}
