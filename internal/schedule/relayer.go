package schedule

import (
	"context"
	"log/slog"

	"settle_go/internal/domain"
	"settle_go/internal/infra"
	"settle_go/internal/service"

	"github.com/robfig/cron/v3"
)

// Relayer runs the scheduled settlement duties: closing and settling each
// asset's batches on the settle spec and executing matured proposals on the
// execute spec. It acts with a fixed relayer identity.
type Relayer struct {
	svc    *service.SettlementService
	assets []string
	actor  string
	log    *slog.Logger
	cron   *cron.Cron
}

// NewRelayer creates the scheduled relayer for the configured assets.
func NewRelayer(svc *service.SettlementService, cfg *infra.Config, actor string, log *slog.Logger) *Relayer {
	if log == nil {
		log = slog.Default()
	}
	assets := make([]string, 0, len(cfg.Assets))
	for _, a := range cfg.Assets {
		assets = append(assets, a.Symbol)
	}
	return &Relayer{
		svc:    svc,
		assets: assets,
		actor:  actor,
		log:    log,
		cron:   cron.New(),
	}
}

// Start registers the cron entries and starts the scheduler. Empty specs
// disable the corresponding job.
func (r *Relayer) Start(ctx context.Context, settleSpec, executeSpec string) error {
	if settleSpec != "" {
		if _, err := r.cron.AddFunc(settleSpec, func() { r.settleAll(ctx) }); err != nil {
			return err
		}
	}
	if executeSpec != "" {
		if _, err := r.cron.AddFunc(executeSpec, func() { r.executeMatured(ctx) }); err != nil {
			return err
		}
	}
	r.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (r *Relayer) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Relayer) auth() domain.AuthContext {
	return r.svc.AuthFor(r.actor)
}

func (r *Relayer) settleAll(ctx context.Context) {
	for _, asset := range r.assets {
		results, err := r.svc.SettleAsset(ctx, r.auth(), asset)
		if err != nil {
			r.log.Error("scheduled settlement failed", slog.String("asset", asset), slog.Any("error", err))
			continue
		}
		for _, res := range results {
			r.log.Info("scheduled settlement done",
				slog.String("asset", asset),
				slog.Uint64("batch", res.BatchID),
				slog.Bool("proposed", res.Proposed),
				slog.String("netted", res.Netted.String()))
		}
	}
}

func (r *Relayer) executeMatured(ctx context.Context) {
	executed, err := r.svc.ExecuteMatured(ctx, r.auth())
	if err != nil {
		r.log.Error("matured proposal sweep failed", slog.Any("error", err))
		return
	}
	if executed > 0 {
		r.log.Info("matured proposals executed", slog.Int("count", executed))
	}
}
