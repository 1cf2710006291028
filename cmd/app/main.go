package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"settle_go/internal/api"
	"settle_go/internal/app"
	"settle_go/internal/domain"
	"settle_go/internal/infra"
	"settle_go/internal/infra/venue"
	"settle_go/internal/schedule"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := bootstrap.Config

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Venue price stream
	if cfg.Venue.WSURL != "" {
		assets := make([]string, 0, len(cfg.Assets))
		for _, a := range cfg.Assets {
			assets = append(assets, a.Symbol)
		}
		stream := venue.NewStream(cfg.Venue.WSURL, assets, bootstrap.Venue, infra.GlobalMetrics)
		if err := stream.Connect(ctx); err != nil {
			slog.Error("Failed to connect venue stream", slog.Any("error", err))
		}
		defer stream.Disconnect()
		slog.InfoContext(ctx, "✅ Venue price stream started", slog.Int("assets", len(assets)))
	}

	// 5. Scheduled relayer
	relayer := schedule.NewRelayer(bootstrap.Service, cfg, "scheduler", slog.Default())
	bootstrap.Service.Seed("scheduler", domain.RoleRelayer)
	if err := relayer.Start(ctx, cfg.Schedule.SettleSpec, cfg.Schedule.ExecuteSpec); err != nil {
		slog.Error("❌ Scheduler failed to start", slog.Any("error", err))
		os.Exit(1)
	}
	defer relayer.Stop()
	slog.InfoContext(ctx, "✅ Relayer schedule started",
		slog.String("settle", cfg.Schedule.SettleSpec),
		slog.String("execute", cfg.Schedule.ExecuteSpec))

	// 6. HTTP API
	router := api.NewRouter(bootstrap.Service, cfg, infra.GlobalMetrics)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("✅ API server listening", slog.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server failed", slog.Any("error", err))
			stop()
		}
	}()

	slog.InfoContext(ctx, "✨ Settlement engine fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown failed", slog.Any("error", err))
	}
}
