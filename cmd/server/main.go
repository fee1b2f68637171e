package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atmx/ledger-engine/internal/api"
	"github.com/atmx/ledger-engine/internal/config"
	"github.com/atmx/ledger-engine/internal/importer"
	"github.com/atmx/ledger-engine/internal/reconcile"
	"github.com/atmx/ledger-engine/internal/report"
	"github.com/atmx/ledger-engine/internal/scheduler"
	"github.com/atmx/ledger-engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	config.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := store.Open(ctx, store.OpenOptions{
		DatabaseURL: cfg.DatabaseURL,
		RedisURL:    cfg.RedisURL,
		CacheTTL:    cfg.CacheTTL,
		Memory:      true,
	})
	if err != nil {
		slog.Error("store initialization failed", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	// --- Reconciliation engine ---
	engine := reconcile.NewService(st, reconcile.Options{
		AllowShort:        cfg.AllowShort,
		ContractSize:      cfg.ContractSize,
		PremiumMultiplier: cfg.PremiumMultiplier,
	})

	reports := report.NewReporter(engine, cfg.ReportCacheTTL)
	engine.Observe(reports)

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run(ctx)
	engine.Observe(wsHub)

	// --- CSV import ---
	mappings, err := importer.LoadMappings(cfg.ImportMappingFile)
	if err != nil {
		slog.Error("import mappings", "path", cfg.ImportMappingFile, "err", err)
		os.Exit(1)
	}
	imp := importer.New(engine, mappings, importer.Options{
		BatchSize:     cfg.ImportBatchSize,
		BatchesPerSec: cfg.ImportBatchesPerSec,
	})

	// Derived tables may predate the current matcher; rebuild them once.
	job := scheduler.ReconcileJob{Engine: engine}
	sched := scheduler.New(5 * time.Minute)
	if err := sched.RunNow(job); err != nil {
		slog.Error("startup reconciliation failed", "err", err)
	}
	if cfg.ReconcileSchedule != "" {
		if err := sched.AddJob(cfg.ReconcileSchedule, job); err != nil {
			slog.Error("invalid reconcile schedule", "schedule", cfg.ReconcileSchedule, "err", err)
			os.Exit(1)
		}
		sched.Start()
		defer sched.Stop()
	}

	// --- HTTP router ---
	handler := api.NewHandler(engine, reports, imp)
	router := api.NewRouter(handler, wsHub, api.RouterOptions{
		CORSOrigins:   cfg.CORSOrigins,
		ImportsPerSec: cfg.ImportsPerSec,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("ledger-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down ledger-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("ledger-engine stopped")
}
