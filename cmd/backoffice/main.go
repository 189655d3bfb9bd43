// Package main is the entry point for the evetabi managed-wealth back-office
// server. Runs on port 8081 and exposes admin-only endpoints protected by RBAC.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evetabi/managedwealth/internal/affiliate"
	"github.com/evetabi/managedwealth/internal/backoffice"
	"github.com/evetabi/managedwealth/internal/config"
	"github.com/evetabi/managedwealth/internal/execution"
	"github.com/evetabi/managedwealth/internal/repository"
	"github.com/evetabi/managedwealth/internal/service"
	"github.com/evetabi/managedwealth/internal/worker"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting evetabi managed-wealth backoffice",
		"env", cfg.Server.Env, "port", cfg.Server.BackofficePort)

	// ── Database ──────────────────────────────────────────────────────────────
	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err = db.Ping(); err != nil {
		logger.Error("database ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// ── Services ──────────────────────────────────────────────────────────────
	store := repository.NewPGStore(db)
	gateway := execution.NewPGGateway(db)
	distributor := affiliate.NewClient(cfg.Affiliate.BaseURL, cfg.Affiliate.APIKey, cfg.Affiliate.Timeout, logger)
	svcs := service.NewServices(store, gateway, distributor, cfg, logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Manual runs take the scheduled worker's redis lease when one is configured.
	var lease worker.Lease
	if cfg.Worker.RedisURL != "" {
		rl, err := worker.NewRedisLeaseFromURL(ctx, cfg.Worker.RedisURL, cfg.Worker.LeaseTTL)
		if err != nil {
			logger.Error("redis lease unavailable", "err", err)
			os.Exit(1)
		}
		defer rl.Close()
		lease = rl
	}
	runner := worker.New(svcs.Lifecycle, svcs.Nav, svcs.Settlements, svcs.ProfitFees,
		svcs.Coverage, lease, worker.OptionsFromConfig(cfg.Worker), logger)

	// ── Router ────────────────────────────────────────────────────────────────
	router := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		AuthSvc:        svcs.Auth,
		CoverageSvc:    svcs.Coverage,
		ReserveFundSvc: svcs.ReserveFund,
		Runner:         runner,
		Cfg:            cfg,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.BackofficePort,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── Start ─────────────────────────────────────────────────────────────────
	go func() {
		logger.Info("backoffice http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("backoffice server error", "err", err)
			stop()
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("backoffice shutdown error", "err", err)
	}

	db.Close()
	logger.Info("backoffice server stopped cleanly")
}
