// Package main is the entry point for the standalone managed-wealth
// reconciliation worker. With MANAGED_WEALTH_RUN_ONCE it runs one cycle and
// exits; otherwise it runs on its schedule until SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/evetabi/managedwealth/internal/affiliate"
	"github.com/evetabi/managedwealth/internal/config"
	"github.com/evetabi/managedwealth/internal/domain"
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

	if !cfg.Worker.Enabled {
		logger.Info("managed-wealth worker disabled, exiting")
		return
	}
	logger.Info("starting evetabi managed-wealth worker",
		"env", cfg.Server.Env, "interval", cfg.Worker.Interval, "run_once", cfg.Worker.RunOnce)

	// ── Database ──────────────────────────────────────────────────────────────
	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err = db.Ping(); err != nil {
		logger.Error("database ping failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Services ──────────────────────────────────────────────────────────────
	store := repository.NewPGStore(db)
	gateway := execution.NewPGGateway(db)
	distributor := affiliate.NewClient(cfg.Affiliate.BaseURL, cfg.Affiliate.APIKey, cfg.Affiliate.Timeout, logger)
	svcs := service.NewServices(store, gateway, distributor, cfg, logger)

	// ── Lease ─────────────────────────────────────────────────────────────────
	var lease worker.Lease
	if cfg.Worker.RedisURL != "" {
		rl, err := worker.NewRedisLeaseFromURL(ctx, cfg.Worker.RedisURL, cfg.Worker.LeaseTTL)
		if err != nil {
			logger.Error("redis lease unavailable", "err", err)
			os.Exit(1)
		}
		defer rl.Close()
		lease = rl
		logger.Info("redis lease enabled", "ttl", cfg.Worker.LeaseTTL)
	}

	w := worker.New(svcs.Lifecycle, svcs.Nav, svcs.Settlements, svcs.ProfitFees,
		svcs.Coverage, lease, worker.OptionsFromConfig(cfg.Worker), logger)

	// ── Run ───────────────────────────────────────────────────────────────────
	if cfg.Worker.RunOnce {
		_, err := w.RunOnce(ctx)
		switch {
		case errors.Is(err, domain.ErrCycleInProgress):
			logger.Info("another worker holds the lease, nothing to do")
		case err != nil:
			logger.Error("worker cycle failed", "err", err)
			stop()
			db.Close()
			os.Exit(1)
		}
		return
	}

	if err := w.Start(ctx); err != nil {
		logger.Error("worker failed", "err", err)
		stop()
		db.Close()
		os.Exit(1)
	}
}
