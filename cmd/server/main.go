// Package main is the entry point for the evetabi managed-wealth API server.
// It wires together all services and starts the HTTP server alongside the
// WebSocket hub and the in-process reconciliation worker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/evetabi/managedwealth/internal/affiliate"
	"github.com/evetabi/managedwealth/internal/api"
	"github.com/evetabi/managedwealth/internal/catalog"
	"github.com/evetabi/managedwealth/internal/config"
	"github.com/evetabi/managedwealth/internal/execution"
	"github.com/evetabi/managedwealth/internal/repository"
	"github.com/evetabi/managedwealth/internal/service"
	"github.com/evetabi/managedwealth/internal/worker"
	"github.com/evetabi/managedwealth/internal/ws"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting evetabi managed-wealth server", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Database ───────────────────────────────────────────────────────────
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

	// ── 3. Migrations ─────────────────────────────────────────────────────────
	if err = runMigrations(db, cfg.DB.MigrationsDir); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// ── 4. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 5. Store, gateway, catalog ────────────────────────────────────────────
	store := repository.NewPGStore(db)
	gateway := execution.NewPGGateway(db)

	if cfg.Managed.CatalogFile != "" {
		cat, err := catalog.LoadFile(cfg.Managed.CatalogFile)
		if err != nil {
			logger.Error("catalog load failed", "file", cfg.Managed.CatalogFile, "err", err)
			os.Exit(1)
		}
		if err := cat.Sync(ctx, store); err != nil {
			logger.Error("catalog sync failed", "err", err)
			os.Exit(1)
		}
		logger.Info("catalog synced", "products", len(cat.Products))
	}

	// ── 6. Services ───────────────────────────────────────────────────────────
	distributor := affiliate.NewClient(cfg.Affiliate.BaseURL, cfg.Affiliate.APIKey, cfg.Affiliate.Timeout, logger)
	svcs := service.NewServices(store, gateway, distributor, cfg, logger)

	// ── 7. WebSocket Hub ──────────────────────────────────────────────────────
	var allowedOrigins []string
	if ori := os.Getenv("WS_ALLOWED_ORIGINS"); ori != "" {
		for _, o := range strings.Split(ori, ",") {
			allowedOrigins = append(allowedOrigins, strings.TrimSpace(o))
		}
	}
	hub := ws.NewHub(svcs.Auth, allowedOrigins, logger)
	svcs.SetNotifier(hub)

	go hub.Run(ctx)
	logger.Info("websocket hub started")

	// ── 8. Reconciliation worker ──────────────────────────────────────────────
	workerDone := make(chan struct{})
	if cfg.Worker.Enabled {
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
		w := worker.New(svcs.Lifecycle, svcs.Nav, svcs.Settlements, svcs.ProfitFees,
			svcs.Coverage, lease, worker.OptionsFromConfig(cfg.Worker), logger)
		go func() {
			defer close(workerDone)
			if err := w.Start(ctx); err != nil {
				logger.Error("worker stopped with error", "err", err)
				stop()
			}
		}()
	} else {
		close(workerDone)
		logger.Info("reconciliation worker disabled")
	}

	// ── 9. HTTP Router ────────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		AuthSvc:         svcs.Auth,
		SubscriptionSvc: svcs.Subscriptions,
		WithdrawSvc:     svcs.Withdraw,
		ReservationSvc:  svcs.Reservations,
		Hub:             hub,
		Cfg:             cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 10. Start server ──────────────────────────────────────────────────────
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 11. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("worker did not stop before shutdown deadline")
	}

	db.Close()
	logger.Info("server stopped cleanly")
}

// runMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially.  Idempotent: SQL files should use IF NOT EXISTS / ON CONFLICT.
func runMigrations(db *sqlx.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.Exec(string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
