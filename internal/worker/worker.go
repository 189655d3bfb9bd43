// Package worker runs the managed-wealth reconciliation cycle on a schedule:
//  1. map executions  – PENDING subscriptions get an execution config.
//  2. refresh NAV     – equity and snapshots from realized PnL.
//  3. mark matured    – RUNNING subscriptions past their term end.
//  4. settle due      – settle, or move to LIQUIDATING while positions are open.
//  5. profit fees     – resend distributions that failed or were abandoned.
//  6. coverage        – pause or resume guaranteed products.
//
// Only one cycle runs at a time per process; a redis lease extends that
// across processes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/evetabi/managedwealth/internal/config"
	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/evetabi/managedwealth/internal/metrics"
	"github.com/evetabi/managedwealth/internal/service"
	"github.com/robfig/cron/v3"
)

// ──────────────────────────────────────────────────────────────────────────────
// Step interfaces — satisfied by the service layer
// ──────────────────────────────────────────────────────────────────────────────

// Lifecycle maps executions and marks maturity.
type Lifecycle interface {
	MapExecutions(ctx context.Context, limit int) (mapped, failed int, err error)
	MarkMatured(ctx context.Context) (int, error)
}

// NavRefresher refreshes NAV for running subscriptions.
type NavRefresher interface {
	RefreshBatch(ctx context.Context, limit int) (updated, failed int, err error)
}

// Settler settles subscriptions whose term has ended.
type Settler interface {
	SettleDue(ctx context.Context, limit int) (service.SettleSummary, error)
}

// ProfitFeeRetrier resends profit-fee distributions still owed.
type ProfitFeeRetrier interface {
	RetryPending(ctx context.Context, limit int) (completed, failed int, err error)
}

// CoverageController pauses and resumes guaranteed products.
type CoverageController interface {
	Reconcile(ctx context.Context) ([]service.ProductCoverage, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Worker
// ──────────────────────────────────────────────────────────────────────────────

// Options are the cycle's schedule and batch sizes.
type Options struct {
	Interval        time.Duration
	MapBatch        int
	NavBatch        int
	SettlementBatch int
}

// OptionsFromConfig maps the worker configuration.
func OptionsFromConfig(cfg config.WorkerConfig) Options {
	return Options{
		Interval:        cfg.Interval,
		MapBatch:        cfg.MapBatch,
		NavBatch:        cfg.NavBatch,
		SettlementBatch: cfg.SettlementBatch,
	}
}

// CycleSummary is the outcome of one cycle.
type CycleSummary struct {
	Mapped        int   `json:"mapped"`
	MapFailed     int   `json:"mapFailed"`
	NavUpdated    int   `json:"navUpdated"`
	NavFailed     int   `json:"navFailed"`
	Matured       int   `json:"matured"`
	Settled       int   `json:"settled"`
	Liquidating   int   `json:"liquidating"`
	SettleSkipped int   `json:"settleSkipped"`
	SettleFailed  int   `json:"settleFailed"`
	FeesRetried   int   `json:"feesRetried"`
	FeesFailed    int   `json:"feesFailed"`
	StatusChanges int   `json:"statusChanges"`
	DurationMs    int64 `json:"durationMs"`
}

// Worker drives subscriptions forward. Create with New, then call Start or
// RunCycle.
type Worker struct {
	lifecycle Lifecycle
	nav       NavRefresher
	settler   Settler
	fees      ProfitFeeRetrier
	coverage  CoverageController
	lease     Lease
	opts      Options
	logger    *slog.Logger

	running atomic.Bool
}

// New creates a Worker. A nil lease means in-process single-flight only.
func New(lifecycle Lifecycle, nav NavRefresher, settler Settler, fees ProfitFeeRetrier,
	coverage CoverageController, lease Lease, opts Options, logger *slog.Logger) *Worker {
	if lease == nil {
		lease = localLease{}
	}
	return &Worker{
		lifecycle: lifecycle,
		nav:       nav,
		settler:   settler,
		fees:      fees,
		coverage:  coverage,
		lease:     lease,
		opts:      opts,
		logger:    logger.With("component", "worker"),
	}
}

// Start runs a cycle immediately and then every Interval until ctx is
// cancelled. Overlapping ticks are skipped, not queued. It blocks until the
// in-flight cycle has returned.
func (w *Worker) Start(ctx context.Context) error {
	c := cron.New()
	spec := "@every " + w.opts.Interval.String()
	if _, err := c.AddFunc(spec, func() { w.tick(ctx) }); err != nil {
		return fmt.Errorf("worker.Start: schedule %q: %w", spec, err)
	}

	w.logger.Info("worker started", "interval", w.opts.Interval)
	w.tick(ctx)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	w.logger.Info("worker stopped")
	return nil
}

// RunOnce executes a single cycle. It is the run-once entry point of the
// standalone worker.
func (w *Worker) RunOnce(ctx context.Context) (*CycleSummary, error) {
	return w.RunCycle(ctx)
}

func (w *Worker) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := w.RunCycle(ctx); errors.Is(err, domain.ErrCycleInProgress) {
		w.logger.Debug("cycle skipped, previous cycle still running")
	}
}

// RunCycle executes one cycle. It returns domain.ErrCycleInProgress when a
// cycle is already running in this process or holds the shared lease.
func (w *Worker) RunCycle(ctx context.Context) (sum *CycleSummary, err error) {
	if !w.running.CompareAndSwap(false, true) {
		metrics.WorkerCycles.WithLabelValues("skipped").Inc()
		return nil, domain.ErrCycleInProgress
	}
	defer w.running.Store(false)

	release, ok, err := w.lease.Acquire(ctx)
	if err != nil {
		metrics.WorkerCycles.WithLabelValues("failed").Inc()
		w.logger.Error("worker lease failed", "error", err)
		return nil, err
	}
	if !ok {
		metrics.WorkerCycles.WithLabelValues("skipped").Inc()
		return nil, domain.ErrCycleInProgress
	}
	defer release()

	start := time.Now()
	sum = &CycleSummary{}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker.RunCycle: panic: %v", r)
		}
		sum.DurationMs = time.Since(start).Milliseconds()
		metrics.WorkerCycleDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.WorkerCycles.WithLabelValues("failed").Inc()
			w.logger.Error("worker cycle failed", "error", err, "duration_ms", sum.DurationMs)
			return
		}
		metrics.WorkerCycles.WithLabelValues("completed").Inc()
		w.logger.Info("worker cycle",
			"mapped", sum.Mapped,
			"nav_updated", sum.NavUpdated,
			"matured", sum.Matured,
			"settled", sum.Settled,
			"fees_retried", sum.FeesRetried,
			"liquidating", sum.Liquidating,
			"status_changes", sum.StatusChanges,
			"duration_ms", sum.DurationMs,
		)
	}()

	err = w.cycle(ctx, sum)
	return sum, err
}

func (w *Worker) cycle(ctx context.Context, sum *CycleSummary) error {
	var err error

	// ── 1. Map executions ─────────────────────────────────────────────────────
	sum.Mapped, sum.MapFailed, err = w.lifecycle.MapExecutions(ctx, w.opts.MapBatch)
	stepItems("map", sum.Mapped, sum.MapFailed)
	if err != nil {
		return fmt.Errorf("map executions: %w", err)
	}

	// ── 2. Refresh NAV ───────────────────────────────────────────────────────
	sum.NavUpdated, sum.NavFailed, err = w.nav.RefreshBatch(ctx, w.opts.NavBatch)
	stepItems("nav", sum.NavUpdated, sum.NavFailed)
	if err != nil {
		return fmt.Errorf("refresh nav: %w", err)
	}

	// ── 3. Mark matured ──────────────────────────────────────────────────────
	sum.Matured, err = w.lifecycle.MarkMatured(ctx)
	stepItems("mature", sum.Matured, 0)
	if err != nil {
		return fmt.Errorf("mark matured: %w", err)
	}

	// ── 4. Settle due ────────────────────────────────────────────────────────
	settled, err := w.settler.SettleDue(ctx, w.opts.SettlementBatch)
	sum.Settled = settled.Settled
	sum.Liquidating = settled.Liquidating
	sum.SettleSkipped = settled.Skipped
	sum.SettleFailed = settled.Failed
	stepItems("settle", settled.Settled+settled.Liquidating, settled.Failed)
	if err != nil {
		return fmt.Errorf("settle due: %w", err)
	}

	// ── 5. Profit fee retries ────────────────────────────────────────────────
	sum.FeesRetried, sum.FeesFailed, err = w.fees.RetryPending(ctx, w.opts.SettlementBatch)
	stepItems("profit_fee", sum.FeesRetried, sum.FeesFailed)
	if err != nil {
		return fmt.Errorf("retry profit fees: %w", err)
	}

	// ── 6. Reserve coverage ──────────────────────────────────────────────────
	products, err := w.coverage.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile coverage: %w", err)
	}
	paused := 0
	for _, p := range products {
		if p.Changed {
			sum.StatusChanges++
		}
		if p.Status == domain.ProductPaused {
			paused++
		}
		ratio := -1.0
		if p.Coverage.CoverageRatio != nil {
			ratio = p.Coverage.CoverageRatio.InexactFloat64()
		}
		metrics.CoverageRatio.WithLabelValues(p.Slug).Set(ratio)
		metrics.ReserveBalance.Set(p.Coverage.ReserveBalance.InexactFloat64())
	}
	metrics.PausedProducts.Set(float64(paused))
	stepItems("coverage", sum.StatusChanges, 0)
	return nil
}

func stepItems(step string, ok, failed int) {
	if ok > 0 {
		metrics.WorkerStepItems.WithLabelValues(step, "ok").Add(float64(ok))
	}
	if failed > 0 {
		metrics.WorkerStepItems.WithLabelValues(step, "failed").Add(float64(failed))
	}
}
