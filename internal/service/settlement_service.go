package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/evetabi/managedwealth/internal/execution"
	"github.com/evetabi/managedwealth/internal/metrics"
	"github.com/evetabi/managedwealth/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettleOutcome is the result of a settlement mutation.
type SettleOutcome string

const (
	SettleNotFound       SettleOutcome = "NOT_FOUND"
	SettleAlreadySettled SettleOutcome = "SKIPPED_ALREADY_SETTLED"
	SettleCompleted      SettleOutcome = "COMPLETED"
)

// SettleOptions parameterizes a settlement mutation. Both the worker and the
// withdraw handler go through the same mutation.
type SettleOptions struct {
	Now time.Time
	// GuaranteeEligible overrides the computed eligibility when set.
	GuaranteeEligible *bool
	// FinalPayout overrides the computed payout when set. Clamped at 0.
	FinalPayout *decimal.Decimal
	// TopupNote is recorded on the GUARANTEE_TOPUP entry.
	TopupNote string
	// EndAtNow moves endAt to the settlement time.
	EndAtNow bool
	// PreserveUnmatured leaves maturedAt untouched when the guarantee did
	// not apply.
	PreserveUnmatured bool
}

// SettleResult is what a settlement mutation produced.
type SettleResult struct {
	Outcome           SettleOutcome
	Subscription      *domain.Subscription
	Settlement        *domain.Settlement
	Figures           domain.SettlementFigures
	GuaranteeEligible bool
}

// SettleSummary counts what SettleDue did.
type SettleSummary struct {
	Settled     int
	Liquidating int
	Skipped     int
	Failed      int
}

// SettlementService settles subscriptions and moves them to LIQUIDATING
// while positions remain open.
type SettlementService struct {
	store        repository.Store
	gateway      execution.Gateway
	reservations *ReservationService
	profitFees   *ProfitFeeService
	notifier     Notifier
	log          *slog.Logger
	now          Clock
}

// NewSettlementService creates a SettlementService.
func NewSettlementService(
	store repository.Store,
	gateway execution.Gateway,
	reservations *ReservationService,
	profitFees *ProfitFeeService,
	log *slog.Logger,
) *SettlementService {
	return &SettlementService{
		store:        store,
		gateway:      gateway,
		reservations: reservations,
		profitFees:   profitFees,
		notifier:     nopNotifier{},
		log:          log.With("component", "settlement_service"),
		now:          utcNow,
	}
}

// SetNotifier injects the WS Hub dependency post-construction.
func (s *SettlementService) SetNotifier(n Notifier) { s.notifier = n }

// Compute derives the settlement figures of sub at now, loading its product
// and term on q. eligibleOverride replaces the computed eligibility.
func (s *SettlementService) Compute(ctx context.Context, q repository.Queries, sub *domain.Subscription,
	now time.Time, eligibleOverride *bool) (domain.SettlementFigures, bool, error) {
	product, err := q.GetProduct(ctx, sub.ProductID)
	if err != nil {
		return domain.SettlementFigures{}, false, fmt.Errorf("settlement_service.Compute: product: %w", err)
	}
	term, err := q.GetTermByID(ctx, sub.TermID)
	if err != nil {
		return domain.SettlementFigures{}, false, fmt.Errorf("settlement_service.Compute: term: %w", err)
	}

	eligible := domain.GuaranteeEligible(product, sub, now)
	if eligibleOverride != nil {
		eligible = *eligibleOverride
	}
	in := domain.SettlementInput{
		Principal:          sub.Principal,
		FinalEquity:        sub.CurrentEquity,
		HighWaterMark:      sub.HighWaterMark,
		PerformanceFeeRate: domain.ResolvePerformanceFeeRate(product, term, sub),
		GuaranteeApplies:   eligible,
	}
	if eligible {
		in.MinYieldRate = term.MinYieldRate
	}
	return domain.ComputeSettlement(in), eligible, nil
}

// Apply runs the settlement mutation on the caller's transaction. A
// subscription whose settlement is already COMPLETED only has its
// reservation released, which is itself idempotent.
func (s *SettlementService) Apply(ctx context.Context, q repository.Queries, subscriptionID uuid.UUID, opts SettleOptions) (*SettleResult, error) {
	now := opts.Now
	if now.IsZero() {
		now = s.now()
	}

	sub, err := q.GetSubscriptionForUpdate(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			return &SettleResult{Outcome: SettleNotFound}, nil
		}
		return nil, fmt.Errorf("settlement_service.Apply: load: %w", err)
	}

	existing, err := q.GetSettlement(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("settlement_service.Apply: settlement: %w", err)
	}
	if existing.IsCompleted() {
		return s.skipSettled(ctx, q, sub, existing)
	}
	if !sub.Status.In(domain.SettleableStatuses...) {
		return nil, fmt.Errorf("settlement_service.Apply: status %s: %w", sub.Status, domain.ErrInvalidTransition)
	}

	figures, eligible, err := s.Compute(ctx, q, sub, now, opts.GuaranteeEligible)
	if err != nil {
		return nil, err
	}
	finalPayout := figures.FinalPayout
	if opts.FinalPayout != nil {
		finalPayout = domain.Round(decimal.Max(decimal.Zero, *opts.FinalPayout))
	}

	st := &domain.Settlement{
		ID:                 uuid.New(),
		SubscriptionID:     sub.ID,
		Status:             domain.SettlementCompleted,
		Principal:          figures.Principal,
		FinalEquity:        figures.FinalEquity,
		GrossPnl:           figures.GrossPnl,
		HighWaterMark:      figures.HighWaterMark,
		HwmEligibleProfit:  figures.HwmEligibleProfit,
		PerformanceFeeRate: figures.PerformanceFeeRate,
		PerformanceFee:     figures.PerformanceFee,
		GuaranteedPayout:   figures.GuaranteedPayout,
		ReserveTopup:       figures.ReserveTopup,
		FinalPayout:        finalPayout,
		SettledAt:          timePtr(now),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if existing != nil {
		st.ID = existing.ID
		st.CreatedAt = existing.CreatedAt
	}
	if err := q.UpsertSettlement(ctx, st); err != nil {
		if errors.Is(err, domain.ErrAlreadySettled) {
			return s.skipSettled(ctx, q, sub, existing)
		}
		return nil, fmt.Errorf("settlement_service.Apply: upsert: %w", err)
	}

	if figures.ReserveTopup.IsPositive() {
		if err := q.LockKey(ctx, lockReserveFund); err != nil {
			return nil, fmt.Errorf("settlement_service.Apply: reserve lock: %w", err)
		}
		balance, err := q.ReserveFundBalance(ctx)
		if err != nil {
			return nil, fmt.Errorf("settlement_service.Apply: reserve balance: %w", err)
		}
		subID := sub.ID
		note := opts.TopupNote
		if note == "" {
			note = domain.NoteWorkerGuaranteeTopup
		}
		if err := q.AppendReserveEntry(ctx, &domain.ReserveFundEntry{
			ID:             uuid.New(),
			EntryType:      domain.ReserveGuaranteeTopup,
			Amount:         figures.ReserveTopup,
			BalanceAfter:   domain.Round(balance.Sub(figures.ReserveTopup)),
			SubscriptionID: &subID,
			Note:           note,
			CreatedAt:      now,
		}); err != nil {
			return nil, fmt.Errorf("settlement_service.Apply: topup: %w", err)
		}
	}

	update := repository.SettledUpdate{FinalEquity: figures.FinalEquity, SettledAt: now}
	if sub.MaturedAt == nil && !(opts.PreserveUnmatured && !eligible) {
		update.MaturedAt = timePtr(now)
	}
	if opts.EndAtNow {
		update.EndAt = timePtr(now)
	}
	if err := q.MarkSettled(ctx, sub.ID, update); err != nil {
		return nil, fmt.Errorf("settlement_service.Apply: mark settled: %w", err)
	}

	if _, err := s.reservations.Release(ctx, q, sub.WalletAddress, sub.ID, figures.Principal, domain.NoteSubscriptionSettled); err != nil {
		return nil, fmt.Errorf("settlement_service.Apply: release: %w", err)
	}

	settled, err := q.GetSubscription(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("settlement_service.Apply: reload: %w", err)
	}
	return &SettleResult{
		Outcome:           SettleCompleted,
		Subscription:      settled,
		Settlement:        st,
		Figures:           figures,
		GuaranteeEligible: eligible,
	}, nil
}

func (s *SettlementService) skipSettled(ctx context.Context, q repository.Queries, sub *domain.Subscription, st *domain.Settlement) (*SettleResult, error) {
	if _, err := s.reservations.Release(ctx, q, sub.WalletAddress, sub.ID, sub.Principal, domain.NoteSubscriptionSettled); err != nil {
		return nil, fmt.Errorf("settlement_service.Apply: release: %w", err)
	}
	return &SettleResult{Outcome: SettleAlreadySettled, Subscription: sub, Settlement: st}, nil
}

// MarkLiquidating moves sub to LIQUIDATING and deactivates its execution
// config. Returns false when it already was LIQUIDATING.
func (s *SettlementService) MarkLiquidating(ctx context.Context, q repository.Queries, sub *domain.Subscription) (bool, error) {
	if sub.Status == domain.SubLiquidating {
		return false, nil
	}
	if !sub.Status.CanTransition(domain.SubLiquidating) {
		return false, fmt.Errorf("settlement_service.MarkLiquidating: %s: %w", sub.Status, domain.ErrInvalidTransition)
	}
	if err := q.UpdateStatus(ctx, sub.ID, domain.SubLiquidating); err != nil {
		return false, fmt.Errorf("settlement_service.MarkLiquidating: %w", err)
	}
	if sub.CopyConfigID != nil {
		if err := s.gateway.Deactivate(ctx, *sub.CopyConfigID); err != nil {
			s.log.Warn("could not deactivate execution config",
				"subscription_id", sub.ID, "config_id", *sub.CopyConfigID, "error", err)
		}
	}
	return true, nil
}

// SettleDue settles up to limit subscriptions whose term has ended. Ones
// with open positions move to LIQUIDATING instead. Failures are logged and
// counted per subscription.
func (s *SettlementService) SettleDue(ctx context.Context, limit int) (SettleSummary, error) {
	var sum SettleSummary
	now := s.now()

	subs, err := s.store.ListSettlementCandidates(ctx, now, limit)
	if err != nil {
		return sum, fmt.Errorf("settlement_service.SettleDue: %w", err)
	}

	for _, sub := range subs {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		if err := s.settleOne(ctx, sub, now, &sum); err != nil {
			sum.Failed++
			metrics.Settlements.WithLabelValues("worker", "failed").Inc()
			s.log.Error("settlement failed", "subscription_id", sub.ID, "error", err)
		}
	}
	return sum, nil
}

func (s *SettlementService) settleOne(ctx context.Context, sub *domain.Subscription, now time.Time, sum *SettleSummary) error {
	open, err := s.gateway.OpenPositionCount(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("open positions: %w", err)
	}

	if open > 0 {
		var changed bool
		err := s.store.InTx(ctx, func(q repository.Queries) error {
			var err error
			changed, err = s.MarkLiquidating(ctx, q, sub)
			return err
		})
		if err != nil {
			return err
		}
		sum.Liquidating++
		if changed {
			s.notifier.SubscriptionStatus(sub.WalletAddress, sub.ID, domain.SubLiquidating)
		}
		return nil
	}

	var res *SettleResult
	err = s.store.InTx(ctx, func(q repository.Queries) error {
		var err error
		res, err = s.Apply(ctx, q, sub.ID, SettleOptions{Now: now, TopupNote: domain.NoteWorkerGuaranteeTopup})
		return err
	})
	if err != nil {
		return err
	}

	switch res.Outcome {
	case SettleCompleted:
		sum.Settled++
		metrics.Settlements.WithLabelValues("worker", "completed").Inc()
		metrics.GuaranteeTopups.Add(res.Settlement.ReserveTopup.InexactFloat64())
		s.notifier.SubscriptionStatus(sub.WalletAddress, sub.ID, domain.SubSettled)
		s.profitFees.DistributeBestEffort(ctx, res.Settlement, sub.WalletAddress, PrefixMaturity)
	default:
		sum.Skipped++
		metrics.Settlements.WithLabelValues("worker", "skipped").Inc()
	}
	return nil
}
