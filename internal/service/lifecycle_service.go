package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/evetabi/managedwealth/internal/execution"
	"github.com/evetabi/managedwealth/internal/repository"
)

// LifecycleService drives the worker-owned transitions: PENDING → RUNNING
// once an execution config is mapped, and RUNNING → MATURED at term end.
type LifecycleService struct {
	store    repository.Store
	gateway  execution.Gateway
	notifier Notifier
	log      *slog.Logger
	now      Clock
}

// NewLifecycleService creates a LifecycleService.
func NewLifecycleService(store repository.Store, gateway execution.Gateway, log *slog.Logger) *LifecycleService {
	return &LifecycleService{
		store:    store,
		gateway:  gateway,
		notifier: nopNotifier{},
		log:      log.With("component", "lifecycle_service"),
		now:      utcNow,
	}
}

// SetNotifier injects the WS Hub dependency post-construction.
func (s *LifecycleService) SetNotifier(n Notifier) { s.notifier = n }

// MapExecutions links up to limit unmapped subscriptions of active products
// to an execution config for the product's primary agent and moves them to
// RUNNING. Subscriptions whose product has no agent are skipped.
func (s *LifecycleService) MapExecutions(ctx context.Context, limit int) (mapped, failed int, err error) {
	subs, err := s.store.ListUnmapped(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("lifecycle_service.MapExecutions: %w", err)
	}

	for _, sub := range subs {
		if ctx.Err() != nil {
			return mapped, failed, ctx.Err()
		}
		ok, err := s.mapOne(ctx, sub)
		if err != nil {
			failed++
			s.log.Warn("execution mapping failed", "subscription_id", sub.ID, "error", err)
			continue
		}
		if ok {
			mapped++
		}
	}
	return mapped, failed, nil
}

func (s *LifecycleService) mapOne(ctx context.Context, sub *domain.Subscription) (bool, error) {
	product, err := s.store.GetProduct(ctx, sub.ProductID)
	if err != nil {
		return false, err
	}
	agents, err := s.store.ListAgents(ctx, sub.ProductID)
	if err != nil {
		return false, err
	}
	agent := domain.PrimaryAgent(agents)
	if agent == nil {
		s.log.Warn("no agent mapped to product", "product", product.Slug, "subscription_id", sub.ID)
		return false, nil
	}
	term, err := s.store.GetTermByID(ctx, sub.TermID)
	if err != nil {
		return false, err
	}

	configID, err := s.gateway.EnsureConfig(ctx, execution.ConfigRequest{
		SubscriptionID:  sub.ID,
		WalletAddress:   sub.WalletAddress,
		TraderAddress:   agent.TraderAddress,
		TraderName:      agent.TraderName,
		AgentID:         agent.ID,
		StrategyProfile: product.StrategyProfile,
	})
	if err != nil {
		return false, fmt.Errorf("ensure config: %w", err)
	}

	now := s.now()
	startAt := now
	if sub.StartAt != nil {
		startAt = *sub.StartAt
	}
	endAt := now.Add(term.Duration())
	if sub.EndAt != nil {
		endAt = *sub.EndAt
	}
	if err := s.store.MarkMapped(ctx, sub.ID, configID, startAt, endAt); err != nil {
		return false, err
	}

	s.notifier.SubscriptionStatus(sub.WalletAddress, sub.ID, domain.SubRunning)
	return true, nil
}

// MarkMatured moves every RUNNING subscription past its end date to
// MATURED.
func (s *LifecycleService) MarkMatured(ctx context.Context) (int, error) {
	n, err := s.store.MarkMatured(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("lifecycle_service.MarkMatured: %w", err)
	}
	return n, nil
}
