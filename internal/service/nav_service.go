package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/evetabi/managedwealth/internal/execution"
	"github.com/evetabi/managedwealth/internal/repository"
	"github.com/google/uuid"
)

// NavService maintains the NAV series and the equity/high-water-mark of
// mapped subscriptions.
type NavService struct {
	store    repository.Store
	gateway  execution.Gateway
	notifier Notifier
	log      *slog.Logger
	now      Clock
}

// NewNavService creates a NavService.
func NewNavService(store repository.Store, gateway execution.Gateway, log *slog.Logger) *NavService {
	return &NavService{
		store:    store,
		gateway:  gateway,
		notifier: nopNotifier{},
		log:      log.With("component", "nav_service"),
		now:      utcNow,
	}
}

// SetNotifier injects the WS Hub dependency post-construction.
func (s *NavService) SetNotifier(n Notifier) { s.notifier = n }

// WriteInitial stores the nav=1 snapshot of a new subscription on the
// caller's transaction.
func (s *NavService) WriteInitial(ctx context.Context, q repository.Queries, sub *domain.Subscription) error {
	snap := domain.InitialNav(sub.ID, sub.Principal, s.now())
	snap.ID = uuid.New()
	snap.CreatedAt = s.now()
	if err := q.UpsertNav(ctx, snap); err != nil {
		return fmt.Errorf("nav_service.WriteInitial: %w", err)
	}
	return nil
}

// Refresh recomputes one subscription's NAV from realized PnL. Repeated
// calls inside the same minute overwrite the same snapshot. The row is
// re-read under lock; a subscription that left RUNNING/LIQUIDATING since it
// was listed is skipped and Refresh returns a nil snapshot.
func (s *NavService) Refresh(ctx context.Context, sub *domain.Subscription) (*domain.NavSnapshot, error) {
	if sub.CopyConfigID == nil {
		return nil, fmt.Errorf("nav_service.Refresh: subscription %s has no execution config", sub.ID)
	}
	pnl, err := s.gateway.RealizedPnL(ctx, *sub.CopyConfigID)
	if err != nil {
		return nil, fmt.Errorf("nav_service.Refresh: realized pnl: %w", err)
	}

	var snap *domain.NavSnapshot
	err = s.store.InTx(ctx, func(q repository.Queries) error {
		locked, err := q.GetSubscriptionForUpdate(ctx, sub.ID)
		if err != nil {
			return err
		}
		if !locked.Status.AcceptsNav() {
			return nil
		}

		prev, err := q.LatestNav(ctx, sub.ID)
		if err != nil {
			return err
		}
		peak, err := q.MaxNav(ctx, sub.ID)
		if err != nil {
			return err
		}

		in := domain.NavInput{
			SubscriptionID: sub.ID,
			Principal:      locked.Principal,
			RealizedPnL:    pnl,
			PeakNav:        peak,
			At:             s.now(),
		}
		if prev != nil {
			in.PrevEquity = &prev.Equity
		}
		snap = domain.ComputeNav(in)
		snap.ID = uuid.New()
		snap.CreatedAt = s.now()

		if err := q.UpsertNav(ctx, snap); err != nil {
			return err
		}
		return q.UpdateEquity(ctx, sub.ID, snap.Equity)
	})
	if err != nil {
		return nil, fmt.Errorf("nav_service.Refresh: %w", err)
	}

	if snap == nil {
		s.log.Debug("nav refresh skipped, subscription no longer open", "subscription_id", sub.ID)
		return nil, nil
	}
	s.notifier.NavUpdated(sub.WalletAddress, snap)
	return snap, nil
}

// RefreshBatch refreshes up to limit RUNNING or LIQUIDATING subscriptions.
// Individual failures are logged and counted, not returned.
func (s *NavService) RefreshBatch(ctx context.Context, limit int) (updated, failed int, err error) {
	subs, err := s.store.ListNavCandidates(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("nav_service.RefreshBatch: %w", err)
	}
	for _, sub := range subs {
		if ctx.Err() != nil {
			return updated, failed, ctx.Err()
		}
		snap, err := s.Refresh(ctx, sub)
		if err != nil {
			failed++
			s.log.Warn("nav refresh failed", "subscription_id", sub.ID, "error", err)
			continue
		}
		if snap != nil {
			updated++
		}
	}
	return updated, failed, nil
}

// History returns up to limit snapshots, newest first.
func (s *NavService) History(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*domain.NavSnapshot, error) {
	snaps, err := s.store.ListNav(ctx, subscriptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("nav_service.History: %w", err)
	}
	return snaps, nil
}
