package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const navColumns = `id, subscription_id, snapshot_at, nav, equity, period_return, cumulative_return,
	drawdown, price_source, is_fallback_price, created_at`

// LatestNav returns the most recent snapshot, or nil.
func (s *PGStore) LatestNav(ctx context.Context, subscriptionID uuid.UUID) (*domain.NavSnapshot, error) {
	var snap domain.NavSnapshot
	err := sqlx.GetContext(ctx, s.q, &snap, `
		SELECT `+navColumns+`
		FROM managed_nav_snapshots
		WHERE subscription_id = $1
		ORDER BY snapshot_at DESC
		LIMIT 1`, subscriptionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("nav_repo.LatestNav: %w", err)
	}
	return &snap, nil
}

// MaxNav returns the historical peak NAV, or nil.
func (s *PGStore) MaxNav(ctx context.Context, subscriptionID uuid.UUID) (*decimal.Decimal, error) {
	var peak decimal.NullDecimal
	err := sqlx.GetContext(ctx, s.q, &peak,
		`SELECT MAX(nav) FROM managed_nav_snapshots WHERE subscription_id = $1`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("nav_repo.MaxNav: %w", err)
	}
	if !peak.Valid {
		return nil, nil
	}
	return &peak.Decimal, nil
}

// UpsertNav writes a snapshot keyed by (subscription_id, snapshot_at).
func (s *PGStore) UpsertNav(ctx context.Context, snap *domain.NavSnapshot) error {
	_, err := sqlx.NamedExecContext(ctx, s.q, `
		INSERT INTO managed_nav_snapshots
			(id, subscription_id, snapshot_at, nav, equity, period_return, cumulative_return,
			 drawdown, price_source, is_fallback_price, created_at)
		VALUES
			(:id, :subscription_id, :snapshot_at, :nav, :equity, :period_return, :cumulative_return,
			 :drawdown, :price_source, :is_fallback_price, :created_at)
		ON CONFLICT (subscription_id, snapshot_at) DO UPDATE SET
			nav               = EXCLUDED.nav,
			equity            = EXCLUDED.equity,
			period_return     = EXCLUDED.period_return,
			cumulative_return = EXCLUDED.cumulative_return,
			drawdown          = EXCLUDED.drawdown,
			price_source      = EXCLUDED.price_source,
			is_fallback_price = EXCLUDED.is_fallback_price`, snap)
	if err != nil {
		return fmt.Errorf("nav_repo.UpsertNav: %w", err)
	}
	return nil
}

// ListNav returns up to limit snapshots, newest first.
func (s *PGStore) ListNav(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*domain.NavSnapshot, error) {
	var out []*domain.NavSnapshot
	err := sqlx.SelectContext(ctx, s.q, &out, `
		SELECT `+navColumns+`
		FROM managed_nav_snapshots
		WHERE subscription_id = $1
		ORDER BY snapshot_at DESC
		LIMIT $2`, subscriptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("nav_repo.ListNav: %w", err)
	}
	return out, nil
}
