package execution

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// PGGateway reads and writes the execution engine's tables directly.
type PGGateway struct {
	db *sqlx.DB
}

// NewPGGateway creates a PGGateway on the shared database.
func NewPGGateway(db *sqlx.DB) *PGGateway {
	return &PGGateway{db: db}
}

// EnsureConfig reuses the oldest matching config, reactivating it, or
// inserts a new one.
func (g *PGGateway) EnsureConfig(ctx context.Context, req ConfigRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	var id string
	err := g.db.GetContext(ctx, &id, `
		SELECT id FROM copy_trading_configs
		WHERE wallet_address = $1 AND trader_address = $2 AND agent_id = $3
		ORDER BY created_at
		LIMIT 1`, req.WalletAddress, req.TraderAddress, req.AgentID)
	switch {
	case err == nil:
		if _, err = g.db.ExecContext(ctx,
			`UPDATE copy_trading_configs SET is_active = TRUE, updated_at = now() WHERE id = $1`, id); err != nil {
			return "", fmt.Errorf("pg_gateway.EnsureConfig reactivate: %w", err)
		}
		return checkConfigID(id)
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("pg_gateway.EnsureConfig lookup: %w", err)
	}

	err = g.db.GetContext(ctx, &id, `
		INSERT INTO copy_trading_configs
			(id, wallet_address, trader_address, agent_id, trader_name, strategy_profile, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		RETURNING id`,
		uuid.NewString(), req.WalletAddress, req.TraderAddress, req.AgentID, req.TraderName, string(req.StrategyProfile))
	if err != nil {
		return "", fmt.Errorf("pg_gateway.EnsureConfig insert: %w", err)
	}
	return checkConfigID(id)
}

// RealizedPnL sums realized_pnl over the config's trades that did not fail.
func (g *PGGateway) RealizedPnL(ctx context.Context, configID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := g.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(realized_pnl), 0)
		FROM copy_trades
		WHERE config_id = $1 AND realized_pnl IS NOT NULL AND status NOT IN ('FAILED', 'SKIPPED')`, configID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pg_gateway.RealizedPnL: %w", err)
	}
	return total, nil
}

// OpenPositionCount counts positions with a positive balance.
func (g *PGGateway) OpenPositionCount(ctx context.Context, subscriptionID uuid.UUID) (int, error) {
	var n int
	err := g.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM managed_subscription_positions WHERE subscription_id = $1 AND balance > 0`,
		subscriptionID)
	if err != nil {
		return 0, fmt.Errorf("pg_gateway.OpenPositionCount: %w", err)
	}
	return n, nil
}

// Deactivate marks the config inactive.
func (g *PGGateway) Deactivate(ctx context.Context, configID string) error {
	_, err := g.db.ExecContext(ctx,
		`UPDATE copy_trading_configs SET is_active = FALSE, updated_at = now() WHERE id = $1`, configID)
	if err != nil {
		return fmt.Errorf("pg_gateway.Deactivate: %w", err)
	}
	return nil
}

var _ Gateway = (*PGGateway)(nil)
