package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const settlementColumns = `id, subscription_id, status, principal, final_equity, gross_pnl, high_water_mark,
	hwm_eligible_profit, performance_fee_rate, performance_fee, guaranteed_payout, reserve_topup,
	final_payout, settled_at, created_at, updated_at`

const executionColumns = `id, subscription_id, settlement_id, wallet_address, gross_pnl, trade_id,
	commission_status, attempts, last_error, created_at, updated_at`

// GetSettlement returns the subscription's settlement, or nil.
func (s *PGStore) GetSettlement(ctx context.Context, subscriptionID uuid.UUID) (*domain.Settlement, error) {
	var st domain.Settlement
	err := sqlx.GetContext(ctx, s.q, &st, `
		SELECT `+settlementColumns+`
		FROM managed_settlements
		WHERE subscription_id = $1`, subscriptionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("settlement_repo.GetSettlement: %w", err)
	}
	return &st, nil
}

// UpsertSettlement writes the settlement. The WHERE clause on the conflict
// branch keeps a COMPLETED row immutable; in that case ErrAlreadySettled is
// returned.
func (s *PGStore) UpsertSettlement(ctx context.Context, st *domain.Settlement) error {
	query, args, err := sqlx.Named(`
		INSERT INTO managed_settlements
			(id, subscription_id, status, principal, final_equity, gross_pnl, high_water_mark,
			 hwm_eligible_profit, performance_fee_rate, performance_fee, guaranteed_payout,
			 reserve_topup, final_payout, settled_at, created_at, updated_at)
		VALUES
			(:id, :subscription_id, :status, :principal, :final_equity, :gross_pnl, :high_water_mark,
			 :hwm_eligible_profit, :performance_fee_rate, :performance_fee, :guaranteed_payout,
			 :reserve_topup, :final_payout, :settled_at, :created_at, :updated_at)
		ON CONFLICT (subscription_id) DO UPDATE SET
			status               = EXCLUDED.status,
			principal            = EXCLUDED.principal,
			final_equity         = EXCLUDED.final_equity,
			gross_pnl            = EXCLUDED.gross_pnl,
			high_water_mark      = EXCLUDED.high_water_mark,
			hwm_eligible_profit  = EXCLUDED.hwm_eligible_profit,
			performance_fee_rate = EXCLUDED.performance_fee_rate,
			performance_fee      = EXCLUDED.performance_fee,
			guaranteed_payout    = EXCLUDED.guaranteed_payout,
			reserve_topup        = EXCLUDED.reserve_topup,
			final_payout         = EXCLUDED.final_payout,
			settled_at           = EXCLUDED.settled_at,
			updated_at           = now()
		WHERE managed_settlements.status <> 'COMPLETED'
		RETURNING id`, st)
	if err != nil {
		return fmt.Errorf("settlement_repo.UpsertSettlement bind: %w", err)
	}

	var id uuid.UUID
	err = sqlx.GetContext(ctx, s.q, &id, s.q.Rebind(query), args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrAlreadySettled
		}
		return fmt.Errorf("settlement_repo.UpsertSettlement: %w", err)
	}
	st.ID = id
	return nil
}

// EnsureSettlementExecution creates the tracking row if needed and returns
// the stored one.
func (s *PGStore) EnsureSettlementExecution(ctx context.Context, e *domain.SettlementExecution) (*domain.SettlementExecution, error) {
	_, err := sqlx.NamedExecContext(ctx, s.q, `
		INSERT INTO managed_settlement_executions
			(id, subscription_id, settlement_id, wallet_address, gross_pnl, trade_id,
			 commission_status, attempts, last_error, created_at, updated_at)
		VALUES
			(:id, :subscription_id, :settlement_id, :wallet_address, :gross_pnl, :trade_id,
			 :commission_status, :attempts, :last_error, :created_at, :updated_at)
		ON CONFLICT (settlement_id) DO NOTHING`, e)
	if err != nil {
		return nil, fmt.Errorf("settlement_repo.EnsureSettlementExecution insert: %w", err)
	}

	var stored domain.SettlementExecution
	err = sqlx.GetContext(ctx, s.q, &stored, `
		SELECT `+executionColumns+`
		FROM managed_settlement_executions
		WHERE settlement_id = $1`, e.SettlementID)
	if err != nil {
		return nil, fmt.Errorf("settlement_repo.EnsureSettlementExecution select: %w", err)
	}
	return &stored, nil
}

// ClaimSettlementExecution moves a PENDING, FAILED or stale PROCESSING row to
// PROCESSING.
func (s *PGStore) ClaimSettlementExecution(ctx context.Context, id uuid.UUID, staleBefore time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE managed_settlement_executions
		SET commission_status = 'PROCESSING', attempts = attempts + 1, updated_at = now()
		WHERE id = $1
		  AND (commission_status IN ('PENDING', 'FAILED')
		       OR (commission_status = 'PROCESSING' AND updated_at < $2))`, id, staleBefore)
	if err != nil {
		return false, fmt.Errorf("settlement_repo.ClaimSettlementExecution: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// FinishSettlementExecution records the outcome of a distribution attempt.
func (s *PGStore) FinishSettlementExecution(ctx context.Context, id uuid.UUID, status domain.CommissionStatus, lastErr *string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE managed_settlement_executions
		SET commission_status = $1, last_error = $2, updated_at = now()
		WHERE id = $3`, status, lastErr, id)
	if err != nil {
		return fmt.Errorf("settlement_repo.FinishSettlementExecution: %w", err)
	}
	return nil
}

// ListRetryableExecutions returns distributions still owed, oldest first.
func (s *PGStore) ListRetryableExecutions(ctx context.Context, staleBefore time.Time, limit int) ([]*domain.SettlementExecution, error) {
	var out []*domain.SettlementExecution
	err := sqlx.SelectContext(ctx, s.q, &out, `
		SELECT `+executionColumns+`
		FROM managed_settlement_executions
		WHERE commission_status IN ('PENDING', 'FAILED')
		   OR (commission_status = 'PROCESSING' AND updated_at < $1)
		ORDER BY updated_at ASC
		LIMIT $2`, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("settlement_repo.ListRetryableExecutions: %w", err)
	}
	return out, nil
}
