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
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const subscriptionColumns = `id, wallet_address, product_id, term_id, principal, high_water_mark,
	current_equity, status, start_at, end_at, matured_at, settled_at, is_trial, trial_ends_at,
	copy_config_id, created_at, updated_at`

// CreateSubscription inserts a new subscription.
func (s *PGStore) CreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	_, err := sqlx.NamedExecContext(ctx, s.q, `
		INSERT INTO managed_subscriptions
			(id, wallet_address, product_id, term_id, principal, high_water_mark, current_equity,
			 status, start_at, end_at, matured_at, settled_at, is_trial, trial_ends_at,
			 copy_config_id, created_at, updated_at)
		VALUES
			(:id, :wallet_address, :product_id, :term_id, :principal, :high_water_mark, :current_equity,
			 :status, :start_at, :end_at, :matured_at, :settled_at, :is_trial, :trial_ends_at,
			 :copy_config_id, :created_at, :updated_at)`, sub)
	if err != nil {
		return fmt.Errorf("subscription_repo.CreateSubscription: %w", err)
	}
	return nil
}

// GetSubscription fetches a subscription by id.
func (s *PGStore) GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	return s.getSubscription(ctx, id, "")
}

// GetSubscriptionForUpdate fetches and row-locks a subscription.
func (s *PGStore) GetSubscriptionForUpdate(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	if s.tx == nil {
		return s.getSubscription(ctx, id, "")
	}
	return s.getSubscription(ctx, id, " FOR UPDATE")
}

func (s *PGStore) getSubscription(ctx context.Context, id uuid.UUID, suffix string) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := sqlx.GetContext(ctx, s.q, &sub,
		`SELECT `+subscriptionColumns+` FROM managed_subscriptions WHERE id = $1`+suffix, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("subscription_repo.GetSubscription: %w", err)
	}
	return &sub, nil
}

// ListSubscriptionsByWallet returns the wallet's subscriptions, newest first.
// An empty status returns every status.
func (s *PGStore) ListSubscriptionsByWallet(ctx context.Context, wallet string, status domain.SubscriptionStatus) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	err := sqlx.SelectContext(ctx, s.q, &out, `
		SELECT `+subscriptionColumns+`
		FROM managed_subscriptions
		WHERE wallet_address = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC`, wallet, string(status))
	if err != nil {
		return nil, fmt.Errorf("subscription_repo.ListSubscriptionsByWallet: %w", err)
	}
	return out, nil
}

// CountSubscriptionsByWallet counts every subscription the wallet ever made.
func (s *PGStore) CountSubscriptionsByWallet(ctx context.Context, wallet string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, s.q, &n,
		`SELECT COUNT(*) FROM managed_subscriptions WHERE wallet_address = $1`, wallet)
	if err != nil {
		return 0, fmt.Errorf("subscription_repo.CountSubscriptionsByWallet: %w", err)
	}
	return n, nil
}

// SumPrincipalByWallet totals principal over the given statuses.
func (s *PGStore) SumPrincipalByWallet(ctx context.Context, wallet string, statuses []domain.SubscriptionStatus) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := sqlx.GetContext(ctx, s.q, &total, `
		SELECT COALESCE(SUM(principal), 0)
		FROM managed_subscriptions
		WHERE wallet_address = $1 AND status = ANY($2)`, wallet, pq.Array(statusStrings(statuses)))
	if err != nil {
		return decimal.Zero, fmt.Errorf("subscription_repo.SumPrincipalByWallet: %w", err)
	}
	return total, nil
}

// ListUnmapped returns PENDING or RUNNING subscriptions without an execution
// config whose product accepts subscriptions, oldest first.
func (s *PGStore) ListUnmapped(ctx context.Context, limit int) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	err := sqlx.SelectContext(ctx, s.q, &out, `
		SELECT s.id, s.wallet_address, s.product_id, s.term_id, s.principal, s.high_water_mark,
		       s.current_equity, s.status, s.start_at, s.end_at, s.matured_at, s.settled_at,
		       s.is_trial, s.trial_ends_at, s.copy_config_id, s.created_at, s.updated_at
		FROM managed_subscriptions s
		JOIN managed_products p ON p.id = s.product_id
		WHERE s.status IN ('PENDING', 'RUNNING')
		  AND s.copy_config_id IS NULL
		  AND p.is_active = TRUE AND p.status = 'ACTIVE'
		ORDER BY s.created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("subscription_repo.ListUnmapped: %w", err)
	}
	return out, nil
}

// ListNavCandidates returns RUNNING and LIQUIDATING subscriptions that are
// mapped to an execution config.
func (s *PGStore) ListNavCandidates(ctx context.Context, limit int) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	err := sqlx.SelectContext(ctx, s.q, &out, `
		SELECT `+subscriptionColumns+`
		FROM managed_subscriptions
		WHERE status IN ('RUNNING', 'LIQUIDATING') AND copy_config_id IS NOT NULL
		ORDER BY updated_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("subscription_repo.ListNavCandidates: %w", err)
	}
	return out, nil
}

// ListSettlementCandidates returns settleable subscriptions whose end date
// has passed.
func (s *PGStore) ListSettlementCandidates(ctx context.Context, now time.Time, limit int) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	err := sqlx.SelectContext(ctx, s.q, &out, `
		SELECT `+subscriptionColumns+`
		FROM managed_subscriptions
		WHERE status = ANY($1) AND end_at IS NOT NULL AND end_at <= $2
		ORDER BY end_at
		LIMIT $3`, pq.Array(statusStrings(domain.SettleableStatuses)), now, limit)
	if err != nil {
		return nil, fmt.Errorf("subscription_repo.ListSettlementCandidates: %w", err)
	}
	return out, nil
}

func (s *PGStore) ListByStatus(ctx context.Context, status domain.SubscriptionStatus, limit int) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	err := sqlx.SelectContext(ctx, s.q, &out, `
		SELECT `+subscriptionColumns+`
		FROM managed_subscriptions
		WHERE status = $1
		ORDER BY updated_at
		LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("subscription_repo.ListByStatus: %w", err)
	}
	return out, nil
}

// MarkMapped links the execution config and moves the subscription to
// RUNNING. Existing start/end dates are kept.
func (s *PGStore) MarkMapped(ctx context.Context, id uuid.UUID, configID string, startAt, endAt time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE managed_subscriptions
		SET copy_config_id = $1,
		    status         = 'RUNNING',
		    start_at       = COALESCE(start_at, $2),
		    end_at         = COALESCE(end_at, $3),
		    updated_at     = now()
		WHERE id = $4 AND status IN ('PENDING', 'RUNNING')`, configID, startAt, endAt, id)
	if err != nil {
		return fmt.Errorf("subscription_repo.MarkMapped: %w", err)
	}
	return nil
}

// MarkMatured moves every RUNNING subscription past its end date to MATURED.
func (s *PGStore) MarkMatured(ctx context.Context, now time.Time) (int, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE managed_subscriptions
		SET status = 'MATURED', matured_at = $1, updated_at = now()
		WHERE status = 'RUNNING' AND end_at IS NOT NULL AND end_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("subscription_repo.MarkMatured: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// UpdateEquity records current equity and raises the high-water mark of a
// RUNNING or LIQUIDATING subscription. Other statuses are left untouched.
func (s *PGStore) UpdateEquity(ctx context.Context, id uuid.UUID, equity decimal.Decimal) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE managed_subscriptions
		SET current_equity  = $1,
		    high_water_mark = GREATEST(high_water_mark, $1),
		    updated_at      = now()
		WHERE id = $2 AND status IN ('RUNNING', 'LIQUIDATING')`, equity, id)
	if err != nil {
		return fmt.Errorf("subscription_repo.UpdateEquity: %w", err)
	}
	return nil
}

// UpdateStatus sets a non-terminal status.
func (s *PGStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE managed_subscriptions
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status NOT IN ('SETTLED', 'CANCELLED')`, status, id)
	if err != nil {
		return fmt.Errorf("subscription_repo.UpdateStatus: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// MarkSettled moves the subscription to SETTLED.
func (s *PGStore) MarkSettled(ctx context.Context, id uuid.UUID, u SettledUpdate) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE managed_subscriptions
		SET status          = 'SETTLED',
		    current_equity  = $1,
		    high_water_mark = GREATEST(high_water_mark, $1),
		    settled_at      = $2,
		    matured_at      = COALESCE($3, matured_at),
		    end_at          = COALESCE($4, end_at),
		    updated_at      = now()
		WHERE id = $5`, u.FinalEquity, u.SettledAt, u.MaturedAt, u.EndAt, id)
	if err != nil {
		return fmt.Errorf("subscription_repo.MarkSettled: %w", err)
	}
	return nil
}

// CountByStatus counts subscriptions per status.
func (s *PGStore) CountByStatus(ctx context.Context) (StatusCounts, error) {
	var rows []struct {
		Status domain.SubscriptionStatus `db:"status"`
		N      int                       `db:"n"`
	}
	err := sqlx.SelectContext(ctx, s.q, &rows,
		`SELECT status, COUNT(*) AS n FROM managed_subscriptions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("subscription_repo.CountByStatus: %w", err)
	}
	out := make(StatusCounts, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// CountStaleUnmapped counts unmapped PENDING/RUNNING subscriptions created
// before createdBefore.
func (s *PGStore) CountStaleUnmapped(ctx context.Context, createdBefore time.Time) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, s.q, &n, `
		SELECT COUNT(*) FROM managed_subscriptions
		WHERE status IN ('PENDING', 'RUNNING') AND copy_config_id IS NULL AND created_at < $1`,
		createdBefore)
	if err != nil {
		return 0, fmt.Errorf("subscription_repo.CountStaleUnmapped: %w", err)
	}
	return n, nil
}

// CountOverdue counts settleable subscriptions past their end date.
func (s *PGStore) CountOverdue(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, s.q, &n, `
		SELECT COUNT(*) FROM managed_subscriptions
		WHERE status = ANY($1) AND end_at IS NOT NULL AND end_at <= $2`,
		pq.Array(statusStrings(domain.SettleableStatuses)), now)
	if err != nil {
		return 0, fmt.Errorf("subscription_repo.CountOverdue: %w", err)
	}
	return n, nil
}

// ListGuaranteeExposures returns the liability inputs of open guaranteed
// subscriptions.
func (s *PGStore) ListGuaranteeExposures(ctx context.Context, productID *uuid.UUID) ([]domain.GuaranteeExposure, error) {
	var out []domain.GuaranteeExposure
	err := sqlx.SelectContext(ctx, s.q, &out, `
		SELECT s.id AS subscription_id, s.product_id, s.principal, t.min_yield_rate
		FROM managed_subscriptions s
		JOIN managed_products p ON p.id = s.product_id
		JOIN managed_terms t ON t.id = s.term_id
		WHERE s.status = ANY($1)
		  AND p.is_guaranteed = TRUE AND p.is_active = TRUE
		  AND ($2::uuid IS NULL OR s.product_id = $2)`,
		pq.Array(statusStrings(domain.LiabilityStatuses)), productID)
	if err != nil {
		return nil, fmt.Errorf("subscription_repo.ListGuaranteeExposures: %w", err)
	}
	return out, nil
}
