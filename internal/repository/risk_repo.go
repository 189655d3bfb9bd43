package repository

import (
	"context"
	"fmt"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/jmoiron/sqlx"
)

// InsertRiskEvent appends a risk event.
func (s *PGStore) InsertRiskEvent(ctx context.Context, e *domain.RiskEvent) error {
	_, err := sqlx.NamedExecContext(ctx, s.q, `
		INSERT INTO managed_risk_events
			(id, subscription_id, severity, metric, threshold, observed_value, action, note, created_at)
		VALUES
			(:id, :subscription_id, :severity, :metric, :threshold, :observed_value, :action, :note, :created_at)`, e)
	if err != nil {
		return fmt.Errorf("risk_repo.InsertRiskEvent: %w", err)
	}
	return nil
}

// ListRiskEvents returns the most recent risk events.
func (s *PGStore) ListRiskEvents(ctx context.Context, limit int) ([]*domain.RiskEvent, error) {
	var out []*domain.RiskEvent
	err := sqlx.SelectContext(ctx, s.q, &out, `
		SELECT id, subscription_id, severity, metric, threshold, observed_value, action, note, created_at
		FROM managed_risk_events
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("risk_repo.ListRiskEvents: %w", err)
	}
	return out, nil
}
