package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const productColumns = `id, slug, name, strategy_profile, is_guaranteed, performance_fee_rate,
	reserve_coverage_min, status, is_active, created_at, updated_at`

const termColumns = `id, product_id, label, duration_days, target_return_min, target_return_max,
	max_drawdown, min_yield_rate, performance_fee_rate, max_subscription_amount, is_active`

const agentColumns = `id, product_id, trader_address, trader_name, weight, is_primary`

// GetProduct fetches a product by id.
func (s *PGStore) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	var p domain.Product
	err := sqlx.GetContext(ctx, s.q, &p,
		`SELECT `+productColumns+` FROM managed_products WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProductNotFound
		}
		return nil, fmt.Errorf("product_repo.GetProduct: %w", err)
	}
	return &p, nil
}

// GetProductBySlug fetches a product by its slug.
func (s *PGStore) GetProductBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	var p domain.Product
	err := sqlx.GetContext(ctx, s.q, &p,
		`SELECT `+productColumns+` FROM managed_products WHERE slug = $1`, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProductNotFound
		}
		return nil, fmt.Errorf("product_repo.GetProductBySlug: %w", err)
	}
	return &p, nil
}

// ListProducts returns products ordered by slug.
func (s *PGStore) ListProducts(ctx context.Context, activeOnly bool) ([]*domain.Product, error) {
	var out []*domain.Product
	err := sqlx.SelectContext(ctx, s.q, &out, `
		SELECT `+productColumns+`
		FROM managed_products
		WHERE ($1 = FALSE OR is_active = TRUE)
		ORDER BY slug`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("product_repo.ListProducts: %w", err)
	}
	return out, nil
}

// ListGuaranteedProducts returns active guaranteed products.
func (s *PGStore) ListGuaranteedProducts(ctx context.Context) ([]*domain.Product, error) {
	var out []*domain.Product
	err := sqlx.SelectContext(ctx, s.q, &out, `
		SELECT `+productColumns+`
		FROM managed_products
		WHERE is_guaranteed = TRUE AND is_active = TRUE
		ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("product_repo.ListGuaranteedProducts: %w", err)
	}
	return out, nil
}

// GetTerm fetches an active term owned by productID.
func (s *PGStore) GetTerm(ctx context.Context, productID, termID uuid.UUID) (*domain.Term, error) {
	var t domain.Term
	err := sqlx.GetContext(ctx, s.q, &t, `
		SELECT `+termColumns+`
		FROM managed_terms
		WHERE id = $1 AND product_id = $2 AND is_active = TRUE`, termID, productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTermNotFound
		}
		return nil, fmt.Errorf("product_repo.GetTerm: %w", err)
	}
	return &t, nil
}

// GetTermByID fetches a term whether or not it is active. Settlement uses
// it for subscriptions whose term was retired after admission.
func (s *PGStore) GetTermByID(ctx context.Context, termID uuid.UUID) (*domain.Term, error) {
	var t domain.Term
	err := sqlx.GetContext(ctx, s.q, &t, `
		SELECT `+termColumns+`
		FROM managed_terms
		WHERE id = $1`, termID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTermNotFound
		}
		return nil, fmt.Errorf("product_repo.GetTermByID: %w", err)
	}
	return &t, nil
}

// ListTerms returns the active terms of a product, shortest first.
func (s *PGStore) ListTerms(ctx context.Context, productID uuid.UUID) ([]*domain.Term, error) {
	var out []*domain.Term
	err := sqlx.SelectContext(ctx, s.q, &out, `
		SELECT `+termColumns+`
		FROM managed_terms
		WHERE product_id = $1 AND is_active = TRUE
		ORDER BY duration_days`, productID)
	if err != nil {
		return nil, fmt.Errorf("product_repo.ListTerms: %w", err)
	}
	return out, nil
}

// ListAgents returns a product's agents, primary first.
func (s *PGStore) ListAgents(ctx context.Context, productID uuid.UUID) ([]*domain.Agent, error) {
	var out []*domain.Agent
	err := sqlx.SelectContext(ctx, s.q, &out, `
		SELECT `+agentColumns+`
		FROM managed_product_agents
		WHERE product_id = $1
		ORDER BY is_primary DESC, weight DESC`, productID)
	if err != nil {
		return nil, fmt.Errorf("product_repo.ListAgents: %w", err)
	}
	return out, nil
}

// SetProductStatus flips a product between ACTIVE and PAUSED.
func (s *PGStore) SetProductStatus(ctx context.Context, id uuid.UUID, status domain.ProductStatus) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE managed_products SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("product_repo.SetProductStatus: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

// UpsertProduct inserts or refreshes a catalog product. status is only set on
// insert so reserve coverage control keeps ownership of it.
func (s *PGStore) UpsertProduct(ctx context.Context, p *domain.Product) error {
	_, err := sqlx.NamedExecContext(ctx, s.q, `
		INSERT INTO managed_products
			(id, slug, name, strategy_profile, is_guaranteed, performance_fee_rate,
			 reserve_coverage_min, status, is_active, created_at, updated_at)
		VALUES
			(:id, :slug, :name, :strategy_profile, :is_guaranteed, :performance_fee_rate,
			 :reserve_coverage_min, :status, :is_active, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			slug                 = EXCLUDED.slug,
			name                 = EXCLUDED.name,
			strategy_profile     = EXCLUDED.strategy_profile,
			is_guaranteed        = EXCLUDED.is_guaranteed,
			performance_fee_rate = EXCLUDED.performance_fee_rate,
			reserve_coverage_min = EXCLUDED.reserve_coverage_min,
			is_active            = EXCLUDED.is_active,
			updated_at           = now()`, p)
	if err != nil {
		return fmt.Errorf("product_repo.UpsertProduct: %w", err)
	}
	return nil
}

// UpsertTerm inserts a term. Terms are immutable so an existing row is kept
// as is apart from its active flag.
func (s *PGStore) UpsertTerm(ctx context.Context, t *domain.Term) error {
	_, err := sqlx.NamedExecContext(ctx, s.q, `
		INSERT INTO managed_terms
			(id, product_id, label, duration_days, target_return_min, target_return_max,
			 max_drawdown, min_yield_rate, performance_fee_rate, max_subscription_amount, is_active)
		VALUES
			(:id, :product_id, :label, :duration_days, :target_return_min, :target_return_max,
			 :max_drawdown, :min_yield_rate, :performance_fee_rate, :max_subscription_amount, :is_active)
		ON CONFLICT (id) DO UPDATE SET is_active = EXCLUDED.is_active`, t)
	if err != nil {
		return fmt.Errorf("product_repo.UpsertTerm: %w", err)
	}
	return nil
}

// UpsertAgent inserts or refreshes a product agent.
func (s *PGStore) UpsertAgent(ctx context.Context, a *domain.Agent) error {
	_, err := sqlx.NamedExecContext(ctx, s.q, `
		INSERT INTO managed_product_agents
			(id, product_id, trader_address, trader_name, weight, is_primary)
		VALUES
			(:id, :product_id, :trader_address, :trader_name, :weight, :is_primary)
		ON CONFLICT (id) DO UPDATE SET
			trader_address = EXCLUDED.trader_address,
			trader_name    = EXCLUDED.trader_name,
			weight         = EXCLUDED.weight,
			is_primary     = EXCLUDED.is_primary`, a)
	if err != nil {
		return fmt.Errorf("product_repo.UpsertAgent: %w", err)
	}
	return nil
}
