// Package catalog loads the static managed-wealth product catalog from a
// YAML file and syncs it into the store.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/evetabi/managedwealth/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// File is the document root.
type File struct {
	Products []ProductSpec `yaml:"products"`
}

// ProductSpec describes one product with its terms and agents.
type ProductSpec struct {
	ID                 string      `yaml:"id"`
	Slug               string      `yaml:"slug"`
	Name               string      `yaml:"name"`
	StrategyProfile    string      `yaml:"strategy_profile"`
	IsGuaranteed       bool        `yaml:"is_guaranteed"`
	PerformanceFeeRate string      `yaml:"performance_fee_rate"`
	ReserveCoverageMin string      `yaml:"reserve_coverage_min"`
	Inactive           bool        `yaml:"inactive"`
	Terms              []TermSpec  `yaml:"terms"`
	Agents             []AgentSpec `yaml:"agents"`
}

// TermSpec describes a term. Rates are decimal strings.
type TermSpec struct {
	ID                    string `yaml:"id"`
	Label                 string `yaml:"label"`
	DurationDays          int    `yaml:"duration_days"`
	TargetReturnMin       string `yaml:"target_return_min"`
	TargetReturnMax       string `yaml:"target_return_max"`
	MaxDrawdown           string `yaml:"max_drawdown"`
	MinYieldRate          string `yaml:"min_yield_rate"`
	PerformanceFeeRate    string `yaml:"performance_fee_rate"`
	MaxSubscriptionAmount string `yaml:"max_subscription_amount"`
	Inactive              bool   `yaml:"inactive"`
}

// AgentSpec describes a copied trader.
type AgentSpec struct {
	ID            string `yaml:"id"`
	TraderAddress string `yaml:"trader_address"`
	TraderName    string `yaml:"trader_name"`
	Weight        int    `yaml:"weight"`
	Primary       bool   `yaml:"primary"`
}

// Catalog is the parsed, validated catalog.
type Catalog struct {
	Products []*domain.Product
	Agents   []*domain.Agent
}

// LoadFile reads and parses a catalog file.
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog.LoadFile: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a catalog document.
func Parse(raw []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("catalog.Parse: %w", err)
	}

	out := &Catalog{}
	var errs []error
	for i, ps := range f.Products {
		p, agents, err := ps.build()
		if err != nil {
			errs = append(errs, fmt.Errorf("products[%d] (%s): %w", i, ps.Slug, err))
			continue
		}
		out.Products = append(out.Products, p)
		out.Agents = append(out.Agents, agents...)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (ps ProductSpec) build() (*domain.Product, []*domain.Agent, error) {
	id, err := uuid.Parse(ps.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("id: %w", err)
	}
	if ps.Slug == "" {
		return nil, nil, errors.New("slug is required")
	}
	profile := domain.StrategyProfile(ps.StrategyProfile)
	if !profile.Valid() {
		return nil, nil, fmt.Errorf("unknown strategy_profile %q", ps.StrategyProfile)
	}
	feeRate, err := rate(ps.PerformanceFeeRate, "0")
	if err != nil {
		return nil, nil, fmt.Errorf("performance_fee_rate: %w", err)
	}
	coverage, err := rate(ps.ReserveCoverageMin, "1")
	if err != nil {
		return nil, nil, fmt.Errorf("reserve_coverage_min: %w", err)
	}

	p := &domain.Product{
		ID:                 id,
		Slug:               ps.Slug,
		Name:               ps.Name,
		StrategyProfile:    profile,
		IsGuaranteed:       ps.IsGuaranteed,
		PerformanceFeeRate: feeRate,
		ReserveCoverageMin: coverage,
		Status:             domain.ProductActive,
		IsActive:           !ps.Inactive,
	}

	for j, ts := range ps.Terms {
		t, err := ts.build(id, ps.IsGuaranteed)
		if err != nil {
			return nil, nil, fmt.Errorf("terms[%d]: %w", j, err)
		}
		p.Terms = append(p.Terms, t)
	}

	var agents []*domain.Agent
	for j, as := range ps.Agents {
		aid, err := uuid.Parse(as.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("agents[%d].id: %w", j, err)
		}
		if as.TraderAddress == "" {
			return nil, nil, fmt.Errorf("agents[%d]: trader_address is required", j)
		}
		weight := as.Weight
		if weight == 0 {
			weight = 100
		}
		agents = append(agents, &domain.Agent{
			ID:            aid,
			ProductID:     id,
			TraderAddress: domain.NormalizeWallet(as.TraderAddress),
			TraderName:    as.TraderName,
			Weight:        weight,
			IsPrimary:     as.Primary,
		})
	}
	return p, agents, nil
}

func (ts TermSpec) build(productID uuid.UUID, guaranteed bool) (*domain.Term, error) {
	id, err := uuid.Parse(ts.ID)
	if err != nil {
		return nil, fmt.Errorf("id: %w", err)
	}
	if ts.DurationDays <= 0 {
		return nil, errors.New("duration_days must be positive")
	}
	t := &domain.Term{
		ID:           id,
		ProductID:    productID,
		Label:        ts.Label,
		DurationDays: ts.DurationDays,
		IsActive:     !ts.Inactive,
	}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"target_return_min", ts.TargetReturnMin, &t.TargetReturnMin},
		{"target_return_max", ts.TargetReturnMax, &t.TargetReturnMax},
		{"max_drawdown", ts.MaxDrawdown, &t.MaxDrawdown},
		{"min_yield_rate", ts.MinYieldRate, &t.MinYieldRate},
	}
	for _, f := range fields {
		v, err := rate(f.raw, "0")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	if !guaranteed {
		t.MinYieldRate = decimal.Zero
	}
	if ts.PerformanceFeeRate != "" {
		v, err := rate(ts.PerformanceFeeRate, "0")
		if err != nil {
			return nil, fmt.Errorf("performance_fee_rate: %w", err)
		}
		t.PerformanceFeeRate = &v
	}
	if ts.MaxSubscriptionAmount != "" {
		v, err := decimal.NewFromString(ts.MaxSubscriptionAmount)
		if err != nil || !v.IsPositive() {
			return nil, fmt.Errorf("max_subscription_amount: invalid %q", ts.MaxSubscriptionAmount)
		}
		t.MaxSubscriptionAmount = &v
	}
	return t, nil
}

func rate(raw, def string) (decimal.Decimal, error) {
	if raw == "" {
		raw = def
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if v.IsNegative() {
		return decimal.Zero, fmt.Errorf("must not be negative, got %s", raw)
	}
	return v, nil
}

// Sync upserts every product, term and agent in one transaction. Product
// status is never overwritten for existing rows.
func (c *Catalog) Sync(ctx context.Context, store repository.Store) error {
	return store.InTx(ctx, func(q repository.Queries) error {
		for _, p := range c.Products {
			if err := q.UpsertProduct(ctx, p); err != nil {
				return err
			}
			for _, t := range p.Terms {
				if err := q.UpsertTerm(ctx, t); err != nil {
					return err
				}
			}
		}
		for _, a := range c.Agents {
			if err := q.UpsertAgent(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
}
