package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// StrategyProfile is the risk bucket a managed product trades in.
type StrategyProfile string

const (
	ProfileConservative StrategyProfile = "CONSERVATIVE"
	ProfileModerate     StrategyProfile = "MODERATE"
	ProfileAggressive   StrategyProfile = "AGGRESSIVE"
)

// Valid reports whether p is one of the known profiles.
func (p StrategyProfile) Valid() bool {
	switch p {
	case ProfileConservative, ProfileModerate, ProfileAggressive:
		return true
	}
	return false
}

// ProductStatus gates new admissions. Existing subscriptions are never
// affected by a product being paused.
type ProductStatus string

const (
	ProductActive ProductStatus = "ACTIVE"
	ProductPaused ProductStatus = "PAUSED"
)

// ──────────────────────────────────────────────────────────────────────────────
// Catalog entities
// ──────────────────────────────────────────────────────────────────────────────

// Product is a managed-wealth catalog entry.
type Product struct {
	ID                 uuid.UUID       `json:"id"                 db:"id"`
	Slug               string          `json:"slug"               db:"slug"`
	Name               string          `json:"name"               db:"name"`
	StrategyProfile    StrategyProfile `json:"strategyProfile"    db:"strategy_profile"`
	IsGuaranteed       bool            `json:"isGuaranteed"       db:"is_guaranteed"`
	PerformanceFeeRate decimal.Decimal `json:"performanceFeeRate" db:"performance_fee_rate"`
	ReserveCoverageMin decimal.Decimal `json:"reserveCoverageMin" db:"reserve_coverage_min"`
	Status             ProductStatus   `json:"status"             db:"status"`
	IsActive           bool            `json:"isActive"           db:"is_active"`
	CreatedAt          time.Time       `json:"createdAt"          db:"created_at"`
	UpdatedAt          time.Time       `json:"updatedAt"          db:"updated_at"`

	Terms []*Term `json:"terms,omitempty" db:"-"`
}

// AcceptsSubscriptions reports whether new subscriptions may be admitted.
func (p *Product) AcceptsSubscriptions() bool {
	return p.IsActive && p.Status == ProductActive
}

// Term is a fixed-duration offering owned by a product. Terms are immutable
// once created.
type Term struct {
	ID                    uuid.UUID        `json:"id"                    db:"id"`
	ProductID             uuid.UUID        `json:"productId"             db:"product_id"`
	Label                 string           `json:"label"                 db:"label"`
	DurationDays          int              `json:"durationDays"          db:"duration_days"`
	TargetReturnMin       decimal.Decimal  `json:"targetReturnMin"       db:"target_return_min"`
	TargetReturnMax       decimal.Decimal  `json:"targetReturnMax"       db:"target_return_max"`
	MaxDrawdown           decimal.Decimal  `json:"maxDrawdown"           db:"max_drawdown"`
	MinYieldRate          decimal.Decimal  `json:"minYieldRate"          db:"min_yield_rate"`
	PerformanceFeeRate    *decimal.Decimal `json:"performanceFeeRate"    db:"performance_fee_rate"`
	MaxSubscriptionAmount *decimal.Decimal `json:"maxSubscriptionAmount" db:"max_subscription_amount"`
	IsActive              bool             `json:"isActive"              db:"is_active"`
}

// Duration returns the term length as a time.Duration.
func (t *Term) Duration() time.Duration {
	return time.Duration(t.DurationDays) * 24 * time.Hour
}

// ExceedsCap reports whether principal is above the term's per-subscription cap.
func (t *Term) ExceedsCap(principal decimal.Decimal) bool {
	return t.MaxSubscriptionAmount != nil && principal.GreaterThan(*t.MaxSubscriptionAmount)
}

// Agent is a trader the execution engine copies for a product.
type Agent struct {
	ID            uuid.UUID `json:"id"            db:"id"`
	ProductID     uuid.UUID `json:"productId"     db:"product_id"`
	TraderAddress string    `json:"traderAddress" db:"trader_address"`
	TraderName    string    `json:"traderName"    db:"trader_name"`
	Weight        int       `json:"weight"        db:"weight"`
	IsPrimary     bool      `json:"isPrimary"     db:"is_primary"`
}

// PrimaryAgent picks the primary agent, falling back to the first one.
// Returns nil for an empty slice.
func PrimaryAgent(agents []*Agent) *Agent {
	for _, a := range agents {
		if a.IsPrimary {
			return a
		}
	}
	if len(agents) > 0 {
		return agents[0]
	}
	return nil
}
