// Package repository persists the managed-wealth core. Store is implemented
// by PGStore (sqlx over PostgreSQL) and MemoryStore (tests and local runs).
package repository

import (
	"context"
	"time"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is the persistence surface used by the services.
type Store interface {
	Queries

	// InTx runs fn inside one transaction. A non-nil error from fn rolls
	// every write back. Nested calls reuse the outer transaction.
	InTx(ctx context.Context, fn func(q Queries) error) error
}

// Queries groups every read and write. Inside InTx the same methods run on
// the transaction.
type Queries interface {
	ProductQueries
	SubscriptionQueries
	LedgerQueries
	NavQueries
	SettlementQueries
	RiskQueries

	// LockKey takes a transaction-scoped advisory lock on key and blocks
	// until it is granted. Outside a transaction it returns immediately.
	LockKey(ctx context.Context, key string) error
}

// ProductQueries reads and syncs the static catalog.
type ProductQueries interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	GetProductBySlug(ctx context.Context, slug string) (*domain.Product, error)
	ListProducts(ctx context.Context, activeOnly bool) ([]*domain.Product, error)
	ListGuaranteedProducts(ctx context.Context) ([]*domain.Product, error)
	GetTerm(ctx context.Context, productID, termID uuid.UUID) (*domain.Term, error)
	// GetTermByID fetches a term regardless of its active flag.
	GetTermByID(ctx context.Context, termID uuid.UUID) (*domain.Term, error)
	ListTerms(ctx context.Context, productID uuid.UUID) ([]*domain.Term, error)
	ListAgents(ctx context.Context, productID uuid.UUID) ([]*domain.Agent, error)
	SetProductStatus(ctx context.Context, id uuid.UUID, status domain.ProductStatus) error

	UpsertProduct(ctx context.Context, p *domain.Product) error
	UpsertTerm(ctx context.Context, t *domain.Term) error
	UpsertAgent(ctx context.Context, a *domain.Agent) error
}

// SettledUpdate is the subscription mutation applied on settlement.
type SettledUpdate struct {
	FinalEquity decimal.Decimal
	SettledAt   time.Time
	MaturedAt   *time.Time // nil keeps the current value
	EndAt       *time.Time // nil keeps the current value
}

// StatusCounts aggregates subscription counts for health reporting.
type StatusCounts map[domain.SubscriptionStatus]int

// SubscriptionQueries reads and mutates subscriptions.
type SubscriptionQueries interface {
	CreateSubscription(ctx context.Context, s *domain.Subscription) error
	GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
	// GetSubscriptionForUpdate row-locks the subscription inside a transaction.
	GetSubscriptionForUpdate(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
	ListSubscriptionsByWallet(ctx context.Context, wallet string, status domain.SubscriptionStatus) ([]*domain.Subscription, error)
	CountSubscriptionsByWallet(ctx context.Context, wallet string) (int, error)
	SumPrincipalByWallet(ctx context.Context, wallet string, statuses []domain.SubscriptionStatus) (decimal.Decimal, error)

	ListUnmapped(ctx context.Context, limit int) ([]*domain.Subscription, error)
	ListNavCandidates(ctx context.Context, limit int) ([]*domain.Subscription, error)
	ListSettlementCandidates(ctx context.Context, now time.Time, limit int) ([]*domain.Subscription, error)
	// ListByStatus returns subscriptions in status, least recently updated first.
	ListByStatus(ctx context.Context, status domain.SubscriptionStatus, limit int) ([]*domain.Subscription, error)

	MarkMapped(ctx context.Context, id uuid.UUID, configID string, startAt, endAt time.Time) error
	MarkMatured(ctx context.Context, now time.Time) (int, error)
	UpdateEquity(ctx context.Context, id uuid.UUID, equity decimal.Decimal) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus) error
	MarkSettled(ctx context.Context, id uuid.UUID, u SettledUpdate) error

	CountByStatus(ctx context.Context) (StatusCounts, error)
	CountStaleUnmapped(ctx context.Context, createdBefore time.Time) (int, error)
	CountOverdue(ctx context.Context, now time.Time) (int, error)

	// ListGuaranteeExposures returns liability rows for PENDING, RUNNING and
	// MATURED subscriptions of active guaranteed products. A nil productID
	// covers every product.
	ListGuaranteeExposures(ctx context.Context, productID *uuid.UUID) ([]domain.GuaranteeExposure, error)
}

// LedgerQueries covers the net-deposit, reservation and reserve fund ledgers.
type LedgerQueries interface {
	// SumNetDeposits totals the wallet's external DEPOSIT and WITHDRAW rows.
	SumNetDeposits(ctx context.Context, wallet string) (deposits, withdrawals decimal.Decimal, err error)
	SumReservations(ctx context.Context, wallet string) (reserved, released decimal.Decimal, err error)
	// GetReservationByKey returns nil, nil when no entry carries key.
	GetReservationByKey(ctx context.Context, key string) (*domain.ReservationEntry, error)
	// UpsertReservation inserts or overwrites the entry keyed by its
	// idempotency key.
	UpsertReservation(ctx context.Context, e *domain.ReservationEntry) error
	// InsertReservationIfAbsent reports false when the key already exists.
	InsertReservationIfAbsent(ctx context.Context, e *domain.ReservationEntry) (bool, error)

	ReserveFundBalance(ctx context.Context) (decimal.Decimal, error)
	AppendReserveEntry(ctx context.Context, e *domain.ReserveFundEntry) error
	ListReserveEntries(ctx context.Context, limit int) ([]*domain.ReserveFundEntry, error)
}

// NavQueries covers the NAV snapshot series.
type NavQueries interface {
	// LatestNav returns nil, nil when the subscription has no snapshot.
	LatestNav(ctx context.Context, subscriptionID uuid.UUID) (*domain.NavSnapshot, error)
	// MaxNav returns nil, nil when the subscription has no snapshot.
	MaxNav(ctx context.Context, subscriptionID uuid.UUID) (*decimal.Decimal, error)
	// UpsertNav writes the snapshot, overwriting any row in the same
	// (subscription, minute) bucket.
	UpsertNav(ctx context.Context, s *domain.NavSnapshot) error
	ListNav(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*domain.NavSnapshot, error)
}

// SettlementQueries covers settlements and profit-fee execution tracking.
type SettlementQueries interface {
	// GetSettlement returns nil, nil when the subscription has no settlement.
	GetSettlement(ctx context.Context, subscriptionID uuid.UUID) (*domain.Settlement, error)
	// UpsertSettlement writes s keyed by subscription. A COMPLETED row is
	// never overwritten. s.ID is set to the stored row's id.
	UpsertSettlement(ctx context.Context, s *domain.Settlement) error

	// EnsureSettlementExecution creates the tracking row for a settlement if
	// missing and returns the stored row.
	EnsureSettlementExecution(ctx context.Context, e *domain.SettlementExecution) (*domain.SettlementExecution, error)
	// ClaimSettlementExecution moves a PENDING or FAILED row, or a PROCESSING
	// row last touched before staleBefore, to PROCESSING. Returns false when
	// another actor holds or finished it.
	ClaimSettlementExecution(ctx context.Context, id uuid.UUID, staleBefore time.Time) (bool, error)
	FinishSettlementExecution(ctx context.Context, id uuid.UUID, status domain.CommissionStatus, lastErr *string) error
	// ListRetryableExecutions returns PENDING and FAILED rows plus PROCESSING
	// rows last touched before staleBefore, oldest first.
	ListRetryableExecutions(ctx context.Context, staleBefore time.Time, limit int) ([]*domain.SettlementExecution, error)
}

// RiskQueries covers the risk event log.
type RiskQueries interface {
	InsertRiskEvent(ctx context.Context, e *domain.RiskEvent) error
	ListRiskEvents(ctx context.Context, limit int) ([]*domain.RiskEvent, error)
}
