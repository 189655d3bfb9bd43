package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Subscription lifecycle
// ──────────────────────────────────────────────────────────────────────────────

// SubscriptionStatus is a state in the subscription lifecycle.
//
//	PENDING → RUNNING → MATURED → LIQUIDATING → SETTLED
//	PENDING → CANCELLED
type SubscriptionStatus string

const (
	SubPending     SubscriptionStatus = "PENDING"
	SubRunning     SubscriptionStatus = "RUNNING"
	SubMatured     SubscriptionStatus = "MATURED"
	SubLiquidating SubscriptionStatus = "LIQUIDATING"
	SubSettled     SubscriptionStatus = "SETTLED"
	SubCancelled   SubscriptionStatus = "CANCELLED"
)

// ReservingStatuses hold principal against the wallet's qualified balance.
var ReservingStatuses = []SubscriptionStatus{SubPending, SubRunning, SubMatured, SubLiquidating}

// LiabilityStatuses count toward guarantee liability.
var LiabilityStatuses = []SubscriptionStatus{SubPending, SubRunning, SubMatured}

// SettleableStatuses may be settled (or moved to LIQUIDATING) once due.
var SettleableStatuses = []SubscriptionStatus{SubMatured, SubRunning, SubLiquidating}

// NavStatuses are refreshed by the NAV step.
var NavStatuses = []SubscriptionStatus{SubRunning, SubLiquidating}

// AcceptsNav reports whether equity and NAV may still be written.
func (s SubscriptionStatus) AcceptsNav() bool { return s.In(NavStatuses...) }

// Valid reports whether s is a known status.
func (s SubscriptionStatus) Valid() bool {
	return s.In(SubPending, SubRunning, SubMatured, SubLiquidating, SubSettled, SubCancelled)
}

// IsTerminal reports whether no further transitions are possible.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubSettled || s == SubCancelled
}

// In reports whether s is one of set.
func (s SubscriptionStatus) In(set ...SubscriptionStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// CanTransition reports whether the lifecycle permits moving from s to next.
// Re-entering LIQUIDATING is allowed.
func (s SubscriptionStatus) CanTransition(next SubscriptionStatus) bool {
	switch s {
	case SubPending:
		return next == SubRunning || next == SubCancelled
	case SubRunning:
		return next == SubMatured || next == SubLiquidating || next == SubSettled
	case SubMatured:
		return next == SubLiquidating || next == SubSettled
	case SubLiquidating:
		return next == SubLiquidating || next == SubSettled
	}
	return false
}

// Subscription is a wallet's commitment of principal to a product term.
type Subscription struct {
	ID            uuid.UUID          `json:"id"            db:"id"`
	WalletAddress string             `json:"walletAddress" db:"wallet_address"`
	ProductID     uuid.UUID          `json:"productId"     db:"product_id"`
	TermID        uuid.UUID          `json:"termId"        db:"term_id"`
	Principal     decimal.Decimal    `json:"principal"     db:"principal"`
	HighWaterMark decimal.Decimal    `json:"highWaterMark" db:"high_water_mark"`
	CurrentEquity decimal.Decimal    `json:"currentEquity" db:"current_equity"`
	Status        SubscriptionStatus `json:"status"        db:"status"`
	StartAt       *time.Time         `json:"startAt"       db:"start_at"`
	EndAt         *time.Time         `json:"endAt"         db:"end_at"`
	MaturedAt     *time.Time         `json:"maturedAt"     db:"matured_at"`
	SettledAt     *time.Time         `json:"settledAt"     db:"settled_at"`
	IsTrial       bool               `json:"isTrial"       db:"is_trial"`
	TrialEndsAt   *time.Time         `json:"trialEndsAt"   db:"trial_ends_at"`
	CopyConfigID  *string            `json:"copyConfigId"  db:"copy_config_id"`
	CreatedAt     time.Time          `json:"createdAt"     db:"created_at"`
	UpdatedAt     time.Time          `json:"updatedAt"     db:"updated_at"`
}

// IsDue reports whether the subscription's term has ended at now.
func (s *Subscription) IsDue(now time.Time) bool {
	return s.EndAt != nil && !s.EndAt.After(now)
}

// IsEarlyWithdrawal reports whether a withdrawal at now would exit a RUNNING
// subscription before its term ends.
func (s *Subscription) IsEarlyWithdrawal(now time.Time) bool {
	return s.Status == SubRunning && s.EndAt != nil && s.EndAt.After(now)
}

// CooldownStart is startAt when set, createdAt otherwise.
func (s *Subscription) CooldownStart() time.Time {
	if s.StartAt != nil {
		return *s.StartAt
	}
	return s.CreatedAt
}

// NormalizeWallet lowercases and trims a wallet address so ledger aggregates
// never split across casing variants.
func NormalizeWallet(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ──────────────────────────────────────────────────────────────────────────────
// NAV snapshots
// ──────────────────────────────────────────────────────────────────────────────

// Price sources recorded on NAV snapshots.
const (
	PriceSourceInitial     = "INITIAL"
	PriceSourceRealizedPnL = "REALIZED_PNL"
)

// NavSnapshot is one point in a subscription's NAV series. (SubscriptionID,
// SnapshotAt) is unique; SnapshotAt is floored to the minute.
type NavSnapshot struct {
	ID               uuid.UUID       `json:"id"               db:"id"`
	SubscriptionID   uuid.UUID       `json:"subscriptionId"   db:"subscription_id"`
	SnapshotAt       time.Time       `json:"snapshotAt"       db:"snapshot_at"`
	Nav              decimal.Decimal `json:"nav"              db:"nav"`
	Equity           decimal.Decimal `json:"equity"           db:"equity"`
	PeriodReturn     decimal.Decimal `json:"periodReturn"     db:"period_return"`
	CumulativeReturn decimal.Decimal `json:"cumulativeReturn" db:"cumulative_return"`
	Drawdown         decimal.Decimal `json:"drawdown"         db:"drawdown"`
	PriceSource      string          `json:"priceSource"      db:"price_source"`
	IsFallbackPrice  bool            `json:"isFallbackPrice"  db:"is_fallback_price"`
	CreatedAt        time.Time       `json:"createdAt"        db:"created_at"`
}

// SnapshotBucket floors t to the minute in UTC.
func SnapshotBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// ──────────────────────────────────────────────────────────────────────────────
// Settlement
// ──────────────────────────────────────────────────────────────────────────────

// SettlementStatus of a ManagedSettlement row.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "PENDING"
	SettlementCompleted SettlementStatus = "COMPLETED"
)

// Settlement is the single settlement record of a subscription. Once
// COMPLETED it is never mutated again.
type Settlement struct {
	ID                 uuid.UUID        `json:"id"                 db:"id"`
	SubscriptionID     uuid.UUID        `json:"subscriptionId"     db:"subscription_id"`
	Status             SettlementStatus `json:"status"             db:"status"`
	Principal          decimal.Decimal  `json:"principal"          db:"principal"`
	FinalEquity        decimal.Decimal  `json:"finalEquity"        db:"final_equity"`
	GrossPnl           decimal.Decimal  `json:"grossPnl"           db:"gross_pnl"`
	HighWaterMark      decimal.Decimal  `json:"highWaterMark"      db:"high_water_mark"`
	HwmEligibleProfit  decimal.Decimal  `json:"hwmEligibleProfit"  db:"hwm_eligible_profit"`
	PerformanceFeeRate decimal.Decimal  `json:"performanceFeeRate" db:"performance_fee_rate"`
	PerformanceFee     decimal.Decimal  `json:"performanceFee"     db:"performance_fee"`
	GuaranteedPayout   *decimal.Decimal `json:"guaranteedPayout"   db:"guaranteed_payout"`
	ReserveTopup       decimal.Decimal  `json:"reserveTopup"       db:"reserve_topup"`
	FinalPayout        decimal.Decimal  `json:"finalPayout"        db:"final_payout"`
	SettledAt          *time.Time       `json:"settledAt"          db:"settled_at"`
	CreatedAt          time.Time        `json:"createdAt"          db:"created_at"`
	UpdatedAt          time.Time        `json:"updatedAt"          db:"updated_at"`
}

// IsCompleted reports whether the settlement is final.
func (s *Settlement) IsCompleted() bool {
	return s != nil && s.Status == SettlementCompleted
}

// CommissionStatus tracks the outbound profit-fee distribution of a settlement.
type CommissionStatus string

const (
	CommissionPending    CommissionStatus = "PENDING"
	CommissionProcessing CommissionStatus = "PROCESSING"
	CommissionCompleted  CommissionStatus = "COMPLETED"
	CommissionFailed     CommissionStatus = "FAILED"
	CommissionSkipped    CommissionStatus = "SKIPPED"
)

// SettlementExecution records the profit-fee distribution attempt for one
// settlement.
type SettlementExecution struct {
	ID               uuid.UUID        `json:"id"               db:"id"`
	SubscriptionID   uuid.UUID        `json:"subscriptionId"   db:"subscription_id"`
	SettlementID     uuid.UUID        `json:"settlementId"     db:"settlement_id"`
	WalletAddress    string           `json:"walletAddress"    db:"wallet_address"`
	GrossPnl         decimal.Decimal  `json:"grossPnl"         db:"gross_pnl"`
	TradeID          string           `json:"tradeId"          db:"trade_id"`
	CommissionStatus CommissionStatus `json:"commissionStatus" db:"commission_status"`
	Attempts         int              `json:"attempts"         db:"attempts"`
	LastError        *string          `json:"lastError"        db:"last_error"`
	CreatedAt        time.Time        `json:"createdAt"        db:"created_at"`
	UpdatedAt        time.Time        `json:"updatedAt"        db:"updated_at"`
}
