package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the fixed precision every persisted amount and ratio is
// rounded to.
const MoneyPlaces int32 = 8

// Round rounds d to MoneyPlaces.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// BalanceTolerance absorbs rounding noise when comparing balances.
var BalanceTolerance = decimal.New(1, -8)

// ──────────────────────────────────────────────────────────────────────────────
// Principal reservation ledger
// ──────────────────────────────────────────────────────────────────────────────

// ReservationEntryType is RESERVE or RELEASE.
type ReservationEntryType string

const (
	ReservationReserve ReservationEntryType = "RESERVE"
	ReservationRelease ReservationEntryType = "RELEASE"
)

// Default notes on reservation entries.
const (
	NoteSubscriptionCreated = "MANAGED_SUBSCRIPTION_CREATED"
	NoteSubscriptionSettled = "MANAGED_SUBSCRIPTION_SETTLED"
)

// ReserveKey is the idempotency key of a subscription's RESERVE entry.
func ReserveKey(subscriptionID uuid.UUID) string {
	return "reserve:" + subscriptionID.String()
}

// ReleaseKey is the idempotency key of a subscription's RELEASE entry.
func ReleaseKey(subscriptionID uuid.UUID) string {
	return "release:" + subscriptionID.String()
}

// ReservationEntry is an append-only principal reservation ledger row.
type ReservationEntry struct {
	ID                      uuid.UUID            `json:"id"                      db:"id"`
	WalletAddress           string               `json:"walletAddress"           db:"wallet_address"`
	SubscriptionID          uuid.UUID            `json:"subscriptionId"          db:"subscription_id"`
	EntryType               ReservationEntryType `json:"entryType"               db:"entry_type"`
	Amount                  decimal.Decimal      `json:"amount"                  db:"amount"`
	IdempotencyKey          string               `json:"idempotencyKey"          db:"idempotency_key"`
	ManagedQualifiedBalance decimal.Decimal      `json:"managedQualifiedBalance" db:"managed_qualified_balance"`
	ReservedBalanceAfter    decimal.Decimal      `json:"reservedBalanceAfter"    db:"reserved_balance_after"`
	AvailableBalanceAfter   decimal.Decimal      `json:"availableBalanceAfter"   db:"available_balance_after"`
	Note                    string               `json:"note"                    db:"note"`
	CreatedAt               time.Time            `json:"createdAt"               db:"created_at"`
}

// Availability is a wallet's reservation snapshot.
type Availability struct {
	WalletAddress                   string          `json:"walletAddress"`
	ManagedQualifiedBalance         decimal.Decimal `json:"managedQualifiedBalance"`
	ReservedBalance                 decimal.Decimal `json:"reservedBalance"`
	ReservedFromLedger              decimal.Decimal `json:"reservedFromLedger"`
	ReservedFromActiveSubscriptions decimal.Decimal `json:"reservedFromActiveSubscriptions"`
	AvailableBalance                decimal.Decimal `json:"availableBalance"`
}

// ComputeAvailability derives the snapshot from the raw aggregates. The
// reserved balance is the larger of the ledger and the live subscription sum
// so a drifted ledger can never under-reserve. Both sources are reported as
// computed; only the reserved balance is floored at zero.
func ComputeAvailability(wallet string, deposits, withdrawals, reserved, released, activePrincipal decimal.Decimal) Availability {
	qualified := Round(deposits.Sub(withdrawals))
	fromLedger := Round(reserved.Sub(released))
	fromSubs := Round(activePrincipal)
	reservedBalance := decimal.Max(decimal.Zero, decimal.Max(fromLedger, fromSubs))
	return Availability{
		WalletAddress:                   wallet,
		ManagedQualifiedBalance:         qualified,
		ReservedBalance:                 reservedBalance,
		ReservedFromLedger:              fromLedger,
		ReservedFromActiveSubscriptions: fromSubs,
		AvailableBalance:                Round(qualified.Sub(reservedBalance)),
	}
}

// Covers reports whether requested fits in the available balance within
// BalanceTolerance.
func (a Availability) Covers(requested decimal.Decimal) bool {
	return a.AvailableBalance.Add(BalanceTolerance).GreaterThanOrEqual(requested)
}

// AfterReserve returns the snapshot that results from reserving amount.
func (a Availability) AfterReserve(amount decimal.Decimal) Availability {
	out := a
	out.ReservedBalance = Round(a.ReservedBalance.Add(amount))
	out.ReservedFromLedger = Round(a.ReservedFromLedger.Add(amount))
	out.AvailableBalance = Round(a.ManagedQualifiedBalance.Sub(out.ReservedBalance))
	return out
}

// ReleaseOutcome is the result of a Release call.
type ReleaseOutcome string

const (
	ReleaseReleased       ReleaseOutcome = "RELEASED"
	ReleaseSkippedNoEntry ReleaseOutcome = "SKIPPED_NO_RESERVE"
	ReleaseSkippedRepeat  ReleaseOutcome = "SKIPPED_ALREADY_RELEASED"
)

// ──────────────────────────────────────────────────────────────────────────────
// Reserve fund ledger
// ──────────────────────────────────────────────────────────────────────────────

// ReserveEntryType classifies reserve fund movements.
type ReserveEntryType string

const (
	ReserveDeposit        ReserveEntryType = "DEPOSIT"
	ReserveWithdraw       ReserveEntryType = "WITHDRAW"
	ReserveAdjustment     ReserveEntryType = "ADJUSTMENT"
	ReserveGuaranteeTopup ReserveEntryType = "GUARANTEE_TOPUP"
)

// Valid reports whether t is a known entry type.
func (t ReserveEntryType) Valid() bool {
	switch t {
	case ReserveDeposit, ReserveWithdraw, ReserveAdjustment, ReserveGuaranteeTopup:
		return true
	}
	return false
}

// Signed returns amount with the sign this entry type contributes to the
// reserve balance.
func (t ReserveEntryType) Signed(amount decimal.Decimal) decimal.Decimal {
	switch t {
	case ReserveWithdraw, ReserveGuaranteeTopup:
		return amount.Neg()
	}
	return amount
}

// Top-up notes.
const (
	NoteWorkerGuaranteeTopup = "WORKER_AUTO_SETTLEMENT_GUARANTEE_TOPUP"
	NoteManualGuaranteeTopup = "MANUAL_WITHDRAW_GUARANTEE_TOPUP"
)

// ReserveFundEntry is an append-only reserve fund ledger row.
type ReserveFundEntry struct {
	ID             uuid.UUID        `json:"id"             db:"id"`
	EntryType      ReserveEntryType `json:"entryType"      db:"entry_type"`
	Amount         decimal.Decimal  `json:"amount"         db:"amount"`
	BalanceAfter   decimal.Decimal  `json:"balanceAfter"   db:"balance_after"`
	SubscriptionID *uuid.UUID       `json:"subscriptionId" db:"subscription_id"`
	Note           string           `json:"note"           db:"note"`
	CreatedAt      time.Time        `json:"createdAt"      db:"created_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Risk events
// ──────────────────────────────────────────────────────────────────────────────

// RiskEvent is an observability-only record of a risk trigger.
type RiskEvent struct {
	ID             uuid.UUID       `json:"id"             db:"id"`
	SubscriptionID uuid.UUID       `json:"subscriptionId" db:"subscription_id"`
	Severity       string          `json:"severity"       db:"severity"`
	Metric         string          `json:"metric"         db:"metric"`
	Threshold      decimal.Decimal `json:"threshold"      db:"threshold"`
	ObservedValue  decimal.Decimal `json:"observedValue"  db:"observed_value"`
	Action         string          `json:"action"         db:"action"`
	Note           string          `json:"note"           db:"note"`
	CreatedAt      time.Time       `json:"createdAt"      db:"created_at"`
}

// Risk event vocabulary.
const (
	RiskSeverityWarn          = "WARN"
	RiskMetricEarlyWithdrawDD = "EARLY_WITHDRAW_DRAWDOWN"
	RiskActionDeleverage      = "DELEVERAGE"
	NoteEarlyWithdrawDrawdown = "Early withdrawal drawdown exceeded alert threshold"
)
