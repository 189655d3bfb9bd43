// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs pushed to connected clients.
package ws

import (
	"time"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeSubscriptionCreated MsgType = "subscription_created"
	MsgTypeSubscriptionStatus  MsgType = "subscription_status"
	MsgTypeNavUpdated          MsgType = "nav_updated"
	MsgTypeProductStatus       MsgType = "product_status"
)

// ──────────────────────────────────────────────────────────────────────────────
// Wallet-scoped messages
// ──────────────────────────────────────────────────────────────────────────────

// SubscriptionCreatedMessage is sent to the owning wallet after admission.
type SubscriptionCreatedMessage struct {
	Type           MsgType         `json:"type"`
	SubscriptionID uuid.UUID       `json:"subscriptionId"`
	ProductID      uuid.UUID       `json:"productId"`
	TermID         uuid.UUID       `json:"termId"`
	Principal      decimal.Decimal `json:"principal"`
	Timestamp      time.Time       `json:"timestamp"`
}

// SubscriptionStatusMessage is sent when a subscription changes state.
type SubscriptionStatusMessage struct {
	Type           MsgType                   `json:"type"`
	SubscriptionID uuid.UUID                 `json:"subscriptionId"`
	Status         domain.SubscriptionStatus `json:"status"`
	Timestamp      time.Time                 `json:"timestamp"`
}

// NavUpdatedMessage carries a fresh NAV snapshot.
type NavUpdatedMessage struct {
	Type           MsgType         `json:"type"`
	SubscriptionID uuid.UUID       `json:"subscriptionId"`
	Nav            decimal.Decimal `json:"nav"`
	Equity         decimal.Decimal `json:"equity"`
	Drawdown       decimal.Decimal `json:"drawdown"`
	SnapshotAt     time.Time       `json:"snapshotAt"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Broadcast messages
// ──────────────────────────────────────────────────────────────────────────────

// ProductStatusMessage tells every client a guaranteed product was paused
// or resumed.
type ProductStatusMessage struct {
	Type      MsgType              `json:"type"`
	ProductID uuid.UUID            `json:"productId"`
	Slug      string               `json:"slug"`
	Status    domain.ProductStatus `json:"status"`
	Timestamp time.Time            `json:"timestamp"`
}
