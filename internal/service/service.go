// Package service implements the managed-wealth core: principal
// reservation, NAV accounting, reserve coverage, subscription admission,
// settlement, withdrawal guardrails and profit-fee distribution.
package service

import (
	"context"
	"time"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces injected into the services to avoid import cycles
// ──────────────────────────────────────────────────────────────────────────────

// Notifier receives events after the write that caused them has committed.
// Implemented by ws.Hub.
type Notifier interface {
	SubscriptionCreated(sub *domain.Subscription)
	SubscriptionStatus(wallet string, subscriptionID uuid.UUID, status domain.SubscriptionStatus)
	NavUpdated(wallet string, snap *domain.NavSnapshot)
	ProductStatus(productID uuid.UUID, slug string, status domain.ProductStatus)
}

// ReferralBonus applies a first-subscription referral bonus. Failures are
// logged and never affect the subscription.
type ReferralBonus interface {
	ApplyManagedBonus(ctx context.Context, wallet string, subscriptionID uuid.UUID) (bool, error)
}

type nopNotifier struct{}

func (nopNotifier) SubscriptionCreated(*domain.Subscription) {}
func (nopNotifier) SubscriptionStatus(string, uuid.UUID, domain.SubscriptionStatus) {}
func (nopNotifier) NavUpdated(string, *domain.NavSnapshot) {}
func (nopNotifier) ProductStatus(uuid.UUID, string, domain.ProductStatus) {}

// Clock returns the current time. Tests replace it.
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }

func timePtr(t time.Time) *time.Time { return &t }
