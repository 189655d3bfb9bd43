package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// NavInput is what ComputeNav needs for one subscription. PrevEquity and
// PeakNav are nil when there is no prior snapshot.
type NavInput struct {
	SubscriptionID uuid.UUID
	Principal      decimal.Decimal
	RealizedPnL    decimal.Decimal
	PrevEquity     *decimal.Decimal
	PeakNav        *decimal.Decimal
	At             time.Time
}

// ComputeNav derives a snapshot from realized PnL. The returned snapshot has
// no ID; SnapshotAt is floored to the minute.
func ComputeNav(in NavInput) *NavSnapshot {
	principal := in.Principal
	equity := Round(principal.Add(in.RealizedPnL))

	nav := one
	cumulative := decimal.Zero
	if principal.IsPositive() {
		nav = Round(equity.Div(principal))
		cumulative = Round(equity.Sub(principal).Div(principal))
	}

	prev := principal
	if in.PrevEquity != nil {
		prev = *in.PrevEquity
	}
	period := decimal.Zero
	if prev.IsPositive() {
		period = Round(equity.Sub(prev).Div(prev))
	}

	peak := one
	if in.PeakNav != nil {
		peak = *in.PeakNav
	}
	peak = decimal.Max(peak, nav)
	drawdown := decimal.Zero
	if peak.IsPositive() {
		drawdown = Round(decimal.Max(decimal.Zero, peak.Sub(nav).Div(peak)))
	}

	return &NavSnapshot{
		SubscriptionID:   in.SubscriptionID,
		SnapshotAt:       SnapshotBucket(in.At),
		Nav:              nav,
		Equity:           equity,
		PeriodReturn:     period,
		CumulativeReturn: cumulative,
		Drawdown:         drawdown,
		PriceSource:      PriceSourceRealizedPnL,
	}
}

// InitialNav is the snapshot written when a subscription is created.
func InitialNav(subscriptionID uuid.UUID, principal decimal.Decimal, at time.Time) *NavSnapshot {
	return &NavSnapshot{
		SubscriptionID:   subscriptionID,
		SnapshotAt:       SnapshotBucket(at),
		Nav:              one,
		Equity:           Round(principal),
		PeriodReturn:     decimal.Zero,
		CumulativeReturn: decimal.Zero,
		Drawdown:         decimal.Zero,
		PriceSource:      PriceSourceInitial,
	}
}
