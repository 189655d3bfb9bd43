package domain_test

import (
	"testing"
	"time"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeAvailability_ReservedIsMaxOfSources(t *testing.T) {
	// Ledger says 200, live subscriptions say 500: the larger number wins.
	a := domain.ComputeAvailability("0xabc", d("600"), d("0"), d("200"), d("0"), d("500"))
	assertDec(t, "600", a.ManagedQualifiedBalance, "qualified")
	assertDec(t, "200", a.ReservedFromLedger, "fromLedger")
	assertDec(t, "500", a.ReservedFromActiveSubscriptions, "fromSubs")
	assertDec(t, "500", a.ReservedBalance, "reserved")
	assertDec(t, "100", a.AvailableBalance, "available")

	assert.False(t, a.Covers(d("150")))
	assert.True(t, a.Covers(d("100")))
	assert.True(t, a.Covers(d("100.000000001")))
}

func TestComputeAvailability_LedgerAheadOfSubscriptions(t *testing.T) {
	a := domain.ComputeAvailability("0xabc", d("1000"), d("100"), d("700"), d("100"), d("300"))
	assertDec(t, "900", a.ManagedQualifiedBalance, "qualified")
	assertDec(t, "600", a.ReservedBalance, "reserved")
	assertDec(t, "300", a.AvailableBalance, "available")
}

func TestComputeAvailability_NegativeLedgerReportedRaw(t *testing.T) {
	// More released than reserved: the drift is visible, the reserve is not negative.
	a := domain.ComputeAvailability("0xabc", d("500"), d("0"), d("100"), d("250"), d("0"))
	assertDec(t, "-150", a.ReservedFromLedger, "fromLedger")
	assertDec(t, "0", a.ReservedFromActiveSubscriptions, "fromSubs")
	assertDec(t, "0", a.ReservedBalance, "reserved")
	assertDec(t, "500", a.AvailableBalance, "available")
}

func TestAvailability_AfterReserve(t *testing.T) {
	a := domain.ComputeAvailability("0xabc", d("1000"), d("0"), d("0"), d("0"), d("0"))
	after := a.AfterReserve(d("400"))
	assertDec(t, "400", after.ReservedBalance, "reserved")
	assertDec(t, "600", after.AvailableBalance, "available")
}

func TestAvailabilityError_Deficit(t *testing.T) {
	a := domain.ComputeAvailability("0xabc", d("600"), d("0"), d("500"), d("0"), d("500"))
	err := &domain.AvailabilityError{Snapshot: a, Requested: d("150")}
	assertDec(t, "50", err.Deficit(), "deficit")
	assert.Equal(t, domain.CodeReservationInsufficient, err.Code())
	assert.True(t, domain.IsConflict(err))
}

func TestIdempotencyKeys(t *testing.T) {
	id := uuid.MustParse("7b0f7a4e-8f7e-4d55-9c1a-1c7d2e1f0a11")
	assert.Equal(t, "reserve:7b0f7a4e-8f7e-4d55-9c1a-1c7d2e1f0a11", domain.ReserveKey(id))
	assert.Equal(t, "release:7b0f7a4e-8f7e-4d55-9c1a-1c7d2e1f0a11", domain.ReleaseKey(id))
}

func TestNormalizeWallet(t *testing.T) {
	assert.Equal(t, "0xabcdef", domain.NormalizeWallet("  0xAbCdEf "))
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

func TestSubscriptionStatus_CanTransition(t *testing.T) {
	cases := []struct {
		from, to domain.SubscriptionStatus
		ok       bool
	}{
		{domain.SubPending, domain.SubRunning, true},
		{domain.SubPending, domain.SubCancelled, true},
		{domain.SubPending, domain.SubSettled, false},
		{domain.SubRunning, domain.SubMatured, true},
		{domain.SubRunning, domain.SubCancelled, false},
		{domain.SubMatured, domain.SubLiquidating, true},
		{domain.SubLiquidating, domain.SubLiquidating, true},
		{domain.SubLiquidating, domain.SubSettled, true},
		{domain.SubSettled, domain.SubRunning, false},
		{domain.SubCancelled, domain.SubRunning, false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

// ── NAV ───────────────────────────────────────────────────────────────────────

func TestComputeNav(t *testing.T) {
	prev := d("1100")
	peak := d("1.2")
	at := time.Date(2026, 3, 1, 12, 34, 56, 789, time.UTC)
	snap := domain.ComputeNav(domain.NavInput{
		SubscriptionID: uuid.New(),
		Principal:      d("1000"),
		RealizedPnL:    d("50"),
		PrevEquity:     &prev,
		PeakNav:        &peak,
		At:             at,
	})
	assertDec(t, "1050", snap.Equity, "equity")
	assertDec(t, "1.05", snap.Nav, "nav")
	assertDec(t, "0.05", snap.CumulativeReturn, "cumulative")
	assertDec(t, "-0.04545455", snap.PeriodReturn, "period")
	assertDec(t, "0.125", snap.Drawdown, "drawdown")
	assert.Equal(t, time.Date(2026, 3, 1, 12, 34, 0, 0, time.UTC), snap.SnapshotAt)
}

func TestComputeNav_ZeroPrincipalGuard(t *testing.T) {
	snap := domain.ComputeNav(domain.NavInput{
		SubscriptionID: uuid.New(),
		Principal:      d("0"),
		RealizedPnL:    d("0"),
		At:             time.Now(),
	})
	assertDec(t, "1", snap.Nav, "nav")
	assertDec(t, "0", snap.PeriodReturn, "period")
	assertDec(t, "0", snap.Drawdown, "drawdown")
}

func TestComputeNav_NewPeakHasNoDrawdown(t *testing.T) {
	snap := domain.ComputeNav(domain.NavInput{
		SubscriptionID: uuid.New(),
		Principal:      d("1000"),
		RealizedPnL:    d("300"),
		At:             time.Now(),
	})
	require.NotNil(t, snap)
	assertDec(t, "1.3", snap.Nav, "nav")
	assertDec(t, "0", snap.Drawdown, "drawdown")
	assertDec(t, "0.3", snap.PeriodReturn, "period")
}

// ── Guardrails ────────────────────────────────────────────────────────────────

func TestWithdrawPolicy_CheckCooldown(t *testing.T) {
	p := domain.WithdrawPolicy{CooldownHours: 6}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	st := p.CheckCooldown(start, start.Add(5*time.Hour+30*time.Minute+10*time.Second))
	assert.True(t, st.Active)
	assert.Equal(t, 30, st.RemainingMinutes)

	st = p.CheckCooldown(start, start.Add(6*time.Hour-time.Second))
	assert.True(t, st.Active)
	assert.Equal(t, 1, st.RemainingMinutes)

	st = p.CheckCooldown(start, start.Add(6*time.Hour))
	assert.False(t, st.Active)

	zero := domain.WithdrawPolicy{CooldownHours: 0}
	assert.False(t, zero.CheckCooldown(start, start).Active)
}

func TestWithdrawPolicy_FeeAndDrawdown(t *testing.T) {
	p := domain.WithdrawPolicy{EarlyWithdrawalFeeRate: d("0.01"), DrawdownAlertThreshold: d("0.35")}
	fee := p.EarlyWithdrawalFee(d("1000"))
	assertDec(t, "10", fee, "fee")
	assertDec(t, "990", domain.PayoutAfterFee(d("1000"), fee), "after fee")
	assertDec(t, "0", domain.PayoutAfterFee(d("5"), d("10")), "clamped")

	dd := domain.WithdrawDrawdown(d("1000"), d("600"))
	assertDec(t, "0.4", dd, "drawdown")
	assert.True(t, p.DrawdownAlert(dd))
	assert.True(t, p.DrawdownAlert(d("0.35")))
	assert.False(t, p.DrawdownAlert(domain.WithdrawDrawdown(d("1000"), d("1100"))))
}
