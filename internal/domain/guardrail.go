package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawPolicy holds the early-withdrawal guardrail parameters.
type WithdrawPolicy struct {
	CooldownHours          float64
	EarlyWithdrawalFeeRate decimal.Decimal
	DrawdownAlertThreshold decimal.Decimal
}

// Cooldown is CooldownHours as a duration.
func (p WithdrawPolicy) Cooldown() time.Duration {
	return time.Duration(p.CooldownHours * float64(time.Hour))
}

// CooldownState describes where a withdrawal stands relative to the cooldown.
type CooldownState struct {
	Active           bool
	EndsAt           time.Time
	RemainingMinutes int
}

// CheckCooldown evaluates the cooldown that starts at start. A zero cooldown
// is never active. RemainingMinutes is at least 1 while active.
func (p WithdrawPolicy) CheckCooldown(start, now time.Time) CooldownState {
	endsAt := start.Add(p.Cooldown())
	if p.CooldownHours <= 0 || !now.Before(endsAt) {
		return CooldownState{EndsAt: endsAt}
	}
	mins := int(math.Ceil(endsAt.Sub(now).Minutes()))
	if mins < 1 {
		mins = 1
	}
	return CooldownState{Active: true, EndsAt: endsAt, RemainingMinutes: mins}
}

// EarlyWithdrawalFee is finalPayout × rate, never negative.
func (p WithdrawPolicy) EarlyWithdrawalFee(finalPayout decimal.Decimal) decimal.Decimal {
	if !finalPayout.IsPositive() || !p.EarlyWithdrawalFeeRate.IsPositive() {
		return decimal.Zero
	}
	return Round(finalPayout.Mul(p.EarlyWithdrawalFeeRate))
}

// PayoutAfterFee is max(0, finalPayout − fee).
func PayoutAfterFee(finalPayout, fee decimal.Decimal) decimal.Decimal {
	return Round(decimal.Max(decimal.Zero, finalPayout.Sub(fee)))
}

// WithdrawDrawdown is (principal − finalEquity) / principal, floored at 0.
func WithdrawDrawdown(principal, finalEquity decimal.Decimal) decimal.Decimal {
	if !principal.IsPositive() {
		return decimal.Zero
	}
	return Round(decimal.Max(decimal.Zero, principal.Sub(finalEquity).Div(principal)))
}

// DrawdownAlert reports whether drawdown reaches the alert threshold.
func (p WithdrawPolicy) DrawdownAlert(drawdown decimal.Decimal) bool {
	return p.DrawdownAlertThreshold.IsPositive() && drawdown.GreaterThanOrEqual(p.DrawdownAlertThreshold)
}
