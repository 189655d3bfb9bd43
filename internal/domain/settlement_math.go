package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Settlement math (pure)
// ──────────────────────────────────────────────────────────────────────────────

// SettlementInput carries everything needed to compute a settlement.
// GuaranteeApplies must already combine product.isGuaranteed with eligibility.
type SettlementInput struct {
	Principal          decimal.Decimal
	FinalEquity        decimal.Decimal
	HighWaterMark      decimal.Decimal
	PerformanceFeeRate decimal.Decimal
	GuaranteeApplies   bool
	MinYieldRate       decimal.Decimal
}

// SettlementFigures is the result of ComputeSettlement. All values are
// rounded to MoneyPlaces.
type SettlementFigures struct {
	Principal          decimal.Decimal  `json:"principal"`
	FinalEquity        decimal.Decimal  `json:"finalEquity"`
	GrossPnl           decimal.Decimal  `json:"grossPnl"`
	HighWaterMark      decimal.Decimal  `json:"highWaterMark"`
	HwmEligibleProfit  decimal.Decimal  `json:"hwmEligibleProfit"`
	PerformanceFeeRate decimal.Decimal  `json:"performanceFeeRate"`
	PerformanceFee     decimal.Decimal  `json:"performanceFee"`
	PreGuaranteePayout decimal.Decimal  `json:"preGuaranteePayout"`
	GuaranteedPayout   *decimal.Decimal `json:"guaranteedPayout"`
	ReserveTopup       decimal.Decimal  `json:"reserveTopup"`
	FinalPayout        decimal.Decimal  `json:"finalPayout"`
}

// ComputeSettlement applies the high-water-mark fee and, when it applies,
// the guarantee floor.
//
//	hurdle            = max(principal, highWaterMark)
//	hwmEligibleProfit = max(0, finalEquity − hurdle)
//	performanceFee    = hwmEligibleProfit × feeRate
//	preGuarantee      = finalEquity − performanceFee
//	guaranteedPayout  = principal × (1 + minYieldRate)
//	reserveTopup      = max(0, guaranteedPayout − preGuarantee)
//	finalPayout       = preGuarantee + reserveTopup
func ComputeSettlement(in SettlementInput) SettlementFigures {
	principal := Round(in.Principal)
	finalEquity := Round(in.FinalEquity)
	hurdle := decimal.Max(principal, Round(in.HighWaterMark))
	rate := decimal.Max(decimal.Zero, in.PerformanceFeeRate)

	eligible := decimal.Max(decimal.Zero, finalEquity.Sub(hurdle))
	fee := Round(eligible.Mul(rate))
	pre := Round(finalEquity.Sub(fee))

	out := SettlementFigures{
		Principal:          principal,
		FinalEquity:        finalEquity,
		GrossPnl:           Round(finalEquity.Sub(principal)),
		HighWaterMark:      hurdle,
		HwmEligibleProfit:  Round(eligible),
		PerformanceFeeRate: rate,
		PerformanceFee:     fee,
		PreGuaranteePayout: pre,
		ReserveTopup:       decimal.Zero,
		FinalPayout:        pre,
	}

	if in.GuaranteeApplies {
		floor := Round(principal.Mul(decimal.NewFromInt(1).Add(in.MinYieldRate)))
		topup := decimal.Max(decimal.Zero, floor.Sub(pre))
		out.GuaranteedPayout = &floor
		out.ReserveTopup = topup
		out.FinalPayout = Round(pre.Add(topup))
	}
	return out
}

// ResolvePerformanceFeeRate returns the term override when set, else the
// product rate. Trial subscriptions that end inside their trial window pay
// no fee.
func ResolvePerformanceFeeRate(p *Product, t *Term, s *Subscription) decimal.Decimal {
	rate := p.PerformanceFeeRate
	if t != nil && t.PerformanceFeeRate != nil {
		rate = *t.PerformanceFeeRate
	}
	if s.IsTrial && s.TrialEndsAt != nil && s.EndAt != nil && !s.EndAt.After(*s.TrialEndsAt) {
		return decimal.Zero
	}
	return rate
}

// GuaranteeEligible reports whether the guarantee floor applies to a
// settlement at now: the product must be guaranteed and the subscription
// must have matured or reached its end date.
func GuaranteeEligible(p *Product, s *Subscription, now time.Time) bool {
	if !p.IsGuaranteed {
		return false
	}
	return s.Status == SubMatured || s.IsDue(now)
}

// ──────────────────────────────────────────────────────────────────────────────
// Guarantee liability & reserve coverage
// ──────────────────────────────────────────────────────────────────────────────

// GuaranteeExposure is one subscription's contribution to guarantee liability.
type GuaranteeExposure struct {
	SubscriptionID uuid.UUID       `db:"subscription_id"`
	ProductID      uuid.UUID       `db:"product_id"`
	Principal      decimal.Decimal `db:"principal"`
	MinYieldRate   decimal.Decimal `db:"min_yield_rate"`
}

// GuaranteeLiability is principal × minYieldRate.
func GuaranteeLiability(principal, minYieldRate decimal.Decimal) decimal.Decimal {
	return Round(principal.Mul(decimal.Max(decimal.Zero, minYieldRate)))
}

// TotalLiability sums the liability of every exposure.
func TotalLiability(exposures []GuaranteeExposure) decimal.Decimal {
	total := decimal.Zero
	for _, e := range exposures {
		total = total.Add(GuaranteeLiability(e.Principal, e.MinYieldRate))
	}
	return Round(total)
}

// ReserveBalance sums signed reserve fund entries.
func ReserveBalance(entries []*ReserveFundEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.EntryType.Signed(e.Amount))
	}
	return Round(total)
}

// CoverageSnapshot compares the reserve fund with guarantee liability.
// CoverageRatio is nil when total liability is zero, meaning unbounded
// coverage.
type CoverageSnapshot struct {
	ReserveBalance        decimal.Decimal  `json:"reserveBalance"`
	ExistingLiability     decimal.Decimal  `json:"existingGuaranteedLiability"`
	IncomingLiability     decimal.Decimal  `json:"incomingLiability"`
	ProjectedLiability    decimal.Decimal  `json:"projectedLiability"`
	CoverageRatio         *decimal.Decimal `json:"coverageRatio"`
	RequiredCoverageRatio decimal.Decimal  `json:"requiredCoverageRatio"`
}

// ComputeCoverage builds a snapshot. incoming may be zero.
func ComputeCoverage(reserve, existing, incoming, required decimal.Decimal) CoverageSnapshot {
	projected := Round(existing.Add(incoming))
	snap := CoverageSnapshot{
		ReserveBalance:        reserve,
		ExistingLiability:     existing,
		IncomingLiability:     incoming,
		ProjectedLiability:    projected,
		RequiredCoverageRatio: required,
	}
	if projected.IsPositive() {
		ratio := Round(reserve.Div(projected))
		snap.CoverageRatio = &ratio
	}
	return snap
}

// Sufficient reports whether the ratio meets the required minimum.
func (c CoverageSnapshot) Sufficient() bool {
	if c.CoverageRatio == nil {
		return true
	}
	return c.CoverageRatio.GreaterThanOrEqual(c.RequiredCoverageRatio)
}
