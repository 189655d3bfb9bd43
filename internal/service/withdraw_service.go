package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/evetabi/managedwealth/internal/execution"
	"github.com/evetabi/managedwealth/internal/metrics"
	"github.com/evetabi/managedwealth/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WithdrawRequest is a withdraw call from a verified wallet.
type WithdrawRequest struct {
	WalletAddress                 string
	SubscriptionID                uuid.UUID
	Confirm                       bool
	AcknowledgeEarlyWithdrawalFee bool
}

// Guardrails reports how the early-withdrawal rules shaped the payout.
type Guardrails struct {
	IsEarlyWithdrawal      bool            `json:"isEarlyWithdrawal"`
	CooldownHours          float64         `json:"cooldownHours"`
	EarlyWithdrawalFeeRate decimal.Decimal `json:"earlyWithdrawalFeeRate"`
	EarlyWithdrawalFee     decimal.Decimal `json:"earlyWithdrawalFee"`
	FinalPayoutBeforeFee   decimal.Decimal `json:"finalPayoutBeforeFee"`
	FinalPayoutAfterFee    decimal.Decimal `json:"finalPayoutAfterFee"`
}

// WithdrawResult is returned by Withdraw. Liquidating is true when open
// positions deferred the settlement.
type WithdrawResult struct {
	Liquidating   bool                 `json:"-"`
	Subscription  *domain.Subscription `json:"subscription"`
	Settlement    *domain.Settlement   `json:"settlement,omitempty"`
	EarlyRedeemed bool                 `json:"earlyRedeemed"`
	Guardrails    *Guardrails          `json:"guardrails,omitempty"`
}

// WithdrawService handles user-initiated withdrawals.
type WithdrawService struct {
	store       repository.Store
	gateway     execution.Gateway
	settlements *SettlementService
	profitFees  *ProfitFeeService
	policy      domain.WithdrawPolicy
	notifier    Notifier
	log         *slog.Logger
	now         Clock
}

// NewWithdrawService creates a WithdrawService.
func NewWithdrawService(
	store repository.Store,
	gateway execution.Gateway,
	settlements *SettlementService,
	profitFees *ProfitFeeService,
	policy domain.WithdrawPolicy,
	log *slog.Logger,
) *WithdrawService {
	return &WithdrawService{
		store:       store,
		gateway:     gateway,
		settlements: settlements,
		profitFees:  profitFees,
		policy:      policy,
		notifier:    nopNotifier{},
		log:         log.With("component", "withdraw_service"),
		now:         utcNow,
	}
}

// SetNotifier injects the WS Hub dependency post-construction.
func (s *WithdrawService) SetNotifier(n Notifier) { s.notifier = n }

// Policy returns the guardrail parameters in effect.
func (s *WithdrawService) Policy() domain.WithdrawPolicy { return s.policy }

// Withdraw settles the subscription now, or moves it to LIQUIDATING when
// positions are still open. Early withdrawals of RUNNING subscriptions are
// subject to the cooldown and to an acknowledged exit fee.
func (s *WithdrawService) Withdraw(ctx context.Context, req WithdrawRequest) (*WithdrawResult, error) {
	if !req.Confirm {
		return nil, domain.ErrConfirmRequired
	}
	wallet := domain.NormalizeWallet(req.WalletAddress)
	now := s.now()

	var out *WithdrawResult
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		// ── 1. Load and authorize ────────────────────────────────────────────
		sub, err := q.GetSubscriptionForUpdate(ctx, req.SubscriptionID)
		if err != nil {
			return err
		}
		if sub.WalletAddress != wallet {
			return domain.ErrForbidden
		}
		if !sub.Status.In(domain.SubRunning, domain.SubMatured, domain.SubLiquidating) {
			return domain.ErrNotWithdrawable
		}
		existing, err := q.GetSettlement(ctx, sub.ID)
		if err != nil {
			return err
		}
		if existing.IsCompleted() {
			return domain.ErrAlreadySettled
		}

		// ── 2. Cooldown ──────────────────────────────────────────────────────
		early := sub.IsEarlyWithdrawal(now)
		if early {
			if cd := s.policy.CheckCooldown(sub.CooldownStart(), now); cd.Active {
				return domain.NewCooldownError(s.policy, cd)
			}
		}

		// ── 3. Open positions defer settlement ───────────────────────────────
		open, err := s.gateway.OpenPositionCount(ctx, sub.ID)
		if err != nil {
			return fmt.Errorf("withdraw_service.Withdraw: open positions: %w", err)
		}
		if open > 0 {
			if _, err := s.settlements.MarkLiquidating(ctx, q, sub); err != nil {
				return err
			}
			reloaded, err := q.GetSubscription(ctx, sub.ID)
			if err != nil {
				return err
			}
			out = &WithdrawResult{Liquidating: true, Subscription: reloaded}
			return nil
		}

		// ── 4. Figures and exit fee ──────────────────────────────────────────
		product, err := q.GetProduct(ctx, sub.ProductID)
		if err != nil {
			return err
		}
		eligible := domain.GuaranteeEligible(product, sub, now)
		figures, _, err := s.settlements.Compute(ctx, q, sub, now, &eligible)
		if err != nil {
			return err
		}

		feeRate := decimal.Zero
		fee := decimal.Zero
		if early {
			feeRate = s.policy.EarlyWithdrawalFeeRate
			fee = s.policy.EarlyWithdrawalFee(figures.FinalPayout)
		}
		afterFee := domain.PayoutAfterFee(figures.FinalPayout, fee)
		if early && fee.IsPositive() && !req.AcknowledgeEarlyWithdrawalFee {
			return domain.NewFeeAckError(s.policy, fee, afterFee)
		}

		// ── 5. Settle ────────────────────────────────────────────────────────
		res, err := s.settlements.Apply(ctx, q, sub.ID, SettleOptions{
			Now:               now,
			GuaranteeEligible: &eligible,
			FinalPayout:       &afterFee,
			TopupNote:         domain.NoteManualGuaranteeTopup,
			EndAtNow:          true,
			PreserveUnmatured: true,
		})
		if err != nil {
			return err
		}
		switch res.Outcome {
		case SettleNotFound:
			return domain.ErrSubscriptionNotFound
		case SettleAlreadySettled:
			return domain.ErrAlreadySettled
		}

		// ── 6. Risk event (observability only) ───────────────────────────────
		drawdown := domain.WithdrawDrawdown(sub.Principal, figures.FinalEquity)
		if early && s.policy.DrawdownAlert(drawdown) {
			if err := q.InsertRiskEvent(ctx, &domain.RiskEvent{
				ID:             uuid.New(),
				SubscriptionID: sub.ID,
				Severity:       domain.RiskSeverityWarn,
				Metric:         domain.RiskMetricEarlyWithdrawDD,
				Threshold:      s.policy.DrawdownAlertThreshold,
				ObservedValue:  drawdown,
				Action:         domain.RiskActionDeleverage,
				Note:           domain.NoteEarlyWithdrawDrawdown,
				CreatedAt:      now,
			}); err != nil {
				return err
			}
		}

		out = &WithdrawResult{
			Subscription:  res.Subscription,
			Settlement:    res.Settlement,
			EarlyRedeemed: !res.GuaranteeEligible,
			Guardrails: &Guardrails{
				IsEarlyWithdrawal:      early,
				CooldownHours:          s.policy.CooldownHours,
				EarlyWithdrawalFeeRate: feeRate,
				EarlyWithdrawalFee:     fee,
				FinalPayoutBeforeFee:   figures.FinalPayout,
				FinalPayoutAfterFee:    afterFee,
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// ── 7. Post-commit side effects ──────────────────────────────────────────
	if out.Liquidating {
		s.notifier.SubscriptionStatus(wallet, out.Subscription.ID, domain.SubLiquidating)
		return out, nil
	}
	metrics.Settlements.WithLabelValues("withdraw", "completed").Inc()
	metrics.GuaranteeTopups.Add(out.Settlement.ReserveTopup.InexactFloat64())
	s.notifier.SubscriptionStatus(wallet, out.Subscription.ID, domain.SubSettled)
	s.profitFees.DistributeBestEffort(ctx, out.Settlement, wallet, PrefixManualWithdraw)
	s.log.Info("managed subscription withdrawn",
		"subscription_id", out.Subscription.ID, "early", out.Guardrails.IsEarlyWithdrawal,
		"final_payout", out.Settlement.FinalPayout.String())
	return out, nil
}
