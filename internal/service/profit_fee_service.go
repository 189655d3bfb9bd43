package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/managedwealth/internal/affiliate"
	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/evetabi/managedwealth/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade id prefixes of profit-fee distributions.
const (
	PrefixManualWithdraw = "managed-withdraw"
	PrefixMaturity       = "managed-maturity"
)

const maxCommissionErrorLen = 500

// A PROCESSING row untouched this long is treated as abandoned.
const staleProcessingAfter = 10 * time.Minute

// ProfitFeeOutcome is the result of a distribution attempt.
type ProfitFeeOutcome string

const (
	ProfitFeeSkippedNonProfit  ProfitFeeOutcome = "SKIPPED_NON_PROFIT"
	ProfitFeeSkippedFinalized  ProfitFeeOutcome = "SKIPPED_ALREADY_FINALIZED"
	ProfitFeeSkippedProcessing ProfitFeeOutcome = "SKIPPED_ALREADY_PROCESSING"
	ProfitFeeCompleted         ProfitFeeOutcome = "COMPLETED"
	ProfitFeeFailed            ProfitFeeOutcome = "FAILED"
)

// ProfitFeeService distributes the profit fee of completed settlements
// exactly once per settlement, tracked in the settlement execution table.
type ProfitFeeService struct {
	store       repository.Store
	distributor affiliate.Distributor
	log         *slog.Logger
	now         Clock
}

// NewProfitFeeService creates a ProfitFeeService.
func NewProfitFeeService(store repository.Store, distributor affiliate.Distributor, log *slog.Logger) *ProfitFeeService {
	return &ProfitFeeService{
		store:       store,
		distributor: distributor,
		log:         log.With("component", "profit_fee_service"),
		now:         utcNow,
	}
}

// TradeID is the deterministic distribution id of a settlement.
func TradeID(prefix string, subscriptionID, settlementID uuid.UUID) string {
	return prefix + ":" + subscriptionID.String() + ":" + settlementID.String()
}

// Distribute sends the settlement's gross PnL to the referral engine when
// positive. FAILED attempts are picked up again by RetryPending.
func (s *ProfitFeeService) Distribute(ctx context.Context, wallet string, subscriptionID, settlementID uuid.UUID,
	grossPnl decimal.Decimal, prefix string) (ProfitFeeOutcome, error) {
	tradeID := TradeID(prefix, subscriptionID, settlementID)

	status := domain.CommissionPending
	if !grossPnl.IsPositive() {
		status = domain.CommissionSkipped
	}
	now := s.now()
	exec, err := s.store.EnsureSettlementExecution(ctx, &domain.SettlementExecution{
		ID:               uuid.New(),
		SubscriptionID:   subscriptionID,
		SettlementID:     settlementID,
		WalletAddress:    wallet,
		GrossPnl:         grossPnl,
		TradeID:          tradeID,
		CommissionStatus: status,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return "", fmt.Errorf("profit_fee_service.Distribute: ensure: %w", err)
	}

	if !grossPnl.IsPositive() {
		if exec.CommissionStatus != domain.CommissionSkipped {
			if err := s.store.FinishSettlementExecution(ctx, exec.ID, domain.CommissionSkipped, nil); err != nil {
				return "", fmt.Errorf("profit_fee_service.Distribute: skip: %w", err)
			}
		}
		return ProfitFeeSkippedNonProfit, nil
	}

	switch exec.CommissionStatus {
	case domain.CommissionCompleted, domain.CommissionSkipped:
		return ProfitFeeSkippedFinalized, nil
	}

	return s.dispatch(ctx, exec)
}

// dispatch claims exec and calls the distributor once.
func (s *ProfitFeeService) dispatch(ctx context.Context, exec *domain.SettlementExecution) (ProfitFeeOutcome, error) {
	claimed, err := s.store.ClaimSettlementExecution(ctx, exec.ID, s.now().Add(-staleProcessingAfter))
	if err != nil {
		return "", fmt.Errorf("profit_fee_service.dispatch: claim: %w", err)
	}
	if !claimed {
		return ProfitFeeSkippedProcessing, nil
	}

	distErr := s.distributor.DistributeProfitFee(ctx, affiliate.Distribution{
		WalletAddress: exec.WalletAddress,
		GrossPnl:      exec.GrossPnl,
		TradeID:       exec.TradeID,
		Scope:         affiliate.ScopeManagedWithdrawal,
	})
	if distErr != nil {
		msg := truncateRunes(distErr.Error(), maxCommissionErrorLen)
		if err := s.store.FinishSettlementExecution(ctx, exec.ID, domain.CommissionFailed, &msg); err != nil {
			s.log.Error("could not record failed distribution", "trade_id", exec.TradeID, "error", err)
		}
		return ProfitFeeFailed, fmt.Errorf("profit_fee_service.dispatch: %w", distErr)
	}

	if err := s.store.FinishSettlementExecution(ctx, exec.ID, domain.CommissionCompleted, nil); err != nil {
		return "", fmt.Errorf("profit_fee_service.dispatch: complete: %w", err)
	}
	return ProfitFeeCompleted, nil
}

// RetryPending re-sends up to limit distributions that are still owed:
// FAILED, never attempted, or abandoned mid-flight.
func (s *ProfitFeeService) RetryPending(ctx context.Context, limit int) (completed, failed int, err error) {
	rows, err := s.store.ListRetryableExecutions(ctx, s.now().Add(-staleProcessingAfter), limit)
	if err != nil {
		return 0, 0, fmt.Errorf("profit_fee_service.RetryPending: %w", err)
	}
	for _, exec := range rows {
		if ctx.Err() != nil {
			return completed, failed, ctx.Err()
		}
		if !exec.GrossPnl.IsPositive() {
			if err := s.store.FinishSettlementExecution(ctx, exec.ID, domain.CommissionSkipped, nil); err != nil {
				failed++
			}
			continue
		}
		outcome, err := s.dispatch(ctx, exec)
		switch {
		case err != nil:
			failed++
			s.log.Warn("profit fee retry failed", "trade_id", exec.TradeID, "attempt", exec.Attempts+1, "error", err)
		case outcome == ProfitFeeCompleted:
			completed++
		}
	}
	return completed, failed, nil
}

// DistributeBestEffort runs Distribute and only logs failures. The
// settlement that triggered it has already committed.
func (s *ProfitFeeService) DistributeBestEffort(ctx context.Context, st *domain.Settlement, wallet, prefix string) {
	outcome, err := s.Distribute(ctx, wallet, st.SubscriptionID, st.ID, st.GrossPnl, prefix)
	if err != nil {
		s.log.Warn("profit fee distribution failed",
			"subscription_id", st.SubscriptionID, "settlement_id", st.ID, "error", err)
		return
	}
	s.log.Debug("profit fee distribution", "subscription_id", st.SubscriptionID, "outcome", outcome)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
