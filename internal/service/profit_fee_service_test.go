package service

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistribute_FailureIsRetriedThenFinalized(t *testing.T) {
	f := newFixture(t)
	subID, settlementID := uuid.New(), uuid.New()

	f.dist.fail(errors.New(strings.Repeat("x", 900)))
	outcome, err := f.profitFees.Distribute(f.ctx, testWallet, subID, settlementID, dec("12.5"), PrefixMaturity)
	assert.Error(t, err)
	assert.Equal(t, ProfitFeeFailed, outcome)

	f.dist.fail(nil)
	outcome, err = f.profitFees.Distribute(f.ctx, testWallet, subID, settlementID, dec("12.5"), PrefixMaturity)
	require.NoError(t, err)
	assert.Equal(t, ProfitFeeCompleted, outcome)

	outcome, err = f.profitFees.Distribute(f.ctx, testWallet, subID, settlementID, dec("12.5"), PrefixMaturity)
	require.NoError(t, err)
	assert.Equal(t, ProfitFeeSkippedFinalized, outcome)
	assert.Equal(t, 2, f.dist.callCount())

	call := f.dist.calls[1]
	assert.Equal(t, "managed-maturity:"+subID.String()+":"+settlementID.String(), call.TradeID)
	assert.Equal(t, "MANAGED_WITHDRAWAL", call.Scope)
}

func TestDistribute_NonProfitIsSkipped(t *testing.T) {
	f := newFixture(t)
	outcome, err := f.profitFees.Distribute(f.ctx, testWallet, uuid.New(), uuid.New(), dec("-3"), PrefixManualWithdraw)
	require.NoError(t, err)
	assert.Equal(t, ProfitFeeSkippedNonProfit, outcome)
	assert.Zero(t, f.dist.callCount())
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", truncateRunes("abc", 5))
	assert.Equal(t, "ğü", truncateRunes("ğüş", 2))
}

func TestRetryPending_ResendsFailedDistribution(t *testing.T) {
	f := newFixture(t)
	f.deposit(testWallet, "1000")
	sub := f.running(f.balanced, f.term30, "500")
	f.setPnL(sub, "40")
	f.advance(31 * 24 * time.Hour)

	f.dist.fail(errors.New("referral engine unavailable"))
	sum, err := f.settlements.SettleDue(f.ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Settled, "a failed distribution does not undo the settlement")
	require.Equal(t, 1, f.dist.callCount())

	completed, failed, err := f.profitFees.RetryPending(f.ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, completed)
	assert.Equal(t, 1, failed)

	f.dist.fail(nil)
	completed, failed, err = f.profitFees.RetryPending(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, completed)
	assert.Zero(t, failed)

	st, err := f.store.GetSettlement(f.ctx, sub.ID)
	require.NoError(t, err)
	last := f.dist.calls[len(f.dist.calls)-1]
	assert.Equal(t, TradeID(PrefixMaturity, sub.ID, st.ID), last.TradeID)
	assert.True(t, last.GrossPnl.Equal(dec("40")))

	completed, failed, err = f.profitFees.RetryPending(f.ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, completed+failed, "completed distributions are not resent")
	assert.Equal(t, 3, f.dist.callCount())
}
