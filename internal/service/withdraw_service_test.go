package service

import (
	"testing"
	"time"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) withdrawReq(id uuid.UUID, ack bool) WithdrawRequest {
	return WithdrawRequest{
		WalletAddress:                 testWallet,
		SubscriptionID:                id,
		Confirm:                       true,
		AcknowledgeEarlyWithdrawalFee: ack,
	}
}

func TestWithdraw_CooldownThenFeeAckThenSettles(t *testing.T) {
	f := newFixture(t, withCooldownHours(6))
	f.deposit(testWallet, "1000")
	sub := f.running(f.balanced, f.term30, "1000")

	f.advance(time.Hour)
	_, err := f.withdraw.Withdraw(f.ctx, f.withdrawReq(sub.ID, true))
	var ge *domain.GuardrailError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, domain.CodeCooldownActive, ge.Code())
	assert.Equal(t, 300, ge.Details["remainingMinutes"])
	assert.Equal(t, 6.0, ge.Details["cooldownHours"])

	f.advance(6 * time.Hour)
	f.setPnL(sub, "100")

	_, err = f.withdraw.Withdraw(f.ctx, f.withdrawReq(sub.ID, false))
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, domain.CodeFeeAckRequired, ge.Code())
	fee, ok := ge.Details["earlyWithdrawalFee"].(decimal.Decimal)
	require.True(t, ok)
	assert.True(t, fee.Equal(dec("11")))
	assert.Equal(t, domain.SubRunning, f.reload(sub.ID).Status, "rejections leave the subscription untouched")

	res, err := f.withdraw.Withdraw(f.ctx, f.withdrawReq(sub.ID, true))
	require.NoError(t, err)
	require.False(t, res.Liquidating)
	assert.True(t, res.EarlyRedeemed)
	require.NotNil(t, res.Guardrails)
	assert.True(t, res.Guardrails.IsEarlyWithdrawal)
	assert.True(t, res.Guardrails.EarlyWithdrawalFeeRate.Equal(dec("0.01")))
	assert.True(t, res.Guardrails.EarlyWithdrawalFee.Equal(dec("11")))
	assert.True(t, res.Guardrails.FinalPayoutBeforeFee.Equal(dec("1100")))
	assert.True(t, res.Guardrails.FinalPayoutAfterFee.Equal(dec("1089")))
	assert.True(t, res.Settlement.FinalPayout.Equal(dec("1089")))

	settled := f.reload(sub.ID)
	assert.Equal(t, domain.SubSettled, settled.Status)
	assert.Nil(t, settled.MaturedAt, "early exit of a non-guaranteed product is not a maturity")
	require.NotNil(t, settled.EndAt)
	assert.Equal(t, f.now(), *settled.EndAt)

	require.Equal(t, 1, f.dist.callCount())
	assert.Equal(t, TradeID(PrefixManualWithdraw, sub.ID, res.Settlement.ID), f.dist.calls[0].TradeID)

	_, err = f.withdraw.Withdraw(f.ctx, f.withdrawReq(sub.ID, true))
	assert.ErrorIs(t, err, domain.ErrNotWithdrawable)
}

func TestWithdraw_MaturedGuaranteedGetsFloorWithoutFee(t *testing.T) {
	f := newFixture(t)
	f.deposit(testWallet, "1000")
	f.fundReserve("100")
	sub := f.seedSub(f.guarded, f.guardedTerm, "1000", "990", "1000", domain.SubMatured, f.now().Add(-time.Hour))

	res, err := f.withdraw.Withdraw(f.ctx, f.withdrawReq(sub.ID, false))
	require.NoError(t, err)
	assert.False(t, res.EarlyRedeemed)
	assert.False(t, res.Guardrails.IsEarlyWithdrawal)
	assert.True(t, res.Guardrails.EarlyWithdrawalFee.IsZero())
	assert.True(t, res.Guardrails.EarlyWithdrawalFeeRate.IsZero())
	assert.True(t, res.Settlement.FinalPayout.Equal(dec("1020")))
	assert.True(t, res.Settlement.ReserveTopup.Equal(dec("30")))

	entries, err := f.store.ListReserveEntries(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteManualGuaranteeTopup, entries[0].Note)
	assert.NotNil(t, f.reload(sub.ID).MaturedAt)
}

func TestWithdraw_OpenPositionsDeferToLiquidation(t *testing.T) {
	f := newFixture(t, withCooldownHours(0))
	f.deposit(testWallet, "1000")
	sub := f.running(f.balanced, f.term30, "500")
	f.gateway.SetOpenPositions(sub.ID, 1)

	res, err := f.withdraw.Withdraw(f.ctx, f.withdrawReq(sub.ID, true))
	require.NoError(t, err)
	assert.True(t, res.Liquidating)
	assert.Equal(t, domain.SubLiquidating, res.Subscription.Status)
	assert.Nil(t, res.Settlement)
	assert.False(t, f.gateway.IsActive(*sub.CopyConfigID))
	assert.Zero(t, f.store.SettlementCount())
}

func TestWithdraw_DrawdownRaisesRiskEvent(t *testing.T) {
	f := newFixture(t, withCooldownHours(0))
	f.deposit(testWallet, "1000")
	sub := f.running(f.balanced, f.term30, "1000")
	f.setPnL(sub, "-400")

	res, err := f.withdraw.Withdraw(f.ctx, f.withdrawReq(sub.ID, true))
	require.NoError(t, err)
	assert.True(t, res.Guardrails.EarlyWithdrawalFee.Equal(dec("6")))

	events, err := f.reserveFund.RiskEvents(f.ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.RiskMetricEarlyWithdrawDD, events[0].Metric)
	assert.Equal(t, domain.RiskActionDeleverage, events[0].Action)
	assert.True(t, events[0].ObservedValue.Equal(dec("0.4")))
	assert.True(t, events[0].Threshold.Equal(dec("0.35")))
}

func TestWithdraw_Rejections(t *testing.T) {
	f := newFixture(t, withCooldownHours(0))
	f.deposit(testWallet, "1000")
	sub := f.running(f.balanced, f.term30, "500")

	req := f.withdrawReq(sub.ID, true)
	req.Confirm = false
	_, err := f.withdraw.Withdraw(f.ctx, req)
	assert.ErrorIs(t, err, domain.ErrConfirmRequired)

	req = f.withdrawReq(sub.ID, true)
	req.WalletAddress = "0xsomeoneelse"
	_, err = f.withdraw.Withdraw(f.ctx, req)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.withdraw.Withdraw(f.ctx, f.withdrawReq(uuid.New(), true))
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)

	pending, err := f.subscribe(testWallet, f.balanced, f.term30, "500")
	require.NoError(t, err)
	_, err = f.withdraw.Withdraw(f.ctx, f.withdrawReq(pending.Subscription.ID, true))
	assert.ErrorIs(t, err, domain.ErrNotWithdrawable)
}
