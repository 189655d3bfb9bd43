package service

import (
	"testing"
	"time"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddEntry_ComputesBalanceAfter(t *testing.T) {
	f := newFixture(t)

	e, err := f.reserveFund.AddEntry(f.ctx, ReserveEntryRequest{EntryType: domain.ReserveDeposit, Amount: dec("250"), Note: "seed"})
	require.NoError(t, err)
	assert.True(t, e.BalanceAfter.Equal(dec("250")))

	e, err = f.reserveFund.AddEntry(f.ctx, ReserveEntryRequest{EntryType: domain.ReserveWithdraw, Amount: dec("100")})
	require.NoError(t, err)
	assert.True(t, e.BalanceAfter.Equal(dec("150")))

	e, err = f.reserveFund.AddEntry(f.ctx, ReserveEntryRequest{EntryType: domain.ReserveAdjustment, Amount: dec("5")})
	require.NoError(t, err)
	assert.True(t, e.BalanceAfter.Equal(dec("155")))

	entries, err := f.reserveFund.ListEntries(f.ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, domain.ReserveAdjustment, entries[0].EntryType)
}

func TestAddEntry_Rejections(t *testing.T) {
	f := newFixture(t)

	_, err := f.reserveFund.AddEntry(f.ctx, ReserveEntryRequest{EntryType: domain.ReserveGuaranteeTopup, Amount: dec("1")})
	assert.ErrorIs(t, err, domain.ErrInvalidReserveEntry)
	_, err = f.reserveFund.AddEntry(f.ctx, ReserveEntryRequest{EntryType: domain.ReserveDeposit, Amount: dec("0")})
	assert.ErrorIs(t, err, domain.ErrInvalidReserveEntry)
	_, err = f.reserveFund.AddEntry(f.ctx, ReserveEntryRequest{EntryType: "BONUS", Amount: dec("1")})
	assert.ErrorIs(t, err, domain.ErrInvalidReserveEntry)
}

func TestHealth_SplitsLiquidationBacklog(t *testing.T) {
	f := newFixture(t, withCooldownHours(0))
	f.deposit(testWallet, "3000")
	stuck := f.running(f.balanced, f.term30, "500")
	ready := f.running(f.balanced, f.term30, "500")
	f.running(f.balanced, f.term30, "500")

	f.gateway.SetOpenPositions(stuck.ID, 3)
	f.gateway.SetOpenPositions(ready.ID, 1)
	_, err := f.withdraw.Withdraw(f.ctx, f.withdrawReq(stuck.ID, true))
	require.NoError(t, err)
	_, err = f.withdraw.Withdraw(f.ctx, f.withdrawReq(ready.ID, true))
	require.NoError(t, err)
	f.gateway.SetOpenPositions(ready.ID, 0)

	// Unmapped for longer than the stale window.
	_, err = f.subscribe(testWallet, f.balanced, f.term30, "500")
	require.NoError(t, err)
	f.advance(45 * time.Minute)

	h, err := f.reserveFund.Health(f.ctx, HealthQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, h.Running)
	assert.Equal(t, 2, h.Liquidating)
	assert.Equal(t, 1, h.StaleUnmapped)
	assert.Equal(t, DefaultStaleMappingMinutes, h.StaleMappingMinutes)
	assert.Equal(t, 2, h.InspectedLiquidating)
	assert.Equal(t, 1, h.ReadyToSettleCount)
	require.Equal(t, 1, h.BacklogCount)
	assert.Equal(t, stuck.ID, h.Backlog[0].SubscriptionID)
	assert.Equal(t, 3, h.Backlog[0].OpenPositionsCount)
	assert.Zero(t, h.OverdueUnsettled)
}
