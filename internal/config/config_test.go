package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_WALLET_SECRET", "secret")
	cfg, err := load()
	require.NoError(t, err)

	assert.Equal(t, 500.0, cfg.Managed.MinPrincipal)
	assert.Equal(t, 6.0, cfg.Managed.CooldownHours)
	assert.Equal(t, 0.01, cfg.Managed.EarlyWithdrawFeeRate)
	assert.Equal(t, 0.35, cfg.Managed.DrawdownAlertThreshold)
	assert.Equal(t, 60*time.Second, cfg.Worker.Interval)
	assert.Equal(t, 100, cfg.Worker.MapBatch)
	assert.Equal(t, 500, cfg.Worker.NavBatch)
	assert.Equal(t, 300, cfg.Worker.SettlementBatch)
	assert.True(t, cfg.Worker.Enabled)
	assert.False(t, cfg.Worker.RunOnce)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ClampsPolicy(t *testing.T) {
	t.Setenv("MANAGED_WITHDRAW_COOLDOWN_HOURS", "500")
	t.Setenv("MANAGED_EARLY_WITHDRAW_FEE_RATE", "0.9")
	t.Setenv("MANAGED_WITHDRAW_DRAWDOWN_ALERT_THRESHOLD", "-1")
	t.Setenv("MANAGED_WEALTH_LOOP_INTERVAL", "2")
	cfg, err := load()
	require.NoError(t, err)

	assert.Equal(t, 168.0, cfg.Managed.CooldownHours)
	assert.Equal(t, 0.5, cfg.Managed.EarlyWithdrawFeeRate)
	assert.Equal(t, 0.0, cfg.Managed.DrawdownAlertThreshold)
	assert.Equal(t, MinWorkerInterval, cfg.Worker.Interval)
}

func TestLoad_InvalidNumber(t *testing.T) {
	t.Setenv("MANAGED_EARLY_WITHDRAW_FEE_RATE", "abc")
	_, err := load()
	assert.Error(t, err)
}

func TestValidate_RequiresWalletSecret(t *testing.T) {
	cfg, err := load()
	require.NoError(t, err)
	cfg.Auth.WalletSecret = ""
	assert.ErrorContains(t, cfg.Validate(), "JWT_WALLET_SECRET")
}
