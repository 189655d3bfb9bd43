package affiliate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_PostsDistribution(t *testing.T) {
	var got Distribution
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/referrals/profit-fee", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret", time.Second, nil)
	err := c.DistributeProfitFee(context.Background(), Distribution{
		WalletAddress: "0xabc",
		GrossPnl:      decimal.NewFromInt(120),
		TradeID:       "managed-maturity:s:t",
		Scope:         ScopeManagedWithdrawal,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "managed-maturity:s:t", got.TradeID)
	assert.True(t, got.GrossPnl.Equal(decimal.NewFromInt(120)))
}

func TestClient_RejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, nil)
	err := c.DistributeProfitFee(context.Background(), Distribution{TradeID: "x"})
	require.ErrorIs(t, err, ErrDistributionRejected)
	assert.Contains(t, err.Error(), "502")
}

func TestClient_DisabledIsNoop(t *testing.T) {
	c := NewClient("", "", time.Second, nil)
	assert.False(t, c.Enabled())
	assert.NoError(t, c.DistributeProfitFee(context.Background(), Distribution{TradeID: "x"}))
}
