// Package affiliate calls the external referral engine that distributes
// profit fees of settled managed subscriptions.
package affiliate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ScopeManagedWithdrawal is the commission scope of managed settlements.
const ScopeManagedWithdrawal = "MANAGED_WITHDRAWAL"

// ErrDistributionRejected is returned when the engine answers with a non-2xx
// status.
var ErrDistributionRejected = errors.New("profit fee distribution rejected")

// Distribution is one call to the referral engine. TradeID is deterministic
// per settlement so repeated calls are traceable and deduplicated upstream.
type Distribution struct {
	WalletAddress string          `json:"walletAddress"`
	GrossPnl      decimal.Decimal `json:"grossPnl"`
	TradeID       string          `json:"tradeId"`
	Scope         string          `json:"scope"`
}

// Distributor distributes the profit fee of a settlement.
type Distributor interface {
	DistributeProfitFee(ctx context.Context, d Distribution) error
}

// Client posts distributions to the referral engine over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a Client. An empty baseURL disables distribution; calls
// are logged and succeed.
func NewClient(baseURL, apiKey string, timeout time.Duration, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With("component", "affiliate_client"),
	}
}

// Enabled reports whether an endpoint is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// DistributeProfitFee posts d to /api/v1/referrals/profit-fee.
func (c *Client) DistributeProfitFee(ctx context.Context, d Distribution) error {
	if !c.Enabled() {
		c.log.Info("profit fee distribution disabled, skipping",
			"trade_id", d.TradeID, "gross_pnl", d.GrossPnl.String())
		return nil
	}

	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("affiliate.DistributeProfitFee marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/referrals/profit-fee", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("affiliate.DistributeProfitFee request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("affiliate.DistributeProfitFee send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: status %d: %s", ErrDistributionRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	c.log.Debug("profit fee distributed", "trade_id", d.TradeID)
	return nil
}

var _ Distributor = (*Client)(nil)
