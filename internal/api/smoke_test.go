// Package api_test runs HTTP-level smoke tests using net/http/httptest
// against the real services over the in-memory store and gateway. They
// verify:
//   - Gin router routing and middleware wiring
//   - JWT auth middleware (401 without token, 401 with bad token)
//   - Response format consistency (success/error envelope)
//   - Error translation for admission and withdrawal guardrails
//   - CORS preflight handling
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/evetabi/managedwealth/internal/affiliate"
	"github.com/evetabi/managedwealth/internal/api"
	"github.com/evetabi/managedwealth/internal/catalog"
	"github.com/evetabi/managedwealth/internal/config"
	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/evetabi/managedwealth/internal/execution"
	"github.com/evetabi/managedwealth/internal/repository"
	"github.com/evetabi/managedwealth/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	walletA = "0xaaaa000000000000000000000000000000000001"
	walletB = "0xbbbb000000000000000000000000000000000002"

	balancedID = "3b0e6a52-6c1f-4d0e-8d7a-1f2a3b4c5d01"
	term30ID   = "3b0e6a52-6c1f-4d0e-8d7a-1f2a3b4c5e01"
)

const testCatalog = `
products:
  - id: 3b0e6a52-6c1f-4d0e-8d7a-1f2a3b4c5d01
    slug: balanced-growth
    name: Balanced Growth
    strategy_profile: MODERATE
    performance_fee_rate: "0.2"
    terms:
      - id: 3b0e6a52-6c1f-4d0e-8d7a-1f2a3b4c5e01
        label: 30 days
        duration_days: 30
    agents:
      - id: 3b0e6a52-6c1f-4d0e-8d7a-1f2a3b4c5f01
        trader_address: "0xtrader"
        trader_name: Alpha
        primary: true
  - id: 3b0e6a52-6c1f-4d0e-8d7a-1f2a3b4c5d02
    slug: capital-guard
    name: Capital Guard
    strategy_profile: CONSERVATIVE
    is_guaranteed: true
    performance_fee_rate: "0.1"
    terms:
      - id: 3b0e6a52-6c1f-4d0e-8d7a-1f2a3b4c5e02
        duration_days: 30
        min_yield_rate: "0.02"
`

// ── Test helpers ──────────────────────────────────────────────────────────────

func testCfg() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Env:  "development",
			Port: "8080",
		},
		Auth: config.AuthConfig{
			WalletSecret: "test-wallet-secret-abcdefghijklmnop",
			AdminSecret:  "test-admin-secret-abcdefghijklmnop",
		},
		Managed: config.ManagedConfig{
			MinPrincipal:           500,
			CooldownHours:          6,
			EarlyWithdrawFeeRate:   0.01,
			DrawdownAlertThreshold: 0.35,
			TrialTermDays:          1,
		},
		RateLimit: config.RateLimitConfig{RPS: 1000, Burst: 1000},
	}
}

type testEnv struct {
	h         http.Handler
	store     *repository.MemoryStore
	lifecycle *service.LifecycleService
	auth      *service.AuthService
}

// buildTestRouter wires the full service graph over MemoryStore and
// MemoryGateway, with the catalog above synced in.
func buildTestRouter(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	cfg := testCfg()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := repository.NewMemoryStore()
	gateway := execution.NewMemoryGateway()

	cat, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)
	require.NoError(t, cat.Sync(ctx, store))

	svcs := service.NewServices(store, gateway, affiliate.NewClient("", "", time.Second, log), cfg, log)

	r := api.SetupRouter(api.RouterDeps{
		AuthSvc:         svcs.Auth,
		SubscriptionSvc: svcs.Subscriptions,
		WithdrawSvc:     svcs.Withdraw,
		ReservationSvc:  svcs.Reservations,
		Hub:             nil,
		Cfg:             cfg,
	})
	return &testEnv{
		h:         r,
		store:     store,
		lifecycle: svcs.Lifecycle,
		auth:      svcs.Auth,
	}
}

func (e *testEnv) bearer(t *testing.T, wallet string) map[string]string {
	t.Helper()
	tok, err := e.auth.IssueWalletToken(wallet, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok}
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Buffer
	if body != "" {
		buf = bytes.NewBufferString(body)
	} else {
		buf = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&m), "body: %s", rr.Body.String())
	return m
}

func subscribeBody(principal string, accepted bool) string {
	b, _ := json.Marshal(map[string]interface{}{
		"productId":     balancedID,
		"termId":        term30ID,
		"principal":     principal,
		"acceptedTerms": accepted,
	})
	return string(b)
}

// subscribe creates a subscription for wallet and returns its id.
func (e *testEnv) subscribe(t *testing.T, wallet, principal string) string {
	t.Helper()
	rr := do(t, e.h, http.MethodPost, "/api/v1/managed/subscriptions", subscribeBody(principal, true), e.bearer(t, wallet))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	data := decodeBody(t, rr)["data"].(map[string]interface{})
	sub := data["subscription"].(map[string]interface{})
	return sub["id"].(string)
}

// ── /health, /metrics, CORS ───────────────────────────────────────────────────

func TestHealthEndpoint(t *testing.T) {
	env := buildTestRouter(t)
	rr := do(t, env.h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := buildTestRouter(t)
	rr := do(t, env.h, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestCORSPreflight(t *testing.T) {
	env := buildTestRouter(t)
	rr := do(t, env.h, http.MethodOptions, "/api/v1/managed/subscriptions", "", map[string]string{
		"Origin":                        "http://localhost:3000",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

// ── Auth ──────────────────────────────────────────────────────────────────────

func TestProtectedRoutes_NoToken(t *testing.T) {
	env := buildTestRouter(t)
	for _, path := range []string{
		"/api/v1/managed/availability",
		"/api/v1/managed/subscriptions",
	} {
		rr := do(t, env.h, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
		body := decodeBody(t, rr)
		assert.Equal(t, false, body["success"])
		assert.NotNil(t, body["code"])
	}
}

func TestProtectedRoutes_BadToken(t *testing.T) {
	env := buildTestRouter(t)
	rr := do(t, env.h, http.MethodGet, "/api/v1/managed/subscriptions", "", map[string]string{
		"Authorization": "Bearer not-a-jwt",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// An admin token is not a wallet token.
	adminTok, err := env.auth.IssueAdminToken("ops@evetabi", domain.RoleAdmin, time.Hour)
	require.NoError(t, err)
	rr = do(t, env.h, http.MethodGet, "/api/v1/managed/subscriptions", "", map[string]string{
		"Authorization": "Bearer " + adminTok,
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

// ── Catalog ───────────────────────────────────────────────────────────────────

func TestProducts_Public(t *testing.T) {
	env := buildTestRouter(t)
	rr := do(t, env.h, http.MethodGet, "/api/v1/managed/products", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Len(t, body["data"], 2)
}

// ── Subscriptions ─────────────────────────────────────────────────────────────

func TestSubscribe_ListDetailNav(t *testing.T) {
	env := buildTestRouter(t)
	env.store.AddNetDeposit(walletA, "DEPOSIT", decimal.NewFromInt(1500))
	auth := env.bearer(t, walletA)

	id := env.subscribe(t, walletA, "1000")

	rr := do(t, env.h, http.MethodGet, "/api/v1/managed/subscriptions", "", auth)
	require.Equal(t, http.StatusOK, rr.Code)
	data := decodeBody(t, rr)["data"].(map[string]interface{})
	assert.Len(t, data["subscriptions"], 1)
	guardrails := data["withdrawGuardrails"].(map[string]interface{})
	assert.EqualValues(t, 6, guardrails["cooldownHours"])

	rr = do(t, env.h, http.MethodGet, "/api/v1/managed/subscriptions?status=RUNNING", "", auth)
	require.Equal(t, http.StatusOK, rr.Code)
	data = decodeBody(t, rr)["data"].(map[string]interface{})
	assert.Empty(t, data["subscriptions"])

	rr = do(t, env.h, http.MethodGet, "/api/v1/managed/subscriptions?status=BOGUS", "", auth)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, env.h, http.MethodGet, "/api/v1/managed/subscriptions/"+id, "", auth)
	require.Equal(t, http.StatusOK, rr.Code)
	detail := decodeBody(t, rr)["data"].(map[string]interface{})
	sub := detail["subscription"].(map[string]interface{})
	assert.Equal(t, string(domain.SubPending), sub["status"])

	rr = do(t, env.h, http.MethodGet, "/api/v1/managed/subscriptions/"+id+"/nav", "", auth)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody(t, rr)["data"], 1, "the initial snapshot is written on create")

	rr = do(t, env.h, http.MethodGet, "/api/v1/managed/availability", "", auth)
	require.Equal(t, http.StatusOK, rr.Code)
	snap := decodeBody(t, rr)["data"].(map[string]interface{})
	assert.Equal(t, "500", snap["availableBalance"])

	rr = do(t, env.h, http.MethodGet, "/api/v1/managed/subscriptions/not-a-uuid", "", auth)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSubscribe_InsufficientBalance(t *testing.T) {
	env := buildTestRouter(t)
	env.store.AddNetDeposit(walletA, "DEPOSIT", decimal.NewFromInt(600))
	env.subscribe(t, walletA, "500")

	rr := do(t, env.h, http.MethodPost, "/api/v1/managed/subscriptions", subscribeBody("500", true), env.bearer(t, walletA))
	require.Equal(t, http.StatusConflict, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, domain.CodeReservationInsufficient, body["code"])
	details := body["details"].(map[string]interface{})
	assert.Equal(t, "400", details["deficit"])
	assert.Equal(t, "100", details["availableBalance"])
}

func TestSubscribe_Validation(t *testing.T) {
	env := buildTestRouter(t)
	env.store.AddNetDeposit(walletA, "DEPOSIT", decimal.NewFromInt(5000))
	auth := env.bearer(t, walletA)

	rr := do(t, env.h, http.MethodPost, "/api/v1/managed/subscriptions", subscribeBody("1000", false), auth)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "ERR_TERMS_NOT_ACCEPTED", decodeBody(t, rr)["code"])

	rr = do(t, env.h, http.MethodPost, "/api/v1/managed/subscriptions", subscribeBody("100", true), auth)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "ERR_PRINCIPAL_BELOW_MINIMUM", decodeBody(t, rr)["code"])

	rr = do(t, env.h, http.MethodPost, "/api/v1/managed/subscriptions", `{"termId":"`+term30ID+`","principal":"1000","acceptedTerms":true}`, auth)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, env.h, http.MethodPost, "/api/v1/managed/subscriptions", `{"productSlug":"nope","termId":"`+term30ID+`","principal":"1000","acceptedTerms":true}`, auth)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDetail_OtherWalletForbidden(t *testing.T) {
	env := buildTestRouter(t)
	env.store.AddNetDeposit(walletA, "DEPOSIT", decimal.NewFromInt(1000))
	id := env.subscribe(t, walletA, "1000")

	rr := do(t, env.h, http.MethodGet, "/api/v1/managed/subscriptions/"+id, "", env.bearer(t, walletB))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, env.h, http.MethodPost, "/api/v1/managed/subscriptions/"+id+"/withdraw", `{"confirm":true}`, env.bearer(t, walletB))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

// ── Withdraw ──────────────────────────────────────────────────────────────────

func TestWithdraw_Guardrails(t *testing.T) {
	env := buildTestRouter(t)
	env.store.AddNetDeposit(walletA, "DEPOSIT", decimal.NewFromInt(1000))
	auth := env.bearer(t, walletA)
	id := env.subscribe(t, walletA, "1000")
	path := "/api/v1/managed/subscriptions/" + id + "/withdraw"

	rr := do(t, env.h, http.MethodPost, path, `{}`, auth)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "ERR_CONFIRM_REQUIRED", decodeBody(t, rr)["code"])

	rr = do(t, env.h, http.MethodPost, path, `{"confirm":true}`, auth)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "ERR_NOT_WITHDRAWABLE", decodeBody(t, rr)["code"])

	mapped, failed, err := env.lifecycle.MapExecutions(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, mapped)
	require.Zero(t, failed)

	rr = do(t, env.h, http.MethodPost, path, `{"confirm":true,"acknowledgeEarlyWithdrawalFee":true}`, auth)
	assert.Equal(t, http.StatusConflict, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, domain.CodeCooldownActive, body["code"])
	assert.NotNil(t, body["details"])
}
