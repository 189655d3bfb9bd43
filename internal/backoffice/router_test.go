package backoffice_test

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
	"github.com/evetabi/managedwealth/internal/backoffice"
	"github.com/evetabi/managedwealth/internal/backoffice/handler"
	"github.com/evetabi/managedwealth/internal/config"
	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/evetabi/managedwealth/internal/execution"
	"github.com/evetabi/managedwealth/internal/repository"
	"github.com/evetabi/managedwealth/internal/service"
	"github.com/evetabi/managedwealth/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type busyRunner struct{}

func (busyRunner) RunCycle(context.Context) (*worker.CycleSummary, error) {
	return nil, domain.ErrCycleInProgress
}

type env struct {
	h    http.Handler
	auth *service.AuthService
}

func newEnv(t *testing.T, allowedIPs string, runner func(w *worker.Worker) handler.CycleRunner) *env {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{Server: config.ServerConfig{Env: "development", BackofficeAllowedIPs: allowedIPs}}

	store := repository.NewMemoryStore()
	gateway := execution.NewMemoryGateway()
	reservations := service.NewReservationService(store)
	nav := service.NewNavService(store, gateway, log)
	coverage := service.NewCoverageService(store, log)
	profitFees := service.NewProfitFeeService(store, affiliate.NewClient("", "", time.Second, log), log)
	settlements := service.NewSettlementService(store, gateway, reservations, profitFees, log)
	lifecycle := service.NewLifecycleService(store, gateway, log)
	fund := service.NewReserveFundService(store, gateway, log)

	w := worker.New(lifecycle, nav, settlements, profitFees, coverage, nil, worker.Options{
		Interval: time.Minute, MapBatch: 10, NavBatch: 10, SettlementBatch: 10,
	}, log)

	auth := service.NewAuthService("wallet-secret-abcdefghijklmnop", "admin-secret-abcdefghijklmnop")
	r := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		AuthSvc:        auth,
		CoverageSvc:    coverage,
		ReserveFundSvc: fund,
		Runner:         runner(w),
		Cfg:            cfg,
		Logger:         log,
	})
	return &env{h: r, auth: auth}
}

func realRunner(w *worker.Worker) handler.CycleRunner {
	return w
}

func (e *env) token(t *testing.T, role domain.AdminRole) map[string]string {
	t.Helper()
	tok, err := e.auth.IssueAdminToken("operator@evetabi", role, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok}
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func data(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &m), rr.Body.String())
	d, _ := m["data"].(map[string]interface{})
	return d
}

func TestAdmin_RequiresAdminToken(t *testing.T) {
	e := newEnv(t, "", realRunner)

	rr := do(t, e.h, http.MethodGet, "/admin/reserve-fund", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	walletTok, err := e.auth.IssueWalletToken("0xabc", time.Hour)
	require.NoError(t, err)
	rr = do(t, e.h, http.MethodGet, "/admin/reserve-fund", "", map[string]string{"Authorization": "Bearer " + walletTok})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdmin_IPAllowlist(t *testing.T) {
	e := newEnv(t, "10.0.0.1, 10.0.0.2", realRunner)
	rr := do(t, e.h, http.MethodGet, "/admin/reserve-fund", "", e.token(t, domain.RoleAdmin))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestReserveFund_EntriesAndOverview(t *testing.T) {
	e := newEnv(t, "", realRunner)

	rr := do(t, e.h, http.MethodPost, "/admin/reserve-fund/entries",
		`{"entryType":"DEPOSIT","amount":"1000","note":"seed"}`, e.token(t, domain.RoleFinance))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "1000", data(t, rr)["balanceAfter"])

	rr = do(t, e.h, http.MethodPost, "/admin/reserve-fund/entries",
		`{"entryType":"WITHDRAW","amount":"250"}`, e.token(t, domain.RoleAdmin))
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "750", data(t, rr)["balanceAfter"])

	rr = do(t, e.h, http.MethodGet, "/admin/reserve-fund", "", e.token(t, domain.RoleReadOnly))
	require.Equal(t, http.StatusOK, rr.Code)
	d := data(t, rr)
	cov := d["coverage"].(map[string]interface{})
	assert.Equal(t, "750", cov["reserveBalance"])
	assert.Nil(t, cov["coverageRatio"], "no guaranteed liability")
	assert.Len(t, d["entries"], 2)
}

func TestReserveFund_RejectsBadEntries(t *testing.T) {
	e := newEnv(t, "", realRunner)
	auth := e.token(t, domain.RoleFinance)

	rr := do(t, e.h, http.MethodPost, "/admin/reserve-fund/entries", `{"entryType":"GUARANTEE_TOPUP","amount":"10"}`, auth)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, e.h, http.MethodPost, "/admin/reserve-fund/entries", `{"entryType":"DEPOSIT","amount":"0"}`, auth)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, e.h, http.MethodPost, "/admin/reserve-fund/entries", `{"amount":"10"}`, auth)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMutations_ForbiddenForReadOnlyRoles(t *testing.T) {
	e := newEnv(t, "", realRunner)
	for _, role := range []domain.AdminRole{domain.RoleReadOnly, domain.RoleRisk} {
		rr := do(t, e.h, http.MethodPost, "/admin/reserve-fund/entries", `{"entryType":"DEPOSIT","amount":"1"}`, e.token(t, role))
		assert.Equal(t, http.StatusForbidden, rr.Code, role)
		rr = do(t, e.h, http.MethodPost, "/admin/settlement/run", "", e.token(t, role))
		assert.Equal(t, http.StatusForbidden, rr.Code, role)
	}
}

func TestSettlement_HealthAndRun(t *testing.T) {
	e := newEnv(t, "", realRunner)

	rr := do(t, e.h, http.MethodGet, "/admin/settlement/health", "", e.token(t, domain.RoleRisk))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, service.DefaultStaleMappingMinutes, data(t, rr)["staleMappingMinutes"])

	rr = do(t, e.h, http.MethodGet, "/admin/settlement/health?staleMappingMinutes=5", "", e.token(t, domain.RoleRisk))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 5, data(t, rr)["staleMappingMinutes"])

	rr = do(t, e.h, http.MethodPost, "/admin/settlement/run", "", e.token(t, domain.RoleOps))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.EqualValues(t, 0, data(t, rr)["settled"])
}

func TestSettlement_RunConflict(t *testing.T) {
	e := newEnv(t, "", func(*worker.Worker) handler.CycleRunner {
		return busyRunner{}
	})
	rr := do(t, e.h, http.MethodPost, "/admin/settlement/run", "", e.token(t, domain.RoleAdmin))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRiskEvents(t *testing.T) {
	e := newEnv(t, "", realRunner)
	rr := do(t, e.h, http.MethodGet, "/admin/risk-events?limit=10", "", e.token(t, domain.RoleRisk))
	assert.Equal(t, http.StatusOK, rr.Code)
}
