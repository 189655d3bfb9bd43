package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/evetabi/managedwealth/internal/api/middleware"
	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/evetabi/managedwealth/internal/service"
	"github.com/evetabi/managedwealth/internal/worker"
	"github.com/gin-gonic/gin"
)

// CycleRunner runs one worker cycle synchronously.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*worker.CycleSummary, error)
}

// SettlementHandler serves /admin/settlement endpoints.
type SettlementHandler struct {
	fund   *service.ReserveFundService
	runner CycleRunner
	log    *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(fund *service.ReserveFundService, runner CycleRunner, log *slog.Logger) *SettlementHandler {
	return &SettlementHandler{fund: fund, runner: runner, log: log.With("component", "settlement_handler")}
}

// Health godoc
// GET /admin/settlement/health?staleMappingMinutes=30&liquidationLimit=200
func (h *SettlementHandler) Health(c *gin.Context) {
	stale, _ := strconv.Atoi(c.Query("staleMappingMinutes"))
	limit, _ := strconv.Atoi(c.Query("liquidationLimit"))

	health, err := h.fund.Health(c.Request.Context(), service.HealthQuery{
		StaleMappingMinutes: stale,
		LiquidationLimit:    limit,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, health)
}

// Run godoc
// POST /admin/settlement/run
func (h *SettlementHandler) Run(c *gin.Context) {
	sum, err := h.runner.RunCycle(c.Request.Context())
	if errors.Is(err, domain.ErrCycleInProgress) {
		respondError(c, http.StatusConflict, "ERR_CYCLE_IN_PROGRESS", err.Error())
		return
	}
	if err != nil {
		h.log.Error("manual cycle failed", "operator", middleware.GetOperator(c), "error", err)
		respondError(c, http.StatusInternalServerError, "ERR_CYCLE_FAILED", err.Error())
		return
	}
	h.log.Info("manual cycle completed", "operator", middleware.GetOperator(c), "settled", sum.Settled)
	respondSuccess(c, http.StatusOK, sum)
}
