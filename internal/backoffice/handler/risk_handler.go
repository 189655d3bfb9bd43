package handler

import (
	"net/http"

	"github.com/evetabi/managedwealth/internal/service"
	"github.com/gin-gonic/gin"
)

// RiskHandler serves /admin/risk-events.
type RiskHandler struct {
	fund *service.ReserveFundService
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(fund *service.ReserveFundService) *RiskHandler {
	return &RiskHandler{fund: fund}
}

// Events godoc
// GET /admin/risk-events?limit=50
func (h *RiskHandler) Events(c *gin.Context) {
	events, err := h.fund.RiskEvents(c.Request.Context(), adminLimit(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, events)
}
