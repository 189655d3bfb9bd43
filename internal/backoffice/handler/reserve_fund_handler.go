package handler

import (
	"log/slog"
	"net/http"

	"github.com/evetabi/managedwealth/internal/api/middleware"
	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/evetabi/managedwealth/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ReserveFundHandler serves /admin/reserve-fund endpoints.
type ReserveFundHandler struct {
	coverage *service.CoverageService
	fund     *service.ReserveFundService
	log      *slog.Logger
}

// NewReserveFundHandler creates a ReserveFundHandler.
func NewReserveFundHandler(coverage *service.CoverageService, fund *service.ReserveFundService, log *slog.Logger) *ReserveFundHandler {
	return &ReserveFundHandler{coverage: coverage, fund: fund, log: log.With("component", "reserve_fund_handler")}
}

// Overview godoc
// GET /admin/reserve-fund?limit=50
func (h *ReserveFundHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()
	report, err := h.coverage.Report(ctx)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	entries, err := h.fund.ListEntries(ctx, adminLimit(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"coverage": report,
		"entries":  entries,
	})
}

// AddEntry godoc
// POST /admin/reserve-fund/entries
// Body: {"entryType":"DEPOSIT","amount":"10000","note":"initial funding"}
func (h *ReserveFundHandler) AddEntry(c *gin.Context) {
	var body struct {
		EntryType string          `json:"entryType" binding:"required"`
		Amount    decimal.Decimal `json:"amount"`
		Note      string          `json:"note"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	entry, err := h.fund.AddEntry(c.Request.Context(), service.ReserveEntryRequest{
		EntryType: domain.ReserveEntryType(body.EntryType),
		Amount:    body.Amount,
		Note:      body.Note,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.log.Info("reserve entry added by operator",
		"operator", middleware.GetOperator(c), "role", middleware.GetRole(c), "entry_id", entry.ID)
	respondSuccess(c, http.StatusCreated, entry)
}
