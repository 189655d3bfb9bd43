package handler

import (
	"net/http"

	"github.com/evetabi/managedwealth/internal/api/middleware"
	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/evetabi/managedwealth/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ManagedHandler serves the managed-wealth subscription endpoints.
type ManagedHandler struct {
	subs         *service.SubscriptionService
	withdraw     *service.WithdrawService
	reservations *service.ReservationService
}

// NewManagedHandler creates a ManagedHandler.
func NewManagedHandler(
	subs *service.SubscriptionService,
	withdraw *service.WithdrawService,
	reservations *service.ReservationService,
) *ManagedHandler {
	return &ManagedHandler{subs: subs, withdraw: withdraw, reservations: reservations}
}

// Products godoc
// GET /api/v1/managed/products
func (h *ManagedHandler) Products(c *gin.Context) {
	products, err := h.subs.Products(c.Request.Context())
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, products)
}

// Subscribe godoc
// POST /api/v1/managed/subscriptions [JWT]
// Body: {"productId":"uuid"|"productSlug":"slug","termId":"uuid","principal":"1000","acceptedTerms":true}
func (h *ManagedHandler) Subscribe(c *gin.Context) {
	var body struct {
		ProductID     string          `json:"productId"`
		ProductSlug   string          `json:"productSlug"`
		TermID        string          `json:"termId"        binding:"required"`
		Principal     decimal.Decimal `json:"principal"`
		AcceptedTerms bool            `json:"acceptedTerms"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	req := service.CreateRequest{
		WalletAddress: middleware.GetWallet(c),
		ProductSlug:   body.ProductSlug,
		Principal:     body.Principal,
		AcceptedTerms: body.AcceptedTerms,
	}
	if body.ProductID != "" {
		id, err := uuid.Parse(body.ProductID)
		if err != nil {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_PRODUCT_ID", "invalid productId format")
			return
		}
		req.ProductID = &id
	}
	if req.ProductID == nil && req.ProductSlug == "" {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "productId or productSlug is required")
		return
	}
	termID, err := uuid.Parse(body.TermID)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_TERM_ID", "invalid termId format")
		return
	}
	req.TermID = termID

	res, err := h.subs.Create(c.Request.Context(), req)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, res)
}

// List godoc
// GET /api/v1/managed/subscriptions?status=RUNNING [JWT]
func (h *ManagedHandler) List(c *gin.Context) {
	status := domain.SubscriptionStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_STATUS", "unknown subscription status")
		return
	}

	subs, err := h.subs.List(c.Request.Context(), middleware.GetWallet(c), status)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	policy := h.withdraw.Policy()
	respondSuccess(c, http.StatusOK, gin.H{
		"subscriptions": subs,
		"withdrawGuardrails": gin.H{
			"cooldownHours":          policy.CooldownHours,
			"earlyWithdrawalFeeRate": policy.EarlyWithdrawalFeeRate,
			"drawdownAlertThreshold": policy.DrawdownAlertThreshold,
		},
	})
}

// Detail godoc
// GET /api/v1/managed/subscriptions/:id [JWT]
func (h *ManagedHandler) Detail(c *gin.Context) {
	id, ok := subscriptionID(c)
	if !ok {
		return
	}
	detail, err := h.subs.Get(c.Request.Context(), middleware.GetWallet(c), id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, detail)
}

// Nav godoc
// GET /api/v1/managed/subscriptions/:id/nav?limit=100 [JWT]
func (h *ManagedHandler) Nav(c *gin.Context) {
	id, ok := subscriptionID(c)
	if !ok {
		return
	}
	history, err := h.subs.NavHistory(c.Request.Context(), middleware.GetWallet(c), id, ParseLimit(c, 200, 1000))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, history)
}

// Withdraw godoc
// POST /api/v1/managed/subscriptions/:id/withdraw [JWT]
// Body: {"confirm":true,"acknowledgeEarlyWithdrawalFee":true}
func (h *ManagedHandler) Withdraw(c *gin.Context) {
	id, ok := subscriptionID(c)
	if !ok {
		return
	}
	var body struct {
		Confirm                       bool `json:"confirm"`
		AcknowledgeEarlyWithdrawalFee bool `json:"acknowledgeEarlyWithdrawalFee"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	res, err := h.withdraw.Withdraw(c.Request.Context(), service.WithdrawRequest{
		WalletAddress:                 middleware.GetWallet(c),
		SubscriptionID:                id,
		Confirm:                       body.Confirm,
		AcknowledgeEarlyWithdrawalFee: body.AcknowledgeEarlyWithdrawalFee,
	})
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	if res.Liquidating {
		respondSuccess(c, http.StatusAccepted, gin.H{
			"status":       domain.SubLiquidating,
			"subscription": res.Subscription,
		})
		return
	}
	respondSuccess(c, http.StatusOK, res)
}

// Availability godoc
// GET /api/v1/managed/availability [JWT]
func (h *ManagedHandler) Availability(c *gin.Context) {
	snap, err := h.reservations.GetAvailability(c.Request.Context(), middleware.GetWallet(c))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, snap)
}

func subscriptionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_SUBSCRIPTION_ID", "invalid subscription id")
		return uuid.Nil, false
	}
	return id, true
}
