package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard response helpers
// ──────────────────────────────────────────────────────────────────────────────

// respondSuccess writes {"success": true, "data": data} with the given status.
func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes {"success": false, "error": msg, "code": code}.
func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// RespondServiceError translates a service error into the error envelope,
// adding "details" for structured errors.
func RespondServiceError(c *gin.Context, err error) {
	e := Translate(err)
	body := gin.H{
		"success": false,
		"error":   e.Message,
		"code":    e.Code,
	}
	if e.Details != nil {
		body["details"] = e.Details
	}
	c.AbortWithStatusJSON(e.Status, body)
}

// ──────────────────────────────────────────────────────────────────────────────
// Error translation
// ──────────────────────────────────────────────────────────────────────────────

// APIError is the HTTP shape of a service error.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details any
}

// Translate maps domain errors to status, code and details. Anything it does
// not know is a 500 with a generic message.
func Translate(err error) APIError {
	var (
		ae *domain.AvailabilityError
		ce *domain.CoverageError
		ge *domain.GuardrailError
	)
	switch {
	case errors.As(err, &ae):
		return APIError{http.StatusConflict, ae.Code(), ae.Error(), gin.H{
			"walletAddress":                   ae.Snapshot.WalletAddress,
			"managedQualifiedBalance":         ae.Snapshot.ManagedQualifiedBalance,
			"reservedBalance":                 ae.Snapshot.ReservedBalance,
			"reservedFromLedger":              ae.Snapshot.ReservedFromLedger,
			"reservedFromActiveSubscriptions": ae.Snapshot.ReservedFromActiveSubscriptions,
			"availableBalance":                ae.Snapshot.AvailableBalance,
			"requestedPrincipal":              ae.Requested,
			"deficit":                         ae.Deficit(),
		}}
	case errors.As(err, &ce):
		return APIError{http.StatusConflict, ce.Code(), ce.Error(), ce.Snapshot}
	case errors.As(err, &ge):
		return APIError{http.StatusConflict, ge.Code(), ge.Error(), ge.Details}

	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrTokenInvalid):
		return APIError{Status: http.StatusUnauthorized, Code: "ERR_UNAUTHORIZED", Message: err.Error()}
	case errors.Is(err, domain.ErrForbidden):
		return APIError{Status: http.StatusForbidden, Code: "ERR_FORBIDDEN", Message: "this subscription does not belong to you"}

	case errors.Is(err, domain.ErrProductNotFound):
		return APIError{Status: http.StatusNotFound, Code: "ERR_PRODUCT_NOT_FOUND", Message: domain.ErrProductNotFound.Error()}
	case errors.Is(err, domain.ErrTermNotFound):
		return APIError{Status: http.StatusNotFound, Code: "ERR_TERM_NOT_FOUND", Message: domain.ErrTermNotFound.Error()}
	case errors.Is(err, domain.ErrSubscriptionNotFound):
		return APIError{Status: http.StatusNotFound, Code: "ERR_SUBSCRIPTION_NOT_FOUND", Message: domain.ErrSubscriptionNotFound.Error()}

	case errors.Is(err, domain.ErrProductNotActive):
		return APIError{Status: http.StatusConflict, Code: "ERR_PRODUCT_NOT_ACTIVE", Message: domain.ErrProductNotActive.Error()}
	case errors.Is(err, domain.ErrAlreadySettled):
		return APIError{Status: http.StatusConflict, Code: "ERR_ALREADY_SETTLED", Message: domain.ErrAlreadySettled.Error()}
	case errors.Is(err, domain.ErrCycleInProgress):
		return APIError{Status: http.StatusConflict, Code: "ERR_CYCLE_IN_PROGRESS", Message: domain.ErrCycleInProgress.Error()}

	case errors.Is(err, domain.ErrTermsNotAccepted):
		return APIError{Status: http.StatusBadRequest, Code: "ERR_TERMS_NOT_ACCEPTED", Message: domain.ErrTermsNotAccepted.Error()}
	case errors.Is(err, domain.ErrInvalidPrincipal):
		return APIError{Status: http.StatusBadRequest, Code: "ERR_INVALID_PRINCIPAL", Message: domain.ErrInvalidPrincipal.Error()}
	case errors.Is(err, domain.ErrPrincipalBelowMinimum):
		return APIError{Status: http.StatusBadRequest, Code: "ERR_PRINCIPAL_BELOW_MINIMUM", Message: err.Error()}
	case errors.Is(err, domain.ErrPrincipalAboveCap):
		return APIError{Status: http.StatusBadRequest, Code: "ERR_PRINCIPAL_ABOVE_CAP", Message: err.Error()}
	case errors.Is(err, domain.ErrConfirmRequired):
		return APIError{Status: http.StatusBadRequest, Code: "ERR_CONFIRM_REQUIRED", Message: domain.ErrConfirmRequired.Error()}
	case errors.Is(err, domain.ErrNotWithdrawable):
		return APIError{Status: http.StatusBadRequest, Code: "ERR_NOT_WITHDRAWABLE", Message: domain.ErrNotWithdrawable.Error()}
	case errors.Is(err, domain.ErrInvalidReserveEntry):
		return APIError{Status: http.StatusBadRequest, Code: "ERR_INVALID_RESERVE_ENTRY", Message: err.Error()}
	}
	return APIError{Status: http.StatusInternalServerError, Code: "ERR_INTERNAL", Message: "internal error"}
}

// ParseLimit reads ?limit= clamped to [1, max], defaulting to def.
func ParseLimit(c *gin.Context, def, max int) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit < 1 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
