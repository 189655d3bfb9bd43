package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTranslate_Sentinels(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("svc: %w", domain.ErrSubscriptionNotFound), http.StatusNotFound, "ERR_SUBSCRIPTION_NOT_FOUND"},
		{domain.ErrForbidden, http.StatusForbidden, "ERR_FORBIDDEN"},
		{domain.ErrProductNotActive, http.StatusConflict, "ERR_PRODUCT_NOT_ACTIVE"},
		{domain.ErrConfirmRequired, http.StatusBadRequest, "ERR_CONFIRM_REQUIRED"},
		{domain.ErrTokenInvalid, http.StatusUnauthorized, "ERR_UNAUTHORIZED"},
		{errors.New("boom"), http.StatusInternalServerError, "ERR_INTERNAL"},
	}
	for _, tc := range cases {
		got := Translate(tc.err)
		assert.Equal(t, tc.status, got.Status, tc.err.Error())
		assert.Equal(t, tc.code, got.Code, tc.err.Error())
	}
}

func TestTranslate_AvailabilityDetails(t *testing.T) {
	err := fmt.Errorf("subscription_service.Create: %w", &domain.AvailabilityError{
		Snapshot:  domain.Availability{WalletAddress: "0xabc", AvailableBalance: decimal.NewFromInt(100)},
		Requested: decimal.NewFromInt(500),
	})
	got := Translate(err)
	assert.Equal(t, http.StatusConflict, got.Status)
	assert.Equal(t, domain.CodeReservationInsufficient, got.Code)

	details, ok := got.Details.(gin.H)
	if assert.True(t, ok) {
		assert.Equal(t, "400", details["deficit"].(decimal.Decimal).String())
	}
}

func TestTranslate_InternalMessageIsGeneric(t *testing.T) {
	got := Translate(errors.New("pq: connection refused to 10.0.0.5"))
	assert.Equal(t, "internal error", got.Message)
}
