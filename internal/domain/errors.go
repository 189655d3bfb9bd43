package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors — compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Catalog errors
var (
	// ErrProductNotFound is returned when no product matches the id or slug.
	ErrProductNotFound = errors.New("managed product not found")

	// ErrProductNotActive is returned when a product is inactive or paused by
	// reserve coverage control.
	ErrProductNotActive = errors.New("managed product is not accepting subscriptions")

	// ErrTermNotFound is returned when the term does not exist, is inactive or
	// belongs to another product.
	ErrTermNotFound = errors.New("managed term not found")
)

// Subscription errors
var (
	// ErrSubscriptionNotFound is returned when no subscription matches the id.
	ErrSubscriptionNotFound = errors.New("managed subscription not found")

	// ErrTermsNotAccepted is returned when the caller did not accept the terms.
	ErrTermsNotAccepted = errors.New("terms must be accepted")

	// ErrInvalidPrincipal is returned for a zero or negative principal.
	ErrInvalidPrincipal = errors.New("principal must be positive")

	// ErrPrincipalBelowMinimum is returned when principal is under the
	// configured minimum.
	ErrPrincipalBelowMinimum = errors.New("principal is below the minimum")

	// ErrPrincipalAboveCap is returned when principal exceeds the term cap.
	ErrPrincipalAboveCap = errors.New("principal exceeds the term maximum subscription amount")

	// ErrInvalidTransition is returned when a lifecycle move is not permitted.
	ErrInvalidTransition = errors.New("invalid subscription status transition")
)

// Withdrawal errors
var (
	// ErrConfirmRequired is returned when a withdraw request lacks confirm=true.
	ErrConfirmRequired = errors.New("withdrawal must be confirmed")

	// ErrNotWithdrawable is returned when the subscription status does not
	// allow withdrawal.
	ErrNotWithdrawable = errors.New("subscription is not in a withdrawable status")

	// ErrAlreadySettled is returned when the subscription has a completed
	// settlement.
	ErrAlreadySettled = errors.New("subscription is already settled")
)

// Reserve fund errors
var (
	// ErrInvalidReserveEntry is returned for an unknown entry type or a
	// non-positive amount.
	ErrInvalidReserveEntry = errors.New("invalid reserve fund entry")
)

// Auth errors
var (
	// ErrUnauthorized is returned when no verified wallet identity is present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the wallet does not own the resource.
	ErrForbidden = errors.New("forbidden")

	// ErrTokenInvalid is returned for a malformed, expired or mis-signed token.
	ErrTokenInvalid = errors.New("token is invalid or expired")
)

// Worker errors
var (
	// ErrCycleInProgress is returned when a reconciliation cycle is already
	// running.
	ErrCycleInProgress = errors.New("reconciliation cycle already in progress")
)

// ──────────────────────────────────────────────────────────────────────────────
// Structured errors — detect with errors.As()
// ──────────────────────────────────────────────────────────────────────────────

// Machine-readable error codes.
const (
	CodeReservationInsufficient = "MANAGED_PRINCIPAL_RESERVATION_INSUFFICIENT"
	CodeCoverageInsufficient    = "MANAGED_RESERVE_COVERAGE_INSUFFICIENT"
	CodeCooldownActive          = "WITHDRAW_COOLDOWN_ACTIVE"
	CodeFeeAckRequired          = "EARLY_WITHDRAWAL_FEE_ACK_REQUIRED"
)

// AvailabilityError is returned when a wallet's available balance cannot
// cover a requested principal.
type AvailabilityError struct {
	Snapshot  Availability
	Requested decimal.Decimal
}

func (e *AvailabilityError) Error() string {
	return fmt.Sprintf("insufficient managed principal availability: requested %s, available %s",
		e.Requested.String(), e.Snapshot.AvailableBalance.String())
}

// Deficit is how much the request exceeds the available balance.
func (e *AvailabilityError) Deficit() decimal.Decimal {
	return Round(decimal.Max(decimal.Zero, e.Requested.Sub(e.Snapshot.AvailableBalance)))
}

// Code returns the machine-readable error code.
func (e *AvailabilityError) Code() string { return CodeReservationInsufficient }

// CoverageError is returned when a guaranteed subscription would push reserve
// coverage below the product minimum.
type CoverageError struct {
	Snapshot CoverageSnapshot
}

func (e *CoverageError) Error() string {
	return "reserve fund coverage is insufficient for a new guaranteed subscription"
}

// Code returns the machine-readable error code.
func (e *CoverageError) Code() string { return CodeCoverageInsufficient }

// GuardrailError is an actionable withdrawal rejection. The client may
// resubmit once the condition is satisfied.
type GuardrailError struct {
	ErrCode string
	Message string
	Details map[string]any
}

func (e *GuardrailError) Error() string { return e.Message }

// Code returns the machine-readable error code.
func (e *GuardrailError) Code() string { return e.ErrCode }

// NewCooldownError builds a WITHDRAW_COOLDOWN_ACTIVE error.
func NewCooldownError(policy WithdrawPolicy, state CooldownState) *GuardrailError {
	return &GuardrailError{
		ErrCode: CodeCooldownActive,
		Message: fmt.Sprintf("withdrawal cooldown active, retry in %d minutes", state.RemainingMinutes),
		Details: map[string]any{
			"cooldownHours":    policy.CooldownHours,
			"cooldownEndsAt":   state.EndsAt.UTC().Format(time.RFC3339),
			"remainingMinutes": state.RemainingMinutes,
		},
	}
}

// NewFeeAckError builds an EARLY_WITHDRAWAL_FEE_ACK_REQUIRED error.
func NewFeeAckError(policy WithdrawPolicy, fee, payoutAfterFee decimal.Decimal) *GuardrailError {
	return &GuardrailError{
		ErrCode: CodeFeeAckRequired,
		Message: "early withdrawal fee must be acknowledged",
		Details: map[string]any{
			"earlyWithdrawalFeeRate":  policy.EarlyWithdrawalFeeRate,
			"earlyWithdrawalFee":      fee,
			"estimatedPayoutAfterFee": payoutAfterFee,
		},
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// notFoundErrors collects all "entity not found" sentinel errors so that
// IsNotFound can stay in sync automatically.
var notFoundErrors = []error{
	ErrProductNotFound,
	ErrTermNotFound,
	ErrSubscriptionNotFound,
}

// IsNotFound returns true when err (or any error in its chain) is one of the
// domain "not found" errors.
func IsNotFound(err error) bool {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict returns true for errors that represent a state conflict,
// including admission and guardrail rejections.
func IsConflict(err error) bool {
	conflictErrors := []error{
		ErrProductNotActive,
		ErrAlreadySettled,
		ErrCycleInProgress,
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	var ae *AvailabilityError
	var ce *CoverageError
	var ge *GuardrailError
	return errors.As(err, &ae) || errors.As(err, &ce) || errors.As(err, &ge)
}

// IsValidation returns true for request validation failures.
func IsValidation(err error) bool {
	validationErrors := []error{
		ErrTermsNotAccepted,
		ErrInvalidPrincipal,
		ErrPrincipalBelowMinimum,
		ErrPrincipalAboveCap,
		ErrConfirmRequired,
		ErrNotWithdrawable,
		ErrInvalidReserveEntry,
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
