package subscription

import (
	"errors"

	"github.com/eldercircle/eldercircle-billing/internal/plans"
	"github.com/eldercircle/eldercircle-billing/internal/store"
)

// Errors returned by the subscription service.
var (
	// ErrBillingUnavailable indicates the billing provider call failed. No
	// local state was changed.
	ErrBillingUnavailable = errors.New("subscription: billing provider unavailable")
	// ErrInvalidState indicates the operation is not allowed in the current state.
	ErrInvalidState = errors.New("subscription: invalid state")
	// ErrInvalidTransition indicates an illegal state transition.
	ErrInvalidTransition = errors.New("subscription: invalid transition")
	// ErrInvalidRequest indicates malformed caller input.
	ErrInvalidRequest = errors.New("subscription: invalid request")
	// ErrConfiguration indicates a catalog or provider configuration defect.
	ErrConfiguration = errors.New("subscription: configuration error")
	// ErrLimitReached indicates the current plan does not allow more of a resource.
	ErrLimitReached = errors.New("subscription: plan limit reached")
)

// Error codes exposed to API clients.
const (
	CodeValidationBlocked  = "validation_blocked"
	CodeBillingUnavailable = "billing_unavailable"
	CodeConfiguration      = "configuration_error"
	CodeInvalidState       = "invalid_state"
	CodeConflict           = "conflict"
	CodeNotFound           = "not_found"
	CodeAlreadyExists      = "already_exists"
	CodeInvalidRequest     = "invalid_request"
	CodeLimitReached       = "limit_reached"
	CodeRateLimited        = "rate_limited"
	CodeInternal           = "internal_error"
)

// Code maps err to its API error code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBillingUnavailable):
		return CodeBillingUnavailable
	case errors.Is(err, ErrConfiguration),
		errors.Is(err, plans.ErrUnknownTier),
		errors.Is(err, plans.ErrMissingPriceID):
		return CodeConfiguration
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrInvalidTransition):
		return CodeInvalidState
	case errors.Is(err, store.ErrConflict):
		return CodeConflict
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return CodeAlreadyExists
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, ErrLimitReached):
		return CodeLimitReached
	default:
		return CodeInternal
	}
}
