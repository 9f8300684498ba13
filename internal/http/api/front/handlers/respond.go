package handlers

import (
	"net/http"
	"strings"

	"github.com/eldercircle/eldercircle-billing/internal/logging"
	"github.com/eldercircle/eldercircle-billing/internal/subscription"
	"github.com/gin-gonic/gin"
)

// Context keys set by the user auth middleware.
const (
	AccountIDKey = "accountID"
	EmailKey     = "accountEmail"
)

const (
	configurationErrorMessage = "Billing is not configured correctly. Please contact support."
	internalErrorMessage      = "Something went wrong. Please try again."
)

// getAccountID returns the authenticated account id.
func getAccountID(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(AccountIDKey))
}

// statusForCode maps an API error code to an HTTP status.
func statusForCode(code string) int {
	switch code {
	case subscription.CodeValidationBlocked,
		subscription.CodeInvalidState,
		subscription.CodeConflict,
		subscription.CodeAlreadyExists,
		subscription.CodeLimitReached:
		return http.StatusConflict
	case subscription.CodeBillingUnavailable:
		return http.StatusBadGateway
	case subscription.CodeNotFound:
		return http.StatusNotFound
	case subscription.CodeInvalidRequest:
		return http.StatusBadRequest
	case subscription.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the error envelope for err.
func respondError(c *gin.Context, err error) {
	code := subscription.Code(err)
	status := statusForCode(code)
	message := err.Error()
	switch code {
	case subscription.CodeConfiguration:
		logging.Entry(c).WithError(err).Error("billing configuration error")
		message = configurationErrorMessage
	case subscription.CodeInternal:
		logging.Entry(c).WithError(err).Error("billing request failed")
		message = internalErrorMessage
	case subscription.CodeBillingUnavailable:
		message = "The billing provider is unavailable. Please try again."
	case subscription.CodeNotFound:
		message = "subscription not found"
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"success": false, "error": message, "code": code})
}

// respondInvalid writes a 400 with the invalid_request code.
func respondInvalid(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": message, "code": subscription.CodeInvalidRequest})
}

// requireAccount returns the authenticated account id and checks that a
// userId supplied in the body refers to the same account.
func requireAccount(c *gin.Context, bodyUserID string) (string, bool) {
	accountID := getAccountID(c)
	if accountID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return "", false
	}
	if bodyUserID = strings.TrimSpace(bodyUserID); bodyUserID != "" && bodyUserID != accountID {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "userId does not match the signed-in account", "code": subscription.CodeInvalidRequest})
		return "", false
	}
	return accountID, true
}
