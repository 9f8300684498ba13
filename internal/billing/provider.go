// Package billing wraps the external payment processor behind a small
// provider interface used by the subscription service.
package billing

import (
	"context"
	"errors"
	"time"
)

// ErrNoRefundableCharge indicates the customer has no paid, unrefunded charge.
var ErrNoRefundableCharge = errors.New("billing: no refundable charge")

// ErrInvalidSignature indicates a webhook payload failed signature verification.
var ErrInvalidSignature = errors.New("billing: invalid webhook signature")

// ErrNotConfigured indicates the provider is missing credentials.
var ErrNotConfigured = errors.New("billing: provider not configured")

// EventType is a provider neutral webhook event kind.
type EventType string

// EventType constants.
const (
	EventCheckoutCompleted   EventType = "checkout.completed"
	EventSubscriptionUpdated EventType = "subscription.updated"
	EventSubscriptionDeleted EventType = "subscription.deleted"
	EventPaymentFailed       EventType = "invoice.payment_failed"
	EventIgnored             EventType = "ignored"
)

// Metadata keys attached to provider objects.
const (
	MetadataAccountID = "account_id"
	MetadataTier      = "tier"
)

// CheckoutRequest describes a hosted checkout session for a subscription.
type CheckoutRequest struct {
	AccountID  string // Local account, sent as client reference.
	Email      string // Prefilled email when no customer exists yet.
	CustomerID string // Existing provider customer, optional.
	PriceID    string // Provider price for the chosen tier.
	Tier       string // Chosen tier, echoed back in webhooks.
	SuccessURL string
	CancelURL  string
}

// PlanChange reports the provider view after a plan mutation.
type PlanChange struct {
	PeriodEnd   time.Time // End of the current billing period.
	EffectiveAt time.Time // When the new price applies.
}

// Refund describes a refund issued by the provider.
type Refund struct {
	ID          string
	ChargeID    string
	AmountCents int64
}

// Event is a verified webhook event mapped to provider neutral fields.
type Event struct {
	ID                string
	Type              EventType
	ProviderType      string // Raw provider event type.
	AccountID         string
	CustomerID        string
	SubscriptionID    string
	PriceID           string
	Tier              string
	Status            string
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
}

// Provider is the payment processor used for checkout, plan changes,
// cancellation and refunds. Implementations must not retry.
type Provider interface {
	// CreateCheckoutSession returns a hosted checkout URL.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
	// CreatePortalSession returns a self-service billing portal URL.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	// SwitchPlanNow moves a subscription to priceID immediately with proration.
	SwitchPlanNow(ctx context.Context, subscriptionID, priceID string) (PlanChange, error)
	// SchedulePlanChange moves a subscription to priceID at the next period boundary.
	SchedulePlanChange(ctx context.Context, subscriptionID, priceID string) (PlanChange, error)
	// ReleaseScheduledChange drops a period-end change so it never applies.
	// A subscription without one is left untouched.
	ReleaseScheduledChange(ctx context.Context, subscriptionID string) error
	// CancelNow cancels a subscription immediately.
	CancelNow(ctx context.Context, subscriptionID string) error
	// CancelAtPeriodEnd schedules cancellation and returns the period end.
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (time.Time, error)
	// ResumeSubscription clears a scheduled cancellation.
	ResumeSubscription(ctx context.Context, subscriptionID string) error
	// RefundLatestCharge fully refunds the customer's latest paid charge.
	RefundLatestCharge(ctx context.Context, customerID string) (Refund, error)
	// ParseWebhook verifies and decodes a webhook payload.
	ParseWebhook(payload []byte, signature string) (Event, error)
}
