package billing

import (
	"context"
	"time"
)

// Disabled is the Provider used when no billing credentials are configured.
// Every call fails with ErrNotConfigured.
type Disabled struct{}

func (Disabled) CreateCheckoutSession(context.Context, CheckoutRequest) (string, error) {
	return "", ErrNotConfigured
}

func (Disabled) CreatePortalSession(context.Context, string, string) (string, error) {
	return "", ErrNotConfigured
}

func (Disabled) SwitchPlanNow(context.Context, string, string) (PlanChange, error) {
	return PlanChange{}, ErrNotConfigured
}

func (Disabled) SchedulePlanChange(context.Context, string, string) (PlanChange, error) {
	return PlanChange{}, ErrNotConfigured
}

func (Disabled) ReleaseScheduledChange(context.Context, string) error { return ErrNotConfigured }

func (Disabled) CancelNow(context.Context, string) error { return ErrNotConfigured }

func (Disabled) CancelAtPeriodEnd(context.Context, string) (time.Time, error) {
	return time.Time{}, ErrNotConfigured
}

func (Disabled) ResumeSubscription(context.Context, string) error { return ErrNotConfigured }

func (Disabled) RefundLatestCharge(context.Context, string) (Refund, error) {
	return Refund{}, ErrNotConfigured
}

func (Disabled) ParseWebhook([]byte, string) (Event, error) { return Event{}, ErrNotConfigured }
