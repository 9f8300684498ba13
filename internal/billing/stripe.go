package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	"github.com/stripe/stripe-go/v82/charge"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/subscriptionschedule"
	"github.com/stripe/stripe-go/v82/webhook"
)

// chargeLookback bounds how many recent charges are scanned for a refund.
const chargeLookback = 10

// StripeProvider implements Provider using the Stripe API.
type StripeProvider struct {
	webhookSecret string
}

// NewStripeProvider configures the Stripe client with apiKey.
func NewStripeProvider(apiKey, webhookSecret string) (*StripeProvider, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing stripe secret key", ErrNotConfigured)
	}
	stripe.Key = apiKey
	return &StripeProvider{webhookSecret: strings.TrimSpace(webhookSecret)}, nil
}

// CreateCheckoutSession creates a subscription-mode checkout session.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	metadata := map[string]string{
		MetadataAccountID: req.AccountID,
		MetadataTier:      req.Tier,
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(req.AccountID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	for key, value := range metadata {
		params.AddMetadata(key, value)
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("billing: create checkout session: %w", err)
	}
	return sess.URL, nil
}

// CreatePortalSession creates a billing portal session for customerID.
func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("billing: create portal session: %w", err)
	}
	return sess.URL, nil
}

// SwitchPlanNow swaps the subscription item price and prorates the difference.
// An attached schedule is released first so its later phase cannot undo the
// switch at rollover.
func (p *StripeProvider) SwitchPlanNow(ctx context.Context, subscriptionID, priceID string) (PlanChange, error) {
	sub, item, err := p.subscriptionItem(ctx, subscriptionID)
	if err != nil {
		return PlanChange{}, err
	}
	if errRelease := p.releaseSchedule(ctx, sub); errRelease != nil {
		return PlanChange{}, errRelease
	}
	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{ID: stripe.String(item.ID), Price: stripe.String(priceID)},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	}
	params.Context = ctx
	updated, err := subscription.Update(sub.ID, params)
	if err != nil {
		return PlanChange{}, fmt.Errorf("billing: switch plan: %w", err)
	}
	return PlanChange{
		PeriodEnd:   periodEnd(updated),
		EffectiveAt: time.Now().UTC(),
	}, nil
}

// SchedulePlanChange attaches a two-phase subscription schedule: the current
// price until the period ends, then priceID. The schedule is released after
// the second phase so the subscription continues on the new price.
func (p *StripeProvider) SchedulePlanChange(ctx context.Context, subscriptionID, priceID string) (PlanChange, error) {
	sub, item, err := p.subscriptionItem(ctx, subscriptionID)
	if err != nil {
		return PlanChange{}, err
	}

	scheduleID := ""
	if sub.Schedule != nil {
		scheduleID = sub.Schedule.ID
	}
	if scheduleID == "" {
		createParams := &stripe.SubscriptionScheduleParams{
			FromSubscription: stripe.String(sub.ID),
		}
		createParams.Context = ctx
		schedule, errCreate := subscriptionschedule.New(createParams)
		if errCreate != nil {
			return PlanChange{}, fmt.Errorf("billing: create subscription schedule: %w", errCreate)
		}
		scheduleID = schedule.ID
	}

	quantity := item.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	start := item.CurrentPeriodStart
	end := item.CurrentPeriodEnd
	updateParams := &stripe.SubscriptionScheduleParams{
		EndBehavior: stripe.String("release"),
		Phases: []*stripe.SubscriptionSchedulePhaseParams{
			{
				Items: []*stripe.SubscriptionSchedulePhaseItemParams{
					{Price: stripe.String(item.Price.ID), Quantity: stripe.Int64(quantity)},
				},
				StartDate: stripe.Int64(start),
				EndDate:   stripe.Int64(end),
			},
			{
				Items: []*stripe.SubscriptionSchedulePhaseItemParams{
					{Price: stripe.String(priceID), Quantity: stripe.Int64(quantity)},
				},
			},
		},
	}
	updateParams.Context = ctx
	if _, errUpdate := subscriptionschedule.Update(scheduleID, updateParams); errUpdate != nil {
		return PlanChange{}, fmt.Errorf("billing: schedule plan change: %w", errUpdate)
	}

	effective := time.Unix(end, 0).UTC()
	return PlanChange{PeriodEnd: effective, EffectiveAt: effective}, nil
}

// ReleaseScheduledChange releases the schedule attached to the subscription,
// keeping its current price.
func (p *StripeProvider) ReleaseScheduledChange(ctx context.Context, subscriptionID string) error {
	sub, err := p.getSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	return p.releaseSchedule(ctx, sub)
}

// releaseSchedule detaches sub from its schedule, if any.
func (p *StripeProvider) releaseSchedule(ctx context.Context, sub *stripe.Subscription) error {
	if sub == nil || sub.Schedule == nil || sub.Schedule.ID == "" {
		return nil
	}
	params := &stripe.SubscriptionScheduleReleaseParams{}
	params.Context = ctx
	if _, err := subscriptionschedule.Release(sub.Schedule.ID, params); err != nil {
		return fmt.Errorf("billing: release subscription schedule %s: %w", sub.Schedule.ID, err)
	}
	sub.Schedule = nil
	return nil
}

// CancelNow cancels the subscription immediately without proration.
func (p *StripeProvider) CancelNow(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := subscription.Cancel(subscriptionID, params); err != nil {
		return fmt.Errorf("billing: cancel subscription: %w", err)
	}
	return nil
}

// CancelAtPeriodEnd flags the subscription to end with the current period.
// Stripe refuses the flag on a scheduled subscription, so a pending schedule
// is released first.
func (p *StripeProvider) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (time.Time, error) {
	if errRelease := p.ReleaseScheduledChange(ctx, subscriptionID); errRelease != nil {
		return time.Time{}, errRelease
	}
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	sub, err := subscription.Update(subscriptionID, params)
	if err != nil {
		return time.Time{}, fmt.Errorf("billing: cancel at period end: %w", err)
	}
	return periodEnd(sub), nil
}

// ResumeSubscription clears a period-end cancellation.
func (p *StripeProvider) ResumeSubscription(ctx context.Context, subscriptionID string) error {
	if errRelease := p.ReleaseScheduledChange(ctx, subscriptionID); errRelease != nil {
		return errRelease
	}
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(false)}
	params.Context = ctx
	if _, err := subscription.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("billing: resume subscription: %w", err)
	}
	return nil
}

// RefundLatestCharge refunds the most recent paid, unrefunded charge in full.
func (p *StripeProvider) RefundLatestCharge(ctx context.Context, customerID string) (Refund, error) {
	listParams := &stripe.ChargeListParams{Customer: stripe.String(customerID)}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(chargeLookback)
	listParams.Single = true

	var latest *stripe.Charge
	iter := charge.List(listParams)
	for iter.Next() {
		ch := iter.Charge()
		if ch == nil || !ch.Paid || ch.Refunded || ch.AmountRefunded > 0 {
			continue
		}
		if latest == nil || ch.Created > latest.Created {
			latest = ch
		}
	}
	if errIter := iter.Err(); errIter != nil {
		return Refund{}, fmt.Errorf("billing: list charges: %w", errIter)
	}
	if latest == nil {
		return Refund{}, ErrNoRefundableCharge
	}

	refundParams := &stripe.RefundParams{Charge: stripe.String(latest.ID)}
	refundParams.Context = ctx
	r, err := refund.New(refundParams)
	if err != nil {
		return Refund{}, fmt.Errorf("billing: refund charge: %w", err)
	}
	return Refund{ID: r.ID, ChargeID: latest.ID, AmountCents: r.Amount}, nil
}

// ParseWebhook verifies the Stripe signature and maps known events.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (Event, error) {
	if p.webhookSecret == "" {
		return Event{}, fmt.Errorf("%w: missing webhook secret", ErrNotConfigured)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return mapStripeEvent(event)
}

// mapStripeEvent converts a verified Stripe event into an Event.
func mapStripeEvent(event stripe.Event) (Event, error) {
	out := Event{ID: event.ID, Type: EventIgnored, ProviderType: string(event.Type)}
	if event.Data == nil {
		return out, nil
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if errUnmarshal := json.Unmarshal(event.Data.Raw, &sess); errUnmarshal != nil {
			return Event{}, fmt.Errorf("billing: parse checkout session: %w", errUnmarshal)
		}
		out.Type = EventCheckoutCompleted
		out.AccountID = sess.ClientReferenceID
		if out.AccountID == "" {
			out.AccountID = sess.Metadata[MetadataAccountID]
		}
		out.Tier = sess.Metadata[MetadataTier]
		if sess.Customer != nil {
			out.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			out.SubscriptionID = sess.Subscription.ID
		}
	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if errUnmarshal := json.Unmarshal(event.Data.Raw, &sub); errUnmarshal != nil {
			return Event{}, fmt.Errorf("billing: parse subscription: %w", errUnmarshal)
		}
		out.Type = EventSubscriptionUpdated
		if event.Type == "customer.subscription.deleted" {
			out.Type = EventSubscriptionDeleted
		}
		out.SubscriptionID = sub.ID
		out.AccountID = sub.Metadata[MetadataAccountID]
		out.Tier = sub.Metadata[MetadataTier]
		out.Status = string(sub.Status)
		out.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		out.CurrentPeriodEnd = periodEnd(&sub)
		if sub.Customer != nil {
			out.CustomerID = sub.Customer.ID
		}
		if item := firstItem(&sub); item != nil && item.Price != nil {
			out.PriceID = item.Price.ID
		}
	case "invoice.payment_failed":
		var inv stripe.Invoice
		if errUnmarshal := json.Unmarshal(event.Data.Raw, &inv); errUnmarshal != nil {
			return Event{}, fmt.Errorf("billing: parse invoice: %w", errUnmarshal)
		}
		out.Type = EventPaymentFailed
		if inv.Customer != nil {
			out.CustomerID = inv.Customer.ID
		}
	}
	return out, nil
}

func (p *StripeProvider) getSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return nil, errors.New("billing: missing subscription id")
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := subscription.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("billing: get subscription: %w", err)
	}
	return sub, nil
}

// subscriptionItem fetches the subscription and its single priced item.
func (p *StripeProvider) subscriptionItem(ctx context.Context, subscriptionID string) (*stripe.Subscription, *stripe.SubscriptionItem, error) {
	sub, err := p.getSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, nil, err
	}
	item := firstItem(sub)
	if item == nil || item.Price == nil {
		return nil, nil, fmt.Errorf("billing: subscription %s has no priced item", subscriptionID)
	}
	return sub, item, nil
}

func firstItem(sub *stripe.Subscription) *stripe.SubscriptionItem {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}
	return sub.Items.Data[0]
}

// periodEnd reads the billing period end, which lives on subscription items.
func periodEnd(sub *stripe.Subscription) time.Time {
	item := firstItem(sub)
	if item == nil || item.CurrentPeriodEnd == 0 {
		return time.Time{}
	}
	return time.Unix(item.CurrentPeriodEnd, 0).UTC()
}
