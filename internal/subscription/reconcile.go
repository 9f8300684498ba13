package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/eldercircle/eldercircle-billing/internal/audit"
	"github.com/eldercircle/eldercircle-billing/internal/billing"
	"github.com/eldercircle/eldercircle-billing/internal/models"
	"github.com/eldercircle/eldercircle-billing/internal/plans"
	"github.com/eldercircle/eldercircle-billing/internal/store"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Reconcile applies a verified provider event to the local record. Events for
// unknown accounts return store.ErrNotFound.
func (s *Service) Reconcile(ctx context.Context, event billing.Event) error {
	if event.Type == billing.EventIgnored || event.Type == "" {
		return nil
	}

	accountID, err := s.resolveAccount(ctx, event)
	if err != nil {
		log.WithFields(log.Fields{
			"event_id":        event.ID,
			"event_type":      string(event.Type),
			"subscription_id": event.SubscriptionID,
			"customer_id":     event.CustomerID,
		}).Warn("webhook: no account for event")
		return err
	}

	var changes map[string]any
	switch event.Type {
	case billing.EventCheckoutCompleted:
		changes, err = s.applyCheckout(ctx, accountID, event)
	case billing.EventSubscriptionUpdated:
		changes, err = s.applySubscriptionUpdate(ctx, accountID, event)
	case billing.EventSubscriptionDeleted:
		changes, err = s.applySubscriptionDeleted(ctx, accountID)
	case billing.EventPaymentFailed:
		log.WithFields(log.Fields{
			"account_id":  accountID,
			"customer_id": event.CustomerID,
		}).Warn("webhook: invoice payment failed")
		changes = map[string]any{"payment_failed": true}
	default:
		return nil
	}

	details := map[string]any{
		"event_id":   event.ID,
		"event_type": string(event.Type),
	}
	for key, value := range changes {
		details[key] = value
	}
	if err != nil {
		details["error"] = err.Error()
	}
	s.record(ctx, accountID, audit.ActorProvider, audit.ActionWebhook, auditResult(err), details)
	return err
}

// resolveAccount finds the account an event belongs to.
func (s *Service) resolveAccount(ctx context.Context, event billing.Event) (string, error) {
	if event.SubscriptionID != "" && event.Type != billing.EventCheckoutCompleted {
		if rec, err := s.store.GetByProviderSubscription(ctx, event.SubscriptionID); err == nil {
			return rec.AccountID, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
	}
	if accountID := strings.TrimSpace(event.AccountID); accountID != "" {
		rec, err := s.store.Get(ctx, accountID)
		if err != nil {
			return "", err
		}
		return rec.AccountID, nil
	}
	if event.CustomerID != "" {
		rec, err := s.store.GetByCustomer(ctx, event.CustomerID)
		if err != nil {
			return "", err
		}
		return rec.AccountID, nil
	}
	return "", store.ErrNotFound
}

func (s *Service) applyCheckout(ctx context.Context, accountID string, event billing.Event) (map[string]any, error) {
	changes := map[string]any{}
	_, err := s.store.Mutate(ctx, accountID, func(_ *gorm.DB, current models.Subscription) (*models.Subscription, error) {
		now := s.now()
		state, errDecode := Decode(current, now)
		if errDecode != nil {
			return nil, errDecode
		}
		switch state.(type) {
		case Trial, Expired, Canceled:
		default:
			if current.SubscriptionID == event.SubscriptionID {
				changes["duplicate"] = true
				return nil, nil
			}
			return nil, fmt.Errorf("%w: checkout completed while %s", ErrInvalidState, state.Kind())
		}

		tier := plans.Tier(current.Tier)
		if event.Tier != "" {
			parsed, errParse := plans.ParseTier(event.Tier)
			if errParse != nil {
				return nil, errParse
			}
			tier = parsed
		}

		next := current
		next.Tier = string(tier)
		next.CustomerID = event.CustomerID
		next.SubscriptionID = event.SubscriptionID
		next.StartedAt = timePtr(now)
		next.CancelReason = ""
		if !event.CurrentPeriodEnd.IsZero() {
			next.CurrentPeriodEnd = timePtr(event.CurrentPeriodEnd)
		}
		if errApply := Apply(&next, now, Active{}); errApply != nil {
			return nil, errApply
		}
		changes["tier"] = string(tier)
		changes["state"] = string(KindActive)
		return &next, nil
	})
	return changes, err
}

func (s *Service) applySubscriptionUpdate(ctx context.Context, accountID string, event billing.Event) (map[string]any, error) {
	changes := map[string]any{}
	_, err := s.store.Mutate(ctx, accountID, func(_ *gorm.DB, current models.Subscription) (*models.Subscription, error) {
		now := s.now()
		state, errDecode := Decode(current, now)
		if errDecode != nil {
			return nil, errDecode
		}
		switch state.(type) {
		case Active, PendingDowngrade, Canceling:
		default:
			// Trials activate through checkout completion; terminal states
			// ignore late updates.
			changes["skipped"] = string(state.Kind())
			return nil, nil
		}

		next := current
		if !event.CurrentPeriodEnd.IsZero() {
			next.CurrentPeriodEnd = timePtr(event.CurrentPeriodEnd)
		}
		periodEnd := timeValue(next.CurrentPeriodEnd)

		var pending *plans.Tier
		if pd, ok := state.(PendingDowngrade); ok {
			target := pd.Target
			pending = &target
		}

		if event.PriceID != "" {
			providerTier, errTier := s.catalog.TierForPrice(event.PriceID)
			switch {
			case errTier != nil:
				log.WithError(errTier).WithField("account_id", accountID).Warn("webhook: unknown price on subscription")
			case string(providerTier) != current.Tier:
				if pending != nil && *pending == providerTier {
					changes["applied_pending_tier"] = string(providerTier)
				} else {
					log.WithFields(log.Fields{
						"account_id":    accountID,
						"stored_tier":   current.Tier,
						"provider_tier": string(providerTier),
					}).Warn("webhook: adopting provider tier")
					changes["adopted_tier"] = string(providerTier)
				}
				next.Tier = string(providerTier)
				pending = nil
			}
		}

		var nextState State
		switch {
		case event.Status == "canceled":
			nextState = Canceled{At: now}
		case event.CancelAtPeriodEnd:
			nextState = Canceling{EffectiveAt: periodEnd}
		case pending != nil:
			nextState = PendingDowngrade{Target: *pending, EffectiveAt: periodEnd}
		default:
			nextState = Active{}
		}
		if errApply := Apply(&next, now, nextState); errApply != nil {
			return nil, errApply
		}
		changes["state"] = string(nextState.Kind())
		return &next, nil
	})
	return changes, err
}

func (s *Service) applySubscriptionDeleted(ctx context.Context, accountID string) (map[string]any, error) {
	changes := map[string]any{}
	_, err := s.store.Mutate(ctx, accountID, func(_ *gorm.DB, current models.Subscription) (*models.Subscription, error) {
		now := s.now()
		state, errDecode := Decode(current, now)
		if errDecode != nil {
			return nil, errDecode
		}
		switch state.(type) {
		case Active, PendingDowngrade, Canceling:
		default:
			changes["skipped"] = string(state.Kind())
			return nil, nil
		}
		next := current
		if errApply := Apply(&next, now, Canceled{At: now}); errApply != nil {
			return nil, errApply
		}
		changes["state"] = string(KindCanceled)
		return &next, nil
	})
	return changes, err
}
