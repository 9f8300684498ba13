package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eldercircle/eldercircle-billing/internal/audit"
	"github.com/eldercircle/eldercircle-billing/internal/billing"
	"github.com/eldercircle/eldercircle-billing/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CancelMode names how a cancellation was carried out.
type CancelMode string

// CancelMode constants.
const (
	// CancelImmediate ends the subscription now with a full refund.
	CancelImmediate CancelMode = "immediate"
	// CancelAtPeriodEnd ends the subscription with the current period.
	CancelAtPeriodEnd CancelMode = "period_end"
	// CancelTrial ends a trial; nothing is billed.
	CancelTrial CancelMode = "trial"
	// CancelAlreadyScheduled reports an earlier period-end cancellation.
	CancelAlreadyScheduled CancelMode = "already_scheduled"
)

// CancelResult reports what Cancel did.
type CancelResult struct {
	Mode           CancelMode `json:"mode"`
	Refunded       bool       `json:"refunded"`
	RefundFailed   bool       `json:"refund_failed"`
	RefundCents    int64      `json:"refund_cents"`
	EffectiveAt    time.Time  `json:"effective_at"`
	DaysSinceStart int        `json:"days_since_start"`
}

// Message returns a user facing summary of the result.
func (r CancelResult) Message() string {
	switch r.Mode {
	case CancelImmediate:
		switch {
		case r.Refunded:
			return "Subscription canceled. A full refund has been issued."
		case r.RefundFailed:
			return "Subscription canceled. The refund could not be issued automatically; please contact support."
		default:
			return "Subscription canceled. There was no payment to refund."
		}
	case CancelTrial:
		return "Trial canceled."
	case CancelAlreadyScheduled:
		return fmt.Sprintf("Subscription is already set to end on %s.", r.EffectiveAt.Format("January 2, 2006"))
	default:
		if r.EffectiveAt.IsZero() {
			return "Subscription will end at the close of the current billing period."
		}
		return fmt.Sprintf("Subscription will end on %s.", r.EffectiveAt.Format("January 2, 2006"))
	}
}

// DaysSince returns the whole days elapsed from start to now, never negative.
func DaysSince(start, now time.Time) int {
	if !now.After(start) {
		return 0
	}
	return int(now.Sub(start) / (24 * time.Hour))
}

// Cancel ends the subscription of accountID. Within RefundWindowDays of the
// subscription start the cancellation is immediate with a full refund of the
// latest charge; later it takes effect at the end of the current period.
func (s *Service) Cancel(ctx context.Context, accountID, reason string) (CancelResult, error) {
	reason = strings.TrimSpace(reason)
	var result CancelResult
	var refundErr error
	var applied providerWrite

	_, err := s.store.Mutate(ctx, accountID, func(_ *gorm.DB, current models.Subscription) (*models.Subscription, error) {
		now := s.now()
		result = CancelResult{}
		refundErr = nil
		applied = providerWrite{}

		state, errDecode := Decode(current, now)
		if errDecode != nil {
			return nil, errDecode
		}

		switch st := state.(type) {
		case Trial:
			next := current
			next.CancelReason = reason
			if errApply := Apply(&next, now, Canceled{At: now}); errApply != nil {
				return nil, errApply
			}
			result = CancelResult{Mode: CancelTrial, EffectiveAt: now}
			return &next, nil
		case Canceling:
			result = CancelResult{Mode: CancelAlreadyScheduled, EffectiveAt: st.EffectiveAt}
			return nil, nil
		case Active, PendingDowngrade:
		default:
			return nil, fmt.Errorf("%w: cannot cancel while %s", ErrInvalidState, state.Kind())
		}

		if errBilling := requireBilling(current); errBilling != nil {
			return nil, errBilling
		}

		start := current.CreatedAt
		if current.StartedAt != nil {
			start = *current.StartedAt
		}
		days := DaysSince(start, now)
		result.DaysSinceStart = days

		pctx, cancel := s.providerContext(ctx)
		defer cancel()

		next := current
		next.CancelReason = reason
		if days <= s.opts.RefundWindowDays {
			if errCancel := s.provider.CancelNow(pctx, current.SubscriptionID); errCancel != nil {
				return nil, billingError(accountID, "cancel subscription", errCancel)
			}
			applied.mark("cancel subscription", current.SubscriptionID)
			// The provider subscription is gone at this point; the local
			// record follows it even if the refund fails.
			result.Mode = CancelImmediate
			result.EffectiveAt = now
			refund, errRefund := s.provider.RefundLatestCharge(pctx, current.CustomerID)
			switch {
			case errRefund == nil:
				result.Refunded = true
				result.RefundCents = refund.AmountCents
			case errors.Is(errRefund, billing.ErrNoRefundableCharge):
			default:
				result.RefundFailed = true
				refundErr = errRefund
				log.WithError(errRefund).WithField("account_id", accountID).Error("subscription: refund after cancellation failed")
			}
			if errApply := Apply(&next, now, Canceled{At: now}); errApply != nil {
				return nil, errApply
			}
			return &next, nil
		}

		if _, pending := state.(PendingDowngrade); pending {
			if errRelease := s.provider.ReleaseScheduledChange(pctx, current.SubscriptionID); errRelease != nil {
				return nil, billingError(accountID, "release scheduled change", errRelease)
			}
			applied.mark("release scheduled change", current.SubscriptionID)
		}
		periodEnd, errCancel := s.provider.CancelAtPeriodEnd(pctx, current.SubscriptionID)
		if errCancel != nil {
			return nil, billingError(accountID, "cancel at period end", errCancel)
		}
		applied.mark("cancel at period end", current.SubscriptionID)
		if periodEnd.IsZero() && current.CurrentPeriodEnd != nil {
			periodEnd = current.CurrentPeriodEnd.UTC()
		}
		if errApply := Apply(&next, now, Canceling{EffectiveAt: periodEnd}); errApply != nil {
			return nil, errApply
		}
		result.Mode = CancelAtPeriodEnd
		result.EffectiveAt = periodEnd
		return &next, nil
	})
	applied.reportLost(accountID, err)

	details := map[string]any{
		"mode":             string(result.Mode),
		"refunded":         result.Refunded,
		"refund_cents":     result.RefundCents,
		"days_since_start": result.DaysSinceStart,
		"reason":           reason,
	}
	resultLabel := auditResult(err)
	if err != nil {
		details["error"] = err.Error()
	} else if refundErr != nil {
		resultLabel = audit.ResultFailure
		details["refund_error"] = refundErr.Error()
	}
	if err != nil || result.Mode != CancelAlreadyScheduled {
		s.record(ctx, accountID, accountID, audit.ActionCancel, resultLabel, details)
	}
	return result, err
}

// Resume withdraws a period-end cancellation. Subscriptions that are not
// canceling are left unchanged.
func (s *Service) Resume(ctx context.Context, accountID string) (bool, error) {
	resumed := false
	var applied providerWrite
	_, err := s.store.Mutate(ctx, accountID, func(_ *gorm.DB, current models.Subscription) (*models.Subscription, error) {
		now := s.now()
		resumed = false
		applied = providerWrite{}
		state, errDecode := Decode(current, now)
		if errDecode != nil {
			return nil, errDecode
		}
		switch state.(type) {
		case Canceling:
		case Active, PendingDowngrade:
			return nil, nil
		default:
			return nil, fmt.Errorf("%w: cannot resume while %s", ErrInvalidState, state.Kind())
		}
		if errBilling := requireBilling(current); errBilling != nil {
			return nil, errBilling
		}

		pctx, cancel := s.providerContext(ctx)
		defer cancel()
		if errResume := s.provider.ResumeSubscription(pctx, current.SubscriptionID); errResume != nil {
			return nil, billingError(accountID, "resume subscription", errResume)
		}
		applied.mark("resume subscription", current.SubscriptionID)
		next := current
		next.CancelReason = ""
		if errApply := Apply(&next, now, Active{}); errApply != nil {
			return nil, errApply
		}
		resumed = true
		return &next, nil
	})
	applied.reportLost(accountID, err)
	if err == nil && !resumed {
		return false, nil
	}
	details := map[string]any{}
	if err != nil {
		details["error"] = err.Error()
	}
	s.record(ctx, accountID, accountID, audit.ActionResume, auditResult(err), details)
	return resumed, err
}
