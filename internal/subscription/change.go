package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/eldercircle/eldercircle-billing/internal/audit"
	"github.com/eldercircle/eldercircle-billing/internal/models"
	"github.com/eldercircle/eldercircle-billing/internal/plans"
	"gorm.io/gorm"
)

// Outcome names the result of a plan change request.
type Outcome string

// Outcome constants.
const (
	OutcomeUpgraded           Outcome = "upgraded"
	OutcomeDowngradeScheduled Outcome = "downgrade_scheduled"
	OutcomeUnchanged          Outcome = "unchanged"
	OutcomeBlocked            Outcome = "blocked"
)

// ChangeResult reports what ChangePlan did.
type ChangeResult struct {
	Outcome     Outcome    `json:"outcome"`
	FromTier    plans.Tier `json:"from_tier"`
	ToTier      plans.Tier `json:"to_tier"`
	EffectiveAt time.Time  `json:"effective_at"`
	Blockers    []Blocker  `json:"blockers,omitempty"`
	Warnings    []Blocker  `json:"warnings,omitempty"`
}

// Message returns a user facing summary of the result.
func (r ChangeResult) Message() string {
	from := planName(r.FromTier)
	to := planName(r.ToTier)
	switch r.Outcome {
	case OutcomeUpgraded:
		return fmt.Sprintf("Upgraded from %s to %s.", from, to)
	case OutcomeDowngradeScheduled:
		if r.EffectiveAt.IsZero() {
			return fmt.Sprintf("Change to %s scheduled for the end of the billing period.", to)
		}
		return fmt.Sprintf("Change to %s scheduled for %s.", to, r.EffectiveAt.Format("January 2, 2006"))
	case OutcomeBlocked:
		return fmt.Sprintf("Cannot move to %s until the listed issues are resolved.", to)
	default:
		return fmt.Sprintf("Already on the %s plan.", to)
	}
}

func planName(tier plans.Tier) string {
	if plan, err := plans.Lookup(tier); err == nil {
		return plan.Name
	}
	return string(tier)
}

// ChangePlan moves accountID to target. Upgrades are applied immediately with
// proration; downgrades are validated against current usage and scheduled for
// the end of the billing period; an equal tier is a no-op. The validation,
// the provider call and the record write run under one row lock, and nothing
// is written when the provider fails.
func (s *Service) ChangePlan(ctx context.Context, accountID string, target plans.Tier) (ChangeResult, error) {
	result, err := s.changePlan(ctx, accountID, target)

	details := map[string]any{
		"tier":      string(target),
		"from_tier": string(result.FromTier),
		"outcome":   string(result.Outcome),
	}
	resultLabel := auditResult(err)
	if err != nil {
		details["error"] = err.Error()
	} else if result.Outcome == OutcomeBlocked {
		resultLabel = audit.ResultBlocked
		details["blockers"] = result.Blockers
	}
	s.record(ctx, accountID, accountID, audit.ActionChangePlan, resultLabel, details)
	return result, err
}

func (s *Service) changePlan(ctx context.Context, accountID string, target plans.Tier) (ChangeResult, error) {
	targetPlan, err := plans.Lookup(target)
	if err != nil {
		return ChangeResult{}, err
	}

	result := ChangeResult{ToTier: target}
	var applied providerWrite
	_, err = s.store.Mutate(ctx, accountID, func(tx *gorm.DB, current models.Subscription) (*models.Subscription, error) {
		now := s.now()
		result = ChangeResult{FromTier: plans.Tier(current.Tier), ToTier: target}
		applied = providerWrite{}

		state, errDecode := Decode(current, now)
		if errDecode != nil {
			return nil, errDecode
		}
		switch state.(type) {
		case Active, PendingDowngrade:
		default:
			return nil, fmt.Errorf("%w: cannot change plan while %s", ErrInvalidState, state.Kind())
		}

		direction, errCompare := plans.Compare(result.FromTier, target)
		if errCompare != nil {
			return nil, errCompare
		}

		switch direction {
		case plans.DirectionUpgrade:
			return s.upgrade(ctx, current, now, target, &result, &applied)
		case plans.DirectionDowngrade:
			return s.scheduleDowngrade(ctx, tx, current, now, targetPlan, &result, &applied)
		default:
			result.Outcome = OutcomeUnchanged
			return nil, nil
		}
	})
	if err != nil {
		applied.reportLost(accountID, err)
		return result, err
	}
	return result, nil
}

// upgrade switches the price now. A pending downgrade is released at the
// provider first so it cannot apply at rollover.
func (s *Service) upgrade(ctx context.Context, current models.Subscription, now time.Time, target plans.Tier, result *ChangeResult, applied *providerWrite) (*models.Subscription, error) {
	if errBilling := requireBilling(current); errBilling != nil {
		return nil, errBilling
	}
	priceID, errPrice := s.catalog.PriceID(target)
	if errPrice != nil {
		return nil, errPrice
	}

	pctx, cancel := s.providerContext(ctx)
	defer cancel()
	if current.PendingTier != nil {
		if errRelease := s.provider.ReleaseScheduledChange(pctx, current.SubscriptionID); errRelease != nil {
			return nil, billingError(current.AccountID, "release scheduled change", errRelease)
		}
		applied.mark("release scheduled change", current.SubscriptionID)
	}
	change, errSwitch := s.provider.SwitchPlanNow(pctx, current.SubscriptionID, priceID)
	if errSwitch != nil {
		return nil, billingError(current.AccountID, "switch plan", errSwitch)
	}
	applied.mark("switch plan", current.SubscriptionID)

	next := current
	next.Tier = string(target)
	if errApply := Apply(&next, now, Active{}); errApply != nil {
		return nil, errApply
	}
	if !change.PeriodEnd.IsZero() {
		next.CurrentPeriodEnd = timePtr(change.PeriodEnd)
	}
	result.Outcome = OutcomeUpgraded
	result.EffectiveAt = now
	return &next, nil
}

func (s *Service) scheduleDowngrade(ctx context.Context, tx *gorm.DB, current models.Subscription, now time.Time, target plans.Plan, result *ChangeResult, applied *providerWrite) (*models.Subscription, error) {
	validation, errValidate := s.evaluate(ctx, tx, current.AccountID, target)
	if errValidate != nil {
		return nil, errValidate
	}
	if !validation.Allowed {
		result.Outcome = OutcomeBlocked
		result.Blockers = validation.Blockers
		return nil, nil
	}

	if errBilling := requireBilling(current); errBilling != nil {
		return nil, errBilling
	}
	priceID, errPrice := s.catalog.PriceID(target.Tier)
	if errPrice != nil {
		return nil, errPrice
	}

	pctx, cancel := s.providerContext(ctx)
	defer cancel()
	change, errSchedule := s.provider.SchedulePlanChange(pctx, current.SubscriptionID, priceID)
	if errSchedule != nil {
		return nil, billingError(current.AccountID, "schedule plan change", errSchedule)
	}
	applied.mark("schedule plan change", current.SubscriptionID)

	effectiveAt := change.EffectiveAt
	if effectiveAt.IsZero() && current.CurrentPeriodEnd != nil {
		effectiveAt = current.CurrentPeriodEnd.UTC()
	}
	next := current
	if errApply := Apply(&next, now, PendingDowngrade{Target: target.Tier, EffectiveAt: effectiveAt}); errApply != nil {
		return nil, errApply
	}
	result.Outcome = OutcomeDowngradeScheduled
	result.EffectiveAt = effectiveAt
	result.Warnings = validation.Warnings()
	return &next, nil
}

// evaluate counts usage through conn and checks it against target.
func (s *Service) evaluate(ctx context.Context, conn *gorm.DB, accountID string, target plans.Plan) (Validation, error) {
	snap, err := s.opts.NewCounter(conn).Snapshot(ctx, accountID)
	if err != nil {
		return Validation{}, fmt.Errorf("subscription: usage snapshot: %w", err)
	}
	return Evaluate(target, snap), nil
}

// ValidateDowngrade checks whether accountID fits within the limits of
// target. It never mutates state.
func (s *Service) ValidateDowngrade(ctx context.Context, accountID string, target plans.Tier) (Validation, error) {
	targetPlan, err := plans.Lookup(target)
	if err != nil {
		return Validation{}, err
	}
	if _, errGet := s.store.Get(ctx, accountID); errGet != nil {
		return Validation{}, errGet
	}
	return s.evaluate(ctx, s.store.DB(), accountID, targetPlan)
}

// PreviewDowngrade reports what a change to target would hit. Targets that
// are not a downgrade from the current tier need no validation and are
// reported as allowed.
func (s *Service) PreviewDowngrade(ctx context.Context, accountID string, target plans.Tier) (Validation, error) {
	rec, err := s.store.Get(ctx, accountID)
	if err != nil {
		return Validation{}, err
	}
	direction, err := plans.Compare(plans.Tier(rec.Tier), target)
	if err != nil {
		return Validation{}, err
	}
	if direction != plans.DirectionDowngrade {
		return Validation{Allowed: true, Blockers: []Blocker{}}, nil
	}
	return s.ValidateDowngrade(ctx, accountID, target)
}

// CancelPendingChange clears a scheduled downgrade. The billing provider is
// not contacted; a schedule it still applies at rollover is adopted by
// Reconcile.
func (s *Service) CancelPendingChange(ctx context.Context, accountID string) (bool, error) {
	cleared := false
	var pendingTier string
	_, err := s.store.Mutate(ctx, accountID, func(_ *gorm.DB, current models.Subscription) (*models.Subscription, error) {
		now := s.now()
		state, errDecode := Decode(current, now)
		if errDecode != nil {
			return nil, errDecode
		}
		pending, ok := state.(PendingDowngrade)
		if !ok {
			return nil, nil
		}
		next := current
		if errApply := Apply(&next, now, Active{}); errApply != nil {
			return nil, errApply
		}
		cleared = true
		pendingTier = string(pending.Target)
		return &next, nil
	})
	if err == nil && !cleared {
		return false, nil
	}
	details := map[string]any{"tier": pendingTier}
	if err != nil {
		details["error"] = err.Error()
	}
	s.record(ctx, accountID, accountID, audit.ActionCancelPendingChange, auditResult(err), details)
	return cleared, err
}
