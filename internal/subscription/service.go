// Package subscription implements the plan lifecycle of an account:
// downgrade validation, plan changes, cancellation with a refund window and
// reconciliation of billing provider webhooks.
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
	"github.com/eldercircle/eldercircle-billing/internal/plans"
	internalsettings "github.com/eldercircle/eldercircle-billing/internal/settings"
	"github.com/eldercircle/eldercircle-billing/internal/store"
	"github.com/eldercircle/eldercircle-billing/internal/usage"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Options tunes a Service.
type Options struct {
	RefundWindowDays int           // Days after start with a full refund.
	TrialDays        int           // Trial length at signup.
	ProviderTimeout  time.Duration // Bound for one provider round trip.
	SuccessURL       string        // Checkout success redirect.
	CancelURL        string        // Checkout cancel redirect.
	PortalReturnURL  string        // Billing portal return URL.

	// Now overrides the clock.
	Now func() time.Time
	// NewCounter builds the usage counter for a connection or transaction.
	NewCounter func(conn *gorm.DB) usage.Counter
}

// Service coordinates the subscription lifecycle.
type Service struct {
	store    *store.SubscriptionStore
	provider billing.Provider
	catalog  *plans.Catalog
	recorder *audit.Recorder
	opts     Options
}

// NewService constructs a Service and applies option defaults.
func NewService(st *store.SubscriptionStore, provider billing.Provider, catalog *plans.Catalog, recorder *audit.Recorder, opts Options) *Service {
	if opts.RefundWindowDays <= 0 {
		opts.RefundWindowDays = internalsettings.DefaultRefundWindowDays
	}
	if opts.TrialDays <= 0 {
		opts.TrialDays = internalsettings.DefaultTrialDays
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = internalsettings.DefaultProviderTimeout
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewCounter == nil {
		opts.NewCounter = func(conn *gorm.DB) usage.Counter { return usage.NewGormCounter(conn) }
	}
	return &Service{
		store:    st,
		provider: provider,
		catalog:  catalog,
		recorder: recorder,
		opts:     opts,
	}
}

// RefundWindowDays returns the configured refund window.
func (s *Service) RefundWindowDays() int { return s.opts.RefundWindowDays }

func (s *Service) now() time.Time { return s.opts.Now().UTC() }

// providerContext bounds a provider call.
func (s *Service) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.ProviderTimeout)
}

// billingError logs a provider failure and wraps it as ErrBillingUnavailable,
// or ErrConfiguration when the provider has no credentials.
func billingError(accountID, op string, err error) error {
	log.WithError(err).WithFields(log.Fields{
		"account_id": accountID,
		"operation":  op,
	}).Warn("billing provider call failed")
	if errors.Is(err, billing.ErrNotConfigured) {
		return fmt.Errorf("%w: %s: %v", ErrConfiguration, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrBillingUnavailable, op, err)
}

// providerWrite remembers the last provider mutation made inside a store
// transaction.
type providerWrite struct {
	op             string
	subscriptionID string
}

func (w *providerWrite) mark(op, subscriptionID string) {
	w.op = op
	w.subscriptionID = subscriptionID
}

// reportLost logs a provider mutation whose local write did not commit. The
// provider and the record now disagree until an operator reconciles them.
func (w *providerWrite) reportLost(accountID string, err error) {
	if err == nil || w.op == "" {
		return
	}
	log.WithError(err).WithFields(log.Fields{
		"account_id":      accountID,
		"subscription_id": w.subscriptionID,
		"operation":       w.op,
	}).Error("subscription: provider change applied but the local record was not saved")
}

func (s *Service) record(ctx context.Context, accountID, actor, action, result string, details map[string]any) {
	if s.recorder == nil {
		return
	}
	if errLog := s.recorder.Log(ctx, audit.Record{
		AccountID: accountID,
		Actor:     actor,
		Action:    action,
		Result:    result,
		Details:   details,
	}); errLog != nil {
		log.WithError(errLog).WithField("action", action).Warn("subscription: audit write failed")
	}
}

// auditResult maps an operation error to an audit result.
func auditResult(err error) string {
	if err != nil {
		return audit.ResultFailure
	}
	return audit.ResultSuccess
}

// View is the client facing subscription summary.
type View struct {
	AccountID         string     `json:"account_id"`
	Tier              plans.Tier `json:"tier"`
	Plan              plans.Plan `json:"plan"`
	State             Kind       `json:"state"`
	Status            string     `json:"status"`
	TrialEndsAt       *time.Time `json:"trial_ends_at,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	PendingTier       *string    `json:"pending_tier,omitempty"`
	CanceledAt        *time.Time `json:"canceled_at,omitempty"`
	HasBilling        bool       `json:"has_billing"`
}

// NewView builds a View of rec at now.
func NewView(rec models.Subscription, now time.Time) (View, error) {
	state, err := Decode(rec, now)
	if err != nil {
		return View{}, err
	}
	view := View{
		AccountID:         rec.AccountID,
		Tier:              plans.Tier(rec.Tier),
		State:             state.Kind(),
		Status:            string(rec.Status),
		TrialEndsAt:       rec.TrialEndsAt,
		StartedAt:         rec.StartedAt,
		CurrentPeriodEnd:  rec.CurrentPeriodEnd,
		CancelAtPeriodEnd: rec.CancelAtPeriodEnd,
		PendingTier:       rec.PendingTier,
		CanceledAt:        rec.CanceledAt,
		HasBilling:        rec.SubscriptionID != "",
	}
	if _, expired := state.(Expired); expired {
		view.Status = string(models.SubscriptionStatusExpired)
	}
	if plan, errLookup := plans.Lookup(view.Tier); errLookup == nil {
		view.Plan = plan
	}
	return view, nil
}

// Get returns the subscription of accountID. A trial found past its end is
// persisted as expired.
func (s *Service) Get(ctx context.Context, accountID string) (View, error) {
	rec, err := s.store.Get(ctx, accountID)
	if err != nil {
		return View{}, err
	}
	now := s.now()
	state, err := Decode(rec, now)
	if err != nil {
		return View{}, err
	}
	if _, expired := state.(Expired); expired && rec.Status == models.SubscriptionStatusTrial {
		updated, errExpire := s.store.Mutate(ctx, accountID, func(_ *gorm.DB, current models.Subscription) (*models.Subscription, error) {
			if current.Status != models.SubscriptionStatusTrial {
				return nil, nil
			}
			next := current
			Encode(&next, Expired{})
			return &next, nil
		})
		if errExpire != nil {
			return View{}, errExpire
		}
		s.record(ctx, accountID, audit.ActorSystem, audit.ActionExpire, audit.ResultSuccess, map[string]any{"tier": rec.Tier})
		rec = updated
	}
	return NewView(rec, now)
}

// SignupRequest describes a new account.
type SignupRequest struct {
	AccountID string
	Email     string
	Name      string
	Tier      plans.Tier // Trial tier, defaults to family.
}

// Signup creates the account and starts its trial.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (View, error) {
	req.AccountID = strings.TrimSpace(req.AccountID)
	if req.AccountID == "" {
		return View{}, fmt.Errorf("%w: missing account id", ErrInvalidRequest)
	}
	if req.Tier == "" {
		req.Tier = plans.TierFamily
	}
	if _, err := plans.Lookup(req.Tier); err != nil {
		return View{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	now := s.now()
	rec := models.Subscription{Tier: string(req.Tier)}
	Encode(&rec, Trial{EndsAt: now.AddDate(0, 0, s.opts.TrialDays)})
	account := models.Account{
		ID:    req.AccountID,
		Email: strings.TrimSpace(req.Email),
		Name:  strings.TrimSpace(req.Name),
	}
	if errCreate := s.store.CreateAccount(ctx, &account, &rec); errCreate != nil {
		return View{}, errCreate
	}
	s.record(ctx, req.AccountID, req.AccountID, audit.ActionSignup, audit.ResultSuccess, map[string]any{
		"tier":       string(req.Tier),
		"trial_days": s.opts.TrialDays,
	})
	return NewView(rec, now)
}

// Checkout starts a hosted checkout for tier and returns its URL. Only
// accounts without a paid subscription may check out.
func (s *Service) Checkout(ctx context.Context, accountID string, tier plans.Tier) (string, error) {
	url, err := s.checkout(ctx, accountID, tier)
	details := map[string]any{"tier": string(tier)}
	if err != nil {
		details["error"] = err.Error()
	}
	s.record(ctx, accountID, accountID, audit.ActionCheckout, auditResult(err), details)
	return url, err
}

func (s *Service) checkout(ctx context.Context, accountID string, tier plans.Tier) (string, error) {
	rec, err := s.store.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	state, err := Decode(rec, s.now())
	if err != nil {
		return "", err
	}
	switch state.(type) {
	case Trial, Expired, Canceled:
	default:
		return "", fmt.Errorf("%w: account already has a paid subscription", ErrInvalidState)
	}
	priceID, err := s.catalog.PriceID(tier)
	if err != nil {
		return "", err
	}
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return "", err
	}

	pctx, cancel := s.providerContext(ctx)
	defer cancel()
	url, err := s.provider.CreateCheckoutSession(pctx, billing.CheckoutRequest{
		AccountID:  accountID,
		Email:      account.Email,
		CustomerID: rec.CustomerID,
		PriceID:    priceID,
		Tier:       string(tier),
		SuccessURL: s.opts.SuccessURL,
		CancelURL:  s.opts.CancelURL,
	})
	if err != nil {
		return "", billingError(accountID, "create checkout session", err)
	}
	return url, nil
}

// Portal returns a billing portal URL for accounts with a provider customer.
func (s *Service) Portal(ctx context.Context, accountID string) (string, error) {
	rec, err := s.store.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	if rec.CustomerID == "" {
		return "", fmt.Errorf("%w: no billing customer", ErrInvalidState)
	}
	pctx, cancel := s.providerContext(ctx)
	defer cancel()
	url, err := s.provider.CreatePortalSession(pctx, rec.CustomerID, s.opts.PortalReturnURL)
	if err != nil {
		errWrapped := billingError(accountID, "create portal session", err)
		s.record(ctx, accountID, accountID, audit.ActionPortal, audit.ResultFailure, map[string]any{"error": errWrapped.Error()})
		return "", errWrapped
	}
	s.record(ctx, accountID, accountID, audit.ActionPortal, audit.ResultSuccess, nil)
	return url, nil
}

// requireBilling rejects paid-state operations on records without a
// provider subscription.
func requireBilling(rec models.Subscription) error {
	if rec.SubscriptionID == "" {
		return fmt.Errorf("%w: no billing subscription", ErrInvalidState)
	}
	return nil
}

