package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Mock is a Provider test double that records calls and returns configurable
// results.
type Mock struct {
	mu sync.Mutex

	// Calls lists invoked method names in order.
	Calls []string
	// Switched maps subscriptionID -> price applied immediately.
	Switched map[string]string
	// Scheduled maps subscriptionID -> price applied at period end.
	Scheduled map[string]string
	// Canceled maps subscriptionID -> true for immediate, false for period end.
	Canceled map[string]bool
	// Refunds lists issued refunds.
	Refunds []Refund
	// Checkouts lists checkout requests.
	Checkouts []CheckoutRequest

	// PeriodEnd is returned as the current period end.
	PeriodEnd time.Time
	// RefundAmountCents is the amount of issued refunds.
	RefundAmountCents int64
	// WebhookSignature is the only accepted webhook signature.
	WebhookSignature string

	// Error fields allow tests to inject failures.
	CheckoutErr       error
	PortalErr         error
	SwitchErr         error
	ScheduleErr       error
	ReleaseErr        error
	CancelNowErr      error
	CancelAtPeriodErr error
	ResumeErr         error
	RefundErr         error

	nextSeq int
}

// NewMock creates a Mock whose period ends 30 days from now.
func NewMock() *Mock {
	return &Mock{
		Switched:          make(map[string]string),
		Scheduled:         make(map[string]string),
		Canceled:          make(map[string]bool),
		PeriodEnd:         time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Second),
		RefundAmountCents: 2999,
		WebhookSignature:  "mock-signature",
	}
}

// CallCount returns how many times method was invoked.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, call := range m.Calls {
		if call == method {
			count++
		}
	}
	return count
}

// TotalCalls returns the number of recorded provider calls.
func (m *Mock) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

func (m *Mock) record(method string) {
	m.Calls = append(m.Calls, method)
}

// CreateCheckoutSession records the request and returns a fake URL.
func (m *Mock) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateCheckoutSession")
	if m.CheckoutErr != nil {
		return "", m.CheckoutErr
	}
	m.Checkouts = append(m.Checkouts, req)
	m.nextSeq++
	return fmt.Sprintf("https://checkout.mock/cs_mock_%d", m.nextSeq), nil
}

// CreatePortalSession returns a fake portal URL.
func (m *Mock) CreatePortalSession(_ context.Context, customerID, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreatePortalSession")
	if m.PortalErr != nil {
		return "", m.PortalErr
	}
	return "https://portal.mock/" + customerID, nil
}

// SwitchPlanNow records an immediate price switch.
func (m *Mock) SwitchPlanNow(_ context.Context, subscriptionID, priceID string) (PlanChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SwitchPlanNow")
	if m.SwitchErr != nil {
		return PlanChange{}, m.SwitchErr
	}
	m.Switched[subscriptionID] = priceID
	return PlanChange{PeriodEnd: m.PeriodEnd, EffectiveAt: time.Now().UTC()}, nil
}

// SchedulePlanChange records a period-end price switch.
func (m *Mock) SchedulePlanChange(_ context.Context, subscriptionID, priceID string) (PlanChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SchedulePlanChange")
	if m.ScheduleErr != nil {
		return PlanChange{}, m.ScheduleErr
	}
	m.Scheduled[subscriptionID] = priceID
	return PlanChange{PeriodEnd: m.PeriodEnd, EffectiveAt: m.PeriodEnd}, nil
}

// ReleaseScheduledChange drops the recorded period-end switch.
func (m *Mock) ReleaseScheduledChange(_ context.Context, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ReleaseScheduledChange")
	if m.ReleaseErr != nil {
		return m.ReleaseErr
	}
	delete(m.Scheduled, subscriptionID)
	return nil
}

// CancelNow records an immediate cancellation.
func (m *Mock) CancelNow(_ context.Context, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CancelNow")
	if m.CancelNowErr != nil {
		return m.CancelNowErr
	}
	m.Canceled[subscriptionID] = true
	return nil
}

// CancelAtPeriodEnd records a period-end cancellation.
func (m *Mock) CancelAtPeriodEnd(_ context.Context, subscriptionID string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CancelAtPeriodEnd")
	if m.CancelAtPeriodErr != nil {
		return time.Time{}, m.CancelAtPeriodErr
	}
	m.Canceled[subscriptionID] = false
	return m.PeriodEnd, nil
}

// ResumeSubscription clears a recorded period-end cancellation.
func (m *Mock) ResumeSubscription(_ context.Context, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ResumeSubscription")
	if m.ResumeErr != nil {
		return m.ResumeErr
	}
	delete(m.Canceled, subscriptionID)
	return nil
}

// RefundLatestCharge records a refund for customerID.
func (m *Mock) RefundLatestCharge(_ context.Context, customerID string) (Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("RefundLatestCharge")
	if m.RefundErr != nil {
		return Refund{}, m.RefundErr
	}
	m.nextSeq++
	r := Refund{
		ID:          fmt.Sprintf("re_mock_%d", m.nextSeq),
		ChargeID:    "ch_mock_" + customerID,
		AmountCents: m.RefundAmountCents,
	}
	m.Refunds = append(m.Refunds, r)
	return r, nil
}

// ParseWebhook decodes payload as a JSON Event when signature matches.
func (m *Mock) ParseWebhook(payload []byte, signature string) (Event, error) {
	m.mu.Lock()
	expected := m.WebhookSignature
	m.mu.Unlock()
	if signature != expected {
		return Event{}, ErrInvalidSignature
	}
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("billing: parse mock event: %w", err)
	}
	return event, nil
}
