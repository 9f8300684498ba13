package subscription

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eldercircle/eldercircle-billing/internal/audit"
	"github.com/eldercircle/eldercircle-billing/internal/billing"
	"github.com/eldercircle/eldercircle-billing/internal/db"
	"github.com/eldercircle/eldercircle-billing/internal/models"
	"github.com/eldercircle/eldercircle-billing/internal/plans"
	"github.com/eldercircle/eldercircle-billing/internal/store"
	"github.com/eldercircle/eldercircle-billing/internal/usage"
	"gorm.io/gorm"
)

// testEnv bundles a service wired to sqlite and the mock provider.
type testEnv struct {
	conn     *gorm.DB
	store    *store.SubscriptionStore
	provider *billing.Mock
	service  *Service
	now      time.Time
	counts   *int32 // Usage snapshots taken by the service.
}

var testPriceIDs = map[string]string{
	"family":        "price_family",
	"single_agency": "price_single",
	"multi_agency":  "price_multi",
}

// countingCounter counts snapshot calls made by the service.
type countingCounter struct {
	calls *int32
	inner usage.Counter
}

func (c countingCounter) Snapshot(ctx context.Context, accountID string) (usage.Snapshot, error) {
	atomic.AddInt32(c.calls, 1)
	return c.inner.Snapshot(ctx, accountID)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "ecb-subscription.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	catalog, err := plans.NewCatalog(testPriceIDs)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	env := &testEnv{
		conn:     conn,
		store:    store.NewSubscriptionStore(conn),
		provider: billing.NewMock(),
		now:      time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC),
		counts:   new(int32),
	}
	env.provider.PeriodEnd = env.now.Add(20 * 24 * time.Hour)
	env.service = NewService(env.store, env.provider, catalog, audit.NewRecorder(conn), Options{
		RefundWindowDays: 7,
		TrialDays:        14,
		Now:              func() time.Time { return env.now },
		NewCounter: func(c *gorm.DB) usage.Counter {
			return countingCounter{calls: env.counts, inner: usage.NewGormCounter(c)}
		},
	})
	return env
}

func (e *testEnv) snapshots() int32 { return atomic.LoadInt32(e.counts) }

// seedTrial creates an account on a trial.
func (e *testEnv) seedTrial(t *testing.T, accountID string, tier plans.Tier) {
	t.Helper()
	if _, err := e.service.Signup(context.Background(), SignupRequest{
		AccountID: accountID,
		Email:     accountID + "@example.com",
		Tier:      tier,
	}); err != nil {
		t.Fatalf("Signup: %v", err)
	}
}

// seedPaid creates an account with an active subscription started
// startedDaysAgo days before the test clock.
func (e *testEnv) seedPaid(t *testing.T, accountID string, tier plans.Tier, startedDaysAgo int) {
	t.Helper()
	e.seedTrial(t, accountID, tier)
	started := e.now.Add(-time.Duration(startedDaysAgo) * 24 * time.Hour)
	periodEnd := e.now.Add(10 * 24 * time.Hour)
	if _, err := e.store.Mutate(context.Background(), accountID, func(_ *gorm.DB, current models.Subscription) (*models.Subscription, error) {
		next := current
		next.StartedAt = &started
		next.CurrentPeriodEnd = &periodEnd
		next.CustomerID = "cus_" + accountID
		next.SubscriptionID = "sub_" + accountID
		Encode(&next, Active{})
		return &next, nil
	}); err != nil {
		t.Fatalf("seed paid: %v", err)
	}
}

func (e *testEnv) seedMembers(t *testing.T, accountID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		member := models.Member{AccountID: accountID, Name: fmt.Sprintf("member-%d", i), Role: models.MemberRoleCaregiver}
		if err := e.conn.Create(&member).Error; err != nil {
			t.Fatalf("seed member: %v", err)
		}
	}
}

func (e *testEnv) seedStorage(t *testing.T, accountID string, bytes int64) {
	t.Helper()
	obj := models.StorageObject{AccountID: accountID, Name: "archive.zip", SizeBytes: bytes}
	if err := e.conn.Create(&obj).Error; err != nil {
		t.Fatalf("seed storage: %v", err)
	}
}

func (e *testEnv) record(t *testing.T, accountID string) models.Subscription {
	t.Helper()
	rec, err := e.store.Get(context.Background(), accountID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	return rec
}
