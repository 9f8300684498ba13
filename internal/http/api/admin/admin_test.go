package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/eldercircle/eldercircle-billing/internal/audit"
	"github.com/eldercircle/eldercircle-billing/internal/config"
	"github.com/eldercircle/eldercircle-billing/internal/db"
	"github.com/eldercircle/eldercircle-billing/internal/models"
	"github.com/eldercircle/eldercircle-billing/internal/plans"
	"github.com/eldercircle/eldercircle-billing/internal/ratelimit"
	"github.com/eldercircle/eldercircle-billing/internal/security"
	"github.com/eldercircle/eldercircle-billing/internal/store"
	"github.com/eldercircle/eldercircle-billing/internal/subscription"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type adminEnv struct {
	router   *gin.Engine
	conn     *gorm.DB
	recorder *audit.Recorder
}

func newAdminEnv(t *testing.T, rateLimit int) *adminEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "ecb-admin.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	hash, err := security.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if errCreate := conn.Create(&models.Admin{Username: "ops", Password: hash, Active: true}).Error; errCreate != nil {
		t.Fatalf("create admin: %v", errCreate)
	}

	recorder := audit.NewRecorder(conn)
	r := gin.New()
	RegisterAdminRoutes(r, conn, config.JWTConfig{Secret: "admin-secret", Expiry: time.Hour}, Deps{
		Store:       store.NewSubscriptionStore(conn),
		Recorder:    recorder,
		RateLimiter: ratelimit.NewManager(ratelimit.StaticSettings(config.RateLimitConfig{Limit: rateLimit}), nil, nil),
	})
	return &adminEnv{router: r, conn: conn, recorder: recorder}
}

func (e *adminEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var raw []byte
	if body != nil {
		var errMarshal error
		if raw, errMarshal = json.Marshal(body); errMarshal != nil {
			t.Fatalf("marshal body: %v", errMarshal)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var out map[string]any
	if w.Body.Len() > 0 {
		if errDecode := json.Unmarshal(w.Body.Bytes(), &out); errDecode != nil {
			t.Fatalf("decode response %q: %v", w.Body.String(), errDecode)
		}
	}
	return w, out
}

func (e *adminEnv) login(t *testing.T) string {
	t.Helper()
	w, body := e.do(t, http.MethodPost, "/v0/admin/login", "", map[string]any{"username": "ops", "password": "s3cret"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("expected token, got %v", body)
	}
	return token
}

func (e *adminEnv) seedSubscription(t *testing.T, accountID string, tier plans.Tier) {
	t.Helper()
	rec := models.Subscription{Tier: string(tier)}
	subscription.Encode(&rec, subscription.Trial{EndsAt: time.Now().UTC().Add(24 * time.Hour)})
	if err := store.NewSubscriptionStore(e.conn).CreateAccount(context.Background(), &models.Account{ID: accountID}, &rec); err != nil {
		t.Fatalf("create account: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	env := newAdminEnv(t, 0)
	w, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("expected healthy, got %d %v", w.Code, body)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	env := newAdminEnv(t, 0)
	if w, _ := env.do(t, http.MethodPost, "/v0/admin/login", "", map[string]any{"username": "ops", "password": "wrong"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w, _ := env.do(t, http.MethodPost, "/v0/admin/login", "", map[string]any{"username": "nobody", "password": "s3cret"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown admin, got %d", w.Code)
	}
	if w, _ := env.do(t, http.MethodPost, "/v0/admin/login", "", map[string]any{"username": ""}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing credentials, got %d", w.Code)
	}
}

func TestLogin_RateLimitedPerUsername(t *testing.T) {
	env := newAdminEnv(t, 1)
	limited := false
	for i := 0; i < 3; i++ {
		w, _ := env.do(t, http.MethodPost, "/v0/admin/login", "", map[string]any{"username": "OPS", "password": "wrong"})
		if w.Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Fatalf("expected a login attempt to be rate limited")
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	env := newAdminEnv(t, 0)
	if w, _ := env.do(t, http.MethodGet, "/v0/admin/subscriptions", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	userToken, err := security.GenerateUserToken("admin-secret", "acct-1", "", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("user token: %v", err)
	}
	if w, _ := env.do(t, http.MethodGet, "/v0/admin/subscriptions", userToken, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected user token to be rejected, got %d", w.Code)
	}
}

func TestDisabledAdminRejected(t *testing.T) {
	env := newAdminEnv(t, 0)
	token := env.login(t)
	if err := env.conn.Model(&models.Admin{}).Where("username = ?", "ops").Update("active", false).Error; err != nil {
		t.Fatalf("disable admin: %v", err)
	}
	if w, _ := env.do(t, http.MethodGet, "/v0/admin/subscriptions", token, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestListAndGetSubscriptions(t *testing.T) {
	env := newAdminEnv(t, 0)
	env.seedSubscription(t, "acct-1", plans.TierFamily)
	env.seedSubscription(t, "acct-2", plans.TierMultiAgency)
	token := env.login(t)

	w, body := env.do(t, http.MethodGet, "/v0/admin/subscriptions?tier=multi_agency", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["total"] != float64(1) {
		t.Fatalf("expected total 1, got %v", body["total"])
	}
	rows := body["subscriptions"].([]any)
	if rows[0].(map[string]any)["account_id"] != "acct-2" {
		t.Fatalf("unexpected rows %v", rows)
	}

	if w, _ := env.do(t, http.MethodGet, "/v0/admin/subscriptions?limit=x", token, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}

	w, body = env.do(t, http.MethodGet, "/v0/admin/subscriptions/acct-1", token, nil)
	if w.Code != http.StatusOK || body["state"] != "trial" {
		t.Fatalf("expected trial subscription, got %d %v", w.Code, body)
	}
	if _, ok := body["usage"]; !ok {
		t.Fatalf("expected usage snapshot, got %v", body)
	}

	if w, _ := env.do(t, http.MethodGet, "/v0/admin/subscriptions/missing", token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListEvents(t *testing.T) {
	env := newAdminEnv(t, 0)
	ctx := context.Background()
	records := []audit.Record{
		{AccountID: "acct-1", Actor: "acct-1", Action: audit.ActionChangePlan, Result: audit.ResultBlocked, Details: map[string]any{"tier": "single_agency"}},
		{AccountID: "acct-1", Actor: "acct-1", Action: audit.ActionCancel, Result: audit.ResultSuccess},
		{AccountID: "acct-2", Actor: audit.ActorProvider, Action: audit.ActionWebhook, Result: audit.ResultSuccess},
	}
	for _, rec := range records {
		if err := env.recorder.Log(ctx, rec); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
	token := env.login(t)

	w, body := env.do(t, http.MethodGet, "/v0/admin/events?account_id=acct-1", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if events := body["events"].([]any); len(events) != 2 {
		t.Fatalf("expected two events, got %d", len(events))
	}

	w, body = env.do(t, http.MethodGet, "/v0/admin/events?result=blocked", token, nil)
	events := body["events"].([]any)
	if w.Code != http.StatusOK || len(events) != 1 || events[0].(map[string]any)["action"] != audit.ActionChangePlan {
		t.Fatalf("expected one blocked change, got %d %v", w.Code, body)
	}

	if w, _ := env.do(t, http.MethodGet, "/v0/admin/events?from=yesterday", token, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad from, got %d", w.Code)
	}
}
