package subscription

import (
	"context"
	"errors"
	"testing"

	"github.com/eldercircle/eldercircle-billing/internal/plans"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"gorm.io/gorm"
)

var errDiskFull = errors.New("disk I/O error")

// failRecordWrites makes every later UPDATE fail, so provider calls succeed
// while the record write does not.
func failRecordWrites(t *testing.T, env *testEnv) {
	t.Helper()
	errRegister := env.conn.Callback().Update().Before("gorm:update").Register("test:fail_update", func(tx *gorm.DB) {
		_ = tx.AddError(errDiskFull)
	})
	if errRegister != nil {
		t.Fatalf("register callback: %v", errRegister)
	}
}

func captureLogs(t *testing.T) *logtest.Hook {
	t.Helper()
	hook := logtest.NewGlobal()
	t.Cleanup(func() { log.StandardLogger().ReplaceHooks(make(log.LevelHooks)) })
	return hook
}

func lostWriteEntry(hook *logtest.Hook, op string) *log.Entry {
	for _, entry := range hook.AllEntries() {
		if entry.Level == log.ErrorLevel && entry.Data["operation"] == op {
			return entry
		}
	}
	return nil
}

func TestChangePlan_LostRecordWriteIsLogged(t *testing.T) {
	env := newTestEnv(t)
	env.seedPaid(t, "acct-1", plans.TierFamily, 30)
	failRecordWrites(t, env)
	hook := captureLogs(t)

	if _, err := env.service.ChangePlan(context.Background(), "acct-1", plans.TierSingleAgency); !errors.Is(err, errDiskFull) {
		t.Fatalf("expected write failure, got %v", err)
	}
	if env.provider.CallCount("SwitchPlanNow") != 1 {
		t.Fatalf("expected the provider switch to have run, got %v", env.provider.Calls)
	}
	if rec := env.record(t, "acct-1"); rec.Tier != string(plans.TierFamily) {
		t.Fatalf("expected local tier unchanged, got %s", rec.Tier)
	}

	entry := lostWriteEntry(hook, "switch plan")
	if entry == nil {
		t.Fatalf("expected an error entry for the switched plan, got %d entries", len(hook.AllEntries()))
	}
	if entry.Data["subscription_id"] != "sub_acct-1" || entry.Data["account_id"] != "acct-1" {
		t.Fatalf("unexpected entry fields: %v", entry.Data)
	}
}

func TestCancel_LostRecordWriteIsLogged(t *testing.T) {
	env := newTestEnv(t)
	env.seedPaid(t, "acct-1", plans.TierSingleAgency, 30)
	failRecordWrites(t, env)
	hook := captureLogs(t)

	if _, err := env.service.Cancel(context.Background(), "acct-1", ""); !errors.Is(err, errDiskFull) {
		t.Fatalf("expected write failure, got %v", err)
	}
	if entry := lostWriteEntry(hook, "cancel at period end"); entry == nil || entry.Data["subscription_id"] != "sub_acct-1" {
		t.Fatalf("expected an error entry for the period-end cancellation, got %v", hook.AllEntries())
	}
}

func TestChangePlan_ProviderFailureIsNotReportedAsLost(t *testing.T) {
	env := newTestEnv(t)
	env.seedPaid(t, "acct-1", plans.TierFamily, 30)
	env.provider.SwitchErr = errors.New("stripe down")
	hook := captureLogs(t)

	if _, err := env.service.ChangePlan(context.Background(), "acct-1", plans.TierSingleAgency); Code(err) != CodeBillingUnavailable {
		t.Fatalf("expected %s, got %v", CodeBillingUnavailable, err)
	}
	for _, entry := range hook.AllEntries() {
		if entry.Level == log.ErrorLevel {
			t.Fatalf("expected no error entry, got %q", entry.Message)
		}
	}
}
