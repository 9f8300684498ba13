package main

import (
	"context"
	"path/filepath"
	"testing"
)

func TestValidatePort(t *testing.T) {
	for _, port := range []int{0, -1, 65536} {
		if err := validatePort(port); err == nil {
			t.Fatalf("expected error for port %d", port)
		}
	}
	if err := validatePort(8420); err != nil {
		t.Fatalf("expected valid port, got %v", err)
	}
}

func TestRun_Migrate(t *testing.T) {
	t.Setenv("DB_CONNECTION", "file:"+filepath.Join(t.TempDir(), "ecb-cmd.db"))
	if err := run(context.Background(), []string{"-config", filepath.Join(t.TempDir(), "config.yaml"), "migrate"}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func TestRun_Rejects(t *testing.T) {
	if err := run(context.Background(), []string{"-port", "0"}); err == nil {
		t.Fatalf("expected invalid port error")
	}
	if err := run(context.Background(), []string{"frobnicate"}); err == nil {
		t.Fatalf("expected unknown command error")
	}
}
