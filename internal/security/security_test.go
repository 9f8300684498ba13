package security

import (
	"errors"
	"testing"
	"time"
)

func TestUserToken_RoundTrip(t *testing.T) {
	now := time.Now()
	token, err := GenerateUserToken("secret", "acct-1", "a@example.com", time.Hour, now)
	if err != nil {
		t.Fatalf("GenerateUserToken: %v", err)
	}
	claims, err := ParseUserToken("secret", token)
	if err != nil {
		t.Fatalf("ParseUserToken: %v", err)
	}
	if claims.Subject != "acct-1" || claims.Email != "a@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestUserToken_Rejections(t *testing.T) {
	now := time.Now()
	token, err := GenerateUserToken("secret", "acct-1", "", time.Hour, now)
	if err != nil {
		t.Fatalf("GenerateUserToken: %v", err)
	}
	if _, errParse := ParseUserToken("other", token); !errors.Is(errParse, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", errParse)
	}

	expired, err := GenerateUserToken("secret", "acct-1", "", time.Minute, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("GenerateUserToken: %v", err)
	}
	if _, errParse := ParseUserToken("secret", expired); !errors.Is(errParse, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", errParse)
	}

	admin, err := GenerateAdminToken("secret", 1, "root", time.Hour, now)
	if err != nil {
		t.Fatalf("GenerateAdminToken: %v", err)
	}
	if _, errParse := ParseUserToken("secret", admin); !errors.Is(errParse, ErrInvalidToken) {
		t.Fatalf("expected admin token to be rejected as user token, got %v", errParse)
	}
}

func TestAdminToken_RoundTrip(t *testing.T) {
	token, err := GenerateAdminToken("secret", 7, "root", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("GenerateAdminToken: %v", err)
	}
	claims, err := ParseAdminToken("secret", token)
	if err != nil {
		t.Fatalf("ParseAdminToken: %v", err)
	}
	if claims.AdminID != 7 || claims.Username != "root" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(hash, "correct horse") {
		t.Fatalf("expected password to match")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatalf("expected mismatch")
	}
}

func TestGenerateRandomString(t *testing.T) {
	a, err := GenerateRandomString(16)
	if err != nil {
		t.Fatalf("GenerateRandomString: %v", err)
	}
	b, err := GenerateRandomString(16)
	if err != nil {
		t.Fatalf("GenerateRandomString: %v", err)
	}
	if a == b || len(a) != 22 {
		t.Fatalf("expected distinct 22-char strings, got %q and %q", a, b)
	}
}
