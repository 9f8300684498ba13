package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	userIssuer  = "eldercircle-billing"
	adminIssuer = "eldercircle-billing-admin"
)

// ErrInvalidToken indicates a token that failed signature, expiry or claim checks.
var ErrInvalidToken = errors.New("security: invalid token")

// UserClaims are the claims of a front-end user token. Subject is the
// account id.
type UserClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// AdminClaims are the claims of an admin console token.
type AdminClaims struct {
	AdminID  uint64 `json:"admin_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// GenerateUserToken signs a user token for accountID.
func GenerateUserToken(secret string, accountID, email string, expiry time.Duration, now time.Time) (string, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", fmt.Errorf("security: empty account id")
	}
	claims := UserClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    userIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	return sign(secret, claims)
}

// ParseUserToken validates a user token and returns its claims.
func ParseUserToken(secret, token string) (*UserClaims, error) {
	claims := &UserClaims{}
	if errParse := parse(secret, token, userIssuer, claims); errParse != nil {
		return nil, errParse
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// GenerateAdminToken signs an admin token.
func GenerateAdminToken(secret string, adminID uint64, username string, expiry time.Duration, now time.Time) (string, error) {
	if adminID == 0 {
		return "", fmt.Errorf("security: empty admin id")
	}
	claims := AdminClaims{
		AdminID:  adminID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    adminIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	return sign(secret, claims)
}

// ParseAdminToken validates an admin token and returns its claims.
func ParseAdminToken(secret, token string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	if errParse := parse(secret, token, adminIssuer, claims); errParse != nil {
		return nil, errParse
	}
	if claims.AdminID == 0 {
		return nil, fmt.Errorf("%w: missing admin id", ErrInvalidToken)
	}
	return claims, nil
}

func sign(secret string, claims jwt.Claims) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("security: empty jwt secret")
	}
	signed, errSign := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if errSign != nil {
		return "", fmt.Errorf("security: sign token: %w", errSign)
	}
	return signed, nil
}

func parse(secret, token, issuer string, claims jwt.Claims) error {
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("%w: empty jwt secret", ErrInvalidToken)
	}
	parsed, errParse := jwt.ParseWithClaims(strings.TrimSpace(token), claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if errParse != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, errParse)
	}
	if !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
