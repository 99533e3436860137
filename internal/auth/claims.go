package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ScopeNotifications is the only scope observer tokens carry.
const ScopeNotifications = "notifications"

const defaultTTLMinutes = 60

var (
	// ErrTokenInvalid is returned for any token that fails verification.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrMissingSecret is returned when signing without a secret.
	ErrMissingSecret = errors.New("auth: signing secret is required")
)

// ObserverClaims are the claims of a notification socket token.
type ObserverClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// UserID is the observed user.
func (c *ObserverClaims) UserID() string {
	return c.Subject
}

// GenerateObserverToken signs a token letting userID watch its own
// notifications for ttlMinutes.
func GenerateObserverToken(userID, secret string, ttlMinutes int) (string, error) {
	if secret == "" {
		return "", ErrMissingSecret
	}
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrTokenInvalid)
	}
	if ttlMinutes <= 0 {
		ttlMinutes = defaultTTLMinutes
	}

	now := time.Now()
	claims := ObserverClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			ID:        uuid.NewString(),
		},
		Scope: ScopeNotifications,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing observer token: %w", err)
	}
	return signed, nil
}

// ParseObserverToken verifies signature, expiry, subject and scope.
func ParseObserverToken(tokenString, secret string) (*ObserverClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ObserverClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*ObserverClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if claims.Scope != ScopeNotifications {
		return nil, fmt.Errorf("%w: scope %q", ErrTokenInvalid, claims.Scope)
	}
	return claims, nil
}
