package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiresAt returns the expiry timestamp encoded in a JWT (if present).
//
// This function does not verify the JWT signature. It is only used for client
// control flow such as proactive refresh; server-side verification remains
// the source of truth.
func ExpiresAt(token string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// IsExpiringSoon reports whether a token is already expired or will expire
// within the given window.
func IsExpiringSoon(token string, window time.Duration) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return true, fmt.Errorf("token is empty")
	}
	exp, ok := ExpiresAt(token)
	if !ok {
		// If we can't parse exp, treat it as non-refreshable but not expired.
		// The server is authoritative and will reject the token if needed.
		return false, nil
	}
	return time.Until(exp) <= window, nil
}
