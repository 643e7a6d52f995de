package homeassistant

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CheckToken reports ErrTokenExpired for a long lived access token whose exp
// claim has passed. The signature is not verified, the host does that.
// Tokens that are not JWTs are left for the host to judge.
func CheckToken(token string, now time.Time) error {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(now) {
		return fmt.Errorf("%w: expired at %s", ErrTokenExpired, claims.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}
