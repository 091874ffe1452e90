package rerum

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken indicates writes were requested without a bearer token.
	ErrMissingToken = errors.New("rerum: bearer token required for writes")
	// ErrTokenExpired indicates the configured bearer token is past its expiry.
	ErrTokenExpired = errors.New("rerum: bearer token expired")
)

// TokenExpiry reads the exp claim of the configured bearer token without
// verifying its signature; the store is the authority on validity. The second
// return value is false when the token carries no expiry.
func (c *Client) TokenExpiry() (time.Time, bool, error) {
	if c.token == "" {
		return time.Time{}, false, ErrMissingToken
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.token, claims); err != nil {
		return time.Time{}, false, fmt.Errorf("rerum: parse bearer token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false, nil
	}
	return claims.ExpiresAt.Time, true, nil
}

// CheckWriteToken fails fast when writes cannot succeed: no token, or a JWT
// token whose expiry has passed. Opaque tokens are accepted as-is.
func (c *Client) CheckWriteToken() error {
	expiresAt, hasExpiry, err := c.TokenExpiry()
	if errors.Is(err, ErrMissingToken) {
		return err
	}
	if err != nil {
		return nil
	}
	if hasExpiry && !c.clock().Before(expiresAt) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, expiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}
