package sessionclient

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is the in-memory access credential. It is never persisted.
type Credential struct {
	AccountID   string
	AccessToken string
	ExpiresAt   time.Time
}

// NewCredential builds a Credential, reading the expiry embedded in the
// token. fallbackExp is used when the token carries no readable "exp".
func NewCredential(accountID, accessToken string, fallbackExp time.Time) Credential {
	exp := embeddedExpiry(accessToken)
	if exp.IsZero() {
		exp = fallbackExp
	}
	return Credential{AccountID: accountID, AccessToken: accessToken, ExpiresAt: exp}
}

// fresh reports whether the credential outlives now by more than lowWater.
func (c Credential) fresh(now time.Time, lowWater time.Duration) bool {
	if c.AccessToken == "" || c.ExpiresAt.IsZero() {
		return false
	}
	return c.ExpiresAt.Sub(now) > lowWater
}

// embeddedExpiry reads "exp" without verifying the signature. The client
// holds no key; the backend remains the only verifier.
func embeddedExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
