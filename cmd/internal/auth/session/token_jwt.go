package session

import (
	"crypto/rand"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// AccountClaims are the account attributes sealed into an access credential.
type AccountClaims struct {
	AccountID   string
	Username    string
	DisplayName string
	Email       string
}

// AccessClaims is the verified content of an access credential.
type AccessClaims struct {
	AccountClaims
	TokenID   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// AccessTokenManager issues and verifies short-lived access credentials.
type AccessTokenManager interface {
	Issue(acct AccountClaims, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (AccessClaims, error)
}

type jwtClaims struct {
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type hs256Manager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration
	key       []byte
}

// NewHS256Manager builds an AccessTokenManager that signs JWTs with HS256.
//
// The key is symmetric and held only by the backend. Verification pins the
// algorithm, the issuer and requires an expiry.
func NewHS256Manager(cfg Config) (AccessTokenManager, error) {
	if len(cfg.SigningKey) < MinSigningKeyBytes || cfg.AccessTokenTTL <= 0 {
		return nil, ErrConfig
	}

	key := make([]byte, len(cfg.SigningKey))
	copy(key, cfg.SigningKey)

	return &hs256Manager{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		key:       key,
	}, nil
}

func (m *hs256Manager) Issue(acct AccountClaims, now time.Time) (string, time.Time, error) {
	if acct.AccountID == "" {
		return "", time.Time{}, ErrInvalidToken
	}

	jti, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", time.Time{}, err
	}

	claims := jwtClaims{
		Username: acct.Username,
		Name:     acct.DisplayName,
		Email:    acct.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   acct.AccountID,
			ID:        jti.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", time.Time{}, err
	}

	// NumericDate truncates to whole seconds; report what the client will read.
	return signed, claims.ExpiresAt.Time, nil
}

func (m *hs256Manager) Verify(token string, now time.Time) (AccessClaims, error) {
	if token == "" {
		return AccessClaims{}, ErrInvalidToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithLeeway(m.clockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	var claims jwtClaims
	parsed, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.key, nil
	})
	if err != nil || !parsed.Valid {
		return AccessClaims{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return AccessClaims{}, ErrInvalidToken
	}

	return AccessClaims{
		AccountClaims: AccountClaims{
			AccountID:   claims.Subject,
			Username:    claims.Username,
			DisplayName: claims.Name,
			Email:       claims.Email,
		},
		TokenID:   claims.ID,
		Issuer:    claims.Issuer,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
