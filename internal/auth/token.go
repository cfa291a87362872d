package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenVerifier validates a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// HMACVerifier verifies HS256 tokens signed with a shared secret. Used for
// local development and tests; production uses OIDCVerifier.
type HMACVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// HMACOption configures an HMACVerifier.
type HMACOption func(*HMACVerifier)

// WithClock overrides the verifier time source.
func WithClock(fn func() time.Time) HMACOption {
	return func(v *HMACVerifier) {
		if fn != nil {
			v.now = fn
		}
	}
}

// NewHMACVerifier constructs a verifier for the given secret and issuer.
func NewHMACVerifier(secret, issuer string, opts ...HMACOption) (*HMACVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: token secret is required")
	}
	v := &HMACVerifier{secret: []byte(secret), issuer: strings.TrimSpace(issuer), now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Sign issues a token carrying the supplied identity claims.
func (v *HMACVerifier) Sign(claims Claims, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("subject is required")
	}
	now := v.now().UTC()
	claims.Issuer = v.issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and timestamps.
func (v *HMACVerifier) Verify(_ context.Context, token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now), jwt.WithLeeway(5*time.Second))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := v.validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (v *HMACVerifier) validateClaims(claims *Claims) error {
	if v.issuer != "" && claims.Issuer != v.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

// OIDCVerifier verifies Keycloak-issued access tokens via issuer discovery.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer's keys. An empty clientID skips the
// audience check, which Keycloak access tokens frequently require.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider: %w", err)
	}
	cfg := &oidc.Config{
		ClientID:          clientID,
		SkipClientIDCheck: clientID == "",
	}
	return &OIDCVerifier{verifier: provider.Verifier(cfg)}, nil
}

// Verify validates the token against the issuer's key set.
func (v *OIDCVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	idToken, err := v.verifier.Verify(ctx, strings.TrimSpace(token))
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		claims.Subject = idToken.Subject
	}
	return &claims, nil
}
