package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config contains configuration for the credential codec.
type Config struct {
	// AccessSecret signs short-lived access tokens.
	AccessSecret string

	// RefreshSecret signs long-lived refresh tokens. Must differ from
	// AccessSecret so a leaked refresh token cannot pass access
	// verification.
	RefreshSecret string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	Issuer string

	// Clock overrides the time source. For tests only.
	Clock func() time.Time
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.AccessSecret == "" {
		return fmt.Errorf("access secret is required")
	}
	if c.RefreshSecret == "" {
		return fmt.Errorf("refresh secret is required")
	}
	if c.AccessSecret == c.RefreshSecret {
		return fmt.Errorf("access and refresh secrets must differ")
	}
	return nil
}

// DefaultConfig returns a codec configuration with the standard TTLs.
// Secrets must still be supplied by the caller.
func DefaultConfig() *Config {
	return &Config{
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Issuer:     "tablefront",
	}
}

// Pair bundles a freshly minted access and refresh token.
type Pair struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresInSeconds int64  `json:"expires_in"`
}

// Codec mints and verifies signed credential tokens. It is stateless and
// safe for concurrent use.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

// NewCodec creates a credential codec from cfg.
func NewCodec(cfg *Config) (*Codec, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &Codec{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		issuer:        cfg.Issuer,
		now:           now,
	}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccess mints a signed access token for claims.
func (c *Codec) IssueAccess(claims Claims) (string, error) {
	return c.issue(claims, c.accessSecret, c.accessTTL)
}

// IssueRefresh mints a signed refresh token. Only subject, role and
// tenant survive into the refresh token regardless of what the caller
// supplied; the long-lived credential carries the least information.
func (c *Codec) IssueRefresh(claims Claims) (string, error) {
	minimal := Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: claims.Subject},
		Role:             claims.Role,
		TenantID:         claims.TenantID,
	}
	return c.issue(minimal, c.refreshSecret, c.refreshTTL)
}

// IssuePair mints an access and refresh token in one call.
func (c *Codec) IssuePair(claims Claims) (*Pair, error) {
	access, err := c.IssueAccess(claims)
	if err != nil {
		return nil, err
	}
	refresh, err := c.IssueRefresh(claims)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresInSeconds: int64(c.accessTTL.Seconds()),
	}, nil
}

// VerifyAccess validates an access token and returns its claims.
func (c *Codec) VerifyAccess(tokenString string) (*Claims, error) {
	return c.verify(tokenString, c.accessSecret)
}

// VerifyRefresh validates a refresh token and returns its claims.
func (c *Codec) VerifyRefresh(tokenString string) (*Claims, error) {
	return c.verify(tokenString, c.refreshSecret)
}

func (c *Codec) issue(claims Claims, secret []byte, ttl time.Duration) (string, error) {
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrMalformedCredential)
	}
	if !claims.Role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrMalformedCredential, claims.Role)
	}
	if claims.Role != RolePlatformAdmin && claims.TenantID == "" {
		return "", fmt.Errorf("%w: role %s requires a tenant id", ErrMalformedCredential, claims.Role)
	}

	jti, err := generateSecureID()
	if err != nil {
		return "", fmt.Errorf("generate jti: %w", err)
	}

	now := c.now()
	claims.RegisteredClaims.Issuer = c.issuer
	claims.RegisteredClaims.IssuedAt = jwt.NewNumericDate(now)
	claims.RegisteredClaims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	claims.RegisteredClaims.ID = jti

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := tok.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (c *Codec) verify(tokenString string, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidCredential)
	}

	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		// Pin the algorithm to prevent confusion attacks.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		if t.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected algorithm: %v (expected HS256)", t.Method.Alg())
		}
		return secret, nil
	}, jwt.WithIssuer(c.issuer), jwt.WithTimeFunc(c.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpiredCredential, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !tok.Valid {
		return nil, ErrInvalidCredential
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidCredential)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrMalformedCredential)
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrMalformedCredential, claims.Role)
	}
	return claims, nil
}

// generateSecureID generates a cryptographically secure random ID.
func generateSecureID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
