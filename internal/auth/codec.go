package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types embedded in the "type" claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// TokenClaims is the claim set carried by both token flavors.
type TokenClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies compact bearer tokens. It is stateless:
// the signing secret and TTLs are loaded once and never mutated.
type TokenCodec struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// CodecOption configures TokenCodec behavior.
type CodecOption func(*TokenCodec)

// WithCodecClock overrides the time source (useful for tests).
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewTokenCodec creates a codec with the provided secret, issuer and
// token lifetimes.
func NewTokenCodec(secret, issuer string, accessTTL, refreshTTL time.Duration, opts ...CodecOption) *TokenCodec {
	c := &TokenCodec{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AccessTTL returns the configured access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccessToken signs a short-lived access token for the user.
func (c *TokenCodec) IssueAccessToken(userID, email string) (string, error) {
	return c.sign(TokenClaims{
		UserID: userID,
		Email:  email,
		Type:   TokenTypeAccess,
	}, userID, c.accessTTL)
}

// IssueRefreshToken signs a long-lived refresh token for the user.
func (c *TokenCodec) IssueRefreshToken(userID string) (string, error) {
	return c.sign(TokenClaims{
		UserID: userID,
		Type:   TokenTypeRefresh,
	}, userID, c.refreshTTL)
}

func (c *TokenCodec) sign(claims TokenClaims, subject string, ttl time.Duration) (string, error) {
	now := c.now().UTC()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Validate verifies signature, structure and expiry. Revocation is the
// ledger's responsibility, never checked here.
func (c *TokenCodec) Validate(token string) bool {
	_, err := c.parse(token)
	return err == nil
}

// Subject returns the user id carried by the token.
func (c *TokenCodec) Subject(token string) (string, error) {
	claims, err := c.parse(token)
	if err != nil {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Claims returns the full claim map of a verified token.
func (c *TokenCodec) Claims(token string) (map[string]any, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, c.keyFunc, c.parserOptions()...)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (c *TokenCodec) parse(token string) (*TokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &TokenClaims{}, c.keyFunc, c.parserOptions()...)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*TokenClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (c *TokenCodec) keyFunc(t *jwt.Token) (any, error) {
	if t.Method != jwt.SigningMethodHS256 {
		return nil, ErrInvalidToken
	}
	return c.secret, nil
}

func (c *TokenCodec) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	return opts
}
