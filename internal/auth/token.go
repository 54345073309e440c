package auth

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/spec-kit/todo-service/internal/domain"
)

// MinSecretBytes is the shortest accepted HMAC key (256 bits).
const MinSecretBytes = 32

// DefaultTokenTTL applies when the codec is built with a non-positive lifetime.
const DefaultTokenTTL = 10 * 24 * time.Hour

var (
	ErrSecretTooShort   = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretBytes)
	ErrInvalidIdentity  = errors.New("identity requires a username and at least one role")
	ErrMalformed        = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = errors.New("token expired")
)

// Claims describes JWT payload.
type Claims struct {
	Username string        `json:"username"`
	Roles    []domain.Role `json:"roles"`
	jwt.RegisteredClaims
}

// TokenCodec issues and decodes HS256 tokens. It holds no mutable state after
// construction and is safe for concurrent use.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// CodecOption customizes a TokenCodec.
type CodecOption func(*TokenCodec)

// WithClock overrides the time source used for issue and expiry checks.
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewTokenCodec builds a codec. A secret shorter than MinSecretBytes is rejected.
func NewTokenCodec(secret []byte, ttl time.Duration, opts ...CodecOption) (*TokenCodec, error) {
	if len(secret) < MinSecretBytes {
		return nil, ErrSecretTooShort
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	key := make([]byte, len(secret))
	copy(key, secret)

	c := &TokenCodec{secret: key, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL returns the lifetime applied to issued tokens.
func (c *TokenCodec) TTL() time.Duration {
	return c.ttl
}

// Issue builds and signs a token for the identity.
func (c *TokenCodec) Issue(identity *domain.Identity) (string, time.Time, error) {
	if identity == nil || identity.Username == "" || len(identity.Roles) == 0 {
		return "", time.Time{}, ErrInvalidIdentity
	}

	now := c.now()
	expiresAt := now.Add(c.ttl)
	roles := make([]domain.Role, len(identity.Roles))
	copy(roles, identity.Roles)

	claims := &Claims{
		Username: identity.Username,
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Username,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return tokenString, claims.ExpiresAt.Time, nil
}

// Decode verifies the signature and returns the claims. Expiry is not checked.
func (c *TokenCodec) Decode(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrMalformed
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrTokenUnverifiable) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if claims.Username == "" || claims.ExpiresAt == nil || claims.Subject != claims.Username {
		return nil, ErrMalformed
	}
	return claims, nil
}

// IsExpired reports whether the claims' expiry lies strictly in the past.
func (c *TokenCodec) IsExpired(claims *Claims) bool {
	if claims == nil || claims.ExpiresAt == nil {
		return true
	}
	return claims.ExpiresAt.Time.Before(c.now())
}

// Parse decodes the token and rejects it when expired.
func (c *TokenCodec) Parse(tokenStr string) (*Claims, error) {
	claims, err := c.Decode(tokenStr)
	if err != nil {
		return nil, err
	}
	if c.IsExpired(claims) {
		return nil, ErrExpired
	}
	return claims, nil
}

// Validate reports whether the token is authentic, unexpired and issued to expectedUsername.
func (c *TokenCodec) Validate(tokenStr, expectedUsername string) bool {
	claims, err := c.Parse(tokenStr)
	if err != nil {
		return false
	}
	return expectedUsername != "" && claims.Username == expectedUsername
}
