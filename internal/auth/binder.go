package auth

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/todo-service/internal/domain"
	"github.com/spec-kit/todo-service/internal/repository"
)

const sessionKey = "auth_session"

type sessionCtxKey struct{}

// SessionContext binds the caller's identity, if any, to one request.
type SessionContext struct {
	Identity *domain.Identity
	RawToken string
}

// Authenticated reports whether a valid identity was bound.
func (s *SessionContext) Authenticated() bool {
	return s != nil && s.Identity != nil
}

// AccountLookup is the read side of the account store the binder needs.
type AccountLookup interface {
	GetByUsername(ctx context.Context, username string) (*domain.Account, error)
}

// IdentityBinder resolves the request token into a SessionContext. It never
// rejects a request; guards downstream decide what an identity is required for.
type IdentityBinder struct {
	codec    *TokenCodec
	carrier  TokenCarrier
	accounts AccountLookup
	logger   *zap.Logger
}

// NewIdentityBinder constructs the binder.
func NewIdentityBinder(codec *TokenCodec, carrier TokenCarrier, accounts AccountLookup, logger *zap.Logger) *IdentityBinder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityBinder{codec: codec, carrier: carrier, accounts: accounts, logger: logger}
}

// Handle is the fiber middleware stage.
func (b *IdentityBinder) Handle(c *fiber.Ctx) error {
	session := b.Bind(c.UserContext(), b.carrier.Extract(c))
	c.Locals(sessionKey, session)
	c.SetUserContext(WithSession(c.UserContext(), session))
	return c.Next()
}

// Bind validates rawToken and loads the current roles of its subject. Any
// failure yields a session without identity.
func (b *IdentityBinder) Bind(ctx context.Context, rawToken string) *SessionContext {
	session := &SessionContext{RawToken: rawToken}
	if rawToken == "" {
		return session
	}

	claims, err := b.codec.Parse(rawToken)
	if err != nil {
		b.logger.Debug("token rejected", zap.String("reason", tokenRejection(err)))
		return session
	}

	account, err := b.accounts.GetByUsername(ctx, claims.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			b.logger.Debug("token subject no longer exists", zap.String("username", claims.Username))
		} else {
			b.logger.Warn("account lookup failed while binding identity",
				zap.String("username", claims.Username), zap.Error(err))
		}
		return session
	}
	if len(account.Roles) == 0 {
		b.logger.Debug("token subject has no roles", zap.String("username", claims.Username))
		return session
	}

	session.Identity = account.Identity()
	return session
}

func tokenRejection(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "unknown"
	}
}

// SessionFromContext retrieves the session bound by the binder.
func SessionFromContext(c *fiber.Ctx) (*SessionContext, bool) {
	val := c.Locals(sessionKey)
	if val == nil {
		return nil, false
	}
	session, ok := val.(*SessionContext)
	return session, ok
}

// IdentityFromContext returns the bound identity, if any.
func IdentityFromContext(c *fiber.Ctx) (*domain.Identity, bool) {
	session, ok := SessionFromContext(c)
	if !ok || !session.Authenticated() {
		return nil, false
	}
	return session.Identity, true
}

// WithSession stores the session on a context.Context for code below the HTTP layer.
func WithSession(ctx context.Context, session *SessionContext) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, session)
}

// SessionFrom returns the session stored by WithSession.
func SessionFrom(ctx context.Context) (*SessionContext, bool) {
	session, ok := ctx.Value(sessionCtxKey{}).(*SessionContext)
	return session, ok
}
