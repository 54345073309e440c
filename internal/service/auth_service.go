package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spec-kit/todo-service/internal/auth"
	"github.com/spec-kit/todo-service/internal/domain"
	"github.com/spec-kit/todo-service/internal/events"
	"github.com/spec-kit/todo-service/internal/repository"
	apperrors "github.com/spec-kit/todo-service/pkg/util/errorutil"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 50
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrBadCredentials = errors.New("bad credentials")
	ErrDuplicateUser  = errors.New("username already exists")
)

// LoginResult is returned on successful authentication.
type LoginResult struct {
	Identity  *domain.Identity
	Token     string
	ExpiresAt time.Time
}

// AuthService verifies credentials, registers accounts and issues tokens.
type AuthService struct {
	accounts   repository.AccountRepository
	hasher     auth.PasswordHasher
	codec      *auth.TokenCodec
	dispatcher events.Dispatcher
	logger     *zap.Logger
	dummyHash  string
}

// AuthDependencies encapsulates collaborators for the auth service.
type AuthDependencies struct {
	Accounts   repository.AccountRepository
	Hasher     auth.PasswordHasher
	Codec      *auth.TokenCodec
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(deps AuthDependencies) (*AuthService, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = events.NewInMemoryDispatcher(deps.Logger)
	}
	// Compared against when the username is unknown, so a miss costs the same as a wrong password.
	dummy, err := deps.Hasher.Hash("not-a-real-password")
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	return &AuthService{
		accounts:   deps.Accounts,
		hasher:     deps.Hasher,
		codec:      deps.Codec,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		dummyHash:  dummy,
	}, nil
}

// Verify checks a username/password pair and returns the identity on success.
// It fails with ErrUserNotFound or ErrBadCredentials; callers must not expose which.
func (s *AuthService) Verify(ctx context.Context, username, password string) (*domain.Identity, error) {
	account, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			_ = s.hasher.Compare(s.dummyHash, password)
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}

	if err := s.hasher.Compare(account.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, ErrBadCredentials
		}
		return nil, fmt.Errorf("compare password: %w", err)
	}
	return account.Identity(), nil
}

// Register creates a new account with the default role set.
func (s *AuthService) Register(ctx context.Context, username, password string) (*domain.Identity, error) {
	if err := validateCredentials(username, password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	account := &domain.Account{
		Username:     username,
		PasswordHash: hash,
		Roles:        domain.DefaultRoles(),
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewConflict(ErrDuplicateUser.Error(), nil, ErrDuplicateUser)
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	identity := account.Identity()
	s.publish(ctx, events.NewEvent(events.EventUserRegistered, identity.Username, nil))
	return identity, nil
}

// Login verifies the credentials and issues a token. Every credential failure
// is reported as the same authentication error.
func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	identity, err := s.Verify(ctx, username, password)
	if err != nil {
		switch {
		case errors.Is(err, ErrUserNotFound):
			// The submitted name matched no account and may be a mistyped password.
			s.publish(ctx, events.NewEvent(events.EventLoginFailed, "",
				events.LoginFailedPayload{Reason: events.LoginFailureUnknownUser}))
			return nil, apperrors.NewAuthenticationFailed(err)
		case errors.Is(err, ErrBadCredentials):
			s.publish(ctx, events.NewEvent(events.EventLoginFailed, username,
				events.LoginFailedPayload{Reason: events.LoginFailureBadCredentials}))
			return nil, apperrors.NewAuthenticationFailed(err)
		}
		return nil, err
	}

	token, expiresAt, err := s.codec.Issue(identity)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	s.publish(ctx, events.NewEvent(events.EventLoginSucceeded, identity.Username, nil))
	return &LoginResult{Identity: identity, Token: token, ExpiresAt: expiresAt}, nil
}

// GetIdentity returns the current identity stored for username.
func (s *AuthService) GetIdentity(ctx context.Context, username string) (*domain.Identity, error) {
	account, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("user", map[string]any{"username": username})
		}
		return nil, err
	}
	return account.Identity(), nil
}

// SetRoles replaces the roles of username. Tokens already issued keep working,
// but the binder picks up the new roles on the next request.
func (s *AuthService) SetRoles(ctx context.Context, username string, roles []domain.Role) (*domain.Identity, error) {
	if len(roles) == 0 {
		return nil, apperrors.NewValidationError("at least one role required", nil)
	}
	seen := make(map[domain.Role]struct{}, len(roles))
	unique := make([]domain.Role, 0, len(roles))
	for _, r := range roles {
		if !r.Valid() {
			return nil, apperrors.NewValidationError("unknown role", map[string]any{"role": string(r)})
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		unique = append(unique, r)
	}

	if err := s.accounts.UpdateRoles(ctx, username, unique); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("user", map[string]any{"username": username})
		}
		return nil, err
	}

	names := make([]string, 0, len(unique))
	for _, r := range unique {
		names = append(names, string(r))
	}
	s.publish(ctx, events.NewEvent(events.EventRolesChanged, actorFrom(ctx), events.RolesChangedPayload{
		Username: username,
		Roles:    names,
	}))
	return &domain.Identity{Username: username, Roles: unique}, nil
}

// EnsureAdmin creates an ADMIN account for username if it does not exist yet.
func (s *AuthService) EnsureAdmin(ctx context.Context, username, password string) error {
	if username == "" {
		return nil
	}
	if _, err := s.accounts.GetByUsername(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	if err := validateCredentials(username, password); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	err = s.accounts.Create(ctx, &domain.Account{
		Username:     username,
		PasswordHash: hash,
		Roles:        []domain.Role{domain.RoleUser, domain.RoleAdmin},
	})
	if err != nil && !errors.Is(err, repository.ErrDuplicate) {
		return err
	}
	s.logger.Info("admin account ensured", zap.String("username", username))
	return nil
}

func (s *AuthService) publish(ctx context.Context, event events.Event) {
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func validateCredentials(username, password string) error {
	details := map[string]any{}
	if username != strings.TrimSpace(username) {
		details["username"] = "must not start or end with whitespace"
	} else if n := utf8.RuneCountInString(username); n < minUsernameLen || n > maxUsernameLen {
		details["username"] = fmt.Sprintf("must be between %d and %d characters", minUsernameLen, maxUsernameLen)
	}
	if password == "" {
		details["password"] = "required"
	} else if len(password) > auth.MaxPasswordBytes {
		details["password"] = fmt.Sprintf("must be at most %d bytes", auth.MaxPasswordBytes)
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid credentials payload", details)
	}
	return nil
}

// actorFrom names the caller bound to ctx by the identity binder.
func actorFrom(ctx context.Context) string {
	if session, ok := auth.SessionFrom(ctx); ok && session.Authenticated() {
		return session.Identity.Username
	}
	return ""
}
