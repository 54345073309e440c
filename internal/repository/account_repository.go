package repository

import (
	"context"
	"fmt"

	"github.com/spec-kit/todo-service/internal/domain"
)

// AccountRepository is the user store behind authentication.
type AccountRepository interface {
	// Create inserts the account, failing with ErrDuplicate if the username exists.
	Create(ctx context.Context, account *domain.Account) error
	// GetByUsername returns ErrNotFound when no account exists.
	GetByUsername(ctx context.Context, username string) (*domain.Account, error)
	// UpdateRoles replaces the role set, returning ErrNotFound for unknown users.
	UpdateRoles(ctx context.Context, username string, roles []domain.Role) error
}

type accountRepository struct {
	db DBTX
}

// NewAccountRepository returns a Postgres-backed implementation.
func NewAccountRepository(db DBTX) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, account *domain.Account) error {
	const query = `
        INSERT INTO accounts (username, password_hash, roles)
        VALUES ($1, $2, $3)
        ON CONFLICT (username) DO NOTHING
        RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		account.Username,
		account.PasswordHash,
		rolesToStrings(account.Roles),
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if mapNoRows(err) == ErrNotFound {
			return ErrDuplicate
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *accountRepository) GetByUsername(ctx context.Context, username string) (*domain.Account, error) {
	const query = `
        SELECT username, password_hash, roles, created_at, updated_at
        FROM accounts WHERE username=$1`

	var (
		account domain.Account
		roles   []string
	)
	if err := r.db.QueryRow(ctx, query, username).Scan(
		&account.Username,
		&account.PasswordHash,
		&roles,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		return nil, mapNoRows(err)
	}
	account.Roles = stringsToRoles(roles)
	return &account, nil
}

func (r *accountRepository) UpdateRoles(ctx context.Context, username string, roles []domain.Role) error {
	const query = `
        UPDATE accounts SET roles=$1, updated_at=NOW()
        WHERE username=$2`

	cmd, err := r.db.Exec(ctx, query, rolesToStrings(roles), username)
	if err != nil {
		return fmt.Errorf("update roles: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func rolesToStrings(roles []domain.Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}

func stringsToRoles(values []string) []domain.Role {
	out := make([]domain.Role, 0, len(values))
	for _, v := range values {
		out = append(out, domain.Role(v))
	}
	return out
}
