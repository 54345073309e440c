package repository

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/todo-service/internal/domain"
)

func newRedisRepo(t *testing.T) (AccountRepository, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisAccountRepository(client, "test:"), srv
}

func TestRedisAccountRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo, srv := newRedisRepo(t)

	acc := &domain.Account{Username: "alice", PasswordHash: "hash", Roles: domain.DefaultRoles()}
	require.NoError(t, repo.Create(ctx, acc))
	assert.True(t, srv.Exists("test:account:alice"))

	got, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.Equal(t, domain.DefaultRoles(), got.Roles)

	_, err = repo.GetByUsername(ctx, "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisAccountRepository_DuplicateKeepsOriginal(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRedisRepo(t)

	require.NoError(t, repo.Create(ctx, &domain.Account{Username: "alice", PasswordHash: "first", Roles: domain.DefaultRoles()}))
	err := repo.Create(ctx, &domain.Account{Username: "alice", PasswordHash: "second", Roles: domain.DefaultRoles()})
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "first", got.PasswordHash)
}

func TestRedisAccountRepository_UpdateRoles(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRedisRepo(t)

	require.NoError(t, repo.Create(ctx, &domain.Account{Username: "alice", PasswordHash: "hash", Roles: domain.DefaultRoles()}))
	require.NoError(t, repo.UpdateRoles(ctx, "alice", []domain.Role{domain.RoleAdmin}))

	got, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []domain.Role{domain.RoleAdmin}, got.Roles)
	assert.Equal(t, "hash", got.PasswordHash)

	assert.ErrorIs(t, repo.UpdateRoles(ctx, "ghost", domain.DefaultRoles()), ErrNotFound)
}

func TestRedisAccountRepository_Unavailable(t *testing.T) {
	repo, srv := newRedisRepo(t)
	srv.Close()

	_, err := repo.GetByUsername(context.Background(), "alice")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
