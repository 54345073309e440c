package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/todo-service/internal/domain"
)

type redisAccount struct {
	Username     string        `json:"username"`
	PasswordHash string        `json:"password_hash"`
	Roles        []domain.Role `json:"roles"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// RedisAccountRepository stores one JSON document per username.
type RedisAccountRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisAccountRepository creates a Redis-backed account store.
func NewRedisAccountRepository(client *redis.Client, prefix string) AccountRepository {
	return &RedisAccountRepository{client: client, prefix: prefix + "account:"}
}

func (r *RedisAccountRepository) key(username string) string {
	return r.prefix + username
}

func (r *RedisAccountRepository) Create(ctx context.Context, account *domain.Account) error {
	now := time.Now().UTC()
	doc := redisAccount{
		Username:     account.Username,
		PasswordHash: account.PasswordHash,
		Roles:        account.Roles,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}

	created, err := r.client.SetNX(ctx, r.key(account.Username), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("store account: %w", err)
	}
	if !created {
		return ErrDuplicate
	}
	account.CreatedAt = now
	account.UpdatedAt = now
	return nil
}

func (r *RedisAccountRepository) GetByUsername(ctx context.Context, username string) (*domain.Account, error) {
	payload, err := r.client.Get(ctx, r.key(username)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}

	var doc redisAccount
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return &domain.Account{
		Username:     doc.Username,
		PasswordHash: doc.PasswordHash,
		Roles:        doc.Roles,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}, nil
}

// UpdateRoles uses optimistic locking so a concurrent write is never lost.
func (r *RedisAccountRepository) UpdateRoles(ctx context.Context, username string, roles []domain.Role) error {
	key := r.key(username)
	txf := func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}
		var doc redisAccount
		if err := json.Unmarshal(payload, &doc); err != nil {
			return fmt.Errorf("decode account: %w", err)
		}
		doc.Roles = roles
		doc.UpdatedAt = time.Now().UTC()
		updated, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal account: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, redis.KeepTTL)
			return nil
		})
		return err
	}

	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update roles: %w", redis.TxFailedErr)
}
