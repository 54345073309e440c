package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/todo-service/internal/domain"
)

// MemoryAccountRepository keeps accounts in process memory.
type MemoryAccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
}

// NewMemoryAccountRepository returns an empty in-memory store.
func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{accounts: make(map[string]domain.Account)}
}

func (r *MemoryAccountRepository) Create(_ context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.accounts[account.Username]; exists {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	stored := cloneAccount(*account)
	r.accounts[stored.Username] = stored
	return nil
}

func (r *MemoryAccountRepository) GetByUsername(_ context.Context, username string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[username]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneAccount(account)
	return &out, nil
}

func (r *MemoryAccountRepository) UpdateRoles(_ context.Context, username string, roles []domain.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[username]
	if !ok {
		return ErrNotFound
	}
	account.Roles = append([]domain.Role(nil), roles...)
	account.UpdatedAt = time.Now().UTC()
	r.accounts[username] = account
	return nil
}

// cloneAccount deep-copies a so the store never shares memory with callers.
// Request-bound strings may alias buffers the HTTP server reuses.
func cloneAccount(a domain.Account) domain.Account {
	a.Username = strings.Clone(a.Username)
	a.PasswordHash = strings.Clone(a.PasswordHash)
	a.Roles = append([]domain.Role(nil), a.Roles...)
	return a
}

// MemoryTaskRepository keeps tasks in process memory with sequential ids.
type MemoryTaskRepository struct {
	mu     sync.RWMutex
	nextID int64
	tasks  map[int64]domain.Task
}

// NewMemoryTaskRepository returns an empty in-memory store.
func NewMemoryTaskRepository() *MemoryTaskRepository {
	return &MemoryTaskRepository{tasks: make(map[int64]domain.Task)}
}

func (r *MemoryTaskRepository) Create(_ context.Context, task *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	now := time.Now().UTC()
	task.ID = r.nextID
	task.CreatedAt = now
	task.UpdatedAt = now
	r.tasks[task.ID] = cloneTask(*task)
	return nil
}

func (r *MemoryTaskRepository) Update(_ context.Context, task *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.tasks[task.ID]
	if !ok {
		return ErrNotFound
	}
	task.CreatedAt = existing.CreatedAt
	task.UpdatedAt = time.Now().UTC()
	r.tasks[task.ID] = cloneTask(*task)
	return nil
}

func cloneTask(t domain.Task) domain.Task {
	t.Title = strings.Clone(t.Title)
	t.Description = strings.Clone(t.Description)
	t.Status = domain.TaskStatus(strings.Clone(string(t.Status)))
	return t
}

func (r *MemoryTaskRepository) GetByID(_ context.Context, id int64) (*domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &task, nil
}

func (r *MemoryTaskRepository) List(_ context.Context) ([]domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]domain.Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

func (r *MemoryTaskRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(r.tasks, id)
	return nil
}
