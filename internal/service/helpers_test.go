package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/todo-service/internal/auth"
	"github.com/spec-kit/todo-service/internal/events"
	"github.com/spec-kit/todo-service/internal/repository"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *eventRecorder) last() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func newRecordingDispatcher(types ...events.EventType) (events.Dispatcher, *eventRecorder) {
	d := events.NewInMemoryDispatcher(zap.NewNop())
	rec := &eventRecorder{}
	for _, t := range types {
		d.Subscribe(t, rec.handle)
	}
	return d, rec
}

func newTestAuthService(t *testing.T, accounts repository.AccountRepository, dispatcher events.Dispatcher) *AuthService {
	t.Helper()
	codec, err := auth.NewTokenCodec(testSecret, time.Hour)
	require.NoError(t, err)
	svc, err := NewAuthService(AuthDependencies{
		Accounts:   accounts,
		Hasher:     auth.NewBcryptHasher(bcrypt.MinCost),
		Codec:      codec,
		Dispatcher: dispatcher,
	})
	require.NoError(t, err)
	return svc
}
