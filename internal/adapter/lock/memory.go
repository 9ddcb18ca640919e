package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"coursekb/internal/domain"
	"coursekb/internal/port"
	"coursekb/pkg/metrics"
)

// MemoryLocker is the single-process Locker.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryLock
	clock func() time.Time
}

type memoryLock struct {
	token   string
	expires time.Time
}

var _ port.Locker = (*MemoryLocker)(nil)

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryLock), clock: time.Now}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		metrics.LockContention.Inc()
		return "", &domain.LockContentionError{Key: key}
	}
	token := uuid.NewString()
	l.held[key] = memoryLock{token: token, expires: now.Add(ttl)}
	return token, nil
}

func (l *MemoryLocker) Release(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[key]; ok && cur.token == token {
		delete(l.held, key)
	}
	return nil
}
