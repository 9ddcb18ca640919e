package port

import (
	"context"
	"time"
)

// Locker is a distributed try-lock. Acquire never blocks: when the key is
// held it returns *domain.LockContentionError.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, err error)

	// Release deletes the lock only if it is still held with token.
	Release(ctx context.Context, key, token string) error
}
