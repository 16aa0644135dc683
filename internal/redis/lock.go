package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	bookingLockPrefix     = "lock:booking:"
	lockRetryInterval     = 25 * time.Millisecond
	defaultBookingLockTTL = 5 * time.Second
)

// ErrLockTimeout is returned when a lock could not be taken before the
// context expired.
var ErrLockTimeout = errors.New("timed out waiting for booking lock")

// releaseScript deletes the key only when it still holds our token, so an
// expired lock taken over by another instance is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore serializes booking transitions across instances.
type LockStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLockStore creates a new LockStore. A non-positive ttl uses the default.
func NewLockStore(client *redis.Client, ttl time.Duration) *LockStore {
	if ttl <= 0 {
		ttl = defaultBookingLockTTL
	}
	return &LockStore{client: client, ttl: ttl}
}

// TryLock attempts to take the booking lock once. It returns the owner token
// when the lock was acquired.
func (s *LockStore) TryLock(ctx context.Context, bookingID string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, bookingLockPrefix+bookingID, token, s.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Lock blocks until the booking lock is held or ctx is done. The returned
// function releases it.
func (s *LockStore) Lock(ctx context.Context, bookingID string) (func(), error) {
	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		token, ok, err := s.TryLock(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// The caller's context may already be cancelled.
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = s.Unlock(releaseCtx, bookingID, token)
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrLockTimeout
		case <-ticker.C:
		}
	}
}

// Unlock releases the booking lock if token still owns it.
func (s *LockStore) Unlock(ctx context.Context, bookingID, token string) error {
	return releaseScript.Run(ctx, s.client, []string{bookingLockPrefix + bookingID}, token).Err()
}
