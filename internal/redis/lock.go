package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ecard/internal/repository"
)

const (
	lockPrefix        = "lock:"
	lockRetryDelay    = 10 * time.Millisecond
	lockMaxRetryDelay = 200 * time.Millisecond
	lockReleaseWait   = 2 * time.Second
)

// releaseScript deletes the lock only if it still carries our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// LockStore handles distributed per-entity locking in Redis.
type LockStore struct {
	client   *redis.Client
	ttl      time.Duration
	newToken func() string
}

// NewLockStore creates a new LockStore. ttl bounds how long a crashed holder
// can keep a key locked.
func NewLockStore(client *redis.Client, ttl time.Duration) *LockStore {
	return &LockStore{
		client:   client,
		ttl:      ttl,
		newToken: uuid.NewString,
	}
}

// Lock acquires key, retrying with backoff until ctx is done.
func (s *LockStore) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := lockPrefix + key
	token := s.newToken()
	delay := lockRetryDelay

	for {
		ok, err := s.client.SetNX(ctx, redisKey, token, s.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: waiting for lock %s", repository.ErrTimeout, key)
			}
			return nil, fmt.Errorf("%w: acquire lock %s: %v", repository.ErrStorageUnavailable, key, err)
		}
		if ok {
			return func() { s.release(redisKey, token) }, nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: waiting for lock %s", repository.ErrTimeout, key)
		case <-timer.C:
		}

		if delay < lockMaxRetryDelay {
			delay *= 2
		}
	}
}

// release runs on its own context since the caller's may already be done.
// A failed release leaves the key to expire with its TTL.
func (s *LockStore) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), lockReleaseWait)
	defer cancel()

	_ = s.client.Eval(ctx, releaseScript, []string{redisKey}, token).Err()
}
