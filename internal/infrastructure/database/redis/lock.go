package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/loan-portal/pkg/errors"
)

// ErrLockNotHeld is returned when releasing a lease another owner holds.
var ErrLockNotHeld = errors.New(errors.ErrCodeConflict, "lock not held by this owner")

// newLockValue is replaced in tests.
var newLockValue = func() string { return uuid.NewString() }

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// Mutex is a single-holder lease on a Redis key.  It is used to keep two
// workers from running the same sync at once.
type Mutex struct {
	client *Client
	key    string
	value  string
	ttl    time.Duration
}

// NewMutex returns an unlocked mutex on key with the given lease.
func NewMutex(client *Client, key string, ttl time.Duration) *Mutex {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Mutex{client: client, key: "lock:" + key, value: newLockValue(), ttl: ttl}
}

// TryLock acquires the lease without waiting.
func (m *Mutex) TryLock(ctx context.Context) (bool, error) {
	ok, err := m.client.rdb.SetNX(ctx, m.key, m.value, m.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeCacheError, "failed to acquire lock")
	}
	return ok, nil
}

// Unlock releases the lease if this mutex still holds it.
func (m *Mutex) Unlock(ctx context.Context) error {
	n, err := unlockScript.Run(ctx, m.client.rdb, []string{m.key}, m.value).Int64()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to release lock")
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
