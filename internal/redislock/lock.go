package redislock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock could not be taken within the
// wait window.
var ErrNotAcquired = errors.New("redislock: lock not acquired")

const retryInterval = 100 * time.Millisecond

// releaseScript deletes the key only if this holder still owns it, so an
// expired lease never releases a lock re-acquired by someone else.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Lock is an exclusive distributed lock with a lease. The lease auto-expires
// on holder death; release is compare-and-delete on the owner token.
type Lock struct {
	client *redis.Client
	key    string
	token  string
	lease  time.Duration
}

// Acquire takes the lock at key, waiting up to wait for it to become free.
func Acquire(ctx context.Context, client *redis.Client, key string, lease, wait time.Duration) (*Lock, error) {
	l := &Lock{
		client: client,
		key:    key,
		token:  uuid.NewString(),
		lease:  lease,
	}

	deadline := time.Now().Add(wait)
	for {
		ok, err := client.SetNX(ctx, key, l.token, lease).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return l, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// Release frees the lock if this holder still owns it.
func (l *Lock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
