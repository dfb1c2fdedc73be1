/*
Package redislock serializes point operations per user across processes.

PROTOCOL:
  Lock    SET point:lock:{user} <token> NX PX <ttl>, retried every
          RetryInterval until it succeeds or the context ends.
  Unlock  Lua compare-and-delete so a holder whose lease already lapsed
          never removes a lock another node now owns.

The TTL bounds how long a crashed holder blocks its user. It must exceed
the slowest operation, otherwise two nodes can run the same user at once.
*/
package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/warp/point-engine/point"
)

const keyPrefix = "point:lock:"

var releaseScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`)

// Locker implements point.Locker on a Redis server.
type Locker struct {
	client        redis.Cmdable
	ttl           time.Duration
	retryInterval time.Duration
	log           zerolog.Logger
}

var _ point.Locker = (*Locker)(nil)

type Option func(*Locker)

func WithRetryInterval(d time.Duration) Option { return func(l *Locker) { l.retryInterval = d } }
func WithLogger(log zerolog.Logger) Option     { return func(l *Locker) { l.log = log } }

// New returns a Locker holding each lock for at most ttl.
func New(client redis.Cmdable, ttl time.Duration, opts ...Option) *Locker {
	l := &Locker{
		client:        client,
		ttl:           ttl,
		retryInterval: 20 * time.Millisecond,
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key returns the Redis key guarding a user.
func Key(userID string) string {
	return keyPrefix + "{" + userID + "}"
}

// Lock blocks until the user's lock is held or ctx is done.
func (l *Locker) Lock(ctx context.Context, userID string) (func(), error) {
	key := Key(userID)
	token := uuid.NewString()

	var timer *time.Timer
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return func() { l.release(key, token) }, nil
		}

		if timer == nil {
			timer = time.NewTimer(l.retryInterval)
			defer timer.Stop()
		} else {
			timer.Reset(l.retryInterval)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// release runs detached from the operation context so a canceled request
// still frees the lock.
func (l *Locker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), l.ttl)
	defer cancel()

	n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int64()
	switch {
	case err != nil:
		l.log.Warn().Err(err).Str("key", key).Msg("release lock, waiting for ttl")
	case n == 0:
		l.log.Warn().Str("key", key).Msg("lock lease lapsed before release")
	}
}
