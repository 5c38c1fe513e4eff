package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseHeld is returned by Run when another runner holds the lease.
var ErrLeaseHeld = errors.New("queue: another runner holds the lease")

// Deletes the key only while it still carries our token, so a lease that
// expired and was taken over is never released by its previous owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease is a Redis key that at most one runner holds at a time.
type Lease struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewLease creates a Lease on key. The ttl bounds how long a crashed runner
// keeps others out and must exceed the runner timeout.
func NewLease(client redis.UniversalClient, key string, ttl time.Duration) *Lease {
	return &Lease{client: client, key: key, ttl: ttl}
}

// Acquire takes the lease. The returned func releases it.
func (l *Lease) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("release lease %s: %w", l.key, err)
		}
		return nil
	}, nil
}
