package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/rl1809/repair-market/internal/core/domain"
	"github.com/rl1809/repair-market/internal/port"
)

const (
	idempotencyKeyTTL = 24 * time.Hour
	acquireRetryDelay = 50 * time.Millisecond
)

// Release only deletes the key while it still holds this lease's fencing
// token. After TTL expiry a newer holder's token is in place and the
// delete is skipped.
var releaseLockScript = redis.NewScript(`
local key = KEYS[1]
local token = ARGV[1]

if redis.call('GET', key) == token then
	return redis.call('DEL', key)
end

return 0
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

// Acquire polls SET NX PX until the lock is taken or waitTimeout passes.
func (r *RedisAdapter) Acquire(ctx context.Context, key string, holdTTL, waitTimeout time.Duration) (*port.Lease, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(waitTimeout)

	for {
		ok, err := r.client.SetNX(ctx, key, token, holdTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return &port.Lease{Key: key, Token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, domain.ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquireRetryDelay):
		}
	}
}

func (r *RedisAdapter) Release(ctx context.Context, lease *port.Lease) error {
	if lease == nil {
		return nil
	}

	released, err := releaseLockScript.Run(ctx, r.client, []string{lease.Key}, lease.Token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", lease.Key, err)
	}
	if released == 0 {
		// TTL expired before release: a second acquirer may have run
		// concurrently. Rare with a generous TTL, but worth surfacing.
		log.WithField("key", lease.Key).Warn("lock expired before release")
	}

	return nil
}

// SetIdempotency sets a key for idempotency check, returns false if already exists.
func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}
