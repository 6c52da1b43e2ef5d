package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

var ErrLockFailed = errors.New("failed to acquire lock")

// AccountLocker serializes entry into the checkout/bypass paths for a single
// account. The ledger's row lock is what actually guarantees balance
// correctness; this lock only keeps retry storms from piling up on the same
// database row. Tests substitute an in-process implementation.
type AccountLocker interface {
	WithAccountLock(ctx context.Context, userID, orgID, token string, fn func() error) error
}

// DistributedLock is a redis SetNX lock with an owner token.
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock attempts a non-blocking acquire. SET NX guarantees mutual
// exclusion; the expiration guarantees the lock dies with a crashed holder.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock acquires with retries.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock releases the lock only if this instance still owns it. The
// check-and-delete must be atomic, hence the Lua script: without it, a
// holder whose lock expired could delete the next holder's lock.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// RedisAccountLocker is the production AccountLocker, one lock key per
// (user, org) so different accounts never contend.
type RedisAccountLocker struct {
	client *redis.Client
}

func NewRedisAccountLocker(client *redis.Client) *RedisAccountLocker {
	return &RedisAccountLocker{client: client}
}

func (r *RedisAccountLocker) WithAccountLock(ctx context.Context, userID, orgID, token string, fn func() error) error {
	key := fmt.Sprintf("ledger:lock:account:%s:%s", orgID, userID)
	l := NewDistributedLock(r.client, key, token, 30*time.Second)
	if err := l.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return err
	}
	defer l.Unlock(ctx)
	return fn()
}
