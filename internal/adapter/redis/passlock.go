package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const passLockKey = keyPrefix + "pass:lock"

// releaseScript deletes the lock only while this instance still owns it.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// PassLock ensures a single instance runs a reconciliation pass at a time. The TTL bounds how long a
// crashed holder blocks the others.
type PassLock struct {
	rdb        *goredis.Client
	instanceID string
	ttl        time.Duration
}

// NewPassLock creates a pass lock. instanceID should be unique per instance (e.g., hostname-PID).
func NewPassLock(rdb *goredis.Client, instanceID string, ttl time.Duration) *PassLock {
	return &PassLock{rdb: rdb, instanceID: instanceID, ttl: ttl}
}

// TryAcquire returns false when another instance holds the lock.
func (l *PassLock) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, passLockKey, l.instanceID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire pass lock: %w", err)
	}
	return ok, nil
}

func (l *PassLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{passLockKey}, l.instanceID).Err(); err != nil {
		return fmt.Errorf("failed to release pass lock: %w", err)
	}
	return nil
}
