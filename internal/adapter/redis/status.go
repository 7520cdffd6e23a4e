package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xXDeath420Xx/livebot/internal/domain"
	"github.com/xXDeath420Xx/livebot/internal/liveness"
)

// statusTTL drops board entries for identities nobody has probed in a week.
const statusTTL = 7 * 24 * time.Hour

// StatusStore is the shared live-status board.
type StatusStore struct {
	rdb *goredis.Client
}

var _ domain.LiveStatusStore = (*StatusStore)(nil)

func NewStatusStore(rdb *goredis.Client) *StatusStore {
	return &StatusStore{rdb: rdb}
}

func (s *StatusStore) Record(ctx context.Context, key domain.IdentityKey, status domain.LiveStatus) error {
	sk := statusKey(key)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, sk,
		"live", strconv.FormatBool(status.Live),
		"observed_at", strconv.FormatInt(status.ObservedAt.UnixMilli(), 10),
	)
	pipe.Expire(ctx, sk, statusTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record live status: %w", err)
	}
	return nil
}

func (s *StatusStore) Get(ctx context.Context, key domain.IdentityKey) (domain.LiveStatus, bool, error) {
	fields, err := s.rdb.HGetAll(ctx, statusKey(key)).Result()
	if err != nil {
		return domain.LiveStatus{}, false, fmt.Errorf("failed to get live status: %w", err)
	}
	if len(fields) == 0 {
		return domain.LiveStatus{}, false, nil
	}

	live, err := strconv.ParseBool(fields["live"])
	if err != nil {
		return domain.LiveStatus{}, false, fmt.Errorf("failed to parse live flag: %w", err)
	}
	ms, err := strconv.ParseInt(fields["observed_at"], 10, 64)
	if err != nil {
		return domain.LiveStatus{}, false, fmt.Errorf("failed to parse observed_at: %w", err)
	}
	return domain.LiveStatus{Live: live, ObservedAt: time.UnixMilli(ms).UTC()}, true, nil
}

func statusKey(k domain.IdentityKey) string {
	return keyPrefix + "status:" + liveness.IdentityKeyString(k)
}
