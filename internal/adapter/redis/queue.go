package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xXDeath420Xx/livebot/internal/domain"
)

const (
	maxDeadLetters = 1000
	// claimScanLimit is the page size Claim reads the ready set in while skipping in-flight keys.
	claimScanLimit = 100
)

var (
	queueSeqKey      = keyPrefix + "actions:seq"
	queueReadyKey    = keyPrefix + "actions:ready"
	queueInflightKey = keyPrefix + "actions:inflight"
	queueLeasesKey   = keyPrefix + "actions:leases"
	queueDeadKey     = keyPrefix + "actions:dead"
	queueJobPrefix   = keyPrefix + "actions:job:"
)

// Each job lives in a hash at actions:job:<key> with fields payload, seq, attempts and kind. The ready set
// is scored by run-at milliseconds; the in-flight set by lease expiry, with the leased seq in actions:leases.

// enqueueScript replaces the job for a key with a fresh sequence number and marks it ready.
// KEYS: [1]=seq, [2]=job, [3]=ready. ARGV: [1]=member, [2]=payload, [3]=kind, [4]=now_ms
var enqueueScript = goredis.NewScript(`
local seq = redis.call('INCR', KEYS[1])
redis.call('HSET', KEYS[2], 'payload', ARGV[2], 'seq', seq, 'attempts', 0, 'kind', ARGV[3])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
return seq
`)

// claimScript leases the ready job with the earliest run-at (lowest seq on ties) whose key is not in flight.
// The ready set is read in pages of scan_limit until a claimable member is found and no tie can beat it.
// KEYS: [1]=ready, [2]=inflight, [3]=leases. ARGV: [1]=job_prefix, [2]=now_ms, [3]=lease_until_ms, [4]=scan_limit
var claimScript = goredis.NewScript(`
local limit = tonumber(ARGV[4])
local offset = 0
local best, best_score, best_seq
while true do
  local candidates = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[2], 'WITHSCORES', 'LIMIT', offset, limit)
  local done = #candidates < 2 * limit
  local removed = 0
  for i = 1, #candidates, 2 do
    local member = candidates[i]
    local score = tonumber(candidates[i + 1])
    if best ~= nil and score > best_score then
      done = true
      break
    end
    if redis.call('HEXISTS', KEYS[3], member) == 0 then
      local seq = tonumber(redis.call('HGET', ARGV[1] .. member, 'seq'))
      if not seq then
        redis.call('ZREM', KEYS[1], member)
        removed = removed + 1
      elseif best == nil or score < best_score or (score == best_score and seq < best_seq) then
        best, best_score, best_seq = member, score, seq
      end
    end
  end
  if done then
    break
  end
  offset = offset + limit - removed
end
if best == nil then
  return false
end
local job = ARGV[1] .. best
redis.call('ZREM', KEYS[1], best)
local attempts = redis.call('HINCRBY', job, 'attempts', 1)
redis.call('ZADD', KEYS[2], ARGV[3], best)
redis.call('HSET', KEYS[3], best, best_seq)
return {redis.call('HGET', job, 'payload'), tostring(best_seq), tostring(attempts)}
`)

// settleScript releases a lease and resolves the job, but only while the job still carries the claimed seq.
// mode "ack" deletes the job, "retry" stores the new payload and schedules it, "dead" deletes it and
// pushes the dead letter.
// KEYS: [1]=inflight, [2]=leases, [3]=job, [4]=ready, [5]=dead.
// ARGV: [1]=member, [2]=seq, [3]=mode, [4]=payload_or_dead_letter, [5]=attempts, [6]=run_at_ms, [7]=max_dead
var settleScript = goredis.NewScript(`
if redis.call('HGET', KEYS[2], ARGV[1]) == ARGV[2] then
  redis.call('HDEL', KEYS[2], ARGV[1])
  redis.call('ZREM', KEYS[1], ARGV[1])
end
local current = redis.call('HGET', KEYS[3], 'seq') == ARGV[2]
if ARGV[3] == 'retry' then
  if current then
    redis.call('HSET', KEYS[3], 'payload', ARGV[4], 'attempts', ARGV[5])
    redis.call('ZADD', KEYS[4], ARGV[6], ARGV[1])
  end
  return 1
end
if current then
  redis.call('DEL', KEYS[3])
  redis.call('ZREM', KEYS[4], ARGV[1])
end
if ARGV[3] == 'dead' then
  redis.call('LPUSH', KEYS[5], ARGV[4])
  redis.call('LTRIM', KEYS[5], 0, tonumber(ARGV[7]) - 1)
end
return 1
`)

// requeueScript returns jobs whose lease expired to the ready set.
// KEYS: [1]=inflight, [2]=leases, [3]=ready. ARGV: [1]=job_prefix, [2]=now_ms
var requeueScript = goredis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
for _, member in ipairs(expired) do
  local seq = redis.call('HGET', KEYS[2], member)
  redis.call('ZREM', KEYS[1], member)
  redis.call('HDEL', KEYS[2], member)
  if seq and redis.call('HGET', ARGV[1] .. member, 'seq') == seq then
    redis.call('ZADD', KEYS[3], ARGV[2], member)
  end
end
return #expired
`)

// ActionQueue is the durable ActionQueue shared by every instance.
type ActionQueue struct {
	rdb   *goredis.Client
	clock clockwork.Clock
}

var _ domain.ActionQueue = (*ActionQueue)(nil)

func NewActionQueue(rdb *goredis.Client, clock clockwork.Clock) *ActionQueue {
	return &ActionQueue{rdb: rdb, clock: clock}
}

func (q *ActionQueue) Enqueue(ctx context.Context, a domain.Action) error {
	a.Seq = 0
	a.Attempts = 0
	if a.EnqueuedAt.IsZero() {
		a.EnqueuedAt = q.clock.Now()
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode action: %w", err)
	}

	member := a.Key().String()
	err = enqueueScript.Run(ctx, q.rdb,
		[]string{queueSeqKey, jobKey(member), queueReadyKey},
		member, payload, string(a.Kind), q.nowMs(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", member, err)
	}
	return nil
}

func (q *ActionQueue) PendingKinds(ctx context.Context, keys []domain.ActionKey) (map[domain.ActionKey]domain.ActionKind, error) {
	out := make(map[domain.ActionKey]domain.ActionKind)
	if len(keys) == 0 {
		return out, nil
	}

	pipe := q.rdb.Pipeline()
	cmds := make([]*goredis.StringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGet(ctx, jobKey(k.String()), "kind")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("failed to read pending kinds: %w", err)
	}

	for i, cmd := range cmds {
		kind, err := cmd.Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read pending kind: %w", err)
		}
		out[keys[i]] = domain.ActionKind(kind)
	}
	return out, nil
}

func (q *ActionQueue) Claim(ctx context.Context, lease time.Duration) (*domain.Action, error) {
	now := q.clock.Now()
	res, err := claimScript.Run(ctx, q.rdb,
		[]string{queueReadyKey, queueInflightKey, queueLeasesKey},
		queueJobPrefix, now.UnixMilli(), now.Add(lease).UnixMilli(), claimScanLimit,
	).StringSlice()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim action: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("unexpected claim reply of length %d", len(res))
	}

	var a domain.Action
	if err := json.Unmarshal([]byte(res[0]), &a); err != nil {
		return nil, fmt.Errorf("failed to decode action: %w", err)
	}
	if a.Seq, err = strconv.ParseInt(res[1], 10, 64); err != nil {
		return nil, fmt.Errorf("failed to parse seq: %w", err)
	}
	if a.Attempts, err = strconv.Atoi(res[2]); err != nil {
		return nil, fmt.Errorf("failed to parse attempts: %w", err)
	}
	return &a, nil
}

func (q *ActionQueue) Ack(ctx context.Context, a domain.Action) error {
	return q.settle(ctx, a, "ack", "", time.Time{})
}

func (q *ActionQueue) Retry(ctx context.Context, a domain.Action, runAt time.Time) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode action: %w", err)
	}
	return q.settle(ctx, a, "retry", string(payload), runAt)
}

func (q *ActionQueue) DeadLetter(ctx context.Context, a domain.Action, cause error) error {
	dl := domain.DeadLetter{Action: a, FailedAt: q.clock.Now()}
	if cause != nil {
		dl.Error = cause.Error()
	}
	payload, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to encode dead letter: %w", err)
	}
	return q.settle(ctx, a, "dead", string(payload), time.Time{})
}

func (q *ActionQueue) settle(ctx context.Context, a domain.Action, mode, payload string, runAt time.Time) error {
	member := a.Key().String()
	err := settleScript.Run(ctx, q.rdb,
		[]string{queueInflightKey, queueLeasesKey, jobKey(member), queueReadyKey, queueDeadKey},
		member, strconv.FormatInt(a.Seq, 10), mode, payload, a.Attempts, runAt.UnixMilli(), maxDeadLetters,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", mode, member, err)
	}
	return nil
}

func (q *ActionQueue) RequeueExpired(ctx context.Context) (int, error) {
	n, err := requeueScript.Run(ctx, q.rdb,
		[]string{queueInflightKey, queueLeasesKey, queueReadyKey},
		queueJobPrefix, q.nowMs(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to requeue expired leases: %w", err)
	}
	return n, nil
}

// DeadLetters returns up to limit dead letters, newest first. A non-positive limit returns all of them.
func (q *ActionQueue) DeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raw, err := q.rdb.LRange(ctx, queueDeadKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	out := make([]domain.DeadLetter, 0, len(raw))
	for _, r := range raw {
		var dl domain.DeadLetter
		if err := json.Unmarshal([]byte(r), &dl); err != nil {
			return nil, fmt.Errorf("failed to decode dead letter: %w", err)
		}
		out = append(out, dl)
	}
	return out, nil
}

func (q *ActionQueue) nowMs() int64 {
	return q.clock.Now().UnixMilli()
}

func jobKey(member string) string {
	return queueJobPrefix + member
}
