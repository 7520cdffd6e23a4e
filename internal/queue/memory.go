// Package queue provides a process-local ActionQueue with the same semantics as the Redis queue.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/xXDeath420Xx/livebot/internal/domain"
)

const maxDeadLetters = 1000

// Memory is an in-memory ActionQueue for tests and single-process development.
type Memory struct {
	clock clockwork.Clock

	mu       sync.Mutex
	seq      int64
	jobs     map[domain.ActionKey]*job
	inflight map[domain.ActionKey]lease
	dead     []domain.DeadLetter
}

type job struct {
	action domain.Action
	runAt  time.Time
	ready  bool
}

type lease struct {
	seq   int64
	until time.Time
}

var _ domain.ActionQueue = (*Memory)(nil)

func NewMemory(clock clockwork.Clock) *Memory {
	return &Memory{
		clock:    clock,
		jobs:     make(map[domain.ActionKey]*job),
		inflight: make(map[domain.ActionKey]lease),
	}
}

func (q *Memory) Enqueue(_ context.Context, a domain.Action) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	a.Seq = q.seq
	a.Attempts = 0
	if a.EnqueuedAt.IsZero() {
		a.EnqueuedAt = q.clock.Now()
	}
	q.jobs[a.Key()] = &job{action: a, runAt: q.clock.Now(), ready: true}
	return nil
}

func (q *Memory) PendingKinds(_ context.Context, keys []domain.ActionKey) (map[domain.ActionKey]domain.ActionKind, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[domain.ActionKey]domain.ActionKind)
	for _, k := range keys {
		if j, ok := q.jobs[k]; ok {
			out[k] = j.action.Kind
		}
	}
	return out, nil
}

func (q *Memory) Claim(_ context.Context, leaseFor time.Duration) (*domain.Action, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	var (
		next    *job
		nextKey domain.ActionKey
	)
	for k, j := range q.jobs {
		if !j.ready || j.runAt.After(now) {
			continue
		}
		if _, busy := q.inflight[k]; busy {
			continue
		}
		if next == nil || j.runAt.Before(next.runAt) || (j.runAt.Equal(next.runAt) && j.action.Seq < next.action.Seq) {
			next, nextKey = j, k
		}
	}
	if next == nil {
		return nil, nil
	}

	next.ready = false
	next.action.Attempts++
	q.inflight[nextKey] = lease{seq: next.action.Seq, until: now.Add(leaseFor)}

	a := next.action
	return &a, nil
}

func (q *Memory) Ack(_ context.Context, a domain.Action) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	k := a.Key()
	q.release(k, a.Seq)
	if j, ok := q.jobs[k]; ok && j.action.Seq == a.Seq {
		delete(q.jobs, k)
	}
	return nil
}

func (q *Memory) Retry(_ context.Context, a domain.Action, runAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	k := a.Key()
	q.release(k, a.Seq)
	if j, ok := q.jobs[k]; ok && j.action.Seq == a.Seq {
		j.action = a
		j.runAt = runAt
		j.ready = true
	}
	return nil
}

func (q *Memory) DeadLetter(_ context.Context, a domain.Action, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	k := a.Key()
	q.release(k, a.Seq)
	if j, ok := q.jobs[k]; ok && j.action.Seq == a.Seq {
		delete(q.jobs, k)
	}

	dl := domain.DeadLetter{Action: a, FailedAt: q.clock.Now()}
	if cause != nil {
		dl.Error = cause.Error()
	}
	q.dead = append([]domain.DeadLetter{dl}, q.dead...)
	if len(q.dead) > maxDeadLetters {
		q.dead = q.dead[:maxDeadLetters]
	}
	return nil
}

func (q *Memory) RequeueExpired(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	n := 0
	for k, l := range q.inflight {
		if l.until.After(now) {
			continue
		}
		delete(q.inflight, k)
		if j, ok := q.jobs[k]; ok && j.action.Seq == l.seq {
			j.ready = true
			j.runAt = now
		}
		n++
	}
	return n, nil
}

func (q *Memory) DeadLetters(_ context.Context, limit int) ([]domain.DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if limit <= 0 || limit > len(q.dead) {
		limit = len(q.dead)
	}
	out := make([]domain.DeadLetter, limit)
	copy(out, q.dead[:limit])
	return out, nil
}

// Len returns the number of pending or in-flight jobs.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *Memory) release(k domain.ActionKey, seq int64) {
	if l, ok := q.inflight[k]; ok && l.seq == seq {
		delete(q.inflight, k)
	}
}
