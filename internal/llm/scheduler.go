package llm

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// ErrTimeout is reported for jobs that did not finish within the tick budget.
var ErrTimeout = errors.New("llm job timed out")

// Breaker suppresses calls for a cooldown window after repeated consecutive failures.
// It is shared by every scheduler of a game.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  uint64
	failures  int
	openUntil uint64
}

// NewBreaker creates a breaker. threshold <= 0 disables tripping.
func NewBreaker(threshold int, cooldownTicks uint64) *Breaker {
	return &Breaker{threshold: threshold, cooldown: cooldownTicks}
}

// Allow reports whether calls may be made at tick.
func (b *Breaker) Allow(tick uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return tick >= b.openUntil
}

// Success resets the failure streak.
func (b *Breaker) Success() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}

// Failure records a failure at tick and trips the breaker at the threshold.
func (b *Breaker) Failure(tick uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.threshold > 0 && b.failures >= b.threshold {
		b.openUntil = tick + b.cooldown
		b.failures = 0
		slog.Warn("llm cooldown engaged", "until_tick", b.openUntil)
	}
}

// Outcome is a finished or abandoned job. A non-nil Err means the caller should fall back.
type Outcome[T any] struct {
	Key           string
	RequestedTick uint64
	Value         T
	Err           error
}

type job[T any] struct {
	key    string
	tick   uint64
	cancel context.CancelFunc
	done   bool
	val    T
	err    error
}

// Scheduler runs generation jobs off the tick path. Jobs are requested on one tick and
// collected on a later one; a job older than the timeout is abandoned and reported as failed.
type Scheduler[T any] struct {
	name    string
	timeout uint64
	breaker *Breaker
	base    context.Context

	mu   sync.Mutex
	jobs map[string]*job[T]
	wg   sync.WaitGroup
}

// NewScheduler creates a scheduler whose jobs derive their context from ctx.
func NewScheduler[T any](ctx context.Context, name string, timeoutTicks uint64, breaker *Breaker) *Scheduler[T] {
	if breaker == nil {
		breaker = NewBreaker(0, 0)
	}
	return &Scheduler[T]{
		name:    name,
		timeout: timeoutTicks,
		breaker: breaker,
		base:    ctx,
		jobs:    make(map[string]*job[T]),
	}
}

// Request starts fn under key unless the breaker is open or key is already pending.
func (s *Scheduler[T]) Request(key string, tick uint64, fn func(context.Context) (T, error)) bool {
	if !s.breaker.Allow(tick) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, pending := s.jobs[key]; pending {
		return false
	}

	ctx, cancel := context.WithCancel(s.base)
	j := &job[T]{key: key, tick: tick, cancel: cancel}
	s.jobs[key] = j

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		v, err := fn(ctx)
		s.mu.Lock()
		j.val, j.err, j.done = v, err, true
		s.mu.Unlock()
	}()
	return true
}

// Collect returns finished jobs and abandons the ones past their timeout, in key order.
func (s *Scheduler[T]) Collect(tick uint64) []Outcome[T] {
	s.mu.Lock()
	keys := make([]string, 0, len(s.jobs))
	for k := range s.jobs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Outcome[T]
	for _, k := range keys {
		j := s.jobs[k]
		switch {
		case j.done:
			out = append(out, Outcome[T]{Key: k, RequestedTick: j.tick, Value: j.val, Err: j.err})
		case tick >= j.tick+s.timeout:
			j.cancel()
			out = append(out, Outcome[T]{Key: k, RequestedTick: j.tick, Err: ErrTimeout})
		default:
			continue
		}
		j.cancel()
		delete(s.jobs, k)
	}
	s.mu.Unlock()

	for _, o := range out {
		if o.Err != nil {
			s.breaker.Failure(tick)
			slog.Debug("llm job failed", "scheduler", s.name, "key", o.Key, "error", o.Err)
		} else {
			s.breaker.Success()
		}
	}
	return out
}

// Pending returns the number of in-flight jobs.
func (s *Scheduler[T]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Wait blocks until every started job has returned.
func (s *Scheduler[T]) Wait() {
	s.wg.Wait()
}

// Close cancels every pending job and waits for them to return.
func (s *Scheduler[T]) Close() {
	s.mu.Lock()
	for k, j := range s.jobs {
		j.cancel()
		delete(s.jobs, k)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
