// Package scheduler runs one poll loop per watched resource key.
//
// A tick refreshes the key through the Target (invalidate, fetch,
// resolve or reject). Ticks of different keys are independent: a slow or
// failing key never delays another one, and a failure never stops a task.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/krisalay/livesync/types"
)

// ErrGroupConflict is returned when a group name is reused with other keys.
var ErrGroupConflict = errors.New("scheduler: group already watched with different keys")

// ErrReservedKey is returned by Watch for keys in the group namespace.
var ErrReservedKey = errors.New("scheduler: key uses the reserved group: prefix")

// Target is what a tick drives. *livesync.Store implements it.
type Target interface {
	Refresh(ctx context.Context, key string) error
	RefreshAll(ctx context.Context, keys []string) error
}

type Option func(*Scheduler)

// WithClock injects the time source. Tests pass a clockwork.FakeClock.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithJitter delays every tick by interval * U[0, jitter). Values outside
// [0, 1] are clamped.
func WithJitter(j float64) Option {
	return func(s *Scheduler) {
		switch {
		case j < 0:
			j = 0
		case j > 1:
			j = 1
		}
		s.jitter = j
	}
}

// WithRand sets the random source used for jitter.
func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) { s.rnd = r }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

/*
Scheduler owns every poll task.

Lifecycle:
- Watch / WatchGroup create tasks at any time; they stay idle until Start
- Start launches one goroutine per task (and for tasks added later)
- Stop cancels all loops and waits for them; tasks go back to idle and
  resume on the next Start
- releasing the last watcher of a task stops it for good
*/
type Scheduler struct {
	target Target
	clock  clockwork.Clock
	logger zerolog.Logger
	jitter float64

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu      sync.Mutex
	tasks   map[string]*task
	running bool
	ctx     context.Context
	cancel  context.CancelFunc

	wg sync.WaitGroup
}

func New(target Target, opts ...Option) *Scheduler {
	s := &Scheduler{
		target: target,
		clock:  clockwork.NewRealClock(),
		logger: zerolog.Nop(),
		tasks:  make(map[string]*task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

/*
Watch asks for key to be refreshed every interval.

BEHAVIOR:
---------
- The first watcher of a key creates its task
- With several watchers, the shortest interval governs
- release removes this watcher; the last release stops the task
- release is idempotent
- keys starting with "group:" are rejected; that namespace addresses groups
*/
func (s *Scheduler) Watch(key string, interval time.Duration) (release func(), err error) {
	if strings.HasPrefix(key, groupPrefix) {
		return nil, fmt.Errorf("%w: %s", ErrReservedKey, key)
	}
	return s.watch(key, []string{key}, false, interval)
}

/*
WatchGroup refreshes keys together: one tick invalidates all of them at
once and then fetches them concurrently.
*/
func (s *Scheduler) WatchGroup(name string, keys []string, interval time.Duration) (release func(), err error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("scheduler: group %q has no keys", name)
	}
	return s.watch(groupID(name), sortedCopy(keys), true, interval)
}

func (s *Scheduler) watch(id string, keys []string, group bool, interval time.Duration) (func(), error) {
	if interval <= 0 {
		return nil, types.ErrInvalidInterval
	}

	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok && (t.group != group || !sameKeys(t.keys, keys)) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrGroupConflict, id)
	}
	if !ok {
		t = newTask(id, keys, group)
		s.tasks[id] = t
		if s.running {
			s.launch(t)
		}
		s.logger.Debug().Str("task", id).Dur("interval", interval).Msg("poll task created")
	}
	watchID, changed := t.addWatcher(interval)
	s.mu.Unlock()

	if changed && ok {
		t.poke()
	}

	var once sync.Once
	return func() {
		once.Do(func() { s.release(t, watchID) })
	}, nil
}

func (s *Scheduler) release(t *task, watchID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	left, changed := t.removeWatcher(watchID)
	if left > 0 {
		if changed {
			t.poke()
		}
		return
	}
	if s.tasks[t.id] == t {
		delete(s.tasks, t.id)
	}
	t.halt()
	s.logger.Debug().Str("task", t.id).Msg("poll task stopped")
}

// launch starts the loop for t. Callers hold s.mu and s.running is true.
func (s *Scheduler) launch(t *task) {
	s.wg.Add(1)
	go s.loop(s.ctx, t)
}

// Start begins polling. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, t := range s.tasks {
		s.launch(t)
	}
	s.logger.Info().Int("tasks", len(s.tasks)).Msg("poll scheduler started")
	return nil
}

// Serve implements suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return ctx.Err()
}

// Stop cancels every poll loop and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("poll scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, t *task) {
	defer s.wg.Done()

	for {
		interval := t.interval()
		if interval <= 0 {
			return
		}
		timer := s.clock.NewTimer(s.delay(interval))
		t.setState(StateScheduled)

		select {
		case <-ctx.Done():
			timer.Stop()
			t.setState(StateIdle)
			return
		case <-t.stop:
			timer.Stop()
			return
		case <-t.reset:
			timer.Stop()
		case <-timer.Chan():
			t.setState(StateFetching)
			s.tick(ctx, t)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, t *task) {
	var err error
	if t.group {
		err = s.target.RefreshAll(ctx, t.keys)
	} else {
		err = s.target.Refresh(ctx, t.keys[0])
	}
	t.record(s.clock.Now(), err)

	if err != nil && ctx.Err() == nil {
		s.logger.Warn().Err(err).Str("task", t.id).Msg("poll tick failed")
	}
}

func (s *Scheduler) delay(interval time.Duration) time.Duration {
	if s.jitter <= 0 {
		return interval
	}
	var f float64
	s.rndMu.Lock()
	if s.rnd != nil {
		f = s.rnd.Float64()
	} else {
		f = rand.Float64()
	}
	s.rndMu.Unlock()
	return interval + time.Duration(float64(interval)*s.jitter*f)
}

// Stats returns a snapshot of every task, ordered by id.
func (s *Scheduler) Stats() []Stats {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	out := make([]Stats, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Task returns the stats of one task. Group tasks are addressed as "group:<name>".
func (s *Scheduler) Task(id string) (Stats, bool) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return Stats{}, false
	}
	return t.stats(), true
}
