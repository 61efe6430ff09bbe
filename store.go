// Package livesync keeps many independent UI panels consistent with a
// polled backend.
//
// The Store owns one CacheEntry per resource key, fans changes out to
// subscribed panels and drives the per-key poll tasks of its scheduler.
package livesync

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/krisalay/livesync/api"
	"github.com/krisalay/livesync/engine"
	"github.com/krisalay/livesync/refresh"
	"github.com/krisalay/livesync/scheduler"
	"github.com/krisalay/livesync/shard"
	"github.com/krisalay/livesync/subscription"
	"github.com/krisalay/livesync/types"
)

var _ api.LiveStore = (*Store)(nil)

/*
Store is the main implementation.
This struct is the orchestrator that connects:
- shards (entry storage and per-key write locks)
- the engine (staleness, loader, write policy, metrics, clock)
- the subscription registry
- the poll scheduler
*/
type Store struct {
	shards   []*shard.Shard
	nshards  int
	selector shard.Selector

	engine   *engine.Engine
	registry *subscription.Registry
	sched    *scheduler.Scheduler

	schedOpts []scheduler.Option
	logger    zerolog.Logger

	// sf guarantees at most one in-flight fetch per key.
	sf singleflight.Group

	// ctx bounds every fetch. It outlives the callers that asked for it.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	bg     sync.WaitGroup
}

// New creates a store. A nil engine yields a store without loader, which
// can still be driven through Resolve and Reject.
func New(e *engine.Engine, opts ...Option) *Store {
	if e == nil {
		e = engine.NewEngine(nil, nil, nil, nil, nil)
	}
	if e.Metrics == nil {
		e.Metrics = types.NoopMetrics{}
	}

	s := &Store{
		nshards:  defaultShards,
		selector: shard.HashSelector{},
		engine:   e,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.shards = make([]*shard.Shard, s.nshards)
	for i := range s.shards {
		s.shards[i] = shard.NewShard()
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.registry = subscription.NewRegistry(s.logger)

	schedOpts := []scheduler.Option{scheduler.WithLogger(s.logger)}
	if e.Clock != nil {
		schedOpts = append(schedOpts, scheduler.WithClock(e.Clock))
	}
	s.sched = scheduler.New(s, append(schedOpts, s.schedOpts...)...)

	if b, ok := e.Refresh.(refresh.Binder); ok {
		b.Bind(s.ctx, s)
	}

	return s
}

func (s *Store) pick(key string) (int, *shard.Shard) {
	return s.selector.Select(key, s.shards)
}

// current returns the entry for key as a value. Callers hold sh.Mu.
func current(sh *shard.Shard, key string) types.CacheEntry {
	if ent, ok := sh.Store.Get(key); ok {
		return *ent
	}
	return types.Empty(key)
}

/*
Get returns the current entry for key.

BEHAVIOR:
---------
- Keys that were never fetched read as state empty
- A fresh entry that outlived its staleness window is moved to stale here
  (lazily) and reported as such
- Reading a stale entry tells the refresh hook, which may revalidate in
  the background
*/
func (s *Store) Get(key string) types.CacheEntry {
	_, sh := s.pick(key)

	ent, ok := sh.Store.Get(key)
	if !ok {
		s.engine.Metrics.Miss(key)
		return types.Empty(key)
	}

	cur := *ent
	if cur.State == types.StateFresh && s.engine.IsStale(cur) {
		cur = s.expire(sh, ent)
	}

	if cur.State == types.StateFresh {
		s.engine.Metrics.Hit(key)
	} else {
		s.engine.Metrics.Miss(key)
	}
	s.engine.OnRead(key, cur)

	return cur
}

// expire moves ent to stale unless somebody replaced it meanwhile.
func (s *Store) expire(sh *shard.Shard, ent *types.CacheEntry) types.CacheEntry {
	sh.Mu.Lock()
	defer sh.Mu.Unlock()

	now, ok := sh.Store.Get(ent.Key)
	if !ok || now != ent {
		if ok {
			return *now
		}
		return types.Empty(ent.Key)
	}

	next := *ent
	next.State = types.StateStale
	next.Version++
	sh.Store.Put(next.Key, &next)
	s.engine.Metrics.Stale(next.Key)
	return next
}

/*
Invalidate marks key stale if it is currently fresh.

Data and FetchedAt are kept so panels keep rendering the last value.
Every other state is left alone, which makes the call idempotent.
No subscriber is notified.
*/
func (s *Store) Invalidate(key string) {
	_, sh := s.pick(key)

	sh.Mu.Lock()
	defer sh.Mu.Unlock()
	s.invalidateLocked(sh, key)
}

func (s *Store) invalidateLocked(sh *shard.Shard, key string) {
	ent, ok := sh.Store.Get(key)
	if !ok || ent.State != types.StateFresh {
		return
	}
	next := *ent
	next.State = types.StateStale
	next.Version++
	sh.Store.Put(key, &next)
}

/*
InvalidateAll applies Invalidate to every key as one step: the locks of all
involved shards are taken (in shard order) before the first key changes, so
no writer observes a half-invalidated group.
*/
func (s *Store) InvalidateAll(keys []string) {
	byShard := make(map[int][]string)
	for _, k := range keys {
		idx, _ := s.pick(k)
		byShard[idx] = append(byShard[idx], k)
	}

	order := make([]int, 0, len(byShard))
	for idx := range byShard {
		order = append(order, idx)
	}
	sort.Ints(order)

	for _, idx := range order {
		s.shards[idx].Mu.Lock()
	}
	for _, idx := range order {
		for _, k := range byShard[idx] {
			s.invalidateLocked(s.shards[idx], k)
		}
	}
	for i := len(order) - 1; i >= 0; i-- {
		s.shards[order[i]].Mu.Unlock()
	}
}

// markLoading moves a never-fetched key to loading.
func (s *Store) markLoading(key string) {
	_, sh := s.pick(key)

	sh.Mu.Lock()
	defer sh.Mu.Unlock()

	cur := current(sh, key)
	if cur.State != types.StateEmpty {
		return
	}
	cur.State = types.StateLoading
	cur.Version++
	sh.Store.Put(key, &cur)
}

/*
Resolve stores data as the fresh value of key.

BEHAVIOR:
---------
- State becomes fresh and FetchedAt now
- Subscribers are notified when data differs from the previous value, or
  when the previous state was not fresh or stale (first value, recovery
  from error)
- A nil document cannot be fresh: it is rejected as a decode error

Notifications for one key are delivered in the order Resolve and Reject
were called. Callbacks must not Resolve, Reject or Refresh the key they are
being notified about synchronously.
*/
func (s *Store) Resolve(key string, data any) {
	if data == nil {
		s.Reject(key, types.NewDecodeError(key, types.ErrEmptyDocument))
		return
	}

	_, sh := s.pick(key)
	kl := sh.KeyLock(key)
	kl.Lock()
	defer kl.Unlock()

	sh.Mu.Lock()
	prev := current(sh, key)
	next := types.CacheEntry{
		Key:       key,
		Data:      data,
		FetchedAt: s.engine.Now(),
		State:     types.StateFresh,
		Version:   prev.Version + 1,
	}
	sh.Store.Put(key, &next)
	sh.Mu.Unlock()

	settled := prev.State == types.StateFresh || prev.State == types.StateStale
	if settled && reflect.DeepEqual(prev.Data, data) {
		return
	}
	s.notify(next)
}

/*
Reject records a failed fetch for key.

State becomes error; the previous Data and FetchedAt are retained so
panels can show the last known value with an error badge. Subscribers are
always notified.
*/
func (s *Store) Reject(key string, err error) {
	if err == nil {
		err = types.NewNetworkError(key, types.CodeUnavailable, errors.New("unknown failure"))
	}

	_, sh := s.pick(key)
	kl := sh.KeyLock(key)
	kl.Lock()
	defer kl.Unlock()

	sh.Mu.Lock()
	next := current(sh, key)
	next.State = types.StateError
	next.Err = err
	next.Version++
	sh.Store.Put(key, &next)
	sh.Mu.Unlock()

	s.logger.Warn().
		Err(err).
		Str("key", key).
		Str("kind", string(types.KindOf(err))).
		Bool("has_data", next.HasData()).
		Msg("fetch rejected")

	s.notify(next)
}

func (s *Store) notify(ent types.CacheEntry) {
	n := s.registry.Notify(ent)
	s.engine.Metrics.Notify(ent.Key, n)
	s.logger.Debug().
		Str("key", ent.Key).
		Stringer("state", ent.State).
		Uint64("version", ent.Version).
		Int("subscribers", n).
		Msg("entry changed")
}

/*
Refresh invalidates key and fetches it again.

BEHAVIOR:
---------
- At most one fetch per key is in flight: concurrent calls join it
- The fetch runs on the store's lifetime, not on ctx. Cancelling ctx
  only stops waiting; the result still lands in the cache
- The fetch outcome is resolved or rejected into the entry and its error,
  if any, is returned
*/
func (s *Store) Refresh(ctx context.Context, key string) error {
	if s.isClosed() {
		return types.ErrClosed
	}

	s.Invalidate(key)
	s.markLoading(key)

	// only the caller whose function runs leads; everybody else joined
	var led atomic.Bool
	ch := s.sf.DoChan(key, func() (any, error) {
		led.Store(true)
		if !s.enter() {
			return nil, types.ErrClosed
		}
		defer s.bg.Done()
		return s.fetch(key)
	})

	select {
	case r := <-ch:
		if !led.Load() {
			s.engine.Metrics.Coalesced(key)
		}
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) fetch(key string) (any, error) {
	start := time.Now()
	data, err := s.engine.Load(s.ctx, key)
	s.engine.Metrics.Fetch(key, time.Since(start), err)

	if err != nil && s.ctx.Err() != nil {
		// shutting down, keep the last state
		return nil, types.ErrClosed
	}
	if err == nil && data == nil {
		err = types.NewDecodeError(key, types.ErrEmptyDocument)
	}
	if err != nil {
		s.Reject(key, err)
		return nil, err
	}

	s.Resolve(key, data)
	return data, nil
}

/*
RefreshAll refreshes a group of keys together.

All keys are invalidated atomically first, then fetched concurrently. A
failing key does not cancel the others; every failure is returned joined.
*/
func (s *Store) RefreshAll(ctx context.Context, keys []string) error {
	if s.isClosed() {
		return types.ErrClosed
	}

	keys = dedupe(keys)
	s.InvalidateAll(keys)

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, k := range keys {
		g.Go(func() error {
			if err := s.Refresh(ctx, k); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", k, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

func dedupe(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// Subscribe registers onChange for key on behalf of panelID. It does not
// fetch; see Mount.
func (s *Store) Subscribe(panelID, key string, onChange func(types.CacheEntry)) (unsubscribe func()) {
	return s.registry.Subscribe(panelID, key, onChange)
}

// Subscribers returns how many subscriptions key has.
func (s *Store) Subscribers(key string) int {
	return s.registry.Count(key)
}

/*
Submit sends a mutation for key through the engine's write policy and, once
the backend accepted it, refreshes the affected keys (default: key itself).

With write-through the write error is returned. With write-back Submit
returns as soon as the write is queued; a full queue is reported as
writepolicy.ErrQueueFull.
*/
func (s *Store) Submit(ctx context.Context, key string, value any, invalidates ...string) error {
	if s.isClosed() {
		return types.ErrClosed
	}
	targets := invalidates
	if len(targets) == 0 {
		targets = []string{key}
	}

	result := make(chan error, 1)
	s.engine.Write(ctx, key, value, func(_ any, err error) {
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("mutation failed")
		} else {
			s.background(func() {
				if err := s.RefreshAll(s.ctx, targets); err != nil {
					s.logger.Debug().Err(err).Strs("keys", targets).Msg("refresh after mutation failed")
				}
			})
		}
		result <- err
	})

	select {
	case err := <-result:
		return err
	default:
		return nil
	}
}

// Keys returns every key the store holds an entry for, sorted.
func (s *Store) Keys() []string {
	var keys []string
	for _, sh := range s.shards {
		sh.Store.Range(func(ent *types.CacheEntry) {
			keys = append(keys, ent.Key)
		})
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns every entry sorted by key. Entries past their staleness
// window are reported stale; nothing is written and no refresh is started.
func (s *Store) Snapshot() []types.CacheEntry {
	var out []types.CacheEntry
	for _, sh := range s.shards {
		sh.Store.Range(func(ent *types.CacheEntry) {
			cur := *ent
			if cur.State == types.StateFresh && s.engine.IsStale(cur) {
				cur.State = types.StateStale
			}
			out = append(out, cur)
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Reset drops every entry. Subscriptions and poll tasks are kept.
// It must not run concurrently with Resolve or Reject.
func (s *Store) Reset() {
	for _, sh := range s.shards {
		var keys []string
		sh.Store.Range(func(ent *types.CacheEntry) {
			keys = append(keys, ent.Key)
		})
		for _, k := range keys {
			sh.Forget(k)
		}
	}
}

// Scheduler returns the store's poll scheduler.
func (s *Store) Scheduler() *scheduler.Scheduler {
	return s.sched
}

// Start begins polling.
func (s *Store) Start(ctx context.Context) error {
	if s.isClosed() {
		return types.ErrClosed
	}
	return s.sched.Start(ctx)
}

// enter registers background work. Callers that got true must call s.bg.Done.
func (s *Store) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.bg.Add(1)
	return true
}

func (s *Store) background(fn func()) bool {
	if !s.enter() {
		return false
	}
	go func() {
		defer s.bg.Done()
		fn()
	}()
	return true
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

/*
Close gracefully shuts the store down.
------------------
1. Stop the scheduler
2. Cancel in-flight fetches and wait for background work
3. Flush the write policy

Close is idempotent.
*/
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.sched.Stop()
	s.cancel()
	s.bg.Wait()
	s.engine.Close()
}
