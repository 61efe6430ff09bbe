package engine

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/krisalay/livesync/expiration"
	"github.com/krisalay/livesync/refresh"
	"github.com/krisalay/livesync/types"
	"github.com/krisalay/livesync/writepolicy"
)

/*
Engine is the "brain" of the sync layer.
It is responsible for the "behavior" of the store, NOT storage.
This acts as the policy layer.

It decides:
- When a fresh entry has become stale
- When stale-while-revalidate refreshes are triggered
- How data is fetched from the backend
- How mutations are propagated to the backend
- How metrics are recorded
- What "now" is

It does NOT:
- Store entries
- Handle sharding or locking
- Notify subscribers
*/
type Engine struct {

	// Staleness decides when a fresh entry should read as stale.
	// If nil, entries only become stale through explicit invalidation.
	Staleness expiration.Strategy

	// Refresh is an optional hook that runs when a stale entry is read.
	// It must never block the read path.
	Refresh refresh.Hook

	// Loader is how the store talks to the backend.
	// Normally a *fetch.Client.
	Loader types.Loader

	// WritePolicy decides how mutations reach the backend.
	// If nil, mutations go through the loader synchronously.
	WritePolicy writepolicy.WritePolicy

	// Metrics records reads, fetches, notifications and refreshes.
	Metrics types.Metrics

	// Clock is the time source for FetchedAt and staleness checks.
	Clock clockwork.Clock
}

/*
NewEngine creates an Engine using the real clock.
*/
func NewEngine(
	staleness expiration.Strategy,
	hook refresh.Hook,
	loader types.Loader,
	writePolicy writepolicy.WritePolicy,
	metrics types.Metrics,
) *Engine {

	// Ensure metrics is always non-nil
	if metrics == nil {
		metrics = types.NoopMetrics{}
	}
	if writePolicy == nil && loader != nil {
		writePolicy = writepolicy.NewWriteThroughPolicy(loader)
	}

	return &Engine{
		Staleness:   staleness,
		Refresh:     hook,
		Loader:      loader,
		WritePolicy: writePolicy,
		Metrics:     metrics,
		Clock:       clockwork.NewRealClock(),
	}
}

// WithClock replaces the time source. Used by tests.
func (e *Engine) WithClock(c clockwork.Clock) *Engine {
	e.Clock = c
	return e
}

func (e *Engine) Now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock.Now()
}

/*
IsStale checks whether a fresh entry has outlived its staleness window.

BEHAVIOR:
---------
- Delegates the decision to the configured Staleness strategy
- Returns false if no strategy is configured
*/
func (e *Engine) IsStale(ent types.CacheEntry) bool {
	return e.Staleness != nil &&
		e.Staleness.IsStale(ent, e.Now())
}

/*
OnRead is called every time the store returns an entry.

If the entry is stale and a refresh hook is configured, the hook is told
about it so it can revalidate in the background.
*/
func (e *Engine) OnRead(key string, ent types.CacheEntry) {
	if ent.State != types.StateStale || e.Refresh == nil {
		return
	}
	e.Metrics.Refresh(key)
	e.Refresh.OnRead(key, ent)
}

/*
Load is used when the store needs the current document for key.

This usually means a network request.
*/
func (e *Engine) Load(ctx context.Context, key string) (any, error) {
	if e.Loader == nil {
		return nil, types.ErrNoLoader
	}
	return e.Loader.Load(ctx, key)
}

// Write forwards a mutation through the configured write policy.
func (e *Engine) Write(ctx context.Context, key string, value any, done writepolicy.Done) {
	if e.WritePolicy == nil {
		if done != nil {
			done(nil, types.ErrNoLoader)
		}
		return
	}
	e.WritePolicy.Write(ctx, key, value, done)
}

// Close flushes the write policy.
func (e *Engine) Close() {
	if e.WritePolicy != nil {
		e.WritePolicy.Close()
	}
}
