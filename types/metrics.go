package types

import "time"

// This file defines how the sync layer reports what it is doing.

/*
Metrics is the set of events the store and its collaborators emit.
Each method is called inline on the hot path and must not block.
*/
type Metrics interface {

	// Hit is called when Get returns a fresh entry.
	Hit(key string)

	// Miss is called when Get returns an entry without usable fresh data
	// (empty, loading, stale or error).
	Miss(key string)

	// Stale is called when a fresh entry outlives its staleness window.
	Stale(key string)

	// Fetch is called after every network load with its duration and result.
	Fetch(key string, took time.Duration, err error)

	// Coalesced is called when a refresh joined a fetch already in flight.
	Coalesced(key string)

	// Notify is called after a change was fanned out to subscribers.
	Notify(key string, subscribers int)

	// Refresh is called when a read of stale data triggered a background refresh.
	Refresh(key string)
}

/*
NoopMetrics ignores every event.

The store always holds a non-nil Metrics so call sites never need
"if metrics != nil" checks.
*/
type NoopMetrics struct{}

func (NoopMetrics) Hit(string)                         {}
func (NoopMetrics) Miss(string)                        {}
func (NoopMetrics) Stale(string)                       {}
func (NoopMetrics) Fetch(string, time.Duration, error) {}
func (NoopMetrics) Coalesced(string)                   {}
func (NoopMetrics) Notify(string, int)                 {}
func (NoopMetrics) Refresh(string)                     {}
