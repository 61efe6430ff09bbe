package api

import (
	"context"

	"github.com/krisalay/livesync/types"
)

/*
LiveStore defines the PUBLIC API panels and pollers use.
This is a contract that guarantees certain behaviors, without exposing internals.
All of the details like (sharding, locking, fetching, coalescing and
scheduling) are hidden behind this interface.
*/
type LiveStore interface {

	/*
		Get returns the current entry for key.

		BEHAVIOR:
		-------------------
		1. Key never fetched:
		   - state empty, no data

		2. Key fetched:
		   - the last published snapshot (fresh, stale, loading or error)
		   - a fresh entry older than its staleness window reads as stale

		Get never blocks on the network.
	*/
	Get(key string) types.CacheEntry

	/*
		Invalidate marks a fresh entry stale.

		BEHAVIOR:
		---------
		- fresh -> stale, data kept (no flicker to empty)
		- any other state is unchanged
		- idempotent: twice in a row leaves the entry stale
	*/
	Invalidate(key string)

	/*
		InvalidateAll invalidates several keys as one atomic step.

		USE CASES:
		----------
		- Grouped refresh (all dashboard widgets together)
		- Mutations touching several resources
	*/
	InvalidateAll(keys []string)

	/*
		Resolve publishes a successfully fetched document.

		BEHAVIOR:
		---------
		- state fresh, fetchedAt now
		- subscribers are notified if the data changed or the entry was not
		  fresh/stale before
	*/
	Resolve(key string, data any)

	/*
		Reject publishes a failed fetch.

		BEHAVIOR:
		---------
		- state error, last known data retained
		- subscribers are always notified
	*/
	Reject(key string, err error)

	/*
		Subscribe registers onChange for changes of key on behalf of a panel.

		BEHAVIOR:
		---------
		- every subscriber of a key is notified once per change (fan-out)
		- unsubscribe is synchronous and idempotent; no callback fires after it
		- a panicking callback does not affect other subscribers
	*/
	Subscribe(panelID, key string, onChange func(types.CacheEntry)) (unsubscribe func())

	/*
		Refresh invalidates key, fetches it and resolves or rejects it.

		IMPORTANT:
		----------
		- At most one fetch per key is in flight; concurrent calls join it
		- ctx bounds the wait, not the shared fetch
	*/
	Refresh(ctx context.Context, key string) error

	// RefreshAll invalidates keys atomically and fetches them concurrently.
	RefreshAll(ctx context.Context, keys []string) error

	/*
		Close gracefully shuts the store down.

		BEHAVIOR:
		---------
		- Stops polling
		- Cancels in-flight fetches
		- Flushes pending write-back mutations

		WHEN TO CALL:
		-------------
		- Application shutdown
		- Tests cleanup
	*/
	Close()
}
