package types

import "time"

/*
CacheEntry is one immutable snapshot of a resource key inside the store.

The store never mutates an entry after publishing it. Every transition
(invalidate, resolve, reject) writes a new value, so panels can hold on to
whatever they were handed without copying.

Invariant: an entry in StateFresh always carries non-nil Data and a
non-zero FetchedAt.
*/
type CacheEntry struct {
	Key string

	// Data is the last decoded document for Key. It is kept through stale
	// and error states so panels can render the last known value.
	Data any

	// FetchedAt is when Data was resolved. Zero => never fetched.
	FetchedAt time.Time

	State State

	// Err is the failure behind StateError. Nil in every other state.
	Err error

	// Version increases on every write to the key.
	Version uint64
}

// HasData reports whether a previously resolved value is available.
func (e CacheEntry) HasData() bool {
	return e.Data != nil
}

// Age returns how long ago the data was fetched, or 0 if it never was.
func (e CacheEntry) Age(now time.Time) time.Duration {
	if e.FetchedAt.IsZero() {
		return 0
	}
	return now.Sub(e.FetchedAt)
}

// Empty returns the entry reported for keys that were never fetched.
func Empty(key string) CacheEntry {
	return CacheEntry{Key: key, State: StateEmpty}
}
