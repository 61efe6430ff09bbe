// This file defines when a fresh entry stops being fresh on its own.

package expiration

import (
	"time"

	"github.com/krisalay/livesync/types"
)

/*
Strategy decides whether a fresh entry has outlived its staleness window.
Invalidation by the poll scheduler is the main way entries turn stale; a
strategy only covers keys that nobody polls (or polls slower than the window).
*/
type Strategy interface {

	// IsStale reports whether a fresh entry should be read as stale at now.
	IsStale(ent types.CacheEntry, now time.Time) bool

	// Window returns the staleness window for key. Zero => never stale.
	Window(key string) time.Duration
}

// Never keeps entries fresh until they are explicitly invalidated.
type Never struct{}

func (Never) IsStale(types.CacheEntry, time.Time) bool { return false }
func (Never) Window(string) time.Duration             { return 0 }
