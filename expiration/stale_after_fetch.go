package expiration

import (
	"time"

	"github.com/krisalay/livesync/types"
)

/*
StaleAfterFetch marks an entry stale a fixed time after it was fetched.

Reads do not extend the window: the data is exactly as old as the fetch
that produced it, however often panels look at it.

Overrides lets individual keys carry their own window, e.g. ambulance
positions go stale long before a static resource-optimization document.
*/
type StaleAfterFetch struct {

	// Default applies to every key without an override. Zero => never stale.
	Default time.Duration

	Overrides map[string]time.Duration
}

func (s *StaleAfterFetch) Window(key string) time.Duration {
	if d, ok := s.Overrides[key]; ok {
		return d
	}
	return s.Default
}

func (s *StaleAfterFetch) IsStale(ent types.CacheEntry, now time.Time) bool {
	if ent.State != types.StateFresh || ent.FetchedAt.IsZero() {
		return false
	}
	w := s.Window(ent.Key)
	return w > 0 && now.Sub(ent.FetchedAt) >= w
}
