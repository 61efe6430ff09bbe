package livesync

import (
	"fmt"
	"sync"
	"time"

	"github.com/krisalay/livesync/types"
)

// Watch is one key a panel renders. A zero Interval subscribes without
// polling.
type Watch struct {
	Key      string
	Interval time.Duration
}

/*
Mount attaches a panel to several keys at once.

BEHAVIOR:
---------
- onChange is subscribed to every key
- keys with an Interval get a poll watch on the store's scheduler
- keys that are empty, stale or failed are fetched right away in the
  background (fetch-on-mount)

The returned unmount removes every subscription and watch synchronously.
If any watch is invalid nothing is mounted.
*/
func (s *Store) Mount(panelID string, onChange func(types.CacheEntry), watches ...Watch) (unmount func(), err error) {
	if s.isClosed() {
		return nil, types.ErrClosed
	}
	for _, w := range watches {
		if w.Interval < 0 {
			return nil, fmt.Errorf("%s/%s: %w", panelID, w.Key, types.ErrInvalidInterval)
		}
	}

	var undo []func()
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}

	for _, w := range watches {
		undo = append(undo, s.Subscribe(panelID, w.Key, onChange))
		if w.Interval == 0 {
			continue
		}
		release, err := s.sched.Watch(w.Key, w.Interval)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("%s/%s: %w", panelID, w.Key, err)
		}
		undo = append(undo, release)
	}

	for _, w := range watches {
		switch s.Get(w.Key).State {
		case types.StateEmpty, types.StateStale, types.StateError:
			key := w.Key
			s.background(func() {
				if err := s.Refresh(s.ctx, key); err != nil {
					s.logger.Debug().Err(err).Str("panel", panelID).Str("key", key).Msg("fetch on mount failed")
				}
			})
		}
	}

	s.logger.Debug().Str("panel", panelID).Int("keys", len(watches)).Msg("panel mounted")

	var once sync.Once
	return func() {
		once.Do(func() {
			rollback()
			s.logger.Debug().Str("panel", panelID).Msg("panel unmounted")
		})
	}, nil
}

// WatchGroup polls keys together as one group on the store's scheduler.
func (s *Store) WatchGroup(name string, keys []string, interval time.Duration) (release func(), err error) {
	return s.sched.WatchGroup(name, keys, interval)
}
