// Package subscription tracks which panels are interested in which resource
// keys and fans change notifications out to them.
package subscription

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/krisalay/livesync/types"
)

// Callback receives the new entry for a key the panel subscribed to.
type Callback func(types.CacheEntry)

type subscription struct {
	id      uint64
	panelID string
	key     string
	cb      Callback
	closed  atomic.Bool
}

/*
Registry is the fan-out table from resource key to panels.

Guarantees:
- Notify snapshots the subscriber list first, so callbacks may subscribe
  or unsubscribe (even themselves) while being notified.
- Subscribers of one key are called in the order they subscribed.
- Once unsubscribe returns, that callback is never invoked again by a
  Notify that starts afterwards, and not by a running Notify that has
  not reached it yet.
- A panicking callback is recovered and logged; the remaining
  subscribers are still notified.
*/
type Registry struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	nextID uint64
	byKey  map[string][]*subscription
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger,
		byKey:  make(map[string][]*subscription),
	}
}

/*
Subscribe registers cb for changes of key on behalf of panelID.

The returned function removes the subscription. It is idempotent and safe
to call from inside a callback.
*/
func (r *Registry) Subscribe(panelID, key string, cb Callback) (unsubscribe func()) {
	r.mu.Lock()
	r.nextID++
	s := &subscription{id: r.nextID, panelID: panelID, key: key, cb: cb}
	// ids are monotonic, appending keeps subscription order
	r.byKey[key] = append(r.byKey[key], s)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(s) })
	}
}

func (r *Registry) remove(s *subscription) {
	s.closed.Store(true)

	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.byKey[s.key]
	for i, cur := range subs {
		if cur == s {
			n := make([]*subscription, 0, len(subs)-1)
			n = append(n, subs[:i]...)
			n = append(n, subs[i+1:]...)
			subs = n
			break
		}
	}
	if len(subs) == 0 {
		delete(r.byKey, s.key)
		return
	}
	r.byKey[s.key] = subs
}

/*
Notify invokes every current subscriber of ent.Key with ent and returns how
many callbacks ran.

Callbacks run synchronously on the caller's goroutine.
*/
func (r *Registry) Notify(ent types.CacheEntry) int {
	r.mu.RLock()
	// slices are replaced, never modified in place, so sharing is a snapshot
	subs := r.byKey[ent.Key]
	r.mu.RUnlock()

	delivered := 0
	for _, s := range subs {
		if s.closed.Load() {
			continue
		}
		if r.invoke(s, ent) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) invoke(s *subscription, ent types.CacheEntry) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			ok = false
			r.logger.Error().
				Str("panel", s.panelID).
				Str("key", s.key).
				Interface("panic", p).
				Msg("subscriber callback panicked")
		}
	}()
	if s.cb != nil {
		s.cb(ent)
	}
	return true
}

// Count returns the number of subscriptions for key.
func (r *Registry) Count(key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey[key])
}

// Keys returns every key with at least one subscriber, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Panels returns the distinct panels subscribed to key, in subscription order.
func (r *Registry) Panels(key string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, s := range r.byKey[key] {
		if !seen[s.panelID] {
			seen[s.panelID] = true
			out = append(out, s.panelID)
		}
	}
	return out
}
