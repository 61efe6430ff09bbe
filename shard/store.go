package shard

import (
	"sync/atomic"

	"github.com/krisalay/livesync/types"
)

/*
This file defines how entries are held inside a shard.
- Panels read constantly (every render, every Get)
- Reads must not take locks
- Writes happen once per poll tick per key

To get there we use "Copy-On-Write" (COW): readers load an immutable map,
writers build a new map and swap it in.
*/

// EntryStore is the interface a shard uses to store and read entries.
type EntryStore interface {

	// Get returns the current snapshot for a key.
	Get(string) (*types.CacheEntry, bool)

	// Put publishes a new snapshot for a key.
	Put(string, *types.CacheEntry)

	// Delete drops a key.
	Delete(string)

	// Range calls fn for every entry of the current map.
	Range(fn func(*types.CacheEntry))

	// Size returns how many keys are stored.
	Size() int64
}

/*
cowStore is the copy-on-write EntryStore.

Entries placed in the map are never modified afterwards, so a reader that
loaded a pointer keeps a consistent snapshot even while writers move on.
Writers must be serialized by the caller (the shard mutex).
*/
type cowStore struct {
	data atomic.Pointer[map[string]*types.CacheEntry]
	size atomic.Int64
}

func NewCOWStore() *cowStore {
	s := &cowStore{}
	m := make(map[string]*types.CacheEntry)
	s.data.Store(&m)
	return s
}

func (s *cowStore) Get(key string) (*types.CacheEntry, bool) {
	ent, ok := (*s.data.Load())[key]
	return ent, ok
}

func (s *cowStore) Put(key string, ent *types.CacheEntry) {
	old := *s.data.Load()
	n := make(map[string]*types.CacheEntry, len(old)+1)
	for k, v := range old {
		n[k] = v
	}
	n[key] = ent
	s.data.Store(&n)
	s.size.Store(int64(len(n)))
}

func (s *cowStore) Delete(key string) {
	old := *s.data.Load()
	if _, ok := old[key]; !ok {
		return
	}
	n := make(map[string]*types.CacheEntry, len(old))
	for k, v := range old {
		if k != key {
			n[k] = v
		}
	}
	s.data.Store(&n)
	s.size.Store(int64(len(n)))
}

func (s *cowStore) Range(fn func(*types.CacheEntry)) {
	for _, ent := range *s.data.Load() {
		fn(ent)
	}
}

func (s *cowStore) Size() int64 {
	return s.size.Load()
}
