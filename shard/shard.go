package shard

import "sync"

/*
A Shard is an independent slice of the key space.

Two locks live here:
- Mu guards the copy-on-write map. It is held only for the map swap.
- one mutex per key (KeyLock) serializes resolve/reject for that key
  together with the notification that follows, so subscribers see the
  writes of one key in the order they happened.

Lock order is always key lock first, then Mu.
*/
type Shard struct {
	Store EntryStore

	Mu sync.Mutex

	locks map[string]*sync.Mutex
}

func NewShard() *Shard {
	return &Shard{
		Store: NewCOWStore(),
		locks: make(map[string]*sync.Mutex),
	}
}

// KeyLock returns the mutex owning writes to key, creating it on first use.
func (s *Shard) KeyLock(key string) *sync.Mutex {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Forget drops the entry and key lock for key. Callers must not hold KeyLock(key).
func (s *Shard) Forget(key string) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.Store.Delete(key)
	delete(s.locks, key)
}
