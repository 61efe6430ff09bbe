package shard

import (
	"testing"

	"github.com/krisalay/livesync/types"
)

func TestCOWStoreSnapshotIsolation(t *testing.T) {
	s := NewCOWStore()
	first := &types.CacheEntry{Key: "hospitals", Version: 1}
	s.Put("hospitals", first)

	got, ok := s.Get("hospitals")
	if !ok || got != first {
		t.Fatalf("expected first snapshot, got %v", got)
	}

	s.Put("hospitals", &types.CacheEntry{Key: "hospitals", Version: 2})
	if got.Version != 1 {
		t.Fatalf("published snapshot was mutated: %d", got.Version)
	}
	if s.Size() != 1 {
		t.Fatalf("expected size 1, got %d", s.Size())
	}

	s.Delete("hospitals")
	s.Delete("missing")
	if _, ok := s.Get("hospitals"); ok || s.Size() != 0 {
		t.Fatal("expected key to be gone")
	}
}

func TestKeyLockIsStablePerKey(t *testing.T) {
	sh := NewShard()
	a := sh.KeyLock("surge-zones")
	if a != sh.KeyLock("surge-zones") {
		t.Fatal("expected the same lock for the same key")
	}
	if a == sh.KeyLock("surge-forecast") {
		t.Fatal("expected distinct locks for distinct keys")
	}
	sh.Forget("surge-zones")
	if a == sh.KeyLock("surge-zones") {
		t.Fatal("expected a new lock after Forget")
	}
}

func TestHashSelectorIsDeterministic(t *testing.T) {
	shards := []*Shard{NewShard(), NewShard(), NewShard(), NewShard()}
	var sel HashSelector
	i1, s1 := sel.Select("ambulance-tracking", shards)
	i2, s2 := sel.Select("ambulance-tracking", shards)
	if i1 != i2 || s1 != s2 {
		t.Fatal("expected the same shard for the same key")
	}
	if i1 < 0 || i1 >= len(shards) {
		t.Fatalf("index out of range: %d", i1)
	}
}
