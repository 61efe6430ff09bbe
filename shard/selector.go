package shard

import "hash/fnv"

// Selector decides which shard owns a key.
type Selector interface {
	Select(string, []*Shard) (int, *Shard)
}

// HashSelector assigns keys by FNV-1a hash modulo the shard count.
// The index is returned too so callers can lock several shards in a stable order.
type HashSelector struct{}

func hash(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

func (HashSelector) Select(key string, shards []*Shard) (int, *Shard) {
	idx := int(hash(key) % uint32(len(shards)))
	return idx, shards[idx]
}
