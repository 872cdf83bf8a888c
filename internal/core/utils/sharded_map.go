package utils

import (
	"hash/fnv"
	"sync"
)

const DefaultShards = 32

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// ShardedMap is a string-keyed concurrent map. Keys hash to independent shards
// so writers for different keys rarely contend on the same lock.
type ShardedMap[V any] struct {
	shards []*shard[V]
}

func NewShardedMap[V any](shards int) *ShardedMap[V] {
	if shards <= 0 {
		shards = DefaultShards
	}
	m := &ShardedMap[V]{shards: make([]*shard[V], shards)}
	for i := range m.shards {
		m.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return m
}

func (m *ShardedMap[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%uint32(len(m.shards))]
}

func (m *ShardedMap[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// Set stores v under key, replacing any existing value.
func (m *ShardedMap[V]) Set(key string, v V) {
	s := m.shardFor(key)
	s.mu.Lock()
	s.items[key] = v
	s.mu.Unlock()
}

// Delete removes key and reports whether it was present.
func (m *ShardedMap[V]) Delete(key string) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[key]
	delete(s.items, key)
	return ok
}

// DeleteIf removes key only if its current value satisfies pred. The check and
// the removal happen under the same lock.
func (m *ShardedMap[V]) DeleteIf(key string, pred func(V) bool) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if !ok || !pred(v) {
		return false
	}
	delete(s.items, key)
	return true
}

// Swap stores v under key and returns the value it replaced, if any.
func (m *ShardedMap[V]) Swap(key string, v V) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.items[key]
	s.items[key] = v
	return prev, ok
}

// Update replaces the entry for key with the result of fn, applied under the
// shard lock. fn receives the current value and whether it exists; returning
// keep=false removes the key.
func (m *ShardedMap[V]) Update(key string, fn func(current V, ok bool) (next V, keep bool)) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[key]
	next, keep := fn(current, ok)
	if keep {
		s.items[key] = next
	} else {
		delete(s.items, key)
	}
}

func (m *ShardedMap[V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// Range calls fn for each entry until fn returns false. Entries added or
// removed concurrently may or may not be visited.
func (m *ShardedMap[V]) Range(fn func(key string, v V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		snapshot := make(map[string]V, len(s.items))
		for k, v := range s.items {
			snapshot[k] = v
		}
		s.mu.RUnlock()

		for k, v := range snapshot {
			if !fn(k, v) {
				return
			}
		}
	}
}
