// Package cache implements the in-memory mapping cache from spec.md §4.D:
// two stores, name→shard-map and (shard-map, key)→mapping, both guarded by
// one reader-writer lock (Lookup takes it exclusively, since a hit rewrites
// the entry's TTL), with per-entry TTL that doubles on hit (capped) and
// resets on invalidation or refresh. The ordered mapping index is a sorted
// slice searched with binary search, the same O(log n) technique as the
// teacher's vnode ring lookup.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/elasticshard/shardmap/pkg/keys"
	"github.com/elasticshard/shardmap/pkg/metrics"
	"github.com/elasticshard/shardmap/pkg/model"
)

// Store is one mapping cache, scoped to a single cache-store name supplied
// by the caller (used only to label observability metrics).
type Store struct {
	name string
	mu   sync.RWMutex

	shardMaps map[string]model.ShardMap // keyed by normalized name
	entries   map[string][]indexedEntry // keyed by shard-map id, sorted by Low
	maxTTL    time.Duration
}

type indexedEntry struct {
	low   []byte
	entry model.CacheEntry
}

func New(name string, maxTTL time.Duration) *Store {
	if maxTTL <= 0 {
		maxTTL = model.MaxCacheTTL
	}
	return &Store{
		name:      name,
		shardMaps: make(map[string]model.ShardMap),
		entries:   make(map[string][]indexedEntry),
		maxTTL:    maxTTL,
	}
}

// PutShardMap inserts or replaces the cached shard-map handle keyed by its
// normalized name.
func (s *Store) PutShardMap(normalizedName string, sm model.ShardMap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shardMaps[normalizedName] = sm
}

func (s *Store) GetShardMap(normalizedName string) (model.ShardMap, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sm, ok := s.shardMaps[normalizedName]
	return sm, ok
}

func (s *Store) RemoveShardMap(normalizedName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.shardMaps, normalizedName)
}

// Lookup returns the cache entry covering key in shardMapID, if present and
// unexpired. A hit doubles the entry's TTL (capped at maxTTL); an expired
// or absent entry is reported as a miss — the fast path's caller is
// responsible for falling through to the catalog and calling AddOrUpdate.
func (s *Store) Lookup(shardMapID string, key []byte, now time.Time) (model.Mapping, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.entries[shardMapID]
	idx := findCovering(list, key)
	if idx < 0 {
		metrics.CacheMisses.WithLabelValues(s.name, "absent").Inc()
		return model.Mapping{}, false
	}

	ie := list[idx]
	if ie.entry.Expired(now) {
		metrics.CacheMisses.WithLabelValues(s.name, "expired").Inc()
		return model.Mapping{}, false
	}

	newTTL := ie.entry.TTL * 2
	if newTTL == 0 {
		newTTL = time.Millisecond
	}
	if newTTL > s.maxTTL {
		newTTL = s.maxTTL
	}
	ie.entry.TTL = newTTL
	list[idx] = ie

	metrics.CacheHits.WithLabelValues(s.name).Inc()
	return ie.entry.Mapping, true
}

// AddOrUpdate inserts or replaces the cache entry for m. policy controls
// whether an existing entry's TTL is preserved or reset to zero.
func (s *Store) AddOrUpdate(shardMapID string, m model.Mapping, now time.Time, policy model.AddOrUpdatePolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.entries[shardMapID]
	idx := sort.Search(len(list), func(i int) bool { return keys.Compare(list[i].low, m.Low) >= 0 })

	ttl := time.Duration(0)
	if policy == model.PreserveExistingTTL && idx < len(list) && keys.Compare(list[idx].low, m.Low) == 0 {
		ttl = list[idx].entry.TTL
	}

	newEntry := indexedEntry{
		low: m.Low,
		entry: model.CacheEntry{
			Mapping:   m,
			CreatedAt: now,
			TTL:       ttl,
		},
	}

	if idx < len(list) && keys.Compare(list[idx].low, m.Low) == 0 {
		list[idx] = newEntry
	} else {
		list = append(list, indexedEntry{})
		copy(list[idx+1:], list[idx:])
		list[idx] = newEntry
	}
	s.entries[shardMapID] = list
}

// Remove deletes the cache entry whose low bound equals low, if any. An
// entry that covers low but starts below it is left in place.
func (s *Store) Remove(shardMapID string, low []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.entries[shardMapID]
	idx := sort.Search(len(list), func(i int) bool { return keys.Compare(list[i].low, low) >= 0 })
	if idx < len(list) && keys.Compare(list[idx].low, low) == 0 {
		s.entries[shardMapID] = append(list[:idx], list[idx+1:]...)
	}
}

// Invalidate resets the TTL of the entry covering key to zero, so every
// Lookup later than the entry's creation instant reports it as expired.
func (s *Store) Invalidate(shardMapID string, key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.entries[shardMapID]
	idx := findCovering(list, key)
	if idx >= 0 {
		list[idx].entry.TTL = 0
	}
}

// InvalidateAll drops every cached mapping for shardMapID, used after a
// rebuild or bulk resolve where per-entry invalidation is not worth the
// bookkeeping.
func (s *Store) InvalidateAll(shardMapID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, shardMapID)
}

// findCovering returns the index of the entry whose range covers key, or -1.
// list is sorted ascending by low bound; the covering entry is the last one
// whose low <= key (since ranges are disjoint and half-open, the found
// candidate's high bound is checked before confirming the hit).
func findCovering(list []indexedEntry, key []byte) int {
	i := sort.Search(len(list), func(i int) bool { return keys.Compare(list[i].low, key) > 0 })
	i--
	if i < 0 || i >= len(list) {
		return -1
	}
	high := list[i].entry.Mapping.High
	if high != nil && keys.Compare(key, high) >= 0 {
		return -1
	}
	return i
}
