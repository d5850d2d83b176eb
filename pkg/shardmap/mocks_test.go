package shardmap

import (
	"context"
	"sync"

	"github.com/elasticshard/shardmap/pkg/model"
	"github.com/elasticshard/shardmap/pkg/storeapi"
)

// mockGlobalStore is an in-memory storeapi.GlobalStore used across this
// package's tests. RunInTransaction copies its state, hands the copy to fn,
// and commits only if fn succeeds — close enough to STM's semantics for
// exercising the operation engine without etcd.
type mockGlobalStore struct {
	mu         sync.Mutex
	shardMaps  map[string]model.ShardMap // by ID
	shards     map[string]model.Shard
	mappings   map[string]map[string]model.Mapping // shardMapID -> id
	pendingLog map[string]model.PendingLogEntry
}

func newMockGlobalStore() *mockGlobalStore {
	return &mockGlobalStore{
		shardMaps:  map[string]model.ShardMap{},
		shards:     map[string]model.Shard{},
		mappings:   map[string]map[string]model.Mapping{},
		pendingLog: map[string]model.PendingLogEntry{},
	}
}

func (s *mockGlobalStore) RunInTransaction(ctx context.Context, fn func(tx storeapi.GlobalTxn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := &mockGlobalTxn{
		shardMaps:  cloneShardMaps(s.shardMaps),
		shards:     cloneShards(s.shards),
		mappings:   cloneMappingIndex(s.mappings),
		pendingLog: clonePendingLog(s.pendingLog),
	}
	if err := fn(txn); err != nil {
		return err
	}
	s.shardMaps = txn.shardMaps
	s.shards = txn.shards
	s.mappings = txn.mappings
	s.pendingLog = txn.pendingLog
	return nil
}

func (s *mockGlobalStore) GetShardMap(ctx context.Context, name string) (model.ShardMap, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sm := range s.shardMaps {
		if sm.Name == name {
			return sm, true, nil
		}
	}
	return model.ShardMap{}, false, nil
}

func (s *mockGlobalStore) ListShardMaps(ctx context.Context) ([]model.ShardMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ShardMap, 0, len(s.shardMaps))
	for _, sm := range s.shardMaps {
		out = append(out, sm)
	}
	return out, nil
}

func (s *mockGlobalStore) GetShard(ctx context.Context, shardID string) (model.Shard, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shards[shardID]
	return sh, ok, nil
}

func (s *mockGlobalStore) ListShardsForMap(ctx context.Context, shardMapID string) ([]model.Shard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Shard
	for _, sh := range s.shards {
		if sh.ShardMapID == shardMapID {
			out = append(out, sh)
		}
	}
	return out, nil
}

func (s *mockGlobalStore) ListMappingsForMap(ctx context.Context, shardMapID string) ([]model.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Mapping
	for _, m := range s.mappings[shardMapID] {
		out = append(out, m)
	}
	return out, nil
}

func (s *mockGlobalStore) ListMappingsForShard(ctx context.Context, shardID string) ([]model.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Mapping
	for _, byID := range s.mappings {
		for _, m := range byID {
			if m.ShardID == shardID {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (s *mockGlobalStore) ListPendingLog(ctx context.Context) ([]model.PendingLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PendingLogEntry
	for _, e := range s.pendingLog {
		out = append(out, e)
	}
	return out, nil
}

func (s *mockGlobalStore) GetPendingLog(ctx context.Context, operationID string) (model.PendingLogEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pendingLog[operationID]
	return e, ok, nil
}

func (s *mockGlobalStore) Upgrade(ctx context.Context) error { return nil }
func (s *mockGlobalStore) Close() error                      { return nil }

type mockGlobalTxn struct {
	shardMaps  map[string]model.ShardMap
	shards     map[string]model.Shard
	mappings   map[string]map[string]model.Mapping
	pendingLog map[string]model.PendingLogEntry
}

func (t *mockGlobalTxn) GetShardMap(name string) (model.ShardMap, bool) {
	for _, sm := range t.shardMaps {
		if sm.Name == name {
			return sm, true
		}
	}
	return model.ShardMap{}, false
}

func (t *mockGlobalTxn) GetShardMapByID(id string) (model.ShardMap, bool) {
	sm, ok := t.shardMaps[id]
	return sm, ok
}

func (t *mockGlobalTxn) PutShardMap(sm model.ShardMap) { t.shardMaps[sm.ID] = sm }
func (t *mockGlobalTxn) DeleteShardMap(id string)      { delete(t.shardMaps, id) }

func (t *mockGlobalTxn) GetShard(id string) (model.Shard, bool) {
	sh, ok := t.shards[id]
	return sh, ok
}

func (t *mockGlobalTxn) ListShardsForMap(shardMapID string) []model.Shard {
	var out []model.Shard
	for _, sh := range t.shards {
		if sh.ShardMapID == shardMapID {
			out = append(out, sh)
		}
	}
	return out
}

func (t *mockGlobalTxn) PutShard(s model.Shard) { t.shards[s.ID] = s }
func (t *mockGlobalTxn) DeleteShard(id string)  { delete(t.shards, id) }

func (t *mockGlobalTxn) GetMapping(shardMapID, id string) (model.Mapping, bool) {
	m, ok := t.mappings[shardMapID][id]
	return m, ok
}

func (t *mockGlobalTxn) ListMappingsForMap(shardMapID string) []model.Mapping {
	var out []model.Mapping
	for _, m := range t.mappings[shardMapID] {
		out = append(out, m)
	}
	return out
}

func (t *mockGlobalTxn) ListMappingsForShard(shardID string) []model.Mapping {
	var out []model.Mapping
	for _, byID := range t.mappings {
		for _, m := range byID {
			if m.ShardID == shardID {
				out = append(out, m)
			}
		}
	}
	return out
}

func (t *mockGlobalTxn) PutMapping(shardMapID string, m model.Mapping) {
	if t.mappings[shardMapID] == nil {
		t.mappings[shardMapID] = map[string]model.Mapping{}
	}
	t.mappings[shardMapID][m.ID] = m
}

func (t *mockGlobalTxn) DeleteMapping(shardMapID, id string) {
	delete(t.mappings[shardMapID], id)
}

func (t *mockGlobalTxn) GetPendingLog(operationID string) (model.PendingLogEntry, bool) {
	e, ok := t.pendingLog[operationID]
	return e, ok
}

func (t *mockGlobalTxn) PutPendingLog(e model.PendingLogEntry) { t.pendingLog[e.OperationID] = e }
func (t *mockGlobalTxn) DeletePendingLog(operationID string)   { delete(t.pendingLog, operationID) }

func cloneShardMaps(in map[string]model.ShardMap) map[string]model.ShardMap {
	out := make(map[string]model.ShardMap, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneShards(in map[string]model.Shard) map[string]model.Shard {
	out := make(map[string]model.Shard, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneMappingIndex(in map[string]map[string]model.Mapping) map[string]map[string]model.Mapping {
	out := make(map[string]map[string]model.Mapping, len(in))
	for k, v := range in {
		inner := make(map[string]model.Mapping, len(v))
		for ik, iv := range v {
			inner[ik] = iv
		}
		out[k] = inner
	}
	return out
}

func clonePendingLog(in map[string]model.PendingLogEntry) map[string]model.PendingLogEntry {
	out := make(map[string]model.PendingLogEntry, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// mockLocalStore is an in-memory storeapi.LocalStore, one per shard
// location, keyed by the test harness.
type mockLocalStore struct {
	mu       sync.Mutex
	mappings map[string][]model.Mapping // shardMapID -> mappings
}

func newMockLocalStore() *mockLocalStore {
	return &mockLocalStore{mappings: map[string][]model.Mapping{}}
}

func (l *mockLocalStore) RunInTransaction(ctx context.Context, fn func(tx storeapi.LocalTxn) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	copyMap := make(map[string][]model.Mapping, len(l.mappings))
	for k, v := range l.mappings {
		copyMap[k] = append([]model.Mapping{}, v...)
	}
	txn := &mockLocalTxn{mappings: copyMap}
	if err := fn(txn); err != nil {
		return err
	}
	l.mappings = txn.mappings
	return nil
}

func (l *mockLocalStore) ListMappings(ctx context.Context, shardMapID string) ([]model.Mapping, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Mapping{}, l.mappings[shardMapID]...), nil
}

func (l *mockLocalStore) RowChecksum(ctx context.Context, shardMapID string) (uint64, error) {
	return uint64(len(l.mappings[shardMapID])), nil
}

func (l *mockLocalStore) Upgrade(ctx context.Context) error { return nil }
func (l *mockLocalStore) Close() error                      { return nil }

type mockLocalTxn struct {
	mappings map[string][]model.Mapping
}

func (t *mockLocalTxn) ListMappings(shardMapID string) []model.Mapping {
	return append([]model.Mapping{}, t.mappings[shardMapID]...)
}

func (t *mockLocalTxn) ReplaceMappings(shardMapID string, mappings []model.Mapping) {
	t.mappings[shardMapID] = mappings
}

// localRegistry maps a shard location to its mockLocalStore, giving tests a
// LocalStoreFactory plus direct access for assertions.
type localRegistry struct {
	mu     sync.Mutex
	stores map[string]*mockLocalStore
}

func newLocalRegistry() *localRegistry {
	return &localRegistry{stores: map[string]*mockLocalStore{}}
}

func (r *localRegistry) factory() LocalStoreFactory {
	return func(ctx context.Context, loc model.ShardLocation) (storeapi.LocalStore, error) {
		return r.get(loc), nil
	}
}

func (r *localRegistry) get(loc model.ShardLocation) *mockLocalStore {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := loc.Server + "/" + loc.Database
	s, ok := r.stores[key]
	if !ok {
		s = newMockLocalStore()
		r.stores[key] = s
	}
	return s
}
