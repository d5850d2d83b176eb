package globalstore

import (
	"encoding/json"
	"strings"

	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/elasticshard/shardmap/pkg/model"
	"github.com/elasticshard/shardmap/pkg/storeapi"
)

// stmTxn adapts an etcd concurrency.STM into storeapi.GlobalTxn. The index
// keys it maintains use a case-insensitive-ASCII normalization for shard
// map names; a caller configured with a different NameComparer is
// responsible for resolving name collisions before calling PutShardMap.
type stmTxn struct {
	stm concurrency.STM
}

var _ storeapi.GlobalTxn = (*stmTxn)(nil)

func normalizeName(name string) string { return strings.ToLower(name) }

func (t *stmTxn) getJSON(key string, out interface{}) bool {
	raw := t.stm.Get(key)
	if raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false
	}
	return true
}

func (t *stmTxn) putJSON(key string, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		panic("globalstore: marshal should never fail for internal types: " + err.Error())
	}
	t.stm.Put(key, string(raw))
}

func (t *stmTxn) getStringSlice(key string) []string {
	var out []string
	t.getJSON(key, &out)
	return out
}

func addToIndex(list []string, id string) []string {
	for _, v := range list {
		if v == id {
			return list
		}
	}
	return append(list, id)
}

func removeFromIndex(list []string, id string) []string {
	out := list[:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func (t *stmTxn) GetShardMap(name string) (model.ShardMap, bool) {
	id := t.stm.Get(shardMapNameKey(normalizeName(name)))
	if id == "" {
		return model.ShardMap{}, false
	}
	return t.GetShardMapByID(id)
}

func (t *stmTxn) GetShardMapByID(id string) (model.ShardMap, bool) {
	var sm model.ShardMap
	ok := t.getJSON(shardMapKey(id), &sm)
	return sm, ok
}

func (t *stmTxn) PutShardMap(sm model.ShardMap) {
	t.putJSON(shardMapKey(sm.ID), sm)
	t.stm.Put(shardMapNameKey(normalizeName(sm.Name)), sm.ID)

	ids := addToIndex(t.getStringSlice(shardMapListIndexKey()), sm.ID)
	t.putJSON(shardMapListIndexKey(), ids)
}

func (t *stmTxn) DeleteShardMap(id string) {
	sm, ok := t.GetShardMapByID(id)
	if ok {
		t.stm.Del(shardMapNameKey(normalizeName(sm.Name)))
	}
	t.stm.Del(shardMapKey(id))
	ids := removeFromIndex(t.getStringSlice(shardMapListIndexKey()), id)
	t.putJSON(shardMapListIndexKey(), ids)
}

func (t *stmTxn) GetShard(id string) (model.Shard, bool) {
	var s model.Shard
	ok := t.getJSON(shardKey(id), &s)
	return s, ok
}

func (t *stmTxn) ListShardsForMap(shardMapID string) []model.Shard {
	ids := t.getStringSlice(shardsForMapIndexKey(shardMapID))
	out := make([]model.Shard, 0, len(ids))
	for _, id := range ids {
		if s, ok := t.GetShard(id); ok {
			out = append(out, s)
		}
	}
	return out
}

func (t *stmTxn) PutShard(s model.Shard) {
	t.putJSON(shardKey(s.ID), s)
	ids := addToIndex(t.getStringSlice(shardsForMapIndexKey(s.ShardMapID)), s.ID)
	t.putJSON(shardsForMapIndexKey(s.ShardMapID), ids)
}

func (t *stmTxn) DeleteShard(id string) {
	s, ok := t.GetShard(id)
	t.stm.Del(shardKey(id))
	if ok {
		ids := removeFromIndex(t.getStringSlice(shardsForMapIndexKey(s.ShardMapID)), id)
		t.putJSON(shardsForMapIndexKey(s.ShardMapID), ids)
	}
}

func (t *stmTxn) GetMapping(shardMapID, id string) (model.Mapping, bool) {
	var m model.Mapping
	ok := t.getJSON(mappingKey(shardMapID, id), &m)
	return m, ok
}

func (t *stmTxn) ListMappingsForMap(shardMapID string) []model.Mapping {
	ids := t.getStringSlice(mappingsForMapIndexKey(shardMapID))
	out := make([]model.Mapping, 0, len(ids))
	for _, id := range ids {
		if m, ok := t.GetMapping(shardMapID, id); ok {
			out = append(out, m)
		}
	}
	return out
}

func (t *stmTxn) ListMappingsForShard(shardID string) []model.Mapping {
	ids := t.getStringSlice(mappingsForShardIndexKey(shardID))
	out := make([]model.Mapping, 0, len(ids))
	for _, ref := range ids {
		// ref is "shardMapID/mappingID"
		parts := strings.SplitN(ref, "/", 2)
		if len(parts) != 2 {
			continue
		}
		if m, ok := t.GetMapping(parts[0], parts[1]); ok {
			out = append(out, m)
		}
	}
	return out
}

func (t *stmTxn) PutMapping(shardMapID string, m model.Mapping) {
	t.putJSON(mappingKey(shardMapID, m.ID), m)

	mapIDs := addToIndex(t.getStringSlice(mappingsForMapIndexKey(shardMapID)), m.ID)
	t.putJSON(mappingsForMapIndexKey(shardMapID), mapIDs)

	ref := shardMapID + "/" + m.ID
	shardIDs := addToIndex(t.getStringSlice(mappingsForShardIndexKey(m.ShardID)), ref)
	t.putJSON(mappingsForShardIndexKey(m.ShardID), shardIDs)
}

func (t *stmTxn) DeleteMapping(shardMapID, id string) {
	m, ok := t.GetMapping(shardMapID, id)
	t.stm.Del(mappingKey(shardMapID, id))

	mapIDs := removeFromIndex(t.getStringSlice(mappingsForMapIndexKey(shardMapID)), id)
	t.putJSON(mappingsForMapIndexKey(shardMapID), mapIDs)

	if ok {
		ref := shardMapID + "/" + id
		shardIDs := removeFromIndex(t.getStringSlice(mappingsForShardIndexKey(m.ShardID)), ref)
		t.putJSON(mappingsForShardIndexKey(m.ShardID), shardIDs)
	}
}

func (t *stmTxn) GetPendingLog(operationID string) (model.PendingLogEntry, bool) {
	var e model.PendingLogEntry
	ok := t.getJSON(pendingLogKey(operationID), &e)
	return e, ok
}

func (t *stmTxn) PutPendingLog(e model.PendingLogEntry) {
	t.putJSON(pendingLogKey(e.OperationID), e)
	ids := addToIndex(t.getStringSlice(pendingLogListIndexKey()), e.OperationID)
	t.putJSON(pendingLogListIndexKey(), ids)
}

func (t *stmTxn) DeletePendingLog(operationID string) {
	t.stm.Del(pendingLogKey(operationID))
	ids := removeFromIndex(t.getStringSlice(pendingLogListIndexKey()), operationID)
	t.putJSON(pendingLogListIndexKey(), ids)
}
