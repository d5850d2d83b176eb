package shardmap

import (
	"context"
	"fmt"
	"time"

	"github.com/elasticshard/shardmap/internal/shardmaperr"
	"github.com/elasticshard/shardmap/pkg/keys"
	"github.com/elasticshard/shardmap/pkg/model"
)

// TryLookup returns the Online mapping covering key, or ok=false if none
// exists. It never returns an error for "not found"; use Lookup when a
// typed error is preferred.
func (sm *ShardMap) TryLookup(ctx context.Context, key keys.Key) (model.Mapping, bool, error) {
	raw := key.Bytes()
	now := time.Now()

	if m, hit := sm.cache.Lookup(sm.meta.ID, raw, now); hit {
		if m.Status != model.MappingOnline {
			return model.Mapping{}, false, nil
		}
		return m, true, nil
	}

	// Cache miss or expiry: fall through to the global catalog under the
	// Recovery error category, as spec.md §4.E specifies for this
	// read-only path.
	mappings, err := sm.global.ListMappingsForMap(ctx, sm.meta.ID)
	if err != nil {
		return model.Mapping{}, false, shardmaperr.Wrap(err, shardmaperr.CategoryRecovery, shardmaperr.CodeStorageOperationFailure, "lookup fallback read failed")
	}

	for _, m := range mappings {
		if keys.Compare(raw, m.Low) >= 0 && (m.High == nil || keys.Compare(raw, m.High) < 0) {
			sm.cache.AddOrUpdate(sm.meta.ID, m, now, model.OverwriteExistingTTL)
			if m.Status != model.MappingOnline {
				return model.Mapping{}, false, nil
			}
			return m, true, nil
		}
	}
	return model.Mapping{}, false, nil
}

// Lookup is TryLookup with typed failures: MappingNotFoundForKey if no
// mapping covers key, MappingIsOffline if the covering mapping is Offline.
func (sm *ShardMap) Lookup(ctx context.Context, key keys.Key) (model.Mapping, error) {
	raw := key.Bytes()
	now := time.Now()

	if m, hit := sm.cache.Lookup(sm.meta.ID, raw, now); hit {
		if m.Status != model.MappingOnline {
			return model.Mapping{}, shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeMappingIsOffline, fmt.Sprintf("mapping %s is offline", m.ID))
		}
		return m, nil
	}

	mappings, err := sm.global.ListMappingsForMap(ctx, sm.meta.ID)
	if err != nil {
		return model.Mapping{}, shardmaperr.Wrap(err, shardmaperr.CategoryRecovery, shardmaperr.CodeStorageOperationFailure, "lookup fallback read failed")
	}

	for _, m := range mappings {
		if keys.Compare(raw, m.Low) >= 0 && (m.High == nil || keys.Compare(raw, m.High) < 0) {
			sm.cache.AddOrUpdate(sm.meta.ID, m, now, model.OverwriteExistingTTL)
			if m.Status != model.MappingOnline {
				return model.Mapping{}, shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeMappingIsOffline, fmt.Sprintf("mapping %s is offline", m.ID))
			}
			return m, nil
		}
	}
	return model.Mapping{}, shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeMappingNotFoundForKey, "no mapping found for key")
}
