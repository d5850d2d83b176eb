package shardmap

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/elasticshard/shardmap/internal/shardmaperr"
	"github.com/elasticshard/shardmap/pkg/keys"
	"github.com/elasticshard/shardmap/pkg/model"
	"github.com/elasticshard/shardmap/pkg/opengine"
	"github.com/elasticshard/shardmap/pkg/storeapi"
)

// Split divides existing at splitKey into two mappings on the same shard,
// both carrying a fresh ID. Range shard maps only.
func (sm *ShardMap) Split(ctx context.Context, existing model.Mapping, splitKey keys.Key) (model.Mapping, model.Mapping, error) {
	if sm.meta.Kind != model.KindRange {
		return model.Mapping{}, model.Mapping{}, shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeInvalidArgument, "split requires a Range shard map")
	}
	raw := splitKey.Bytes()
	if bytes.Compare(raw, existing.Low) <= 0 || (existing.High != nil && bytes.Compare(raw, existing.High) >= 0) {
		return model.Mapping{}, model.Mapping{}, shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeInvalidArgument, "split point must fall strictly inside the mapping")
	}

	left := model.Mapping{ID: uuid.NewString(), ShardMapID: sm.meta.ID, ShardID: existing.ShardID, Low: existing.Low, High: raw, Status: existing.Status, LockOwner: existing.LockOwner}
	right := model.Mapping{ID: uuid.NewString(), ShardMapID: sm.meta.ID, ShardID: existing.ShardID, Low: raw, High: existing.High, Status: existing.Status, LockOwner: existing.LockOwner}

	opID := sm.newOperationID()
	local, err := sm.openLocal(ctx, existing.ShardID)
	if err != nil {
		return model.Mapping{}, model.Mapping{}, err
	}

	p := opengine.Phases{
		OperationID: opID,
		Code:        model.OpSplitMapping,
		GlobalPre: func(ctx context.Context) error {
			return sm.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
				if _, ok := tx.GetMapping(sm.meta.ID, existing.ID); !ok {
					return shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeMappingDoesNotExist, "mapping does not exist")
				}
				tx.DeleteMapping(sm.meta.ID, existing.ID)
				tx.PutMapping(sm.meta.ID, left)
				tx.PutMapping(sm.meta.ID, right)
				tx.PutPendingLog(model.PendingLogEntry{
					OperationID:    opID,
					Code:           model.OpSplitMapping,
					UndoStartState: model.UndoLocalSource,
					Intent:         marshalIntent([]model.Mapping{existing, left, right}),
				})
				return nil
			})
		},
		LocalSource: func(ctx context.Context) error {
			return local.RunInTransaction(ctx, func(tx storeapi.LocalTxn) error {
				updated := removeMapping(tx.ListMappings(sm.meta.ID), existing.ID)
				tx.ReplaceMappings(sm.meta.ID, append(updated, left, right))
				return nil
			})
		},
		GlobalPost: func(ctx context.Context) error {
			return sm.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
				tx.DeletePendingLog(opID)
				return nil
			})
		},
		UpdateCache: func() {
			now := time.Now()
			sm.cache.Remove(sm.meta.ID, existing.Low)
			sm.cache.AddOrUpdate(sm.meta.ID, left, now, model.OverwriteExistingTTL)
			sm.cache.AddOrUpdate(sm.meta.ID, right, now, model.OverwriteExistingTTL)
		},
		UndoLocalSource: func(ctx context.Context) error {
			return local.RunInTransaction(ctx, func(tx storeapi.LocalTxn) error {
				updated := removeMapping(removeMapping(tx.ListMappings(sm.meta.ID), left.ID), right.ID)
				tx.ReplaceMappings(sm.meta.ID, append(updated, existing))
				return nil
			})
		},
		UndoGlobalPost: func(ctx context.Context) error {
			return sm.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
				tx.DeleteMapping(sm.meta.ID, left.ID)
				tx.DeleteMapping(sm.meta.ID, right.ID)
				tx.PutMapping(sm.meta.ID, existing)
				tx.DeletePendingLog(opID)
				return nil
			})
		},
	}

	if err := sm.engine.Execute(ctx, p); err != nil {
		return model.Mapping{}, model.Mapping{}, err
	}
	return left, right, nil
}

// Merge combines two adjacent mappings on the same shard into one. Range
// shard maps only; both mappings must share a shard, a lock owner, and a
// status — merged inherits that status and lock owner.
func (sm *ShardMap) Merge(ctx context.Context, left, right model.Mapping) (model.Mapping, error) {
	if sm.meta.Kind != model.KindRange {
		return model.Mapping{}, shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeInvalidArgument, "merge requires a Range shard map")
	}
	if left.ShardID != right.ShardID {
		return model.Mapping{}, shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeInvalidArgument, "merge requires both mappings on the same shard")
	}
	if !toRange(left).AdjacentTo(toRange(right)) {
		return model.Mapping{}, shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeMappingRangesNotAdjacent, "mappings are not adjacent")
	}
	if left.LockOwner != right.LockOwner {
		return model.Mapping{}, shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeMappingLockMismatch, "merge requires both mappings to share the same lock owner")
	}
	if left.Status != right.Status {
		return model.Mapping{}, shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeInvalidArgument, "merge requires both mappings to share the same status")
	}

	merged := model.Mapping{ID: uuid.NewString(), ShardMapID: sm.meta.ID, ShardID: left.ShardID, Low: left.Low, High: right.High, Status: left.Status, LockOwner: left.LockOwner}

	opID := sm.newOperationID()
	local, err := sm.openLocal(ctx, left.ShardID)
	if err != nil {
		return model.Mapping{}, err
	}

	p := opengine.Phases{
		OperationID: opID,
		Code:        model.OpMergeMappings,
		GlobalPre: func(ctx context.Context) error {
			return sm.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
				curLeft, ok := tx.GetMapping(sm.meta.ID, left.ID)
				if !ok {
					return shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeMappingDoesNotExist, "left mapping does not exist")
				}
				curRight, ok := tx.GetMapping(sm.meta.ID, right.ID)
				if !ok {
					return shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeMappingDoesNotExist, "right mapping does not exist")
				}
				if curLeft.LockOwner != curRight.LockOwner {
					return shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeMappingLockMismatch, "merge requires both mappings to share the same lock owner")
				}
				tx.DeleteMapping(sm.meta.ID, left.ID)
				tx.DeleteMapping(sm.meta.ID, right.ID)
				tx.PutMapping(sm.meta.ID, merged)
				tx.PutPendingLog(model.PendingLogEntry{
					OperationID:    opID,
					Code:           model.OpMergeMappings,
					UndoStartState: model.UndoLocalSource,
					Intent:         marshalIntent([]model.Mapping{left, right, merged}),
				})
				return nil
			})
		},
		LocalSource: func(ctx context.Context) error {
			return local.RunInTransaction(ctx, func(tx storeapi.LocalTxn) error {
				updated := removeMapping(removeMapping(tx.ListMappings(sm.meta.ID), left.ID), right.ID)
				tx.ReplaceMappings(sm.meta.ID, append(updated, merged))
				return nil
			})
		},
		GlobalPost: func(ctx context.Context) error {
			return sm.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
				tx.DeletePendingLog(opID)
				return nil
			})
		},
		UpdateCache: func() {
			sm.cache.Remove(sm.meta.ID, left.Low)
			sm.cache.Remove(sm.meta.ID, right.Low)
			sm.cache.AddOrUpdate(sm.meta.ID, merged, time.Now(), model.OverwriteExistingTTL)
		},
		UndoLocalSource: func(ctx context.Context) error {
			return local.RunInTransaction(ctx, func(tx storeapi.LocalTxn) error {
				updated := removeMapping(tx.ListMappings(sm.meta.ID), merged.ID)
				tx.ReplaceMappings(sm.meta.ID, append(updated, left, right))
				return nil
			})
		},
		UndoGlobalPost: func(ctx context.Context) error {
			return sm.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
				tx.DeleteMapping(sm.meta.ID, merged.ID)
				tx.PutMapping(sm.meta.ID, left)
				tx.PutMapping(sm.meta.ID, right)
				tx.DeletePendingLog(opID)
				return nil
			})
		},
	}

	if err := sm.engine.Execute(ctx, p); err != nil {
		return model.Mapping{}, err
	}
	return merged, nil
}
