package shardmap

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/elasticshard/shardmap/internal/shardmaperr"
	"github.com/elasticshard/shardmap/pkg/keys"
	"github.com/elasticshard/shardmap/pkg/model"
	"github.com/elasticshard/shardmap/pkg/opengine"
	"github.com/elasticshard/shardmap/pkg/storeapi"
)

func toRange(m model.Mapping) keys.Range { return keys.NewRange(m.Low, m.High) }

func opCodeFor(kind model.ShardKind, base model.OperationCode, point model.OperationCode) model.OperationCode {
	if kind == model.KindList {
		return point
	}
	return base
}

// Add invokes the operation engine with Add*Mapping, per spec.md §4.E.
// Fails with MappingRangeAlreadyMapped, ShardDoesNotExist, or
// ShardMapDoesNotExist.
func (sm *ShardMap) Add(ctx context.Context, m model.Mapping) (model.Mapping, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.ShardMapID = sm.meta.ID
	opID := sm.newOperationID()
	code := opCodeFor(sm.meta.Kind, model.OpAddRangeMapping, model.OpAddPointMapping)

	var shardVersionBefore int64

	local, err := sm.openLocal(ctx, m.ShardID)
	if err != nil {
		return model.Mapping{}, err
	}

	p := opengine.Phases{
		OperationID: opID,
		Code:        code,
		GlobalPre: func(ctx context.Context) error {
			return sm.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
				if _, ok := tx.GetShardMapByID(sm.meta.ID); !ok {
					return shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeShardMapDoesNotExist, "shard map does not exist")
				}
				shard, ok := tx.GetShard(m.ShardID)
				if !ok {
					return shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeShardDoesNotExist, "shard does not exist")
				}
				if !shard.Status.IsOnline() {
					return shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeInvalidArgument, "shard is not online")
				}
				for _, existing := range tx.ListMappingsForMap(sm.meta.ID) {
					if toRange(existing).Intersects(toRange(m)) {
						return shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeMappingRangeAlreadyMapped, "mapping range already mapped")
					}
				}
				shardVersionBefore = shard.Version
				shard.Version++
				tx.PutShard(shard)
				tx.PutMapping(sm.meta.ID, m)
				tx.PutPendingLog(model.PendingLogEntry{
					OperationID:    opID,
					Code:           code,
					UndoStartState: model.UndoLocalSource,
					Intent:         marshalIntent(m),
					ShardVersions:  map[string]int64{shard.ID: shardVersionBefore},
				})
				return nil
			})
		},
		LocalSource: func(ctx context.Context) error {
			return local.RunInTransaction(ctx, func(tx storeapi.LocalTxn) error {
				existing := tx.ListMappings(sm.meta.ID)
				tx.ReplaceMappings(sm.meta.ID, append(existing, m))
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
			sm.cache.AddOrUpdate(sm.meta.ID, m, time.Now(), model.OverwriteExistingTTL)
		},
		UndoLocalSource: func(ctx context.Context) error {
			return local.RunInTransaction(ctx, func(tx storeapi.LocalTxn) error {
				tx.ReplaceMappings(sm.meta.ID, removeMapping(tx.ListMappings(sm.meta.ID), m.ID))
				return nil
			})
		},
		UndoGlobalPost: func(ctx context.Context) error {
			return sm.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
				tx.DeleteMapping(sm.meta.ID, m.ID)
				if shard, ok := tx.GetShard(m.ShardID); ok {
					shard.Version = shardVersionBefore
					tx.PutShard(shard)
				}
				tx.DeletePendingLog(opID)
				return nil
			})
		},
	}

	if err := sm.engine.Execute(ctx, p); err != nil {
		return model.Mapping{}, err
	}
	return m, nil
}

// Remove invokes RemoveRangeMapping/RemovePointMapping. Fails with
// MappingDoesNotExist or MappingLockMismatch.
func (sm *ShardMap) Remove(ctx context.Context, m model.Mapping, lockOwner model.LockOwnerID) error {
	code := opCodeFor(sm.meta.Kind, model.OpRemoveRangeMapping, model.OpRemovePointMapping)
	opID := sm.newOperationID()
	var shardVersionBefore int64
	var removed model.Mapping

	local, err := sm.openLocal(ctx, m.ShardID)
	if err != nil {
		return err
	}

	p := opengine.Phases{
		OperationID: opID,
		Code:        code,
		GlobalPre: func(ctx context.Context) error {
			return sm.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
				existing, ok := tx.GetMapping(sm.meta.ID, m.ID)
				if !ok {
					return shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeMappingDoesNotExist, "mapping does not exist")
				}
				if !existing.LockAllows(lockOwner) {
					return shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeMappingLockMismatch, "mapping is locked by another owner")
				}
				removed = existing
				shard, ok := tx.GetShard(existing.ShardID)
				if ok {
					shardVersionBefore = shard.Version
					shard.Version++
					tx.PutShard(shard)
				}
				tx.DeleteMapping(sm.meta.ID, m.ID)
				tx.PutPendingLog(model.PendingLogEntry{
					OperationID:    opID,
					Code:           code,
					UndoStartState: model.UndoLocalSource,
					Intent:         marshalIntent(existing),
					ShardVersions:  map[string]int64{existing.ShardID: shardVersionBefore},
				})
				return nil
			})
		},
		LocalSource: func(ctx context.Context) error {
			return local.RunInTransaction(ctx, func(tx storeapi.LocalTxn) error {
				tx.ReplaceMappings(sm.meta.ID, removeMapping(tx.ListMappings(sm.meta.ID), m.ID))
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
			sm.cache.Remove(sm.meta.ID, m.Low)
		},
		UndoLocalSource: func(ctx context.Context) error {
			return local.RunInTransaction(ctx, func(tx storeapi.LocalTxn) error {
				existing := tx.ListMappings(sm.meta.ID)
				tx.ReplaceMappings(sm.meta.ID, append(existing, removed))
				return nil
			})
		},
		UndoGlobalPost: func(ctx context.Context) error {
			return sm.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
				tx.PutMapping(sm.meta.ID, removed)
				if shard, ok := tx.GetShard(removed.ShardID); ok {
					shard.Version = shardVersionBefore
					tx.PutShard(shard)
				}
				tx.DeletePendingLog(opID)
				return nil
			})
		},
	}

	return sm.engine.Execute(ctx, p)
}

// Update applies update to existing. The shard changes only when
// update.ShardID is non-empty; Status and LockOwner are always taken from
// update, so a caller that changes only one of them passes the current
// value of the other. A shard change is a move and drives both
// LocalSource (old shard) and LocalTarget (new shard) phases.
func (sm *ShardMap) Update(ctx context.Context, existing model.Mapping, update model.Mapping, lockOwner model.LockOwnerID) (model.Mapping, error) {
	code := opCodeFor(sm.meta.Kind, model.OpUpdateRangeMapping, model.OpUpdatePointMapping)
	opID := sm.newOperationID()

	next := existing
	if update.ShardID != "" {
		next.ShardID = update.ShardID
	}
	next.Status = update.Status
	next.LockOwner = update.LockOwner

	isMove := next.ShardID != existing.ShardID
	var shardVersionsBefore = map[string]int64{}

	sourceLocal, err := sm.openLocal(ctx, existing.ShardID)
	if err != nil {
		return model.Mapping{}, err
	}
	var targetLocal storeapi.LocalStore
	if isMove {
		targetLocal, err = sm.openLocal(ctx, next.ShardID)
		if err != nil {
			return model.Mapping{}, err
		}
	}

	p := opengine.Phases{
		OperationID: opID,
		Code:        code,
		GlobalPre: func(ctx context.Context) error {
			return sm.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
				cur, ok := tx.GetMapping(sm.meta.ID, existing.ID)
				if !ok {
					return shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeMappingDoesNotExist, "mapping does not exist")
				}
				if !cur.LockAllows(lockOwner) {
					return shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeMappingLockMismatch, "mapping is locked by another owner")
				}
				if isMove {
					if targetShard, ok := tx.GetShard(next.ShardID); !ok {
						return shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeShardDoesNotExist, "target shard does not exist")
					} else if !targetShard.Status.IsOnline() {
						return shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeInvalidArgument, "target shard is not online")
					}
				}

				for _, shardID := range uniqueIDs(existing.ShardID, next.ShardID) {
					if shard, ok := tx.GetShard(shardID); ok {
						shardVersionsBefore[shardID] = shard.Version
						shard.Version++
						tx.PutShard(shard)
					}
				}

				tx.PutMapping(sm.meta.ID, next)
				tx.PutPendingLog(model.PendingLogEntry{
					OperationID:    opID,
					Code:           code,
					UndoStartState: model.UndoLocalSource,
					Intent:         marshalIntent(next),
					ShardVersions:  shardVersionsBefore,
				})
				return nil
			})
		},
		LocalSource: func(ctx context.Context) error {
			return sourceLocal.RunInTransaction(ctx, func(tx storeapi.LocalTxn) error {
				if isMove {
					tx.ReplaceMappings(sm.meta.ID, removeMapping(tx.ListMappings(sm.meta.ID), existing.ID))
				} else {
					updated := removeMapping(tx.ListMappings(sm.meta.ID), existing.ID)
					tx.ReplaceMappings(sm.meta.ID, append(updated, next))
				}
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
			sm.cache.AddOrUpdate(sm.meta.ID, next, time.Now(), model.OverwriteExistingTTL)
		},
		UndoLocalSource: func(ctx context.Context) error {
			return sourceLocal.RunInTransaction(ctx, func(tx storeapi.LocalTxn) error {
				updated := removeMapping(tx.ListMappings(sm.meta.ID), existing.ID)
				tx.ReplaceMappings(sm.meta.ID, append(updated, existing))
				return nil
			})
		},
		UndoGlobalPost: func(ctx context.Context) error {
			return sm.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
				tx.PutMapping(sm.meta.ID, existing)
				for shardID, before := range shardVersionsBefore {
					if shard, ok := tx.GetShard(shardID); ok {
						shard.Version = before
						tx.PutShard(shard)
					}
				}
				tx.DeletePendingLog(opID)
				return nil
			})
		},
	}

	if isMove {
		p.LocalTarget = func(ctx context.Context) error {
			return targetLocal.RunInTransaction(ctx, func(tx storeapi.LocalTxn) error {
				tx.ReplaceMappings(sm.meta.ID, append(tx.ListMappings(sm.meta.ID), next))
				return nil
			})
		}
		p.UndoLocalTarget = func(ctx context.Context) error {
			return targetLocal.RunInTransaction(ctx, func(tx storeapi.LocalTxn) error {
				tx.ReplaceMappings(sm.meta.ID, removeMapping(tx.ListMappings(sm.meta.ID), next.ID))
				return nil
			})
		}
	}

	if err := sm.engine.Execute(ctx, p); err != nil {
		return model.Mapping{}, err
	}
	return next, nil
}

func removeMapping(list []model.Mapping, id string) []model.Mapping {
	out := list[:0]
	for _, m := range list {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}

func uniqueIDs(a, b string) []string {
	if a == b {
		return []string{a}
	}
	return []string{a, b}
}

func marshalIntent(v interface{}) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("shardmap: marshal intent should never fail: %v", err))
	}
	return raw
}
