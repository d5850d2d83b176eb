package shardmap

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/elasticshard/shardmap/internal/shardmaperr"
	"github.com/elasticshard/shardmap/pkg/model"
	"github.com/elasticshard/shardmap/pkg/opengine"
	"github.com/elasticshard/shardmap/pkg/storeapi"
)

// AddShard registers a new shard under this shard map, per spec.md §4.C.
// Fails with ShardExists if shard.ID already names a shard.
func (sm *ShardMap) AddShard(ctx context.Context, shard model.Shard) (model.Shard, error) {
	if shard.ID == "" {
		shard.ID = uuid.NewString()
	}
	shard.ShardMapID = sm.meta.ID
	shard.Version = 1
	now := time.Now().UTC()
	shard.CreatedUTC = now
	shard.UpdatedUTC = now

	opID := sm.newOperationID()
	p := opengine.Phases{
		OperationID: opID,
		Code:        model.OpAddShard,
		GlobalPre: func(ctx context.Context) error {
			return sm.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
				if _, ok := tx.GetShard(shard.ID); ok {
					return shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeShardExists, "shard already exists")
				}
				tx.PutShard(shard)
				tx.PutPendingLog(model.PendingLogEntry{
					OperationID:    opID,
					Code:           model.OpAddShard,
					UndoStartState: model.UndoGlobalPost,
					Intent:         marshalIntent(shard),
				})
				return nil
			})
		},
		GlobalPost: func(ctx context.Context) error {
			return sm.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
				tx.DeletePendingLog(opID)
				return nil
			})
		},
		UndoGlobalPost: func(ctx context.Context) error {
			return sm.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
				tx.DeleteShard(shard.ID)
				tx.DeletePendingLog(opID)
				return nil
			})
		},
	}
	if err := sm.engine.Execute(ctx, p); err != nil {
		return model.Shard{}, err
	}
	return shard, nil
}

// UpdateShard changes a shard's status and/or location, enforcing
// optimistic concurrency on expected: the caller must pass the shard
// exactly as it last read it, including Version. If another client has
// already bumped the shard's version, UpdateShard fails with
// CodeStaleVersion and the caller must re-read and retry — this is the
// "version collision in global" tie-break spec.md §4.C requires.
func (sm *ShardMap) UpdateShard(ctx context.Context, expected model.Shard, status model.ShardStatus, loc model.ShardLocation) (model.Shard, error) {
	next := expected
	next.Status = status
	next.Location = loc
	next.Version = expected.Version + 1
	next.UpdatedUTC = time.Now().UTC()

	opID := sm.newOperationID()
	p := opengine.Phases{
		OperationID: opID,
		Code:        model.OpUpdateShard,
		GlobalPre: func(ctx context.Context) error {
			return sm.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
				cur, ok := tx.GetShard(expected.ID)
				if !ok {
					return shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeShardDoesNotExist, "shard does not exist")
				}
				if cur.Version != expected.Version {
					return shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeStaleVersion, "shard version changed since caller last read it; re-read and retry")
				}
				tx.PutShard(next)
				tx.PutPendingLog(model.PendingLogEntry{
					OperationID:    opID,
					Code:           model.OpUpdateShard,
					UndoStartState: model.UndoGlobalPost,
					Intent:         marshalIntent(cur),
				})
				return nil
			})
		},
		GlobalPost: func(ctx context.Context) error {
			return sm.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
				tx.DeletePendingLog(opID)
				return nil
			})
		},
		UndoGlobalPost: func(ctx context.Context) error {
			return sm.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
				tx.PutShard(expected)
				tx.DeletePendingLog(opID)
				return nil
			})
		},
	}
	if err := sm.engine.Execute(ctx, p); err != nil {
		return model.Shard{}, err
	}
	return next, nil
}

// RemoveShard deletes a shard. Fails with ShardHasMappings if any mapping
// still references it — callers must Remove or move every mapping off the
// shard first.
func (sm *ShardMap) RemoveShard(ctx context.Context, shardID string) error {
	opID := sm.newOperationID()
	var removed model.Shard

	p := opengine.Phases{
		OperationID: opID,
		Code:        model.OpRemoveShard,
		GlobalPre: func(ctx context.Context) error {
			return sm.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
				cur, ok := tx.GetShard(shardID)
				if !ok {
					return shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeShardDoesNotExist, "shard does not exist")
				}
				if len(tx.ListMappingsForShard(shardID)) > 0 {
					return shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeShardHasMappings, "shard still has mappings referencing it")
				}
				removed = cur
				tx.DeleteShard(shardID)
				tx.PutPendingLog(model.PendingLogEntry{
					OperationID:    opID,
					Code:           model.OpRemoveShard,
					UndoStartState: model.UndoGlobalPost,
					Intent:         marshalIntent(cur),
				})
				return nil
			})
		},
		GlobalPost: func(ctx context.Context) error {
			return sm.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
				tx.DeletePendingLog(opID)
				return nil
			})
		},
		UndoGlobalPost: func(ctx context.Context) error {
			return sm.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
				tx.PutShard(removed)
				tx.DeletePendingLog(opID)
				return nil
			})
		},
	}
	return sm.engine.Execute(ctx, p)
}
