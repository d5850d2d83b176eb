package shardmapmanager

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/elasticshard/shardmap/internal/shardmaperr"
	"github.com/elasticshard/shardmap/pkg/model"
	"github.com/elasticshard/shardmap/pkg/storeapi"
)

// ReplayPendingLog handles pending-log entries left behind by an
// operation whose process died mid-flight, per spec.md §4.H and the crash
// scenario in §8. It works from the slot alone, without the in-process
// Undo closures, which died with the process that built them.
//
// Add and Remove are reversed exactly, since their Intent is the single
// mapping that fully describes the reverse action. Update's Intent is only
// the post-image; Split's and Merge's hold both the original and the new
// mappings, but replay does not reverse them either. For Update, Split,
// Merge and every other code ReplayPendingLog only clears the stale slot
// and logs a warning, leaving any resulting drift between the global
// catalog and a shard's local mirror for pkg/recovery's
// DetectMappingDifferences to find and repair.
func (m *Manager) ReplayPendingLog(ctx context.Context) error {
	entries, err := m.global.ListPendingLog(ctx)
	if err != nil {
		return shardmaperr.Wrap(err, shardmaperr.CategoryShardMapManager, shardmaperr.CodeStorageOperationFailure, "list pending log")
	}

	for _, entry := range entries {
		if err := m.replayOne(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) replayOne(ctx context.Context, entry model.PendingLogEntry) error {
	switch entry.Code {
	case model.OpAddRangeMapping, model.OpAddPointMapping:
		return m.replayUndoAdd(ctx, entry)
	case model.OpRemoveRangeMapping, model.OpRemovePointMapping:
		return m.replayUndoRemove(ctx, entry)
	default:
		m.logger.Warn("pending-log entry left from a crash cannot be exactly reversed; clearing it and deferring to reconciliation",
			zap.String("operation_id", entry.OperationID),
			zap.String("operation", entry.Code.String()),
		)
		return m.clearPendingLog(ctx, entry.OperationID)
	}
}

// replayUndoAdd reverses a crashed Add: Intent is the mapping that was
// added, so undo removes it from both the local mirror and the global
// catalog and restores the shard's pre-operation version.
func (m *Manager) replayUndoAdd(ctx context.Context, entry model.PendingLogEntry) error {
	var mp model.Mapping
	if err := json.Unmarshal(entry.Intent, &mp); err != nil {
		return shardmaperr.Wrap(err, shardmaperr.CategoryShardMapManager, shardmaperr.CodeInvalidArgument, "decode pending-log intent")
	}

	loc, err := m.shardLocationOf(ctx, mp.ShardID)
	if err == nil {
		local, lerr := m.localOpen(ctx, loc)
		if lerr == nil {
			_ = local.RunInTransaction(ctx, func(tx storeapi.LocalTxn) error {
				tx.ReplaceMappings(mp.ShardMapID, removeMapping(tx.ListMappings(mp.ShardMapID), mp.ID))
				return nil
			})
		}
	}

	return m.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
		tx.DeleteMapping(mp.ShardMapID, mp.ID)
		if before, ok := entry.ShardVersions[mp.ShardID]; ok {
			if shard, ok := tx.GetShard(mp.ShardID); ok {
				shard.Version = before
				tx.PutShard(shard)
			}
		}
		tx.DeletePendingLog(entry.OperationID)
		return nil
	})
}

// replayUndoRemove reverses a crashed Remove: Intent is the mapping as it
// stood before removal, so undo reinstates it on both sides and restores
// the shard's pre-operation version.
func (m *Manager) replayUndoRemove(ctx context.Context, entry model.PendingLogEntry) error {
	var mp model.Mapping
	if err := json.Unmarshal(entry.Intent, &mp); err != nil {
		return shardmaperr.Wrap(err, shardmaperr.CategoryShardMapManager, shardmaperr.CodeInvalidArgument, "decode pending-log intent")
	}

	loc, err := m.shardLocationOf(ctx, mp.ShardID)
	if err == nil {
		local, lerr := m.localOpen(ctx, loc)
		if lerr == nil {
			_ = local.RunInTransaction(ctx, func(tx storeapi.LocalTxn) error {
				rows := removeMapping(tx.ListMappings(mp.ShardMapID), mp.ID)
				tx.ReplaceMappings(mp.ShardMapID, append(rows, mp))
				return nil
			})
		}
	}

	return m.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
		tx.PutMapping(mp.ShardMapID, mp)
		if before, ok := entry.ShardVersions[mp.ShardID]; ok {
			if shard, ok := tx.GetShard(mp.ShardID); ok {
				shard.Version = before
				tx.PutShard(shard)
			}
		}
		tx.DeletePendingLog(entry.OperationID)
		return nil
	})
}

func (m *Manager) clearPendingLog(ctx context.Context, operationID string) error {
	return m.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
		tx.DeletePendingLog(operationID)
		return nil
	})
}

func (m *Manager) shardLocationOf(ctx context.Context, shardID string) (model.ShardLocation, error) {
	shard, ok, err := m.global.GetShard(ctx, shardID)
	if err != nil {
		return model.ShardLocation{}, err
	}
	if !ok {
		return model.ShardLocation{}, shardmaperr.New(shardmaperr.CategoryShardMapManager, shardmaperr.CodeShardDoesNotExist, "shard does not exist")
	}
	return shard.Location, nil
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
