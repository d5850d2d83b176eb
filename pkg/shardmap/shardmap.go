// Package shardmap implements the public List/Range shard-map surface
// from spec.md §4.E: Lookup/TryLookup through the cache, Add/Remove/Update
// through the operation engine, and the Range-only Split/Merge. Grounded
// on the teacher's pkg/manager.Manager (request-validate-then-operation
// shape).
package shardmap

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elasticshard/shardmap/internal/shardmaperr"
	"github.com/elasticshard/shardmap/pkg/cache"
	"github.com/elasticshard/shardmap/pkg/config"
	"github.com/elasticshard/shardmap/pkg/connfactory"
	"github.com/elasticshard/shardmap/pkg/model"
	"github.com/elasticshard/shardmap/pkg/opengine"
	"github.com/elasticshard/shardmap/pkg/retry"
	"github.com/elasticshard/shardmap/pkg/storeapi"
)

// LocalStoreFactory opens (or returns a pooled) LocalStore for a shard
// location, used by ShardMap to reach the shard currently holding (or
// about to hold) a mapping.
type LocalStoreFactory func(ctx context.Context, loc model.ShardLocation) (storeapi.LocalStore, error)

// ShardMap is one open handle on a shard map. The manager owns its
// lifetime; its cache slot is owned by the handle itself per spec.md §3.
type ShardMap struct {
	meta model.ShardMap

	global    storeapi.GlobalStore
	localOpen LocalStoreFactory
	cache     *cache.Store
	engine    *opengine.Engine
	connFact  connfactory.Factory
	logger    *zap.Logger
}

func New(meta model.ShardMap, global storeapi.GlobalStore, localOpen LocalStoreFactory, cacheStore *cache.Store, opts config.Options, logger *zap.Logger) *ShardMap {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShardMap{
		meta:      meta,
		global:    global,
		localOpen: localOpen,
		cache:     cacheStore,
		engine:    opengine.New(retry.Policy{MaxAttempts: opts.RetryPolicy.MaxAttempts, InitialDelay: opts.RetryPolicy.InitialDelay, MaxDelay: opts.RetryPolicy.MaxDelay}, logger),
		connFact:  opts.ConnectionFactory,
		logger:    logger,
	}
}

func (sm *ShardMap) Meta() model.ShardMap { return sm.meta }

func (sm *ShardMap) newOperationID() string { return uuid.NewString() }

func (sm *ShardMap) shardLocation(ctx context.Context, shardID string) (model.ShardLocation, error) {
	shard, ok, err := sm.global.GetShard(ctx, shardID)
	if err != nil {
		return model.ShardLocation{}, err
	}
	if !ok {
		return model.ShardLocation{}, shardmaperr.New(shardmaperr.CategoryShardMap, shardmaperr.CodeShardDoesNotExist, fmt.Sprintf("shard %s does not exist", shardID))
	}
	return shard.Location, nil
}

func (sm *ShardMap) openLocal(ctx context.Context, shardID string) (storeapi.LocalStore, error) {
	loc, err := sm.shardLocation(ctx, shardID)
	if err != nil {
		return nil, err
	}
	return sm.localOpen(ctx, loc)
}
