// Package storeapi defines the narrow storage interfaces the rest of this
// module programs against: a transactional GlobalStore (the GSM) and a
// transactional LocalStore (one per shard, the LSM). Concrete
// implementations live in pkg/globalstore and pkg/localstore; tests use
// hand-written mocks of these interfaces rather than a live backend.
package storeapi

import (
	"context"

	"github.com/elasticshard/shardmap/pkg/model"
)

// GlobalTxn is the read/write surface available inside one global-catalog
// transaction. Every method reads or writes the transaction's own
// in-memory view; nothing is visible outside the transaction until it
// commits, and nothing commits partially.
type GlobalTxn interface {
	GetShardMap(name string) (model.ShardMap, bool)
	GetShardMapByID(id string) (model.ShardMap, bool)
	PutShardMap(sm model.ShardMap)
	DeleteShardMap(id string)

	GetShard(id string) (model.Shard, bool)
	ListShardsForMap(shardMapID string) []model.Shard
	PutShard(s model.Shard)
	DeleteShard(id string)

	GetMapping(shardMapID, id string) (model.Mapping, bool)
	ListMappingsForMap(shardMapID string) []model.Mapping
	ListMappingsForShard(shardID string) []model.Mapping
	PutMapping(shardMapID string, m model.Mapping)
	DeleteMapping(shardMapID, id string)

	GetPendingLog(operationID string) (model.PendingLogEntry, bool)
	PutPendingLog(e model.PendingLogEntry)
	DeletePendingLog(operationID string)
}

// GlobalStore is the transactional interface to the global catalog: shard
// maps, shards, mappings, and the pending-operation log.
type GlobalStore interface {
	// RunInTransaction executes fn against a serializable transaction; the
	// store retries fn on optimistic-concurrency conflicts (the Go analog
	// of the spec's "arbitrarily many reads/writes compose atomically"
	// requirement). fn's returned error aborts the transaction without
	// retry and is returned to the caller unchanged.
	RunInTransaction(ctx context.Context, fn func(tx GlobalTxn) error) error

	// Snapshot reads, outside any transaction, used to populate the cache
	// and to answer Recovery's read-only queries.
	GetShardMap(ctx context.Context, name string) (model.ShardMap, bool, error)
	ListShardMaps(ctx context.Context) ([]model.ShardMap, error)
	GetShard(ctx context.Context, shardID string) (model.Shard, bool, error)
	ListShardsForMap(ctx context.Context, shardMapID string) ([]model.Shard, error)
	ListMappingsForMap(ctx context.Context, shardMapID string) ([]model.Mapping, error)
	ListMappingsForShard(ctx context.Context, shardID string) ([]model.Mapping, error)
	ListPendingLog(ctx context.Context) ([]model.PendingLogEntry, error)
	GetPendingLog(ctx context.Context, operationID string) (model.PendingLogEntry, bool, error)

	// Upgrade brings the global catalog's own bookkeeping schema to the
	// current version. It must be idempotent and replay-safe.
	Upgrade(ctx context.Context) error

	Close() error
}

// LocalTxn is the read/write surface inside one local-catalog transaction.
type LocalTxn interface {
	ListMappings(shardMapID string) []model.Mapping
	ReplaceMappings(shardMapID string, mappings []model.Mapping)
}

// LocalStore is the transactional interface to one shard's local catalog
// mirror of mappings referencing that shard.
type LocalStore interface {
	RunInTransaction(ctx context.Context, fn func(tx LocalTxn) error) error

	ListMappings(ctx context.Context, shardMapID string) ([]model.Mapping, error)

	// RowChecksum returns an opaque integrity token for the local mapping
	// row set of shardMapID. No code in this module calls it; pkg/recovery
	// detects drift by comparing mapping rows. It is not a persistence
	// contract and may change version to version.
	RowChecksum(ctx context.Context, shardMapID string) (uint64, error)

	Upgrade(ctx context.Context) error
	Close() error
}
