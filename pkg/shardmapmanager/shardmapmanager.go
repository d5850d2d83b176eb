// Package shardmapmanager is the top-level entry point from spec.md §4.H:
// it owns the global catalog, bootstraps or upgrades its bookkeeping
// schema, and hands out ShardMap handles. Grounded on the teacher's
// pkg/schema.Manager (checksum/version-gated migration bookkeeping,
// repurposed here from application schema rows to the GSM's own
// shard-map/shard/mapping/pending-log tables) and pkg/manager.Manager
// (request-validate-then-operation shape for the catalog CRUD surface).
package shardmapmanager

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elasticshard/shardmap/internal/shardmaperr"
	"github.com/elasticshard/shardmap/pkg/cache"
	"github.com/elasticshard/shardmap/pkg/config"
	"github.com/elasticshard/shardmap/pkg/logging"
	"github.com/elasticshard/shardmap/pkg/model"
	"github.com/elasticshard/shardmap/pkg/recovery"
	"github.com/elasticshard/shardmap/pkg/shardmap"
	"github.com/elasticshard/shardmap/pkg/storeapi"
)

// Manager is one open handle on a global catalog. It is safe for
// concurrent use; Close closes the global store that every ShardMap
// handle it has returned shares (see Close).
type Manager struct {
	global    storeapi.GlobalStore
	localOpen shardmap.LocalStoreFactory
	opts      config.Options
	logger    *zap.Logger

	cache    *cache.Store
	recovery *recovery.Manager

	mu     sync.Mutex
	closed bool
}

// Create bootstraps a brand-new global catalog's bookkeeping schema and
// returns a Manager over it. It is equivalent to Open with replayPendingLog
// false, except it is an error for the catalog to already contain a shard
// map — Create is for provisioning, Open is for reattaching to an existing
// deployment.
func Create(ctx context.Context, global storeapi.GlobalStore, localOpen shardmap.LocalStoreFactory, opts config.Options, logCfg logging.Config) (*Manager, error) {
	m, err := newManager(ctx, global, localOpen, opts, logCfg)
	if err != nil {
		return nil, err
	}
	existing, err := global.ListShardMaps(ctx)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, shardmaperr.New(shardmaperr.CategoryShardMapManager, shardmaperr.CodeInvalidArgument, "catalog already contains shard maps; use Open")
	}
	return m, nil
}

// Open attaches to an existing global catalog, upgrading its bookkeeping
// schema in place if it predates this build. When replayPendingLog is
// true, Open drives recovery of unfinished pending-log entries before
// returning — per spec.md §4.H, "drives recovery of unfinished
// pending-log entries on open (if the caller asks)".
func Open(ctx context.Context, global storeapi.GlobalStore, localOpen shardmap.LocalStoreFactory, opts config.Options, logCfg logging.Config, replayPendingLog bool) (*Manager, error) {
	m, err := newManager(ctx, global, localOpen, opts, logCfg)
	if err != nil {
		return nil, err
	}
	if replayPendingLog {
		if err := m.ReplayPendingLog(ctx); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func newManager(ctx context.Context, global storeapi.GlobalStore, localOpen shardmap.LocalStoreFactory, opts config.Options, logCfg logging.Config) (*Manager, error) {
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, shardmaperr.Wrap(err, shardmaperr.CategoryShardMapManager, shardmaperr.CodeInvalidArgument, "build logger")
	}
	opts = opts.WithDefaults()

	if err := global.Upgrade(ctx); err != nil {
		return nil, shardmaperr.Wrap(err, shardmaperr.CategoryShardMapManager, shardmaperr.CodeStorageOperationFailure, "upgrade global catalog schema")
	}

	cacheStore := cache.New("shardmapmanager", opts.CacheMaxTTL)
	return &Manager{
		global:    global,
		localOpen: localOpen,
		opts:      opts,
		logger:    logger,
		cache:     cacheStore,
		recovery:  recovery.New(global, recovery.LocalStoreFactory(localOpen), cacheStore, logger),
	}, nil
}

// Recovery returns the attach/detach/reconcile surface over this
// manager's catalog; see pkg/recovery.
func (m *Manager) Recovery() *recovery.Manager { return m.recovery }

// ListShardMaps returns every shard map registered in the global catalog.
func (m *Manager) ListShardMaps(ctx context.Context) ([]model.ShardMap, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	return m.global.ListShardMaps(ctx)
}

// GetShardMap resolves name under the manager's configured NameComparer
// and returns an open handle on it.
func (m *Manager) GetShardMap(ctx context.Context, name string) (*shardmap.ShardMap, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if sm, ok := m.cache.GetShardMap(name); ok {
		return shardmap.New(sm, m.global, m.localOpen, m.cache, m.opts, m.logger), nil
	}

	all, err := m.global.ListShardMaps(ctx)
	if err != nil {
		return nil, err
	}
	for _, sm := range all {
		if m.opts.NameComparer(sm.Name, name) {
			m.cache.PutShardMap(name, sm)
			return shardmap.New(sm, m.global, m.localOpen, m.cache, m.opts, m.logger), nil
		}
	}
	return nil, shardmaperr.New(shardmaperr.CategoryShardMapManager, shardmaperr.CodeShardMapDoesNotExist, "shard map does not exist")
}

// CreateShardMap registers a new, initially shard-less shard map. The name
// must be unique under the manager's NameComparer.
func (m *Manager) CreateShardMap(ctx context.Context, name string, kind model.ShardKind, keyKind model.KeyKind) (*shardmap.ShardMap, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	sm := model.ShardMap{ID: uuid.NewString(), Name: name, Kind: kind, KeyKind: keyKind}

	// GlobalTxn's name lookup follows the backing store's own name index
	// (pkg/globalstore lower-cases names), which need not agree with the
	// NameComparer the caller configured, so uniqueness under the comparer
	// is checked against a snapshot read first. The check inside the
	// transaction is the authoritative guard against a concurrent create
	// of a name that the store's index treats as the same.
	existing, err := m.global.ListShardMaps(ctx)
	if err != nil {
		return nil, err
	}
	for _, sm := range existing {
		if m.opts.NameComparer(sm.Name, name) {
			return nil, shardmaperr.New(shardmaperr.CategoryShardMapManager, shardmaperr.CodeShardMapExists, "shard map already exists")
		}
	}

	err = m.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
		if _, ok := tx.GetShardMap(name); ok {
			return shardmaperr.New(shardmaperr.CategoryShardMapManager, shardmaperr.CodeShardMapExists, "shard map already exists")
		}
		tx.PutShardMap(sm)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.cache.PutShardMap(name, sm)
	return shardmap.New(sm, m.global, m.localOpen, m.cache, m.opts, m.logger), nil
}

// DeleteShardMap removes name and every shard and mapping it owns from
// the global catalog. It does not touch any shard's local mirror; callers
// that still have shards attached should DetachShard each one first.
func (m *Manager) DeleteShardMap(ctx context.Context, name string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	var shardMapID string
	err := m.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
		sm, ok := tx.GetShardMap(name)
		if !ok {
			return shardmaperr.New(shardmaperr.CategoryShardMapManager, shardmaperr.CodeShardMapDoesNotExist, "shard map does not exist")
		}
		shardMapID = sm.ID
		for _, mp := range tx.ListMappingsForMap(sm.ID) {
			tx.DeleteMapping(sm.ID, mp.ID)
		}
		for _, sh := range tx.ListShardsForMap(sm.ID) {
			tx.DeleteShard(sh.ID)
		}
		tx.DeleteShardMap(sm.ID)
		return nil
	})
	if err != nil {
		return err
	}
	m.cache.RemoveShardMap(name)
	m.cache.InvalidateAll(shardMapID)
	return nil
}

func (m *Manager) checkOpen() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return shardmaperr.New(shardmaperr.CategoryShardMapManager, shardmaperr.CodeInvalidArgument, "manager is closed")
	}
	return nil
}

// Close stops the recovery manager and closes the global store. ShardMap
// handles previously returned by GetShardMap/CreateShardMap share that
// store, so their catalog reads and writes fail once it is closed; they
// are not otherwise marked invalid, and a lookup answered from the cache
// still succeeds. The manager itself refuses further catalog CRUD calls.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if err := m.recovery.Close(); err != nil {
		return err
	}
	return m.global.Close()
}
