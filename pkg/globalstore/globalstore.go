// Package globalstore is the etcd-backed implementation of the global
// catalog (the GSM). Writes run inside concurrency.STM software
// transactional memory, giving the "arbitrarily many reads/writes compose
// atomically" requirement from spec.md §4.B — etcd's bare Txn only
// supports one compare against one set of ops, not an interactive
// read-modify-write sequence, so STM is the direct analog of a
// serializable SQL transaction for this backend.
package globalstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"

	"github.com/elasticshard/shardmap/pkg/model"
	"github.com/elasticshard/shardmap/pkg/storeapi"
)

type Store struct {
	client *clientv3.Client
	logger *zap.Logger
}

var _ storeapi.GlobalStore = (*Store)(nil)

// Options configures the etcd client used by Store.
type Options struct {
	Endpoints   []string
	DialTimeout time.Duration
}

func New(opts Options, logger *zap.Logger) (*Store, error) {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   opts.Endpoints,
		DialTimeout: opts.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("globalstore: create etcd client: %w", err)
	}
	return &Store{client: client, logger: logger}, nil
}

// NewFromClient wraps an already-constructed etcd client, used by tests
// against an embedded/mock etcd server.
func NewFromClient(client *clientv3.Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, logger: logger}
}

func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storeapi.GlobalTxn) error) error {
	var fnErr error
	_, err := concurrency.NewSTM(s.client, func(raw concurrency.STM) error {
		fnErr = fn(&stmTxn{stm: raw})
		return fnErr
	}, concurrency.WithAbortContext(ctx))
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return fmt.Errorf("globalstore: transaction failed: %w", err)
	}
	return nil
}

func (s *Store) getJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("globalstore: get %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(resp.Kvs[0].Value, out); err != nil {
		return false, fmt.Errorf("globalstore: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) getStringSlice(ctx context.Context, key string) ([]string, error) {
	var out []string
	ok, err := s.getJSON(ctx, key, &out)
	if err != nil || !ok {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetShardMap(ctx context.Context, name string) (model.ShardMap, bool, error) {
	// The name index holds the raw shard-map id (see stmTxn.PutShardMap),
	// not a JSON value.
	key := shardMapNameKey(normalizeName(name))
	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return model.ShardMap{}, false, fmt.Errorf("globalstore: get %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return model.ShardMap{}, false, nil
	}
	id := string(resp.Kvs[0].Value)
	var sm model.ShardMap
	ok, err := s.getJSON(ctx, shardMapKey(id), &sm)
	return sm, ok, err
}

func (s *Store) ListShardMaps(ctx context.Context) ([]model.ShardMap, error) {
	ids, err := s.getStringSlice(ctx, shardMapListIndexKey())
	if err != nil {
		return nil, err
	}
	out := make([]model.ShardMap, 0, len(ids))
	for _, id := range ids {
		var sm model.ShardMap
		if ok, err := s.getJSON(ctx, shardMapKey(id), &sm); err != nil {
			return nil, err
		} else if ok {
			out = append(out, sm)
		}
	}
	return out, nil
}

func (s *Store) GetShard(ctx context.Context, shardID string) (model.Shard, bool, error) {
	var sh model.Shard
	ok, err := s.getJSON(ctx, shardKey(shardID), &sh)
	return sh, ok, err
}

func (s *Store) ListShardsForMap(ctx context.Context, shardMapID string) ([]model.Shard, error) {
	ids, err := s.getStringSlice(ctx, shardsForMapIndexKey(shardMapID))
	if err != nil {
		return nil, err
	}
	out := make([]model.Shard, 0, len(ids))
	for _, id := range ids {
		var sh model.Shard
		if ok, err := s.getJSON(ctx, shardKey(id), &sh); err != nil {
			return nil, err
		} else if ok {
			out = append(out, sh)
		}
	}
	return out, nil
}

func (s *Store) ListMappingsForMap(ctx context.Context, shardMapID string) ([]model.Mapping, error) {
	ids, err := s.getStringSlice(ctx, mappingsForMapIndexKey(shardMapID))
	if err != nil {
		return nil, err
	}
	out := make([]model.Mapping, 0, len(ids))
	for _, id := range ids {
		var m model.Mapping
		if ok, err := s.getJSON(ctx, mappingKey(shardMapID, id), &m); err != nil {
			return nil, err
		} else if ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) ListMappingsForShard(ctx context.Context, shardID string) ([]model.Mapping, error) {
	refs, err := s.getStringSlice(ctx, mappingsForShardIndexKey(shardID))
	if err != nil {
		return nil, err
	}
	out := make([]model.Mapping, 0, len(refs))
	for _, ref := range refs {
		shardMapID, mappingID, ok := splitRef(ref)
		if !ok {
			continue
		}
		var m model.Mapping
		if ok, err := s.getJSON(ctx, mappingKey(shardMapID, mappingID), &m); err != nil {
			return nil, err
		} else if ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func splitRef(ref string) (shardMapID, mappingID string, ok bool) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '/' {
			return ref[:i], ref[i+1:], true
		}
	}
	return "", "", false
}

func (s *Store) ListPendingLog(ctx context.Context) ([]model.PendingLogEntry, error) {
	ids, err := s.getStringSlice(ctx, pendingLogListIndexKey())
	if err != nil {
		return nil, err
	}
	out := make([]model.PendingLogEntry, 0, len(ids))
	for _, id := range ids {
		var e model.PendingLogEntry
		if ok, err := s.getJSON(ctx, pendingLogKey(id), &e); err != nil {
			return nil, err
		} else if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) GetPendingLog(ctx context.Context, operationID string) (model.PendingLogEntry, bool, error) {
	var e model.PendingLogEntry
	ok, err := s.getJSON(ctx, pendingLogKey(operationID), &e)
	return e, ok, err
}

// Upgrade brings the catalog's own bookkeeping schema to
// currentSchemaVersion. It is idempotent: re-running it at the current
// version is a no-op, matching the teacher's migration-registry contract
// (pkg/schema.Manager.ApplyMigrations) repointed at GSM bookkeeping
// instead of application DDL.
func (s *Store) Upgrade(ctx context.Context) error {
	var version int
	_, err := s.getJSON(ctx, schemaVersionKey, &version)
	if err != nil {
		return err
	}
	if version >= currentSchemaVersion {
		return nil
	}
	raw, _ := json.Marshal(currentSchemaVersion)
	if _, err := s.client.Put(ctx, schemaVersionKey, string(raw)); err != nil {
		return fmt.Errorf("globalstore: write schema version: %w", err)
	}
	s.logger.Info("upgraded global catalog schema", zap.Int("version", currentSchemaVersion))
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
