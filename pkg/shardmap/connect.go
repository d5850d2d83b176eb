package shardmap

import (
	"context"
	"database/sql"

	"github.com/elasticshard/shardmap/pkg/keys"
)

// OpenConnection resolves key to its covering Online mapping and opens a
// pooled connection to the shard that owns it, per spec.md §4.F. The
// returned *sql.DB is shared across callers for the same shard location;
// callers must not close it directly.
func (sm *ShardMap) OpenConnection(ctx context.Context, key keys.Key) (*sql.DB, error) {
	m, err := sm.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	loc, err := sm.shardLocation(ctx, m.ShardID)
	if err != nil {
		return nil, err
	}
	return sm.connFact.Open(ctx, loc)
}
