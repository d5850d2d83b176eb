package localstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/elasticshard/shardmap/pkg/connfactory"
	"github.com/elasticshard/shardmap/pkg/model"
	"github.com/elasticshard/shardmap/pkg/storeapi"
)

// sqlTxn adapts a *sql.Tx into storeapi.LocalTxn. ReplaceMappings does a
// delete-then-reinsert of the shard map's rows, matching the teacher's
// apply-migration-in-one-transaction pattern in pkg/schema.Manager.
type sqlTxn struct {
	tx     *sql.Tx
	ctx    context.Context
	driver connfactory.Driver
	err    error
}

var _ storeapi.LocalTxn = (*sqlTxn)(nil)

func (t *sqlTxn) fail(err error) {
	if t.err == nil {
		t.err = err
	}
}

func (t *sqlTxn) ListMappings(shardMapID string) []model.Mapping {
	if t.err != nil {
		return nil
	}
	query := fmt.Sprintf(
		`SELECT id, shard_id, low_bound, high_bound, status, lock_owner
		 FROM shardmap_mappings WHERE shard_map_id = %s ORDER BY low_bound`,
		placeholderFor(t.driver, 1))
	rows, err := t.tx.QueryContext(t.ctx, query, shardMapID)
	if err != nil {
		t.fail(fmt.Errorf("localstore: list mappings in tx: %w", err))
		return nil
	}
	defer rows.Close()
	mappings, err := scanMappings(rows, shardMapID)
	if err != nil {
		t.fail(err)
		return nil
	}
	return mappings
}

func (t *sqlTxn) ReplaceMappings(shardMapID string, mappings []model.Mapping) {
	if t.err != nil {
		return
	}
	deleteQuery := fmt.Sprintf(`DELETE FROM shardmap_mappings WHERE shard_map_id = %s`,
		placeholderFor(t.driver, 1))
	if _, err := t.tx.ExecContext(t.ctx, deleteQuery, shardMapID); err != nil {
		t.fail(fmt.Errorf("localstore: delete mappings in tx: %w", err))
		return
	}
	insertQuery := fmt.Sprintf(
		`INSERT INTO shardmap_mappings (id, shard_map_id, shard_id, low_bound, high_bound, status, lock_owner)
		 VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		placeholderFor(t.driver, 1), placeholderFor(t.driver, 2), placeholderFor(t.driver, 3),
		placeholderFor(t.driver, 4), placeholderFor(t.driver, 5), placeholderFor(t.driver, 6),
		placeholderFor(t.driver, 7))
	for _, m := range mappings {
		if _, err := t.tx.ExecContext(t.ctx, insertQuery,
			m.ID, shardMapID, m.ShardID, m.Low, m.High, int(m.Status), string(m.LockOwner)); err != nil {
			t.fail(fmt.Errorf("localstore: insert mapping in tx: %w", err))
			return
		}
	}
}
