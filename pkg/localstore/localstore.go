// Package localstore is the SQL-backed implementation of one shard's local
// catalog (the LSM): the mirror of mappings that reference that shard.
// It supports both Postgres (github.com/lib/pq) and MySQL
// (github.com/go-sql-driver/mysql), matching the teacher's dual-driver
// posture in pkg/schema and pkg/router.
package localstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cespare/xxhash/v2"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/elasticshard/shardmap/pkg/connfactory"
	"github.com/elasticshard/shardmap/pkg/model"
	"github.com/elasticshard/shardmap/pkg/storeapi"
)

type Store struct {
	db     *sql.DB
	driver connfactory.Driver
}

var _ storeapi.LocalStore = (*Store)(nil)

// Open connects to loc using driver and wraps it as a LocalStore.
func Open(ctx context.Context, loc model.ShardLocation, driver connfactory.Driver) (*Store, error) {
	f := connfactory.New(connfactory.Options{Driver: driver})
	db, err := f.Open(ctx, loc)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, driver: driver}, nil
}

// NewFromDB wraps an already-opened *sql.DB, used by tests against
// sqlmock or an in-memory driver.
func NewFromDB(db *sql.DB, driver connfactory.Driver) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storeapi.LocalTxn) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("localstore: begin transaction: %w", err)
	}

	lt := &sqlTxn{tx: tx, ctx: ctx, driver: s.driver}
	if err := fn(lt); err != nil {
		_ = tx.Rollback()
		return err
	}
	if lt.err != nil {
		_ = tx.Rollback()
		return lt.err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("localstore: commit: %w", err)
	}
	return nil
}

func placeholderFor(driver connfactory.Driver, n int) string {
	if driver == connfactory.DriverMySQL {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

func (s *Store) placeholder(n int) string { return placeholderFor(s.driver, n) }

func (s *Store) ListMappings(ctx context.Context, shardMapID string) ([]model.Mapping, error) {
	query := fmt.Sprintf(
		`SELECT id, shard_id, low_bound, high_bound, status, lock_owner
		 FROM shardmap_mappings WHERE shard_map_id = %s ORDER BY low_bound`,
		s.placeholder(1))
	rows, err := s.db.QueryContext(ctx, query, shardMapID)
	if err != nil {
		return nil, fmt.Errorf("localstore: list mappings: %w", err)
	}
	defer rows.Close()
	return scanMappings(rows, shardMapID)
}

// RowChecksum hashes the ordered mapping rows for shardMapID with
// xxhash — a cheap, non-cryptographic integrity check. It exists to catch
// replication drift between the GSM and this LSM, not to resist a
// deliberate adversary, so a collision-resistant hash is not required.
func (s *Store) RowChecksum(ctx context.Context, shardMapID string) (uint64, error) {
	mappings, err := s.ListMappings(ctx, shardMapID)
	if err != nil {
		return 0, err
	}
	h := xxhash.New()
	for _, m := range mappings {
		fmt.Fprintf(h, "%s|%s|%x|%x|%d|%s\n", m.ID, m.ShardID, m.Low, m.High, m.Status, m.LockOwner)
	}
	return h.Sum64(), nil
}

func (s *Store) Upgrade(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS shardmap_mappings (
		id VARCHAR(64) NOT NULL,
		shard_map_id VARCHAR(64) NOT NULL,
		shard_id VARCHAR(64) NOT NULL,
		low_bound VARBINARY(256) NOT NULL,
		high_bound VARBINARY(256),
		status INT NOT NULL,
		lock_owner VARCHAR(64) NOT NULL DEFAULT '',
		PRIMARY KEY (shard_map_id, id)
	)`
	if s.driver == connfactory.DriverPostgres {
		ddl = `CREATE TABLE IF NOT EXISTS shardmap_mappings (
			id VARCHAR(64) NOT NULL,
			shard_map_id VARCHAR(64) NOT NULL,
			shard_id VARCHAR(64) NOT NULL,
			low_bound BYTEA NOT NULL,
			high_bound BYTEA,
			status INT NOT NULL,
			lock_owner VARCHAR(64) NOT NULL DEFAULT '',
			PRIMARY KEY (shard_map_id, id)
		)`
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("localstore: create mappings table: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanMappings(rows rowScanner, shardMapID string) ([]model.Mapping, error) {
	var out []model.Mapping
	for rows.Next() {
		var m model.Mapping
		var status int
		var lockOwner string
		var high []byte
		if err := rows.Scan(&m.ID, &m.ShardID, &m.Low, &high, &status, &lockOwner); err != nil {
			return nil, fmt.Errorf("localstore: scan mapping: %w", err)
		}
		m.ShardMapID = shardMapID
		m.High = high
		m.Status = model.MappingStatus(status)
		m.LockOwner = model.LockOwnerID(lockOwner)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
