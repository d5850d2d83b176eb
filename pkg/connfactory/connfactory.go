// Package connfactory is the default connection-issuance collaborator
// described in spec.md §6: it hands back an application connection after a
// successful ShardMap.Lookup, pooled per shard location. It never executes
// application queries itself — that is explicitly out of scope.
package connfactory

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/elasticshard/shardmap/pkg/model"
)

// Driver selects which database/sql driver name to use for a location.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Options configure a Factory's connection pooling.
type Options struct {
	Driver          Driver
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (o Options) withDefaults() Options {
	if o.Driver == "" {
		o.Driver = DriverPostgres
	}
	if o.MaxOpenConns == 0 {
		o.MaxOpenConns = 20
	}
	if o.MaxIdleConns == 0 {
		o.MaxIdleConns = o.MaxOpenConns / 2
	}
	if o.ConnMaxLifetime == 0 {
		o.ConnMaxLifetime = 5 * time.Minute
	}
	return o
}

// Factory opens and pools connections to shard locations.
type Factory interface {
	Open(ctx context.Context, loc model.ShardLocation) (*sql.DB, error)
	Close() error
}

// poolFactory is the default Factory: one *sql.DB pool per distinct
// location, created lazily and reused, matching the teacher's
// getConnection double-checked-locking pattern.
type poolFactory struct {
	opts  Options
	mu    sync.RWMutex
	pools map[model.ShardLocation]*sql.DB
}

// Default returns the default Factory, pooling Postgres connections.
func Default() Factory {
	return New(Options{})
}

func New(opts Options) Factory {
	return &poolFactory{opts: opts.withDefaults(), pools: make(map[model.ShardLocation]*sql.DB)}
}

func (f *poolFactory) Open(ctx context.Context, loc model.ShardLocation) (*sql.DB, error) {
	f.mu.RLock()
	db, ok := f.pools[loc]
	f.mu.RUnlock()
	if ok {
		if err := db.PingContext(ctx); err == nil {
			return db, nil
		}
		f.mu.Lock()
		delete(f.pools, loc)
		f.mu.Unlock()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if db, ok := f.pools[loc]; ok {
		return db, nil
	}

	db, err := sql.Open(string(f.opts.Driver), dsn(loc))
	if err != nil {
		return nil, fmt.Errorf("connfactory: open %s: %w", loc, err)
	}
	db.SetMaxOpenConns(f.opts.MaxOpenConns)
	db.SetMaxIdleConns(f.opts.MaxIdleConns)
	db.SetConnMaxLifetime(f.opts.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connfactory: ping %s: %w", loc, err)
	}

	f.pools[loc] = db
	return db, nil
}

func (f *poolFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for loc, db := range f.pools {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("connfactory: close %s: %w", loc, err)
		}
	}
	f.pools = make(map[model.ShardLocation]*sql.DB)
	return firstErr
}

func dsn(loc model.ShardLocation) string {
	return fmt.Sprintf("host=%s dbname=%s sslmode=disable", loc.Server, loc.Database)
}
