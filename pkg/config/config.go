// Package config holds the structured options accepted by
// shardmapmanager.Open. There is deliberately no file or environment
// loader here: configuration is passed as arguments by the caller.
package config

import (
	"strings"
	"time"

	"github.com/elasticshard/shardmap/pkg/connfactory"
)

// NameComparer compares two shard-map names for equality under whatever
// collation the caller wants. The default is case-insensitive ASCII.
type NameComparer func(a, b string) bool

// CaseInsensitiveASCII is the default NameComparer (spec's resolved open
// question).
func CaseInsensitiveASCII(a, b string) bool {
	return strings.EqualFold(a, b)
}

// RetryPolicy configures pkg/retry's exponential-backoff-with-jitter loop.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Credentials holds a username and password. Options carries them, but no
// code in this module reads them; pkg/connfactory's DSNs carry no
// credentials.
type Credentials struct {
	Username string
	Password string
}

// Options is the structured configuration value passed to
// shardmapmanager.Open: retry policy, connection factory, cache TTL cap,
// credentials and shard-map name comparer. There is no option for
// supplying a cache store or a store-operation factory; the manager
// always builds its own cache.
type Options struct {
	RetryPolicy RetryPolicy

	// ConnectionFactory hands back application connections after a
	// successful Lookup. Defaults to connfactory.Default() if nil.
	ConnectionFactory connfactory.Factory

	// CacheMaxTTL overrides the mapping cache's TTL cap (default 30s).
	CacheMaxTTL time.Duration

	Credentials Credentials

	// NameComparer governs shard-map name uniqueness and lookup.
	NameComparer NameComparer
}

// WithDefaults returns a copy of o with zero-valued fields replaced by
// this module's defaults.
func (o Options) WithDefaults() Options {
	out := o
	if out.RetryPolicy.MaxAttempts == 0 {
		out.RetryPolicy.MaxAttempts = 5
	}
	if out.RetryPolicy.InitialDelay == 0 {
		out.RetryPolicy.InitialDelay = 50 * time.Millisecond
	}
	if out.RetryPolicy.MaxDelay == 0 {
		out.RetryPolicy.MaxDelay = 5 * time.Second
	}
	if out.CacheMaxTTL == 0 {
		out.CacheMaxTTL = 30 * time.Second
	}
	if out.NameComparer == nil {
		out.NameComparer = CaseInsensitiveASCII
	}
	if out.ConnectionFactory == nil {
		out.ConnectionFactory = connfactory.Default()
	}
	return out
}
