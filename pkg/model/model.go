// Package model holds the shared value types passed between every other
// package in this module: shard locations, shards, shard maps, mappings,
// lock owners, pending-log entries and cache entries. Nothing in this
// package talks to a store; it only describes shapes and the small amount
// of comparison/validation logic that is intrinsic to the shape itself.
package model

import (
	"strings"
	"time"
)

// ShardKind distinguishes a List shard map (single-point mappings) from a
// Range shard map (arbitrary half-open ranges).
type ShardKind int

const (
	KindList ShardKind = iota
	KindRange
)

func (k ShardKind) String() string {
	switch k {
	case KindList:
		return "List"
	case KindRange:
		return "Range"
	default:
		return "Unknown"
	}
}

// KeyKind identifies the typed key space a shard map is partitioned over.
type KeyKind int

const (
	KeyInt32 KeyKind = iota
	KeyInt64
	KeyGuid
	KeyBinary
	KeyDateTime
	KeyDateTimeOffset
	KeyTimeSpan
)

func (k KeyKind) String() string {
	switch k {
	case KeyInt32:
		return "Int32"
	case KeyInt64:
		return "Int64"
	case KeyGuid:
		return "Guid"
	case KeyBinary:
		return "Binary"
	case KeyDateTime:
		return "DateTime"
	case KeyDateTimeOffset:
		return "DateTimeOffset"
	case KeyTimeSpan:
		return "TimeSpan"
	default:
		return "Unknown"
	}
}

// ShardStatus is a bit-set; only Online permits mapping writes that
// reference the shard.
type ShardStatus uint32

const (
	ShardOffline ShardStatus = 0
	ShardOnline  ShardStatus = 1 << iota
)

func (s ShardStatus) IsOnline() bool { return s&ShardOnline != 0 }

// MappingStatus is the lifecycle state of a single mapping.
type MappingStatus int

const (
	MappingOffline MappingStatus = iota
	MappingOnline
)

func (s MappingStatus) String() string {
	if s == MappingOnline {
		return "Online"
	}
	return "Offline"
}

// ShardLocation identifies one backend catalog by server and database name.
// Two locations are equal iff both fields compare equal case-insensitively;
// use Equal rather than ==.
type ShardLocation struct {
	Server   string
	Database string
}

func (l ShardLocation) Equal(o ShardLocation) bool {
	return strings.EqualFold(l.Server, o.Server) && strings.EqualFold(l.Database, o.Database)
}

func (l ShardLocation) String() string {
	return l.Server + "/" + l.Database
}

// Shard is uniquely identified by ID; Version increases monotonically on
// every metadata change, including any Add/Remove/Update of a mapping that
// references it.
type Shard struct {
	ID          string
	ShardMapID  string
	Location    ShardLocation
	Status      ShardStatus
	Version     int64
	CreatedUTC  time.Time
	UpdatedUTC  time.Time
}

// ShardMap is a named partitioning scheme. Names are unique within the
// global catalog under the manager's configured NameComparer.
type ShardMap struct {
	ID      string
	Name    string
	Kind    ShardKind
	KeyKind KeyKind
}

// LockOwnerID is an opaque identifier a client presents to gate mutation of
// a locked mapping. The zero value is the well-known "no lock" sentinel.
type LockOwnerID string

const NoLock LockOwnerID = ""

// Mapping binds a half-open key range [Low, High) within one shard map to
// exactly one shard. For List maps High is Low's immediate successor.
type Mapping struct {
	ID         string
	ShardMapID string
	ShardID    string
	Low        []byte
	High       []byte
	Status     MappingStatus
	LockOwner  LockOwnerID
}

func (m Mapping) IsLocked() bool { return m.LockOwner != NoLock }

// LockAllows reports whether a caller presenting owner may mutate m.
func (m Mapping) LockAllows(owner LockOwnerID) bool {
	return m.LockOwner == NoLock || m.LockOwner == owner
}

// OperationCode enumerates every operation the engine can execute. Each
// value is handled by exactly one phase-callback set in pkg/opengine.
type OperationCode int

const (
	OpAddShardMap OperationCode = iota
	OpRemoveShardMap
	OpAddShard
	OpUpdateShard
	OpRemoveShard
	OpAttachShard
	OpDetachShard
	OpAddRangeMapping
	OpAddPointMapping
	OpUpdateRangeMapping
	OpUpdatePointMapping
	OpRemoveRangeMapping
	OpRemovePointMapping
	OpSplitMapping
	OpMergeMappings
	OpReplaceMappings
	OpLockMapping
	OpUnlockMapping
	OpAddSchemaInfo
	OpRemoveSchemaInfo
	OpUpdateSchemaInfo
	OpUpgradeStore
)

func (c OperationCode) String() string {
	names := [...]string{
		"AddShardMap", "RemoveShardMap", "AddShard", "UpdateShard", "RemoveShard",
		"AttachShard", "DetachShard", "AddRangeMapping", "AddPointMapping",
		"UpdateRangeMapping", "UpdatePointMapping", "RemoveRangeMapping",
		"RemovePointMapping", "SplitMapping", "MergeMappings", "ReplaceMappings",
		"LockMapping", "UnlockMapping", "AddSchemaInfo", "RemoveSchemaInfo",
		"UpdateSchemaInfo", "UpgradeStore",
	}
	if int(c) < 0 || int(c) >= len(names) {
		return "Unknown"
	}
	return names[c]
}

// UndoPhase names the earliest undo phase that must be replayed for an
// in-flight operation. Operations record it in their pending-log entry;
// ReplayPendingLog does not read it.
type UndoPhase int

const (
	UndoNone UndoPhase = iota
	UndoGlobalPost
	UndoLocalSource
	UndoLocalTarget
)

func (p UndoPhase) String() string {
	switch p {
	case UndoNone:
		return "None"
	case UndoGlobalPost:
		return "UndoGlobalPost"
	case UndoLocalSource:
		return "UndoLocalSource"
	case UndoLocalTarget:
		return "UndoLocalTarget"
	default:
		return "Unknown"
	}
}

// PendingLogEntry is written to the global catalog before multi-phase work
// begins and removed on completion. ReplayPendingLog reverses a leftover
// Add or Remove from its Intent; for any other operation code it clears
// the entry without replaying or reversing anything.
type PendingLogEntry struct {
	OperationID    string
	Code           OperationCode
	UndoStartState UndoPhase
	Intent         []byte
	ShardVersions  map[string]int64
}

// CacheEntry pairs a mapping with its cache bookkeeping. TTL is zero on a
// fresh miss-populated insert, doubles on each hit prior to expiry (capped),
// and resets to zero on explicit invalidation or refresh.
type CacheEntry struct {
	Mapping    Mapping
	CreatedAt  time.Time
	TTL        time.Duration
}

const MaxCacheTTL = 30 * time.Second

func (e CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// AddOrUpdatePolicy controls whether AddOrUpdate overwrites or preserves an
// existing cache entry's TTL.
type AddOrUpdatePolicy int

const (
	OverwriteExistingTTL AddOrUpdatePolicy = iota
	PreserveExistingTTL
)
