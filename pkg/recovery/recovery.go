// Package recovery implements the diff-and-repair protocol from
// spec.md §4.F: attaching and detaching shards, detecting where a
// shard's local mapping rows disagree with the global catalog, and
// resolving or rebuilding those disagreements. It takes no cross-shard
// locks; its guarantees hold only when no concurrent write touches the
// same shard map during a reconciliation pass.
//
// Grounded on the teacher's pkg/resharder (precopy/cutover/validate
// phase skeleton, repurposed here from copying application rows to
// rewriting local mapping rows) and pkg/failover (periodic monitor
// loop, repurposed from health checks to a reconciliation sweep).
package recovery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/elasticshard/shardmap/internal/shardmaperr"
	"github.com/elasticshard/shardmap/pkg/cache"
	"github.com/elasticshard/shardmap/pkg/keys"
	"github.com/elasticshard/shardmap/pkg/model"
	"github.com/elasticshard/shardmap/pkg/storeapi"
)

// LocalStoreFactory opens the local catalog store for a shard location.
type LocalStoreFactory func(ctx context.Context, loc model.ShardLocation) (storeapi.LocalStore, error)

// Classification is the outcome of comparing one sub-range of the key
// space between the global catalog and a shard's local mirror.
type Classification int

const (
	// InShardMapOnly: the global catalog has a mapping over this range
	// but the shard's local mirror has none.
	InShardMapOnly Classification = iota
	// InShardOnly: the shard's local mirror has a mapping over this
	// range but the global catalog has none referencing this shard.
	InShardOnly
	// InBoth: both sides have a mapping over this range, with
	// different mapping ids (a genuine conflict; matching ids are
	// concordant and never recorded as a Diff).
	InBoth
)

func (c Classification) String() string {
	switch c {
	case InShardMapOnly:
		return "InShardMapOnly"
	case InShardOnly:
		return "InShardOnly"
	case InBoth:
		return "InBoth"
	default:
		return "Unknown"
	}
}

// Diff is one inconsistent sub-range found by DetectMappingDifferences.
type Diff struct {
	Range          keys.Range
	Classification Classification
	ShardMapSide   *model.Mapping // global catalog's mapping over Range, if any
	ShardSide      *model.Mapping // local mirror's mapping over Range, if any
}

// Token is an opaque handle to one DetectMappingDifferences result, held
// in process memory until Resolve clears it.
type Token string

type tokenEntry struct {
	ShardMapID string
	ShardID    string
	Location   model.ShardLocation
	Diffs      []Diff
}

// ResolutionStrategy selects which side of a Diff is authoritative.
type ResolutionStrategy int

const (
	// KeepShardMapMapping: the global catalog is truth; local rows for
	// the affected ranges are replaced with the global view.
	KeepShardMapMapping ResolutionStrategy = iota
	// KeepShardMapping: the local shard is truth; the global catalog is
	// replaced for the affected ranges.
	KeepShardMapping
	// Ignore discards the token without writing either side.
	Ignore
)

// Manager implements AttachShard/DetachShard and the diff-and-repair
// entry points against one global catalog.
type Manager struct {
	global    storeapi.GlobalStore
	localOpen LocalStoreFactory
	cache     *cache.Store // optional; invalidated after a resolve
	logger    *zap.Logger

	mu     sync.Mutex
	tokens map[Token]*tokenEntry

	sched *cron.Cron
}

func New(global storeapi.GlobalStore, localOpen LocalStoreFactory, cacheStore *cache.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		global:    global,
		localOpen: localOpen,
		cache:     cacheStore,
		logger:    logger,
		tokens:    map[Token]*tokenEntry{},
	}
}

func findShardByLocation(shards []model.Shard, loc model.ShardLocation) (model.Shard, bool) {
	for _, s := range shards {
		if s.Location.Equal(loc) {
			return s, true
		}
	}
	return model.Shard{}, false
}

// AttachShard registers location as a shard of shardMapName, creating a
// fresh shard record if none already points there, and silently upgrades
// any mapping rows already present on the shard's local catalog to the
// global catalog's current view for that shard — per spec.md §4.E this
// is a one-way sync, not a reconciliation; call DetectMappingDifferences
// afterward if the shard's local state may have diverged for other
// reasons.
func (m *Manager) AttachShard(ctx context.Context, shardMapName string, loc model.ShardLocation) (model.Shard, error) {
	var shard model.Shard
	var mappingsToMirror []model.Mapping

	err := m.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
		sm, ok := tx.GetShardMap(shardMapName)
		if !ok {
			return shardmaperr.New(shardmaperr.CategoryRecovery, shardmaperr.CodeShardMapDoesNotExist, "shard map does not exist")
		}
		now := time.Now().UTC()
		if existing, ok := findShardByLocation(tx.ListShardsForMap(sm.ID), loc); ok {
			existing.Status = model.ShardOnline
			existing.Version++
			existing.UpdatedUTC = now
			shard = existing
		} else {
			shard = model.Shard{
				ID:         uuid.NewString(),
				ShardMapID: sm.ID,
				Location:   loc,
				Status:     model.ShardOnline,
				Version:    1,
				CreatedUTC: now,
				UpdatedUTC: now,
			}
		}
		tx.PutShard(shard)
		mappingsToMirror = tx.ListMappingsForShard(shard.ID)
		return nil
	})
	if err != nil {
		return model.Shard{}, err
	}

	local, err := m.localOpen(ctx, loc)
	if err != nil {
		return model.Shard{}, err
	}
	err = local.RunInTransaction(ctx, func(tx storeapi.LocalTxn) error {
		tx.ReplaceMappings(shard.ShardMapID, mappingsToMirror)
		return nil
	})
	return shard, err
}

// DetachShard removes location from shardMapName: every mapping
// referencing the shard is deleted from the global catalog in the same
// transaction as the shard record itself, and the local mirror is
// cleared.
func (m *Manager) DetachShard(ctx context.Context, shardMapName string, loc model.ShardLocation) error {
	var shard model.Shard

	err := m.global.RunInTransaction(ctx, func(tx storeapi.GlobalTxn) error {
		sm, ok := tx.GetShardMap(shardMapName)
		if !ok {
			return shardmaperr.New(shardmaperr.CategoryRecovery, shardmaperr.CodeShardMapDoesNotExist, "shard map does not exist")
		}
		existing, ok := findShardByLocation(tx.ListShardsForMap(sm.ID), loc)
		if !ok {
			return shardmaperr.New(shardmaperr.CategoryRecovery, shardmaperr.CodeShardDoesNotExist, "shard does not exist")
		}
		shard = existing
		for _, mp := range tx.ListMappingsForShard(shard.ID) {
			tx.DeleteMapping(shard.ShardMapID, mp.ID)
		}
		tx.DeleteShard(shard.ID)
		return nil
	})
	if err != nil {
		return err
	}

	local, err := m.localOpen(ctx, loc)
	if err != nil {
		return err
	}
	return local.RunInTransaction(ctx, func(tx storeapi.LocalTxn) error {
		tx.ReplaceMappings(shard.ShardMapID, nil)
		return nil
	})
}

// Close stops the periodic reconciliation sweep, if one was started. It
// does not close the global or local stores, which the caller (typically
// pkg/shardmapmanager) owns.
func (m *Manager) Close() error {
	m.mu.Lock()
	sched := m.sched
	m.sched = nil
	m.mu.Unlock()
	if sched != nil {
		<-sched.Stop().Done()
	}
	return nil
}

func (m *Manager) shardForLocation(ctx context.Context, shardMapName string, loc model.ShardLocation) (model.Shard, error) {
	sm, ok, err := m.global.GetShardMap(ctx, shardMapName)
	if err != nil {
		return model.Shard{}, err
	}
	if !ok {
		return model.Shard{}, shardmaperr.New(shardmaperr.CategoryRecovery, shardmaperr.CodeShardMapDoesNotExist, "shard map does not exist")
	}
	shards, err := m.global.ListShardsForMap(ctx, sm.ID)
	if err != nil {
		return model.Shard{}, err
	}
	shard, ok := findShardByLocation(shards, loc)
	if !ok {
		return model.Shard{}, shardmaperr.New(shardmaperr.CategoryRecovery, shardmaperr.CodeShardDoesNotExist, "shard does not exist")
	}
	return shard, nil
}

func boundaryPoints(mappings []model.Mapping) [][]byte {
	var points [][]byte
	for _, m := range mappings {
		points = append(points, m.Low)
		if m.High != nil {
			points = append(points, m.High)
		}
	}
	sort.Slice(points, func(i, j int) bool { return keys.Compare(points[i], points[j]) < 0 })
	out := points[:0]
	for i, p := range points {
		if i == 0 || keys.Compare(p, out[len(out)-1]) != 0 {
			out = append(out, p)
		}
	}
	return out
}

func coveringMapping(mappings []model.Mapping, low, high []byte) *model.Mapping {
	for i := range mappings {
		r := keys.NewRange(mappings[i].Low, mappings[i].High)
		if keys.Compare(low, r.Low) >= 0 && (r.High == nil || keys.Compare(low, r.High) < 0) {
			return &mappings[i]
		}
	}
	return nil
}
