package recovery

import (
	"context"

	"github.com/google/uuid"

	"github.com/elasticshard/shardmap/internal/shardmaperr"
	"github.com/elasticshard/shardmap/pkg/keys"
	"github.com/elasticshard/shardmap/pkg/metrics"
	"github.com/elasticshard/shardmap/pkg/model"
)

// DetectMappingDifferences implements the Diff algorithm from spec.md
// §4.F: it partitions the key space spanned by either side into maximal
// sub-ranges on which each side is constant, classifies each, and
// returns an opaque Token over the non-concordant ones.
func (m *Manager) DetectMappingDifferences(ctx context.Context, shardMapName string, loc model.ShardLocation) (Token, []Diff, error) {
	shard, err := m.shardForLocation(ctx, shardMapName, loc)
	if err != nil {
		return "", nil, err
	}

	local, err := m.localOpen(ctx, loc)
	if err != nil {
		return "", nil, err
	}
	localMappings, err := local.ListMappings(ctx, shard.ShardMapID)
	if err != nil {
		return "", nil, shardmaperr.Wrap(err, shardmaperr.CategoryRecovery, shardmaperr.CodeStorageOperationFailure, "read local mappings")
	}

	allGlobal, err := m.global.ListMappingsForMap(ctx, shard.ShardMapID)
	if err != nil {
		return "", nil, shardmaperr.Wrap(err, shardmaperr.CategoryRecovery, shardmaperr.CodeStorageOperationFailure, "read global mappings")
	}

	relevant := relevantGlobalMappings(allGlobal, shard.ID, localMappings)

	boundaries := boundaryPoints(append(append([]model.Mapping{}, relevant...), localMappings...))

	var diffs []Diff
	for i := 0; i+1 < len(boundaries); i++ {
		low, high := boundaries[i], boundaries[i+1]
		globalSide := coveringMapping(relevant, low, high)
		localSide := coveringMapping(localMappings, low, high)

		switch {
		case globalSide == nil && localSide == nil:
			continue
		case globalSide == nil && localSide != nil:
			diffs = append(diffs, Diff{Range: keys.NewRange(low, high), Classification: InShardOnly, ShardSide: localSide})
			metrics.ReconciliationConflicts.WithLabelValues(InShardOnly.String()).Inc()
		case globalSide != nil && localSide == nil:
			diffs = append(diffs, Diff{Range: keys.NewRange(low, high), Classification: InShardMapOnly, ShardMapSide: globalSide})
			metrics.ReconciliationConflicts.WithLabelValues(InShardMapOnly.String()).Inc()
		default:
			if globalSide.ID == localSide.ID {
				continue // concordant
			}
			diffs = append(diffs, Diff{Range: keys.NewRange(low, high), Classification: InBoth, ShardMapSide: globalSide, ShardSide: localSide})
			metrics.ReconciliationConflicts.WithLabelValues(InBoth.String()).Inc()
		}
	}

	token := Token(uuid.NewString())
	m.mu.Lock()
	m.tokens[token] = &tokenEntry{ShardMapID: shard.ShardMapID, ShardID: shard.ID, Location: loc, Diffs: diffs}
	m.mu.Unlock()

	return token, diffs, nil
}

// relevantGlobalMappings is the union of mappings referencing shardID and
// mappings intersecting any local mapping's range, per spec.md §4.F step 2.
func relevantGlobalMappings(all []model.Mapping, shardID string, local []model.Mapping) []model.Mapping {
	seen := map[string]bool{}
	var out []model.Mapping
	add := func(m model.Mapping) {
		if !seen[m.ID] {
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	for _, g := range all {
		if g.ShardID == shardID {
			add(g)
			continue
		}
		gr := keys.NewRange(g.Low, g.High)
		for _, l := range local {
			if gr.Intersects(keys.NewRange(l.Low, l.High)) {
				add(g)
				break
			}
		}
	}
	return out
}

// GetMappingDifferences returns the Diffs recorded under token, or false
// if the token is unknown or has already been resolved.
func (m *Manager) GetMappingDifferences(token Token) ([]Diff, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.tokens[token]
	if !ok {
		return nil, false
	}
	return entry.Diffs, true
}
