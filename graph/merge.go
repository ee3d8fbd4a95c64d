package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brunobiangulo/nexus/store"
)

// MergeSummary reports what one merge pass changed in the session graph.
type MergeSummary struct {
	NodesAdded       int `json:"nodes_added"`
	EdgesAdded       int `json:"edges_added"`
	DanglingDropped  int `json:"dangling_dropped"`
	SelfLoopsDropped int `json:"self_loops_dropped"`
}

// Merger folds extraction records into the persistent session graph,
// deduplicating against everything merged before.
type Merger struct {
	store *store.Store
}

// NewMerger creates a merge engine over the given store.
func NewMerger(s *store.Store) *Merger {
	return &Merger{store: s}
}

// Merge upserts every candidate entity and relationship of rec into the
// session graph. Dedup is per session: a candidate whose normalized name
// and type already exist reuses the stored node, filling its description
// only when the stored one is empty. Relationship endpoints are resolved
// by name against this record's entities first, then against the stored
// session graph; unresolvable edges and self-loops are dropped and
// counted, never errors. Merging the same record twice is a no-op.
func (m *Merger) Merge(ctx context.Context, rec *ExtractionRecord, sessionID, queryID string) (*MergeSummary, error) {
	summary := &MergeSummary{}
	if rec == nil || rec.Empty() {
		return summary, nil
	}

	// name -> stored ID for endpoint resolution. When the same normalized
	// name appears under several types, the first merged wins, matching
	// record order.
	ids := make(map[string]int64, rec.TotalEntities())

	for _, entityType := range EntityTypes {
		for _, cand := range rec.TypedEntities()[entityType] {
			name := NormalizeName(cand.Name)
			if name == "" {
				continue
			}
			id, created, err := m.store.UpsertEntity(ctx, store.Entity{
				Name:        name,
				DisplayName: strings.TrimSpace(cand.Name),
				EntityType:  entityType,
				Description: strings.TrimSpace(cand.Description),
				SessionID:   sessionID,
				QueryID:     queryID,
			})
			if err != nil {
				return nil, fmt.Errorf("merging entity %q: %w", name, err)
			}
			if created {
				summary.NodesAdded++
			}
			if _, seen := ids[name]; !seen {
				ids[name] = id
			}
		}
	}

	for _, rel := range rec.Relationships {
		src := NormalizeName(rel.Source)
		tgt := NormalizeName(rel.Target)

		srcID, ok := m.resolve(ctx, ids, sessionID, src)
		if !ok {
			summary.DanglingDropped++
			slog.Debug("graph: dropping dangling relationship", "source", src, "target", tgt)
			continue
		}
		tgtID, ok := m.resolve(ctx, ids, sessionID, tgt)
		if !ok {
			summary.DanglingDropped++
			slog.Debug("graph: dropping dangling relationship", "source", src, "target", tgt)
			continue
		}
		if srcID == tgtID {
			summary.SelfLoopsDropped++
			continue
		}

		_, created, err := m.store.CreateOrGetRelationship(ctx, store.Relationship{
			SourceID:     srcID,
			TargetID:     tgtID,
			RelationType: rel.RelationType,
			SessionID:    sessionID,
			QueryID:      queryID,
		})
		if err != nil {
			return nil, fmt.Errorf("merging relationship %s-[%s]->%s: %w", src, rel.RelationType, tgt, err)
		}
		if created {
			summary.EdgesAdded++
		}
	}

	return summary, nil
}

// resolve maps a normalized name to a stored entity ID, first through this
// record's entities, then through the wider session graph so edges can
// attach to nodes merged by earlier lessons.
func (m *Merger) resolve(ctx context.Context, ids map[string]int64, sessionID, name string) (int64, bool) {
	if id, ok := ids[name]; ok {
		return id, true
	}
	matches, err := m.store.FindEntitiesByName(ctx, sessionID, name)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Warn("graph: endpoint lookup failed", "name", name, "error", err)
		return 0, false
	}
	if len(matches) == 0 {
		return 0, false
	}
	ids[name] = matches[0].ID
	return matches[0].ID, true
}
