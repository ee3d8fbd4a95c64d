// Package retrieval selects the subgraph relevant to a learning query and
// renders it as bounded context for the explanation step. Matching is
// deterministic string similarity against stored entity names; there are no
// embeddings involved.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/brunobiangulo/nexus/llm"
	"github.com/brunobiangulo/nexus/store"
)

// ErrNoAnchors is returned when nothing in the session graph matches the
// query. Callers treat this as "the graph has no coverage here", not as a
// failure.
var ErrNoAnchors = errors.New("retrieval: no anchors matched")

const (
	defaultMaxAnchors    = 5
	defaultContextBudget = 4000
	neighborhoodLimit    = 50

	// Fuzzy matching tolerates small typos, but only on words long enough
	// that two edits cannot turn one term into an unrelated one.
	editDistanceMax = 2
	fuzzyMinLen     = 4
)

const keywordPrompt = `Extract the 2-3 most salient entity names from this learning query.
These should be specific concepts, topics, or subjects a knowledge graph node could be named after.
Return ONLY the names, comma-separated, nothing else.

Query: %s`

// Context is the outcome of one retrieval pass.
type Context struct {
	Keywords      []string          `json:"keywords"`
	Anchors       []store.Entity    `json:"anchors"`
	Relationships []store.GraphEdge `json:"relationships"`
	Rendered      string            `json:"rendered"`
}

// Engine matches queries against the session graph.
type Engine struct {
	store      *store.Store
	gen        llm.Provider
	maxAnchors int
	budget     int
}

// Option configures an Engine.
type Option func(*Engine)

// WithContextBudget caps the rendered context length in characters.
func WithContextBudget(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.budget = n
		}
	}
}

// WithMaxAnchors caps how many anchor entities a retrieval pass selects.
func WithMaxAnchors(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAnchors = n
		}
	}
}

// NewEngine creates a retrieval engine over the given store. The chat
// provider is used only for keyword extraction; when it fails, retrieval
// degrades to matching on the raw query terms.
func NewEngine(s *store.Store, gen llm.Provider, opts ...Option) *Engine {
	e := &Engine{
		store:      s,
		gen:        gen,
		maxAnchors: defaultMaxAnchors,
		budget:     defaultContextBudget,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve finds the anchors best matching the query inside a session,
// expands one hop around them, and renders the result within the context
// budget. queryID optionally restricts matching to one lesson's subgraph.
// Returns ErrNoAnchors when no entity matches any keyword, or when not
// even one anchor can be rendered within the budget.
func (e *Engine) Retrieve(ctx context.Context, query, sessionID, queryID string) (*Context, error) {
	keywords := e.keywords(ctx, query)

	entities, err := e.store.ListEntities(ctx, sessionID, queryID)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	degrees, err := e.store.EntityDegrees(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading degrees: %w", err)
	}

	anchors := rankAnchors(entities, keywords, degrees, e.maxAnchors)
	if len(anchors) == 0 {
		return nil, fmt.Errorf("%w: session %s", ErrNoAnchors, sessionID)
	}

	ids := make([]int64, len(anchors))
	for i, a := range anchors {
		ids[i] = a.ID
	}
	edges, err := e.store.Neighborhood(ctx, sessionID, ids, neighborhoodLimit)
	if err != nil {
		return nil, fmt.Errorf("expanding neighborhood: %w", err)
	}

	anchors, edges, rendered := fitBudget(anchors, edges, e.budget)
	if len(anchors) == 0 {
		return nil, fmt.Errorf("%w: no anchor fits a %d-char budget", ErrNoAnchors, e.budget)
	}

	slog.Debug("retrieval: context assembled",
		"session", sessionID,
		"keywords", keywords,
		"anchors", len(anchors),
		"edges", len(edges),
		"chars", len(rendered))

	return &Context{
		Keywords:      keywords,
		Anchors:       anchors,
		Relationships: edges,
		Rendered:      rendered,
	}, nil
}

// keywords asks the model for the query's salient entity names. Any
// failure falls back to the significant words of the query itself so that
// retrieval never depends on the model being up.
func (e *Engine) keywords(ctx context.Context, query string) []string {
	resp, err := e.gen.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf(keywordPrompt, query)},
		},
		Temperature: 0.0,
	})
	if err != nil {
		slog.Warn("retrieval: keyword extraction failed, using raw query", "error", err)
		return fallbackKeywords(query)
	}

	var keywords []string
	for _, part := range strings.Split(resp.Content, ",") {
		kw := strings.Join(strings.Fields(strings.ToLower(part)), " ")
		kw = strings.Trim(kw, `"'.`)
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}
	if len(keywords) == 0 {
		return fallbackKeywords(query)
	}
	return keywords
}

func fallbackKeywords(query string) []string {
	var keywords []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, `"'.,?!`)
		if len(w) > 2 {
			keywords = append(keywords, w)
		}
	}
	if len(keywords) == 0 && strings.TrimSpace(query) != "" {
		keywords = []string{strings.ToLower(strings.TrimSpace(query))}
	}
	return keywords
}

// matchScore grades how well an entity name matches a keyword:
// exact (3) beats substring either way (2) beats small edit distance (1).
func matchScore(name, keyword string) int {
	if name == keyword {
		return 3
	}
	if strings.Contains(name, keyword) || strings.Contains(keyword, name) {
		return 2
	}
	if len(keyword) >= fuzzyMinLen && levenshtein(name, keyword, editDistanceMax) <= editDistanceMax {
		return 1
	}
	return 0
}

// rankAnchors scores every entity against every keyword, keeping each
// entity's best score, and returns the top limit matches. Ties break by
// graph degree (better-connected nodes first), then by name for
// determinism.
func rankAnchors(entities []store.Entity, keywords []string, degrees map[int64]int, limit int) []store.Entity {
	type scored struct {
		entity store.Entity
		score  int
	}
	var matches []scored
	for _, ent := range entities {
		best := 0
		for _, kw := range keywords {
			if s := matchScore(ent.Name, kw); s > best {
				best = s
			}
		}
		if best > 0 {
			matches = append(matches, scored{entity: ent, score: best})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		di, dj := degrees[matches[i].entity.ID], degrees[matches[j].entity.ID]
		if di != dj {
			return di > dj
		}
		return matches[i].entity.Name < matches[j].entity.Name
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	anchors := make([]store.Entity, len(matches))
	for i, m := range matches {
		anchors[i] = m.entity
	}
	return anchors
}

// fitBudget renders anchors plus their edges, dropping whole trailing
// anchors (and the edges only they carried) until the rendering fits the
// character budget. When the last remaining anchor still exceeds the
// budget, whole relationship lines are shed from the end; if the anchor
// line alone does not fit, everything is dropped and the caller reports
// no usable context. The rendering never exceeds the budget.
func fitBudget(anchors []store.Entity, edges []store.GraphEdge, budget int) ([]store.Entity, []store.GraphEdge, string) {
	for n := len(anchors); n >= 1; n-- {
		kept := anchors[:n]
		keptIDs := make(map[int64]bool, n)
		for _, a := range kept {
			keptIDs[a.ID] = true
		}
		var keptEdges []store.GraphEdge
		for _, e := range edges {
			if keptIDs[e.SourceID] || keptIDs[e.TargetID] {
				keptEdges = append(keptEdges, e)
			}
		}
		rendered := render(kept, keptEdges)
		if len(rendered) <= budget {
			return kept, keptEdges, rendered
		}
		if n == 1 {
			for len(keptEdges) > 0 {
				keptEdges = keptEdges[:len(keptEdges)-1]
				if rendered = render(kept, keptEdges); len(rendered) <= budget {
					return kept, keptEdges, rendered
				}
			}
		}
	}
	return nil, nil, ""
}

func render(anchors []store.Entity, edges []store.GraphEdge) string {
	var b strings.Builder
	b.WriteString("Relevant Entities:\n")
	for _, a := range anchors {
		b.WriteString("- ")
		b.WriteString(a.DisplayName)
		b.WriteString(" (")
		b.WriteString(a.EntityType)
		b.WriteString(")")
		if a.Description != "" {
			b.WriteString(": ")
			b.WriteString(a.Description)
		}
		b.WriteString("\n")
	}
	if len(edges) > 0 {
		b.WriteString("\nKey Relationships:\n")
		for _, e := range edges {
			fmt.Fprintf(&b, "- %s --[%s]--> %s\n", e.SourceName, e.RelationType, e.TargetName)
		}
	}
	return b.String()
}
