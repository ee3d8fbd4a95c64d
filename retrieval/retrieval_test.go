//go:build cgo

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brunobiangulo/nexus/llm"
	"github.com/brunobiangulo/nexus/store"
)

// fixedProvider always answers with the same content, or fails.
type fixedProvider struct {
	content string
	err     error
}

func (p *fixedProvider) Chat(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &llm.ChatResponse{Content: p.content}, nil
}

func newTestGraph(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedEntity(t *testing.T, s *store.Store, session, name, desc string) int64 {
	t.Helper()
	id, _, err := s.UpsertEntity(context.Background(), store.Entity{
		Name:        name,
		DisplayName: name,
		EntityType:  "concept",
		Description: desc,
		SessionID:   session,
		QueryID:     "q1",
	})
	if err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
	return id
}

func TestRetrieveExactMatch(t *testing.T) {
	s := newTestGraph(t)
	ctx := context.Background()

	nn := seedEntity(t, s, "s1", "neural network", "layered model")
	bp := seedEntity(t, s, "s1", "backpropagation", "training algorithm")
	s.CreateOrGetRelationship(ctx, store.Relationship{SourceID: bp, TargetID: nn, RelationType: "EXPLAINS", SessionID: "s1", QueryID: "q1"})

	e := NewEngine(s, &fixedProvider{content: "neural network"})
	rc, err := e.Retrieve(ctx, "what is a neural network?", "s1", "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(rc.Anchors) == 0 || rc.Anchors[0].Name != "neural network" {
		t.Fatalf("anchors = %+v", rc.Anchors)
	}
	if len(rc.Relationships) != 1 {
		t.Errorf("relationships = %+v, want the one-hop edge", rc.Relationships)
	}
	if !strings.Contains(rc.Rendered, "Relevant Entities:") ||
		!strings.Contains(rc.Rendered, "--[EXPLAINS]-->") {
		t.Errorf("rendered = %q", rc.Rendered)
	}
}

func TestRetrieveNoAnchors(t *testing.T) {
	s := newTestGraph(t)
	seedEntity(t, s, "s1", "photosynthesis", "")

	e := NewEngine(s, &fixedProvider{content: "quantum computing"})
	_, err := e.Retrieve(context.Background(), "explain quantum computing", "s1", "")
	if !errors.Is(err, ErrNoAnchors) {
		t.Errorf("err = %v, want ErrNoAnchors", err)
	}
}

func TestRetrieveKeywordFallback(t *testing.T) {
	s := newTestGraph(t)
	seedEntity(t, s, "s1", "entropy", "measure of disorder")

	// The keyword model is down; matching must fall back to query words.
	e := NewEngine(s, &fixedProvider{err: fmt.Errorf("model down")})
	rc, err := e.Retrieve(context.Background(), "tell me about entropy", "s1", "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(rc.Anchors) != 1 || rc.Anchors[0].Name != "entropy" {
		t.Errorf("anchors = %+v", rc.Anchors)
	}
}

func TestRetrieveFuzzyTypo(t *testing.T) {
	s := newTestGraph(t)
	seedEntity(t, s, "s1", "gradient", "direction of steepest ascent")

	e := NewEngine(s, &fixedProvider{content: "gradeint"})
	rc, err := e.Retrieve(context.Background(), "what is a gradeint", "s1", "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(rc.Anchors) != 1 || rc.Anchors[0].Name != "gradient" {
		t.Errorf("anchors = %+v", rc.Anchors)
	}
}

func TestRetrieveAnchorCapAndDegreeTieBreak(t *testing.T) {
	s := newTestGraph(t)
	ctx := context.Background()

	// Seven entities all substring-matching "sort"; the hub has edges.
	hub := seedEntity(t, s, "s1", "sort hub", "")
	for i := 0; i < 6; i++ {
		id := seedEntity(t, s, "s1", fmt.Sprintf("sort variant %d", i), "")
		if i < 3 {
			s.CreateOrGetRelationship(ctx, store.Relationship{SourceID: hub, TargetID: id, RelationType: "INVOLVES", SessionID: "s1", QueryID: "q1"})
		}
	}

	e := NewEngine(s, &fixedProvider{content: "sort"}, WithMaxAnchors(5))
	rc, err := e.Retrieve(ctx, "how does sort work", "s1", "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(rc.Anchors) != 5 {
		t.Fatalf("anchors = %d, want capped at 5", len(rc.Anchors))
	}
	if rc.Anchors[0].Name != "sort hub" {
		t.Errorf("first anchor = %q, want the highest-degree node", rc.Anchors[0].Name)
	}
}

func TestRetrieveSessionIsolation(t *testing.T) {
	s := newTestGraph(t)
	seedEntity(t, s, "other", "calculus", "")

	e := NewEngine(s, &fixedProvider{content: "calculus"})
	_, err := e.Retrieve(context.Background(), "calculus", "s1", "")
	if !errors.Is(err, ErrNoAnchors) {
		t.Errorf("err = %v, want ErrNoAnchors for foreign session", err)
	}
}

func TestRetrieveBudgetDropsWholeAnchors(t *testing.T) {
	s := newTestGraph(t)

	long := strings.Repeat("x", 200)
	seedEntity(t, s, "s1", "topic one", long)
	seedEntity(t, s, "s1", "topic two", long)
	seedEntity(t, s, "s1", "topic three", long)

	e := NewEngine(s, &fixedProvider{content: "topic"}, WithContextBudget(500))
	rc, err := e.Retrieve(context.Background(), "topic", "s1", "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(rc.Rendered) > 500 {
		t.Errorf("rendered %d chars exceeds budget", len(rc.Rendered))
	}
	if len(rc.Anchors) >= 3 {
		t.Errorf("anchors = %d, want some dropped to fit budget", len(rc.Anchors))
	}
	// Dropping must be whole-anchor: every kept anchor renders completely.
	for _, a := range rc.Anchors {
		if !strings.Contains(rc.Rendered, a.Description) {
			t.Errorf("anchor %q truncated mid-line", a.Name)
		}
	}
}

func TestRetrieveSingleAnchorShedsEdges(t *testing.T) {
	s := newTestGraph(t)
	ctx := context.Background()

	anchor := seedEntity(t, s, "s1", "sorting", "ordering comparisons")
	for i := 0; i < 10; i++ {
		id := seedEntity(t, s, "s1", fmt.Sprintf("neighbor %d", i), "")
		s.CreateOrGetRelationship(ctx, store.Relationship{SourceID: anchor, TargetID: id, RelationType: "INVOLVES", SessionID: "s1", QueryID: "q1"})
	}

	// The lone anchor plus all ten edges overflows; edges are shed whole
	// from the end until the rendering fits.
	e := NewEngine(s, &fixedProvider{content: "sorting"}, WithContextBudget(250))
	rc, err := e.Retrieve(ctx, "sorting", "s1", "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(rc.Rendered) > 250 {
		t.Errorf("rendered %d chars exceeds budget", len(rc.Rendered))
	}
	if len(rc.Anchors) != 1 {
		t.Fatalf("anchors = %d, want the single match kept", len(rc.Anchors))
	}
	if len(rc.Relationships) == 0 || len(rc.Relationships) == 10 {
		t.Errorf("relationships = %d, want some but not all edges kept", len(rc.Relationships))
	}
	for _, edge := range rc.Relationships {
		line := fmt.Sprintf("- %s --[%s]--> %s\n", edge.SourceName, edge.RelationType, edge.TargetName)
		if !strings.Contains(rc.Rendered, line) {
			t.Errorf("edge line %q truncated", line)
		}
	}
}

func TestRetrieveSingleAnchorOverBudget(t *testing.T) {
	s := newTestGraph(t)
	ctx := context.Background()

	anchor := seedEntity(t, s, "s1", "thermodynamics", strings.Repeat("x", 900))
	other := seedEntity(t, s, "s1", "unrelated", "")
	s.CreateOrGetRelationship(ctx, store.Relationship{SourceID: anchor, TargetID: other, RelationType: "INVOLVES", SessionID: "s1", QueryID: "q1"})

	// Even the anchor line alone cannot fit 100 chars; the budget wins
	// over returning oversized context.
	e := NewEngine(s, &fixedProvider{content: "thermodynamics"}, WithContextBudget(100))
	_, err := e.Retrieve(ctx, "thermodynamics", "s1", "")
	if !errors.Is(err, ErrNoAnchors) {
		t.Fatalf("err = %v, want ErrNoAnchors when nothing fits the budget", err)
	}
}

func TestRetrieveQueryIDFilter(t *testing.T) {
	s := newTestGraph(t)
	ctx := context.Background()

	s.UpsertEntity(ctx, store.Entity{Name: "algebra", DisplayName: "Algebra", EntityType: "concept", SessionID: "s1", QueryID: "lesson-a"})
	s.UpsertEntity(ctx, store.Entity{Name: "geometry", DisplayName: "Geometry", EntityType: "concept", SessionID: "s1", QueryID: "lesson-b"})

	e := NewEngine(s, &fixedProvider{content: "algebra, geometry"})
	rc, err := e.Retrieve(ctx, "math", "s1", "lesson-a")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(rc.Anchors) != 1 || rc.Anchors[0].Name != "algebra" {
		t.Errorf("anchors = %+v, want only lesson-a entities", rc.Anchors)
	}
}
