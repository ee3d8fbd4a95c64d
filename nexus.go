// Package nexus builds persisted knowledge graphs from learning queries
// and documents, and answers follow-up questions grounded in those graphs.
//
// A query runs through a deterministic pipeline: plan, research (or use
// supplied document text), extract typed entities and relationships, merge
// them into the session graph, then retrieve the relevant subgraph and
// generate a tutoring explanation constrained to it.
package nexus

import (
	"context"
	"errors"
	"fmt"

	"github.com/brunobiangulo/nexus/graph"
	"github.com/brunobiangulo/nexus/llm"
	"github.com/brunobiangulo/nexus/retrieval"
	"github.com/brunobiangulo/nexus/search"
	"github.com/brunobiangulo/nexus/store"
)

// Engine ties the pipeline components to a store and capability providers.
type Engine struct {
	cfg       Config
	store     *store.Store
	chat      llm.Provider
	searcher  search.Searcher
	extractor *graph.Extractor
	merger    *graph.Merger
	retriever *retrieval.Engine
}

// Option customizes an Engine beyond what Config describes.
type Option func(*Engine)

// WithChatProvider replaces the generation provider built from config.
func WithChatProvider(p llm.Provider) Option {
	return func(e *Engine) { e.chat = p }
}

// WithSearcher replaces the web search backend built from config. Passing
// nil disables research; runs then require supplied source text.
func WithSearcher(s search.Searcher) Option {
	return func(e *Engine) { e.searcher = s }
}

// New creates an Engine: opens (or creates) the database, builds the chat
// provider, and wires the pipeline components.
func New(cfg Config, opts ...Option) (*Engine, error) {
	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}

	if e.chat == nil {
		p, err := llm.NewProvider(cfg.Chat)
		if err != nil {
			return nil, fmt.Errorf("%w: chat: %v", ErrInvalidConfig, err)
		}
		e.chat = p
	}
	if e.searcher == nil && cfg.Search.APIKey != "" {
		e.searcher = search.NewTavily(cfg.Search.APIKey, cfg.Search.BaseURL)
	}

	s, err := store.New(cfg.resolveDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	e.store = s

	e.extractor = graph.NewExtractor(e.chat, graph.WithChunkSize(cfg.ChunkSize))
	e.merger = graph.NewMerger(s)
	e.retriever = retrieval.NewEngine(s, e.chat,
		retrieval.WithContextBudget(cfg.ContextBudget),
		retrieval.WithMaxAnchors(cfg.MaxAnchors))

	return e, nil
}

// Close releases the underlying store.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store exposes the graph store for callers that need direct queries.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Lesson returns one stored run result by ID.
func (e *Engine) Lesson(ctx context.Context, id string) (*store.Lesson, error) {
	l, err := e.store.GetLesson(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrLessonNotFound, id)
	}
	return l, err
}

// Lessons returns a session's run history, newest first.
func (e *Engine) Lessons(ctx context.Context, sessionID string) ([]store.Lesson, error) {
	return e.store.ListLessons(ctx, sessionID)
}

// DeleteLesson removes one run result from a session's history. The graph
// entities it produced stay; use ClearSession to drop those.
func (e *Engine) DeleteLesson(ctx context.Context, id string) error {
	err := e.store.DeleteLesson(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrLessonNotFound, id)
	}
	return err
}

// Subgraph returns a session's graph, optionally filtered to one lesson.
func (e *Engine) Subgraph(ctx context.Context, sessionID, queryID string) (*store.Subgraph, error) {
	return e.store.QuerySubgraph(ctx, sessionID, queryID)
}

// Stats returns node and edge counts for a session.
func (e *Engine) Stats(ctx context.Context, sessionID string) (store.Stats, error) {
	return e.store.SessionStats(ctx, sessionID)
}

// ClearSession deletes a session's graph. Lesson history is kept.
func (e *Engine) ClearSession(ctx context.Context, sessionID string) error {
	return e.store.DeleteSubgraph(ctx, sessionID)
}
