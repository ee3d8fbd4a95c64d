package nexus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/brunobiangulo/nexus/graph"
	"github.com/brunobiangulo/nexus/llm"
	"github.com/brunobiangulo/nexus/retrieval"
	"github.com/brunobiangulo/nexus/search"
	"github.com/brunobiangulo/nexus/store"
)

// Pipeline stages, in execution order.
const (
	StagePlan         = "PLAN"
	StageResearch     = "RESEARCH"
	StageSkipResearch = "SKIP_RESEARCH"
	StageExtract      = "EXTRACT"
	StageMerge        = "MERGE"
	StageRetrieve     = "RETRIEVE"
	StageExplain      = "EXPLAIN"
)

// Terminal run statuses.
const (
	StatusDone   = "completed"
	StatusFailed = "failed"
)

// searchBias steers web research toward reference material instead of news.
const searchBias = "educational concepts definition tutorial"

const planPrompt = `You are planning a short research investigation to teach a student.
In one sentence, state the research strategy for answering this learning query.
Query: %s`

const tutorSystemPrompt = `You are an expert Tutor helping a student learn a new topic.

YOUR GOAL: teach the user the concept simply and clearly using the provided knowledge graph.

TEACHING STYLE:
1. Simple language: avoid jargon unless you define it.
2. Analogies: use "Think of X like Y..." to explain complex ideas.
3. Structure: start with the definition, then explain how things connect.
4. Visuals: mention "As you can see in the learning map..." when referencing connections.

CRITICAL INSTRUCTIONS:
- Use the knowledge graph data as your lesson plan and cite only concepts that appear in it.
- If the graph shows "Photosynthesis --[INVOLVES]--> Sunlight", explain "Photosynthesis needs sunlight to work...".
- Do NOT say "node X is connected to node Y". Say "X leads to Y".
- If the graph data states that nothing matched, say so plainly and give only a brief general pointer; never pretend the learning map covered it.

Format your lesson in Markdown:
## Concept Summary
[Simple definition]

## The Breakdown
[Step-by-step explanation using the graph relationships]

## Analogies & Examples
[Use IS_EXAMPLE_OF data or create analogies]

## Prerequisites
[Mention any IS_PREREQUISITE_FOR nodes found]`

const emptyGraphContext = "No direct matches found in the knowledge graph for this query."

// Step is one entry in the observable reasoning log of a run.
type Step struct {
	Step    int    `json:"step"`
	Agent   string `json:"agent"`
	Action  string `json:"action"`
	Details string `json:"details"`
}

// RunRequest describes one pipeline run. SourceText, when set, carries
// pre-extracted document content and causes the research stage to be
// skipped.
type RunRequest struct {
	Query      string
	SessionID  string
	SourceText string
}

// Result is the stored outcome of one run. Exactly one Result is persisted
// per run, whether it completed or failed.
type Result struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	Query         string    `json:"query"`
	Analysis      string    `json:"analysis"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	EntitiesAdded int       `json:"entity_count"`
	EdgesAdded    int       `json:"edge_count"`
	Steps         []Step    `json:"steps"`
	CreatedAt     time.Time `json:"created_at"`
}

// run carries the mutable state of one pipeline execution.
type run struct {
	engine  *Engine
	result  *Result
	corpus  string // research data or supplied source text
	context *retrieval.Context
}

// Run executes the full pipeline for one query: plan, research (or skip),
// extract, merge, retrieve, explain. Stages run strictly sequentially and
// each is bounded by the configured stage timeout. The returned error is
// non-nil only for an empty query or a persistence failure; capability
// failures surface as a Result with StatusFailed, never as an error.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*Result, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "default"
	}

	r := &run{
		engine: e,
		result: &Result{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Query:     query,
			Status:    StatusDone,
			CreatedAt: time.Now().UTC(),
		},
	}

	slog.Info("nexus: run started", "id", r.result.ID, "session", sessionID, "query", query)

	stages := []func(context.Context, RunRequest) error{
		r.plan,
		r.research,
		r.extractAndMerge,
		r.retrieveAndExplain,
	}
	for _, stage := range stages {
		if err := stage(ctx, req); err != nil {
			r.fail(err)
			break
		}
	}

	if err := e.saveResult(ctx, r.result); err != nil {
		return nil, fmt.Errorf("persisting run result: %w", err)
	}

	slog.Info("nexus: run finished",
		"id", r.result.ID,
		"status", r.result.Status,
		"entities", r.result.EntitiesAdded,
		"edges", r.result.EdgesAdded)
	return r.result, nil
}

func (r *run) fail(cause error) {
	r.result.Status = StatusFailed
	r.result.Error = fmt.Sprintf("could not complete lesson: %v", cause)
	slog.Warn("nexus: run failed", "id", r.result.ID, "error", cause)
}

func (r *run) log(agent, action, details string) {
	r.result.Steps = append(r.result.Steps, Step{
		Step:    len(r.result.Steps) + 1,
		Agent:   agent,
		Action:  action,
		Details: details,
	})
}

func (r *run) stageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := r.engine.cfg.StageTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// plan derives a one-line research strategy. A capability failure here
// fails the run; without a plan nothing downstream is meaningful.
func (r *run) plan(ctx context.Context, req RunRequest) error {
	sctx, cancel := r.stageCtx(ctx)
	defer cancel()

	resp, err := r.engine.chat.Chat(sctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf(planPrompt, r.result.Query)},
		},
		Temperature: 0.2,
	})
	if err != nil {
		r.log("planner", StagePlan, "planning failed")
		return fmt.Errorf("%w: planning: %v", ErrGenerationFailed, err)
	}
	r.log("planner", StagePlan, strings.TrimSpace(resp.Content))
	return nil
}

// research fills the corpus, either from supplied source text (the single
// conditional branch in the state machine) or from a biased web search
// with one unbiased retry.
func (r *run) research(ctx context.Context, req RunRequest) error {
	if strings.TrimSpace(req.SourceText) != "" {
		r.corpus = req.SourceText
		r.log("researcher", StageSkipResearch, fmt.Sprintf("using supplied document text (%d chars)", len(r.corpus)))
		return nil
	}

	if r.engine.searcher == nil {
		r.log("researcher", StageResearch, "no search capability configured")
		return ErrSearchFailed
	}

	sctx, cancel := r.stageCtx(ctx)
	defer cancel()

	maxResults := r.engine.cfg.Search.MaxResults
	biased := r.result.Query + " " + searchBias
	results, err := r.engine.searcher.Search(sctx, biased, maxResults)
	if err != nil {
		slog.Warn("nexus: biased search failed, retrying unmodified query", "error", err)
		results, err = r.engine.searcher.Search(sctx, r.result.Query, maxResults)
	}
	if err != nil {
		r.log("researcher", StageResearch, "web search failed")
		return fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	r.corpus = search.Combined(results)
	r.log("researcher", StageResearch, fmt.Sprintf("found %d results, %d chars", len(results), len(r.corpus)))
	return nil
}

// extractAndMerge turns the corpus into graph data. A bad extraction
// degrades to an empty record so the run can still retrieve against
// whatever graph state already exists; only a store failure is fatal.
func (r *run) extractAndMerge(ctx context.Context, _ RunRequest) error {
	sctx, cancel := r.stageCtx(ctx)
	defer cancel()

	rec, err := r.engine.extractor.Extract(sctx, r.corpus, r.result.Query)
	if err != nil {
		slog.Warn("nexus: extraction failed, continuing with empty record", "id", r.result.ID, "error", err)
		r.log("graph_builder", StageExtract, "extraction failed, nothing to merge")
		rec = &graph.ExtractionRecord{}
	} else {
		r.log("graph_builder", StageExtract,
			fmt.Sprintf("extracted %d entities, %d relationships", rec.TotalEntities(), len(rec.Relationships)))
	}

	sum, err := r.engine.merger.Merge(sctx, rec, r.result.SessionID, r.result.ID)
	if err != nil {
		r.log("graph_builder", StageMerge, "merge failed")
		return fmt.Errorf("merging extraction: %w", err)
	}
	r.result.EntitiesAdded = sum.NodesAdded
	r.result.EdgesAdded = sum.EdgesAdded
	r.log("graph_builder", StageMerge,
		fmt.Sprintf("added %d nodes, %d edges (dropped %d dangling, %d self-loops)",
			sum.NodesAdded, sum.EdgesAdded, sum.DanglingDropped, sum.SelfLoopsDropped))
	return nil
}

// retrieveAndExplain grounds the final lesson in the session graph. An
// empty retrieval is a recognized outcome, not an error: the tutor still
// answers, stating the gap.
func (r *run) retrieveAndExplain(ctx context.Context, _ RunRequest) error {
	sctx, cancel := r.stageCtx(ctx)
	defer cancel()

	graphContext := emptyGraphContext
	rc, err := r.engine.retriever.Retrieve(sctx, r.result.Query, r.result.SessionID, "")
	switch {
	case errors.Is(err, retrieval.ErrNoAnchors):
		r.log("analyst", StageRetrieve, "no graph coverage for this query")
	case err != nil:
		// Degrade like an empty retrieval; the graph is an aid, not a
		// requirement, and the lesson must still be produced.
		slog.Warn("nexus: retrieval failed", "id", r.result.ID, "error", err)
		r.log("analyst", StageRetrieve, "retrieval failed")
	default:
		r.context = rc
		graphContext = rc.Rendered
		r.log("analyst", StageRetrieve,
			fmt.Sprintf("anchored on %d entities, %d relationships", len(rc.Anchors), len(rc.Relationships)))
	}

	researchSummary := r.corpus
	if len(researchSummary) > 1500 {
		cut := 1500
		for cut > 0 && !utf8.RuneStart(researchSummary[cut]) {
			cut--
		}
		researchSummary = researchSummary[:cut]
	}

	user := fmt.Sprintf(`Student's Question: %s

Learning Map Data (Graph):
%s

Background Research:
%s

Teach the lesson:`, r.result.Query, graphContext, researchSummary)

	ectx, cancelExplain := r.stageCtx(ctx)
	defer cancelExplain()

	resp, err := r.engine.chat.Chat(ectx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: tutorSystemPrompt},
			{Role: "user", Content: user},
		},
		Temperature: 0.4,
	})
	if err != nil {
		r.log("analyst", StageExplain, "explanation generation failed")
		return fmt.Errorf("%w: explanation: %v", ErrGenerationFailed, err)
	}

	r.result.Analysis = strings.TrimSpace(resp.Content)
	r.log("analyst", StageExplain, fmt.Sprintf("lesson generated (%d chars)", len(r.result.Analysis)))
	return nil
}

// saveResult persists the run record, completed or failed.
func (e *Engine) saveResult(ctx context.Context, res *Result) error {
	return e.store.SaveLesson(ctx, store.Lesson{
		ID:          res.ID,
		SessionID:   res.SessionID,
		Query:       res.Query,
		Status:      res.Status,
		Analysis:    res.Analysis,
		Error:       res.Error,
		EntityCount: res.EntitiesAdded,
		EdgeCount:   res.EdgesAdded,
		Steps:       store.MarshalSteps(res.Steps),
	})
}
