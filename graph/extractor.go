package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/brunobiangulo/nexus/llm"
)

// ErrInvalidExtraction is returned when the model output cannot be parsed
// into a usable extraction record.
var ErrInvalidExtraction = errors.New("graph: invalid extraction output")

const defaultChunkSize = 4000

const extractionSystemPrompt = `Extract entities and relationships to create a CONNECTED LEARNING MAP for a student.

GUIDELINE: PREFER CONNECTED NODES
- Aim to connect every extracted entity to the main topic.
- ALWAYS extract the main topic (e.g. "Machine Learning") even if other connections are weak.
- Do not let the connectivity rule prevent you from extracting the core definition.

EXTRACTION PHILOSOPHY:
1. Focus on teaching: extract concepts, definitions, and prerequisites.
2. Focus on structure: how do concepts relate? What comes first?
3. Focus on examples: real-world examples help learning.

Group entities into exactly these collections:
- "organizations": institutions, companies, standards bodies
- "people": key figures (only if central to the learning path)
- "concepts": core ideas, theories, definitions, techniques
- "locations": places relevant to the material
- "events": historical events, discoveries, milestones

RELATIONSHIP TYPES (use only these):
- IS_PREREQUISITE_FOR: concept A is needed to understand concept B
- EXPLAINS: concept A explains concept B
- IS_EXAMPLE_OF: entity A is an example of concept B
- INVOLVES: process A involves component B
- LEADS_TO: concept A leads to concept B
- DEFINED_AS: concept A is defined as B

RULES:
1. Connect everything: ensure a clear path from the query topic to all extracted nodes.
2. Simple is better: use clear, simple names for concepts.
3. Evidence: the evidence field should be a short explanation suitable for a textbook.
4. Limit: 15-20 high-quality, connected nodes are better than 50 disconnected ones.
5. Exclude website chrome, author bylines, dates, and generic filler terms like "introduction" or "overview".

EXCLUSION RULES (CRITICAL):
- DO NOT extract specific executives or celebrities unless the query asks about them.
- DO NOT extract recent news events, product launches, or stock prices.
- DO NOT extract specific companies unless they are fundamental examples.
- FOCUS on timeless concepts, algorithms, and fields of study.

Return ONLY a valid JSON object with keys "organizations", "people", "concepts",
"locations", "events" (arrays of {"name", "description"}) and "relationships"
(array of {"source", "target", "relation_type", "evidence"}). Every key must be
present, even when its array is empty.`

// Extractor turns free text into an ExtractionRecord via one LLM call per
// chunk.
type Extractor struct {
	gen       llm.Provider
	chunkSize int
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithChunkSize overrides the character budget per extraction call.
func WithChunkSize(n int) ExtractorOption {
	return func(e *Extractor) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// NewExtractor creates an extractor backed by the given chat provider.
func NewExtractor(gen llm.Provider, opts ...ExtractorOption) *Extractor {
	e := &Extractor{gen: gen, chunkSize: defaultChunkSize}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract runs entity/relationship extraction over text. The query hint
// focuses the model and drives the relevance filter. Whitespace-only input
// yields an empty record with no error. When the text exceeds the chunk
// size it is split and each chunk extracted independently; per-chunk
// records are concatenated without dedup, which is the merge engine's job.
// ErrInvalidExtraction is returned only when every chunk fails.
func (e *Extractor) Extract(ctx context.Context, text, queryHint string) (*ExtractionRecord, error) {
	if strings.TrimSpace(text) == "" {
		return &ExtractionRecord{}, nil
	}

	chunks := splitChunks(text, e.chunkSize)

	record := &ExtractionRecord{}
	var failed int
	var firstErr error
	for i, chunk := range chunks {
		rec, err := e.extractChunk(ctx, chunk, queryHint)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failed++
			slog.Warn("graph: chunk extraction failed",
				"chunk", i+1, "chunks", len(chunks), "error", err)
			continue
		}
		record.Append(rec)
	}

	if failed == len(chunks) {
		return nil, fmt.Errorf("%w: all %d chunks failed: %v", ErrInvalidExtraction, len(chunks), firstErr)
	}
	if failed > 0 {
		slog.Warn("graph: extraction completed with failures",
			"succeeded", len(chunks)-failed, "failed", failed)
	}
	return record, nil
}

// wireRecord mirrors ExtractionRecord with pointer slices so that a missing
// collection key can be told apart from a present-but-empty one.
type wireRecord struct {
	Organizations *[]CandidateEntity       `json:"organizations"`
	People        *[]CandidateEntity       `json:"people"`
	Concepts      *[]CandidateEntity       `json:"concepts"`
	Locations     *[]CandidateEntity       `json:"locations"`
	Events        *[]CandidateEntity       `json:"events"`
	Relationships *[]CandidateRelationship `json:"relationships"`
}

func (e *Extractor) extractChunk(ctx context.Context, chunk, queryHint string) (*ExtractionRecord, error) {
	user := fmt.Sprintf("Learning query: %s\n\nSource text:\n%s", queryHint, chunk)

	resp, err := e.gen.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: extractionSystemPrompt},
			{Role: "user", Content: user},
		},
		Temperature:    0.0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("extraction llm chat: %w", err)
	}

	jsonStr, err := extractJSON(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExtraction, err)
	}

	var wire wireRecord
	if err := json.Unmarshal([]byte(jsonStr), &wire); err != nil {
		return nil, fmt.Errorf("%w: unmarshalling: %v", ErrInvalidExtraction, err)
	}
	if wire.Organizations == nil || wire.People == nil || wire.Concepts == nil ||
		wire.Locations == nil || wire.Events == nil || wire.Relationships == nil {
		return nil, fmt.Errorf("%w: missing required collection", ErrInvalidExtraction)
	}

	rec := &ExtractionRecord{
		Organizations: *wire.Organizations,
		People:        *wire.People,
		Concepts:      *wire.Concepts,
		Locations:     *wire.Locations,
		Events:        *wire.Events,
		Relationships: *wire.Relationships,
	}
	dropInvalid(rec)
	filterByRelevance(rec, queryHint)
	return rec, nil
}

// dropInvalid removes candidates with empty names and relationships whose
// type falls outside the closed set or whose endpoints are missing.
func dropInvalid(rec *ExtractionRecord) {
	clean := func(in []CandidateEntity) []CandidateEntity {
		out := in[:0]
		for _, c := range in {
			if strings.TrimSpace(c.Name) != "" {
				out = append(out, c)
			}
		}
		return out
	}
	rec.Organizations = clean(rec.Organizations)
	rec.People = clean(rec.People)
	rec.Concepts = clean(rec.Concepts)
	rec.Locations = clean(rec.Locations)
	rec.Events = clean(rec.Events)

	rels := rec.Relationships[:0]
	for _, r := range rec.Relationships {
		r.RelationType = strings.ToUpper(strings.TrimSpace(r.RelationType))
		if !ValidRelationType(r.RelationType) {
			slog.Debug("graph: dropping relationship with unknown type", "type", r.RelationType)
			continue
		}
		if strings.TrimSpace(r.Source) == "" || strings.TrimSpace(r.Target) == "" {
			continue
		}
		rels = append(rels, r)
	}
	rec.Relationships = rels
}

// filterByRelevance keeps the graph focused on the learning query. Concepts
// always survive. A non-concept entity survives when the query mentions it,
// or when it participates in a relationship with a surviving concept.
// Relationships referencing a filtered entity are dropped with it.
func filterByRelevance(rec *ExtractionRecord, queryHint string) {
	query := NormalizeName(queryHint)

	kept := make(map[string]bool, rec.TotalEntities())
	for _, c := range rec.Concepts {
		kept[NormalizeName(c.Name)] = true
	}

	connected := make(map[string]bool)
	for _, r := range rec.Relationships {
		src, tgt := NormalizeName(r.Source), NormalizeName(r.Target)
		if kept[src] {
			connected[tgt] = true
		}
		if kept[tgt] {
			connected[src] = true
		}
	}

	keep := func(in []CandidateEntity) []CandidateEntity {
		out := in[:0]
		for _, c := range in {
			name := NormalizeName(c.Name)
			if query != "" && strings.Contains(query, name) {
				kept[name] = true
				out = append(out, c)
				continue
			}
			if connected[name] {
				kept[name] = true
				out = append(out, c)
			}
		}
		return out
	}
	rec.Organizations = keep(rec.Organizations)
	rec.People = keep(rec.People)
	rec.Locations = keep(rec.Locations)
	rec.Events = keep(rec.Events)

	rels := rec.Relationships[:0]
	for _, r := range rec.Relationships {
		if kept[NormalizeName(r.Source)] && kept[NormalizeName(r.Target)] {
			rels = append(rels, r)
		}
	}
	rec.Relationships = rels
}

// splitChunks breaks text into pieces of at most size characters, splitting
// at the last space inside each window so entity names are not cut in half.
// When a window holds no space, the cut backs up to a rune boundary so a
// multi-byte character is never split across chunks.
func splitChunks(text string, size int) []string {
	if size <= 0 {
		size = defaultChunkSize
	}
	var chunks []string
	for len(text) > size {
		cut := strings.LastIndex(text[:size], " ")
		if cut <= 0 {
			cut = size
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = size
			}
		}
		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if t := strings.TrimSpace(text); t != "" {
		chunks = append(chunks, t)
	}
	return chunks
}

// codeBlockRe strips markdown code fences from LLM output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSON attempts to find a valid JSON object in the LLM response text.
// It handles common LLM quirks: markdown code blocks, text before/after JSON.
func extractJSON(raw string) (string, error) {
	// Strip markdown code blocks first.
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}

	raw = strings.TrimSpace(raw)

	// If it already starts with '{', try as-is.
	if strings.HasPrefix(raw, "{") {
		return raw, nil
	}

	// Find the first '{' and last '}' to extract the JSON object.
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], nil
	}

	return "", fmt.Errorf("no JSON object found in response")
}
