package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/brunobiangulo/nexus/llm"
)

// scriptedProvider returns canned responses in order, then repeats the last.
type scriptedProvider struct {
	responses []string
	errs      []error
	calls     int
	requests  []llm.ChatRequest
}

func (p *scriptedProvider) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	i := p.calls
	p.calls++
	p.requests = append(p.requests, req)
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	return &llm.ChatResponse{Content: p.responses[i]}, nil
}

const emptyRecordJSON = `{"organizations":[],"people":[],"concepts":[],"locations":[],"events":[],"relationships":[]}`

func TestExtractEmptyInput(t *testing.T) {
	p := &scriptedProvider{responses: []string{emptyRecordJSON}}
	e := NewExtractor(p)

	rec, err := e.Extract(context.Background(), "   \n\t ", "anything")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !rec.Empty() {
		t.Error("whitespace input should yield an empty record")
	}
	if p.calls != 0 {
		t.Errorf("provider called %d times for empty input", p.calls)
	}
}

func TestExtractParsesTypedCollections(t *testing.T) {
	p := &scriptedProvider{responses: []string{`{
		"organizations": [{"name": "MIT", "description": "university"}],
		"people": [],
		"concepts": [
			{"name": "Backpropagation", "description": "gradient computation"},
			{"name": "Chain Rule", "description": ""}
		],
		"locations": [],
		"events": [],
		"relationships": [
			{"source": "Chain Rule", "target": "Backpropagation", "relation_type": "IS_PREREQUISITE_FOR", "evidence": "backprop applies the chain rule"}
		]
	}`}}
	e := NewExtractor(p)

	rec, err := e.Extract(context.Background(), "some lesson text about backpropagation at MIT", "backpropagation at MIT")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(rec.Concepts) != 2 {
		t.Errorf("concepts = %d, want 2", len(rec.Concepts))
	}
	if len(rec.Organizations) != 1 {
		t.Errorf("organizations = %d, want 1 (mentioned in query)", len(rec.Organizations))
	}
	if len(rec.Relationships) != 1 {
		t.Errorf("relationships = %d, want 1", len(rec.Relationships))
	}
}

func TestExtractStripsCodeFences(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		"Here is the result:\n```json\n" + `{"organizations":[],"people":[],"concepts":[{"name":"Entropy"}],"locations":[],"events":[],"relationships":[]}` + "\n```",
	}}
	e := NewExtractor(p)

	rec, err := e.Extract(context.Background(), "text", "entropy")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(rec.Concepts) != 1 || rec.Concepts[0].Name != "Entropy" {
		t.Errorf("concepts = %+v", rec.Concepts)
	}
}

func TestExtractMissingCollectionIsInvalid(t *testing.T) {
	// "events" key absent entirely.
	p := &scriptedProvider{responses: []string{
		`{"organizations":[],"people":[],"concepts":[],"locations":[],"relationships":[]}`,
	}}
	e := NewExtractor(p)

	_, err := e.Extract(context.Background(), "text", "q")
	if !errors.Is(err, ErrInvalidExtraction) {
		t.Errorf("err = %v, want ErrInvalidExtraction", err)
	}
}

func TestExtractDropsUnknownRelationTypes(t *testing.T) {
	p := &scriptedProvider{responses: []string{`{
		"organizations":[],"people":[],
		"concepts":[{"name":"A"},{"name":"B"}],
		"locations":[],"events":[],
		"relationships":[
			{"source":"A","target":"B","relation_type":"EXPLAINS"},
			{"source":"A","target":"B","relation_type":"HAS_VIBES"}
		]
	}`}}
	e := NewExtractor(p)

	rec, err := e.Extract(context.Background(), "text", "q")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(rec.Relationships) != 1 || rec.Relationships[0].RelationType != "EXPLAINS" {
		t.Errorf("relationships = %+v", rec.Relationships)
	}
}

func TestExtractRelevanceFilter(t *testing.T) {
	p := &scriptedProvider{responses: []string{`{
		"organizations":[{"name":"Random News Corp"}],
		"people":[{"name":"Geoffrey Hinton"}],
		"concepts":[{"name":"Neural Network"}],
		"locations":[],"events":[],
		"relationships":[
			{"source":"Geoffrey Hinton","target":"Neural Network","relation_type":"INVOLVES"}
		]
	}`}}
	e := NewExtractor(p)

	rec, err := e.Extract(context.Background(), "text", "what is a neural network")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	// Hinton is connected to a concept; the news org is not mentioned in
	// the query and has no edge, so it goes.
	if len(rec.People) != 1 {
		t.Errorf("people = %+v, want Hinton kept", rec.People)
	}
	if len(rec.Organizations) != 0 {
		t.Errorf("organizations = %+v, want filtered out", rec.Organizations)
	}
	if len(rec.Relationships) != 1 {
		t.Errorf("relationships = %+v", rec.Relationships)
	}
}

func TestExtractChunking(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"organizations":[],"people":[],"concepts":[{"name":"First"}],"locations":[],"events":[],"relationships":[]}`,
		`{"organizations":[],"people":[],"concepts":[{"name":"Second"}],"locations":[],"events":[],"relationships":[]}`,
	}}
	e := NewExtractor(p, WithChunkSize(100))

	text := strings.Repeat("alpha beta gamma ", 10) // ~170 chars -> 2 chunks
	rec, err := e.Extract(context.Background(), text, "q")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if p.calls != 2 {
		t.Errorf("provider calls = %d, want 2", p.calls)
	}
	if len(rec.Concepts) != 2 {
		t.Errorf("concepts = %+v, want concatenated from both chunks", rec.Concepts)
	}
}

func TestExtractPartialChunkFailure(t *testing.T) {
	p := &scriptedProvider{
		responses: []string{
			"",
			`{"organizations":[],"people":[],"concepts":[{"name":"Survivor"}],"locations":[],"events":[],"relationships":[]}`,
		},
		errs: []error{fmt.Errorf("boom"), nil},
	}
	e := NewExtractor(p, WithChunkSize(100))

	text := strings.Repeat("alpha beta gamma ", 10)
	rec, err := e.Extract(context.Background(), text, "q")
	if err != nil {
		t.Fatalf("partial failure should not error: %v", err)
	}
	if len(rec.Concepts) != 1 {
		t.Errorf("concepts = %+v, want surviving chunk's output", rec.Concepts)
	}
}

func TestExtractAllChunksFail(t *testing.T) {
	p := &scriptedProvider{
		responses: []string{""},
		errs:      []error{fmt.Errorf("boom")},
	}
	e := NewExtractor(p)

	_, err := e.Extract(context.Background(), "text", "q")
	if !errors.Is(err, ErrInvalidExtraction) {
		t.Errorf("err = %v, want ErrInvalidExtraction", err)
	}
}

func TestSplitChunksBreaksAtSpaces(t *testing.T) {
	text := "one two three four five six"
	chunks := splitChunks(text, 10)
	for _, c := range chunks {
		if len(c) > 10 {
			t.Errorf("chunk %q exceeds size", c)
		}
	}
	if got := strings.Join(chunks, " "); got != text {
		t.Errorf("rejoined = %q, want original text", got)
	}
}

func TestSplitChunksKeepsRunesIntact(t *testing.T) {
	// No spaces, so the cut cannot land on a word boundary; each rune
	// here is three bytes, so a naive byte cut would split one.
	text := strings.Repeat("光合成", 20)
	chunks := splitChunks(text, 10)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want text split", len(chunks))
	}
	for _, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %q holds a split rune", c)
		}
	}
	if got := strings.Join(chunks, ""); got != text {
		t.Errorf("rejoined = %q, want original text", got)
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Neural Network", "neural network"},
		{"  Neural   Network  ", "neural network"},
		{"GRADIENT\tDESCENT", "gradient descent"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
