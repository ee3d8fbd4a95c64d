package eval

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/brunobiangulo/nexus/llm"
)

// countingJudge fails the first n calls per metric, then answers with the
// configured score text.
type countingJudge struct {
	mu        sync.Mutex
	failFirst int
	calls     map[string]int
	reply     string
}

func newCountingJudge(failFirst int, reply string) *countingJudge {
	return &countingJudge{failFirst: failFirst, calls: make(map[string]int), reply: reply}
}

func (j *countingJudge) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	metric := req.Messages[0].Content

	j.mu.Lock()
	j.calls[metric]++
	n := j.calls[metric]
	j.mu.Unlock()

	if n <= j.failFirst {
		return nil, fmt.Errorf("judge unavailable")
	}
	return &llm.ChatResponse{Content: j.reply}, nil
}

var testSample = Sample{
	Question:    "What is photosynthesis?",
	Answer:      "A process plants use to turn light into glucose.",
	Context:     "Photosynthesis (concept): plants convert light energy.",
	GroundTruth: "Photosynthesis converts light energy into chemical energy.",
}

func TestScoreAllMetrics(t *testing.T) {
	s := NewScorer(newCountingJudge(0, "0.8"), "")

	result, err := s.Score(context.Background(), testSample)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if len(result.Scores) != 4 {
		t.Fatalf("got %d scores, want 4", len(result.Scores))
	}
	for _, metric := range Metrics {
		sc, ok := result.Scores[metric]
		if !ok {
			t.Errorf("metric %s missing", metric)
			continue
		}
		if sc.Value != 0.8 || sc.JudgeFailed {
			t.Errorf("%s = %+v, want 0.8", metric, sc)
		}
	}
}

// A judge that fails once then succeeds must yield the successful value,
// not 0.0.
func TestScoreRetriesOnce(t *testing.T) {
	s := NewScorer(newCountingJudge(1, "0.9"), "")

	result, err := s.Score(context.Background(), testSample)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	for _, metric := range Metrics {
		sc := result.Scores[metric]
		if sc.Value != 0.9 || sc.JudgeFailed {
			t.Errorf("%s = %+v, want retried success 0.9", metric, sc)
		}
	}
}

func TestScoreJudgeFailedFlag(t *testing.T) {
	s := NewScorer(newCountingJudge(2, "0.9"), "")

	result, err := s.Score(context.Background(), testSample)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	for _, metric := range Metrics {
		sc := result.Scores[metric]
		if sc.Value != 0.0 || !sc.JudgeFailed {
			t.Errorf("%s = %+v, want 0.0 with JudgeFailed", metric, sc)
		}
	}
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"0.85", 0.85, false},
		{"Score: 0.7", 0.7, false},
		{"1", 1.0, false},
		{"0", 0.0, false},
		{"80%", 0.8, false},
		{"I'd rate this 0.6 overall.", 0.6, false},
		{"excellent answer", 0, true},
		{"42", 0, true}, // out of range
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := parseScore(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseScore(%q) = %v, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseScore(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseScore(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRubricsCoverAllMetrics(t *testing.T) {
	for _, metric := range Metrics {
		rubric, ok := rubrics[metric]
		if !ok || strings.TrimSpace(rubric) == "" {
			t.Errorf("metric %s has no rubric", metric)
		}
	}
}
