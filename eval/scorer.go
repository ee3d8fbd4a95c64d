// Package eval scores generated lessons against a golden dataset using an
// LLM judge, one independent call per metric.
package eval

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/nexus/llm"
)

// Metric names, in report order.
const (
	MetricFaithfulness      = "faithfulness"
	MetricRelevance         = "relevance"
	MetricContextPrecision  = "context_precision"
	MetricAnswerCorrectness = "answer_correctness"
)

// Metrics lists all judge metrics in report order.
var Metrics = []string{
	MetricFaithfulness,
	MetricRelevance,
	MetricContextPrecision,
	MetricAnswerCorrectness,
}

// rubrics holds the metric-specific judge prompts. Each receives the
// question, answer, context, and ground truth, and must elicit a single
// numeric score in [0,1].
var rubrics = map[string]string{
	MetricFaithfulness: `You are an evaluation judge. Rate the FAITHFULNESS of the answer:
does every claim in the answer follow from the provided context, without hallucination?
1.0 means fully grounded in the context; 0.0 means entirely fabricated.`,

	MetricRelevance: `You are an evaluation judge. Rate the RELEVANCE of the answer:
does it actually address the question asked, staying on topic?
1.0 means directly and completely on topic; 0.0 means unrelated.`,

	MetricContextPrecision: `You are an evaluation judge. Rate the CONTEXT PRECISION:
how much of the provided context is actually useful for answering the question?
1.0 means every piece of context is relevant; 0.0 means none of it is.`,

	MetricAnswerCorrectness: `You are an evaluation judge. Rate the ANSWER CORRECTNESS:
does the answer agree with the ground truth in its key facts?
1.0 means factually equivalent to the ground truth; 0.0 means contradicts or misses it entirely.`,
}

// Sample is one (question, answer, context, ground truth) tuple to score.
type Sample struct {
	Question    string `json:"question"`
	Answer      string `json:"answer"`
	Context     string `json:"context"`
	GroundTruth string `json:"ground_truth"`
}

// MetricScore is one judge verdict. JudgeFailed marks a score recorded as
// 0.0 because the judge failed twice, so reporting can tell "scored zero"
// from "could not score".
type MetricScore struct {
	Value       float64 `json:"value"`
	JudgeFailed bool    `json:"judge_failed,omitempty"`
}

// QuestionResult holds all metric scores for one sample.
type QuestionResult struct {
	Question string                 `json:"question"`
	Scores   map[string]MetricScore `json:"scores"`
}

// Scorer issues judge calls. Safe for concurrent use.
type Scorer struct {
	judge llm.Provider
	model string
}

// NewScorer creates a scorer using the given judge provider. model may be
// empty to use the provider's default.
func NewScorer(judge llm.Provider, model string) *Scorer {
	return &Scorer{judge: judge, model: model}
}

// Score runs the four metric judges for one sample, concurrently since
// they are independent. A judge call that fails or returns an unparseable
// score is retried once, then recorded as 0.0 with JudgeFailed set; a bad
// metric never aborts the rest.
func (s *Scorer) Score(ctx context.Context, sample Sample) (*QuestionResult, error) {
	result := &QuestionResult{
		Question: sample.Question,
		Scores:   make(map[string]MetricScore, len(Metrics)),
	}

	scores := make([]MetricScore, len(Metrics))
	g, gctx := errgroup.WithContext(ctx)
	for i, metric := range Metrics {
		g.Go(func() error {
			scores[i] = s.judgeMetric(gctx, metric, sample)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, metric := range Metrics {
		result.Scores[metric] = scores[i]
	}
	return result, nil
}

func (s *Scorer) judgeMetric(ctx context.Context, metric string, sample Sample) MetricScore {
	for attempt := 0; attempt < 2; attempt++ {
		value, err := s.callJudge(ctx, metric, sample)
		if err == nil {
			return MetricScore{Value: value}
		}
		slog.Warn("eval: judge call failed",
			"metric", metric, "attempt", attempt+1, "error", err)
	}
	return MetricScore{Value: 0.0, JudgeFailed: true}
}

func (s *Scorer) callJudge(ctx context.Context, metric string, sample Sample) (float64, error) {
	user := fmt.Sprintf(`Question:
%s

Answer:
%s

Context:
%s

Ground Truth:
%s

Respond with ONLY a single number between 0.0 and 1.0.`,
		sample.Question, sample.Answer, sample.Context, sample.GroundTruth)

	resp, err := s.judge.Chat(ctx, llm.ChatRequest{
		Model: s.model,
		Messages: []llm.Message{
			{Role: "system", Content: rubrics[metric]},
			{Role: "user", Content: user},
		},
		Temperature: 0.0,
	})
	if err != nil {
		return 0, fmt.Errorf("judge chat: %w", err)
	}
	return parseScore(resp.Content)
}

var scoreRe = regexp.MustCompile(`\d+(?:\.\d+)?\s*%|\d*\.\d+|\d+`)

// parseScore pulls the first numeric score out of free-form judge output.
// Percentages are accepted ("80%" means 0.8) since judges drift into that
// format; anything outside [0,1] after conversion is rejected.
func parseScore(raw string) (float64, error) {
	m := scoreRe.FindString(raw)
	if m == "" {
		return 0, fmt.Errorf("no numeric score in judge output %q", truncate(raw, 120))
	}

	percent := strings.HasSuffix(m, "%")
	m = strings.TrimSpace(strings.TrimSuffix(m, "%"))
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing score %q: %w", m, err)
	}
	if percent {
		v /= 100
	}
	if v < 0 || v > 1 {
		return 0, fmt.Errorf("score %v out of range", v)
	}
	return v, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
