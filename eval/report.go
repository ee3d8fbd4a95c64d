package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// AnswerFunc produces the system's answer and retrieval context for one
// golden question. The evaluation runner stays decoupled from how answers
// are generated.
type AnswerFunc func(ctx context.Context, question string) (answer, retrievedContext string, err error)

// ReportEntry is the per-question detail of an evaluation run.
type ReportEntry struct {
	Question    string                 `json:"question"`
	Answer      string                 `json:"answer,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Scores      map[string]MetricScore `json:"scores"`
	GroundTruth string                 `json:"ground_truth"`
}

// Report is the immutable outcome of one evaluation batch. Writing a
// report replaces the whole file; there are no partial updates.
type Report struct {
	Total     int                `json:"total_questions"`
	Aggregate map[string]float64 `json:"aggregate"`
	Results   []ReportEntry      `json:"results"`
	CreatedAt time.Time          `json:"created_at"`
}

// Runner evaluates a golden dataset end to end.
type Runner struct {
	scorer      *Scorer
	answer      AnswerFunc
	concurrency int
}

// NewRunner creates a batch evaluation runner. concurrency bounds how many
// questions are in flight at once; values below 1 mean sequential.
func NewRunner(scorer *Scorer, answer AnswerFunc, concurrency int) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{scorer: scorer, answer: answer, concurrency: concurrency}
}

// Run answers and scores every golden question. Failures are isolated per
// question: an answer or judge breakdown records zeroed scores for that
// entry and the batch continues. Results keep dataset order.
func (r *Runner) Run(ctx context.Context, questions []GoldenQuestion) (*Report, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("eval: empty dataset")
	}

	entries := make([]ReportEntry, len(questions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, q := range questions {
		g.Go(func() error {
			entries[i] = r.evaluate(gctx, q)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Report{
		Total:     len(entries),
		Aggregate: AggregateScores(entries),
		Results:   entries,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (r *Runner) evaluate(ctx context.Context, q GoldenQuestion) ReportEntry {
	entry := ReportEntry{Question: q.Question, GroundTruth: q.GroundTruth}

	answer, retrieved, err := r.answer(ctx, q.Question)
	if err != nil {
		entry.Error = err.Error()
		entry.Scores = failedScores()
		return entry
	}
	entry.Answer = answer

	result, err := r.scorer.Score(ctx, Sample{
		Question:    q.Question,
		Answer:      answer,
		Context:     retrieved,
		GroundTruth: q.GroundTruth,
	})
	if err != nil {
		entry.Error = err.Error()
		entry.Scores = failedScores()
		return entry
	}
	entry.Scores = result.Scores
	return entry
}

func failedScores() map[string]MetricScore {
	scores := make(map[string]MetricScore, len(Metrics))
	for _, m := range Metrics {
		scores[m] = MetricScore{Value: 0.0, JudgeFailed: true}
	}
	return scores
}

// AggregateScores computes the arithmetic mean per metric across all
// entries. Failed judge scores count as their recorded 0.0: a broken
// question drags the aggregate down rather than silently vanishing.
func AggregateScores(entries []ReportEntry) map[string]float64 {
	agg := make(map[string]float64, len(Metrics))
	if len(entries) == 0 {
		return agg
	}
	for _, metric := range Metrics {
		var sum float64
		for _, e := range entries {
			sum += e.Scores[metric].Value
		}
		agg[metric] = sum / float64(len(entries))
	}
	return agg
}

// WriteJSON writes the report to path, replacing any previous report.
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// Format renders a human-readable summary of the report.
func (r *Report) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Evaluation report: %d questions\n\n", r.Total)
	b.WriteString("Aggregate scores:\n")
	for _, metric := range Metrics {
		fmt.Fprintf(&b, "  %-20s %.3f\n", metric, r.Aggregate[metric])
	}
	b.WriteString("\nPer-question:\n")
	for _, e := range r.Results {
		fmt.Fprintf(&b, "  %s\n", e.Question)
		if e.Error != "" {
			fmt.Fprintf(&b, "    error: %s\n", e.Error)
			continue
		}
		for _, metric := range Metrics {
			s := e.Scores[metric]
			flag := ""
			if s.JudgeFailed {
				flag = " (judge failed)"
			}
			fmt.Fprintf(&b, "    %-20s %.3f%s\n", metric, s.Value, flag)
		}
	}
	return b.String()
}
