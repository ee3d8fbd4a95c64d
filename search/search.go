// Package search provides pluggable web search for the research stage.
package search

import (
	"context"
	"strings"
)

// Result is one hit returned by a search backend.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Searcher runs a web search and returns ranked results. Implementations
// must be safe for concurrent use.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Combined joins the content of all results into one research corpus,
// separated so downstream extraction can tell sources apart.
func Combined(results []Result) string {
	var parts []string
	for _, r := range results {
		if c := strings.TrimSpace(r.Content); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "\n---\n")
}
