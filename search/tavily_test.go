package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTavilySearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tvly-test" {
			t.Errorf("auth header = %q", got)
		}
		var req tavilyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Query != "photosynthesis" || req.MaxResults != 3 {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]string{
				{"title": "Photosynthesis", "url": "https://example.com/a", "content": "plants make sugar"},
				{"title": "Chlorophyll", "url": "https://example.com/b", "content": "green pigment"},
			},
		})
	}))
	defer srv.Close()

	tv := NewTavily("tvly-test", srv.URL)
	results, err := tv.Search(context.Background(), "photosynthesis", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Content != "plants make sugar" {
		t.Errorf("result = %+v", results[0])
	}
}

func TestTavilySearchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	tv := NewTavily("bad-key", srv.URL)
	if _, err := tv.Search(context.Background(), "anything", 5); err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func TestCombined(t *testing.T) {
	results := []Result{
		{Content: "first"},
		{Content: "  "},
		{Content: "second"},
	}
	got := Combined(results)
	want := "first\n---\nsecond"
	if got != want {
		t.Errorf("Combined = %q, want %q", got, want)
	}

	if Combined(nil) != "" {
		t.Error("Combined(nil) should be empty")
	}
}
