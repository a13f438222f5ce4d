package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIProviderRerank(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rerank", func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Query != "weather" {
			t.Errorf("got query %q, want %q", req.Query, "weather")
		}
		json.NewEncoder(w).Encode(apiResponse{Results: []apiResult{
			{Index: 1, RelevanceScore: 0.9},
			{Index: 0, RelevanceScore: 0.4},
			{Index: 7, RelevanceScore: 0.8}, // out of range, must be dropped
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewAPIProvider(Config{Endpoint: srv.URL, Model: "test-rerank"})

	results, err := p.Rerank(context.Background(), "weather", []string{"doc a", "doc b"}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Index != 1 || results[0].RelevanceScore != 0.9 {
		t.Errorf("got %+v, want index 1 score 0.9", results[0])
	}
}

func TestAPIProviderRerank_Empty(t *testing.T) {
	p := NewAPIProvider(Config{Endpoint: "http://unused"})
	results, err := p.Rerank(context.Background(), "q", nil, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil for empty input, got %v", results)
	}
}

func TestAPIProviderRerank_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewAPIProvider(Config{Endpoint: srv.URL})
	if _, err := p.Rerank(context.Background(), "q", []string{"doc"}, 1); err == nil {
		t.Fatal("expected error on server failure")
	}
}
