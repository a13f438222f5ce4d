// Package rerank wraps the external relevance judge: a service that
// reorders a short candidate list by estimated relevance to a query. It may
// fail or return fewer results than requested; callers fall back to their
// original ordering.
package rerank

import (
	"context"
	"time"
)

// Result ties a document index from the request to its relevance score.
type Result struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Provider refines the ranking of candidate documents for a query.
type Provider interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error)
}

// Config holds reranker provider configuration.
type Config struct {
	Endpoint string        `json:"endpoint"`
	Model    string        `json:"model"`
	APIKey   string        `json:"api_key"`
	Timeout  time.Duration `json:"-"`
}
