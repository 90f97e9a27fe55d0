// Package retriever embeds a query and runs nearest-neighbor search
// against a repository's chunks, applying a minimum-similarity floor.
package retriever

import (
	"context"
	"fmt"
	"time"

	"github.com/stratalabs/coderag/internal/ai"
	"github.com/stratalabs/coderag/internal/store"
	"github.com/stratalabs/coderag/pkg/models"
)

const (
	DefaultTopK             = 8
	MinSimilarity           = 0.5
	candidatePoolMultiplier = 4
)

// Searcher is the subset of Store needed for retrieval, so callers can
// substitute a fake in tests.
type Searcher interface {
	SearchByVector(ctx context.Context, repoID string, vec []float32, limit int) ([]store.SearchCandidate, error)
}

// Result is the outcome of a retrieve call.
type Result struct {
	Chunks          []models.RetrievedChunk
	TotalCandidates int
	DurationMs      int64
}

// Retrieve embeds query with client, searches repoID's chunks, drops
// anything below MinSimilarity, and returns at most topK chunks ordered by
// descending similarity.
func Retrieve(ctx context.Context, client ai.Client, searcher Searcher, query, repoID string, topK int) (Result, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	start := time.Now()

	vec, err := client.Embed(query)
	if err != nil {
		return Result{}, fmt.Errorf("embedding query: %w", err)
	}

	candidates, err := searcher.SearchByVector(ctx, repoID, vec, topK*candidatePoolMultiplier)
	if err != nil {
		return Result{}, fmt.Errorf("searching chunks: %w", err)
	}

	var chunks []models.RetrievedChunk
	for _, c := range candidates {
		if c.Similarity < MinSimilarity {
			continue
		}
		chunks = append(chunks, c.Chunk)
		if len(chunks) == topK {
			break
		}
	}

	return Result{
		Chunks:          chunks,
		TotalCandidates: len(candidates),
		DurationMs:      time.Since(start).Milliseconds(),
	}, nil
}
