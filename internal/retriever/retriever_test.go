package retriever

import (
	"context"
	"testing"

	"github.com/stratalabs/coderag/internal/store"
	"github.com/stratalabs/coderag/pkg/models"
)

type stubClient struct{}

func (stubClient) Embed(text string) ([]float32, error) { return []float32{1, 0, 0}, nil }
func (stubClient) Summarize(ctx context.Context, filePath, language, content string) (string, error) {
	return "", nil
}
func (stubClient) Generate(ctx context.Context, system, user string) (string, error) {
	return "", nil
}
func (stubClient) Dim() int { return 3 }

type fakeSearcher struct {
	candidates []store.SearchCandidate
}

func (f fakeSearcher) SearchByVector(ctx context.Context, repoID string, vec []float32, limit int) ([]store.SearchCandidate, error) {
	if limit < len(f.candidates) {
		return f.candidates[:limit], nil
	}
	return f.candidates, nil
}

func candidate(path string, sim float64) store.SearchCandidate {
	return store.SearchCandidate{
		Chunk:      models.RetrievedChunk{FilePath: path, Score: sim},
		Similarity: sim,
	}
}

func TestRetrieve_AppliesSimilarityFloor(t *testing.T) {
	searcher := fakeSearcher{candidates: []store.SearchCandidate{
		candidate("a.ts", 0.9),
		candidate("b.ts", 0.4),
		candidate("c.ts", 0.6),
	}}
	result, err := Retrieve(context.Background(), stubClient{}, searcher, "query", "acme/widgets", 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Chunks) != 2 {
		t.Fatalf("expected 2 chunks above the floor, got %d", len(result.Chunks))
	}
	for _, c := range result.Chunks {
		if c.FilePath == "b.ts" {
			t.Errorf("below-floor candidate b.ts should have been dropped")
		}
	}
}

func TestRetrieve_RespectsTopK(t *testing.T) {
	var candidates []store.SearchCandidate
	for i := 0; i < 20; i++ {
		candidates = append(candidates, candidate("f.ts", 0.9))
	}
	searcher := fakeSearcher{candidates: candidates}
	result, err := Retrieve(context.Background(), stubClient{}, searcher, "query", "acme/widgets", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Chunks) != 5 {
		t.Fatalf("expected topK=5 chunks, got %d", len(result.Chunks))
	}
}

func TestRetrieve_EmptyWhenNothingClearsFloor(t *testing.T) {
	searcher := fakeSearcher{candidates: []store.SearchCandidate{candidate("a.ts", 0.1)}}
	result, err := Retrieve(context.Background(), stubClient{}, searcher, "query", "acme/widgets", 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Chunks) != 0 {
		t.Fatalf("expected no chunks, got %d", len(result.Chunks))
	}
}
