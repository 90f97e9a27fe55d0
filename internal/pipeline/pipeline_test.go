package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stratalabs/coderag/internal/fetch"
	"github.com/stratalabs/coderag/pkg/models"
)

func withFakeFetch(t *testing.T, files []models.RawFile, meta fetch.RepoMeta, err error) {
	t.Helper()
	original := fetchFn
	fetchFn = func(ctx context.Context, url, token string) ([]models.RawFile, fetch.RepoMeta, error) {
		return files, meta, err
	}
	t.Cleanup(func() { fetchFn = original })
}

func TestRun_FiltersAndChunksFetchedFiles(t *testing.T) {
	files := []models.RawFile{
		{Path: "src/index.ts", Content: []byte(strings.Repeat("x = 1\n", 10)), SizeBytes: 70},
		{Path: "node_modules/pkg/index.js", Content: []byte(strings.Repeat("x\n", 10)), SizeBytes: 20},
	}
	withFakeFetch(t, files, fetch.RepoMeta{RepoID: "acme/widgets"}, nil)

	result, err := Run(context.Background(), "https://github.com/acme/widgets", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Stats.FilesFetched != 2 {
		t.Errorf("expected 2 files fetched, got %d", result.Stats.FilesFetched)
	}
	if result.Stats.FilesAccepted != 1 {
		t.Errorf("expected 1 file accepted after filtering, got %d", result.Stats.FilesAccepted)
	}
	if result.Stats.FilesRejected != 1 {
		t.Errorf("expected 1 file rejected, got %d", result.Stats.FilesRejected)
	}
	if len(result.Chunks) == 0 {
		t.Error("expected at least one chunk produced from the accepted file")
	}
	if result.RepoID != "acme/widgets" {
		t.Errorf("expected repo id to pass through, got %q", result.RepoID)
	}
}

func TestRun_EmptyCorpusProducesNoChunks(t *testing.T) {
	withFakeFetch(t, nil, fetch.RepoMeta{RepoID: "acme/empty"}, nil)

	result, err := Run(context.Background(), "https://github.com/acme/empty", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Chunks) != 0 {
		t.Errorf("expected no chunks for an empty fetch, got %d", len(result.Chunks))
	}
}
