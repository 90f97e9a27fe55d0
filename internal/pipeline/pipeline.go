// Package pipeline composes fetch, filter and chunk into the ingestion
// pipeline: a pure data transform with no persistence.
package pipeline

import (
	"context"
	"time"

	"github.com/stratalabs/coderag/internal/chunker"
	"github.com/stratalabs/coderag/internal/fetch"
	"github.com/stratalabs/coderag/internal/filter"
	"github.com/stratalabs/coderag/pkg/models"
)

// Stats reports counts and timing for one ingestion run.
type Stats struct {
	FilesFetched   int
	FilesAccepted  int
	FilesRejected  int
	ChunksProduced int
	FetchMs        int64
	FilterMs       int64
	ChunkMs        int64
}

// Result is the output of Run: the repo id, its chunks, and run stats.
type Result struct {
	RepoID   string
	RepoMeta fetch.RepoMeta
	Chunks   []models.CodeChunk
	Stats    Stats
}

// fetchFn is indirected so tests can substitute a fake without network
// access; production callers always get fetch.Fetch via Run.
var fetchFn = fetch.Fetch

// Run executes fetch → filter → chunk sequentially and returns the
// resulting chunk set with stats. It performs no persistence.
func Run(ctx context.Context, githubURL, token string) (Result, error) {
	fetchStart := time.Now()
	files, meta, err := fetchFn(ctx, githubURL, token)
	if err != nil {
		return Result{}, err
	}
	fetchMs := time.Since(fetchStart).Milliseconds()

	filterStart := time.Now()
	accepted, rejected := filter.Filter(files)
	filterMs := time.Since(filterStart).Milliseconds()

	chunkStart := time.Now()
	var chunks []models.CodeChunk
	for _, f := range accepted {
		result := chunker.Chunk(meta.RepoID, f.Path, string(f.Content))
		chunks = append(chunks, result.Chunks...)
	}
	chunkMs := time.Since(chunkStart).Milliseconds()

	return Result{
		RepoID:   meta.RepoID,
		RepoMeta: meta,
		Chunks:   chunks,
		Stats: Stats{
			FilesFetched:   len(files),
			FilesAccepted:  len(accepted),
			FilesRejected:  len(rejected),
			ChunksProduced: len(chunks),
			FetchMs:        fetchMs,
			FilterMs:       filterMs,
			ChunkMs:        chunkMs,
		},
	}, nil
}
