// Package embedder turns chunks into embedded chunks, batching calls to the
// AI client with bounded concurrency and retrying transient failures.
package embedder

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/stratalabs/coderag/internal/ai"
	"github.com/stratalabs/coderag/pkg/models"
)

const (
	defaultConcurrency = 8
	maxRetries         = 3
)

// Embed embeds every chunk, normalizing each vector to unit length. A
// chunk's embed call is retried with exponential backoff on error; if it
// still fails after retries the whole call fails the batch, matching spec
// §4.4's "fail the job, don't silently truncate" contract.
func Embed(ctx context.Context, client ai.Client, chunks []models.CodeChunk) ([]models.EmbeddedChunk, error) {
	return EmbedWithConcurrency(ctx, client, chunks, defaultConcurrency)
}

// EmbedWithConcurrency is Embed with an explicit concurrency bound, mainly
// for tests.
func EmbedWithConcurrency(ctx context.Context, client ai.Client, chunks []models.CodeChunk, concurrency int) ([]models.EmbeddedChunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	embeddedAt := time.Now()
	results := make([]models.EmbeddedChunk, len(chunks))
	errs := make([]error, len(chunks))

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		i, chunk := i, chunk
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			vec, err := embedWithRetry(ctx, client, chunk.Content)
			if err != nil {
				errs[i] = fmt.Errorf("embedding chunk %s: %w", chunk.ID, err)
				return
			}
			results[i] = models.EmbeddedChunk{
				Chunk:      chunk,
				Embedding:  normalize(vec),
				EmbeddedAt: embeddedAt,
				Model:      modelName(client),
			}
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func embedWithRetry(ctx context.Context, client ai.Client, text string) ([]float32, error) {
	var vec []float32

	op := func() error {
		v, err := client.Embed(text)
		if err != nil {
			log.Warn().Err(err).Msg("embed call failed, retrying")
			return err
		}
		vec = v
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries)
	bo = backoff.WithContext(bo, ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return vec, nil
}

func normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

// modelName reports an embedding model label for bookkeeping. ai.Client
// doesn't expose the deployed model string directly, so embedded chunks are
// tagged by dimension; the store layer is given the configured model name
// explicitly when it needs the exact string for RepoIndex.
func modelName(client ai.Client) string {
	return fmt.Sprintf("dim-%d", client.Dim())
}
