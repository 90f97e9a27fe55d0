// Package orchestrator runs the asynchronous indexing job lifecycle: job
// submission, a bounded worker pool draining the durable queue, and the
// phase sequence (fetch metadata → ingest → embed → write) each worker
// runs per job, with retry/backoff and progress reporting.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stratalabs/coderag/internal/ai"
	"github.com/stratalabs/coderag/internal/embedder"
	"github.com/stratalabs/coderag/internal/fetch"
	"github.com/stratalabs/coderag/internal/metrics"
	"github.com/stratalabs/coderag/internal/pipeline"
	"github.com/stratalabs/coderag/internal/queue"
	"github.com/stratalabs/coderag/internal/store"
	"github.com/stratalabs/coderag/pkg/models"
)

const (
	maxAttempts  = 3
	queueName    = "index-repo"
	groupName    = "coderag-workers"
	retainOK     = 100
	retainFailed = 50
)

// JobStore is the subset of *store.Store the orchestrator needs for job
// bookkeeping, narrowed to an interface so workers are testable without a
// live Postgres connection.
type JobStore interface {
	CreateJob(ctx context.Context, jobID, githubURL, requestedBy string) error
	GetJob(ctx context.Context, jobID string) (models.Job, bool, error)
	UpdateJobProgress(ctx context.Context, jobID string, state models.JobState, progress, attempts int) error
	CompleteJob(ctx context.Context, jobID string, result models.JobResult) error
	FailJob(ctx context.Context, jobID string, attempts int, reason string) error
	Write(ctx context.Context, chunks []models.EmbeddedChunk, opts store.WriteOpts) (store.WriteResult, error)
}

// QueueHandle is the subset of *queue.Queue the orchestrator needs.
type QueueHandle interface {
	Enqueue(ctx context.Context, jobID string, payload []byte) (string, error)
	Consume(ctx context.Context, consumerName string, count int64, block time.Duration) ([]queue.Message, error)
	Ack(ctx context.Context, streamID string) error
	Trim(ctx context.Context, maxLen int64) error
}

// Deps bundles the collaborators a worker needs to run one job end to end.
type Deps struct {
	Store    JobStore
	Queue    QueueHandle
	AIClient ai.Client
}

// NewQueue opens the durable "index-repo" queue and its consumer group.
func NewQueue(ctx context.Context, redisURL string) (*queue.Queue, error) {
	return queue.New(ctx, redisURL, queueName, groupName)
}

// pipelineRunFn and commitHashFn are indirected so tests can substitute
// fakes without a live GitHub/network dependency, mirroring internal/
// pipeline's own fetchFn injection point.
var (
	pipelineRunFn = pipeline.Run
	commitHashFn  = fetch.CommitHash
)

// Submit creates the durable job record and enqueues its envelope,
// returning the new job id.
func Submit(ctx context.Context, deps Deps, data models.IndexRepoJobData) (string, error) {
	jobID := uuid.NewString()
	if err := deps.Store.CreateJob(ctx, jobID, data.GithubURL, data.RequestedBy); err != nil {
		return "", fmt.Errorf("create job record: %w", err)
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	if _, err := deps.Queue.Enqueue(ctx, jobID, payload); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	metrics.JobsEnqueued.Inc()
	return jobID, nil
}

// Status projects a job's durable record into the API's status shape.
func Status(ctx context.Context, deps Deps, jobID string) (models.Job, bool, error) {
	return deps.Store.GetJob(ctx, jobID)
}

// RunWorkerPool starts concurrency workers, each pulling jobs from the
// queue until ctx is cancelled. It blocks until all workers return.
func RunWorkerPool(ctx context.Context, deps Deps, concurrency int) {
	if concurrency <= 0 {
		concurrency = 3
	}
	done := make(chan struct{}, concurrency)
	for i := 0; i < concurrency; i++ {
		consumerName := fmt.Sprintf("worker-%d", i)
		go func() {
			runWorker(ctx, deps, consumerName)
			done <- struct{}{}
		}()
	}
	for i := 0; i < concurrency; i++ {
		<-done
	}
}

func runWorker(ctx context.Context, deps Deps, consumerName string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := deps.Queue.Consume(ctx, consumerName, 1, 2*time.Second)
		if err != nil {
			log.Error().Err(err).Str("consumer", consumerName).Msg("queue consume failed")
			continue
		}
		for _, msg := range msgs {
			processMessage(ctx, deps, consumerName, msg)
		}
	}
}

func processMessage(ctx context.Context, deps Deps, consumerName string, msg queue.Message) {
	var data models.IndexRepoJobData
	if err := json.Unmarshal(msg.Payload, &data); err != nil {
		log.Error().Err(err).Str("jobId", msg.JobID).Str("consumer", consumerName).Msg("malformed job payload, dropping")
		_ = deps.Queue.Ack(ctx, msg.StreamID)
		return
	}

	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()
	start := time.Now()

	result, err := runWithRetry(ctx, deps, msg.JobID, data)

	duration := time.Since(start)
	metrics.JobPhaseDuration.WithLabelValues("total").Observe(duration.Seconds())

	if err != nil {
		log.Error().Err(err).Str("jobId", msg.JobID).Msg("job failed after retries")
		if ferr := deps.Store.FailJob(ctx, msg.JobID, maxAttempts, err.Error()); ferr != nil {
			log.Error().Err(ferr).Str("jobId", msg.JobID).Msg("failed to persist job failure")
		}
		metrics.JobsFailed.Inc()
	} else {
		if cerr := deps.Store.CompleteJob(ctx, msg.JobID, result); cerr != nil {
			log.Error().Err(cerr).Str("jobId", msg.JobID).Msg("failed to persist job completion")
		}
		metrics.JobsCompleted.Inc()
	}

	if ackErr := deps.Queue.Ack(ctx, msg.StreamID); ackErr != nil {
		log.Error().Err(ackErr).Str("jobId", msg.JobID).Msg("failed to ack job message")
	}
	_ = deps.Queue.Trim(ctx, retainOK+retainFailed)
}

// runWithRetry runs the phase sequence, retrying the whole thing up to
// maxAttempts times with 5s/10s backoff between attempts, per spec §4.9:
// embedding and write failures are retried holistically since C5's
// per-chunk upsert makes a rerun of ingestion idempotent.
func runWithRetry(ctx context.Context, deps Deps, jobID string, data models.IndexRepoJobData) (models.JobResult, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Second
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0
	withCtx := backoff.WithContext(backoff.WithMaxRetries(bo, maxAttempts-1), ctx)

	attempt := 0
	var result models.JobResult

	op := func() error {
		attempt++
		_ = deps.Store.UpdateJobProgress(ctx, jobID, models.JobActive, 0, attempt)
		r, err := runPhases(ctx, deps, jobID, data)
		if err != nil {
			metrics.JobRetries.Inc()
			return err
		}
		result = r
		return nil
	}

	err := backoff.Retry(op, withCtx)
	return result, err
}

func runPhases(ctx context.Context, deps Deps, jobID string, data models.IndexRepoJobData) (models.JobResult, error) {
	start := time.Now()

	owner, repo, err := fetch.ParseURL(data.GithubURL)
	if err != nil {
		return models.JobResult{}, fmt.Errorf("parse url: %w", err)
	}
	_ = deps.Store.UpdateJobProgress(ctx, jobID, models.JobActive, 5, 0)

	ingest, err := pipelineRunFn(ctx, data.GithubURL, data.GithubToken)
	if err != nil {
		return models.JobResult{}, fmt.Errorf("ingest: %w", err)
	}
	commitHash := commitHashFn(ctx, data.GithubToken, owner, repo, ingest.RepoMeta.DefaultBranch)
	_ = deps.Store.UpdateJobProgress(ctx, jobID, models.JobActive, 40, 0)

	if len(ingest.Chunks) == 0 {
		return models.JobResult{
			RepoID:          ingest.RepoID,
			Strategy:        string(store.StrategySkipped),
			TotalDurationMs: time.Since(start).Milliseconds(),
		}, nil
	}

	embedded, err := embedder.Embed(ctx, deps.AIClient, ingest.Chunks)
	if err != nil {
		return models.JobResult{}, fmt.Errorf("embed: %w", err)
	}
	_ = deps.Store.UpdateJobProgress(ctx, jobID, models.JobActive, 80, 0)

	embeddingModel := fmt.Sprintf("dim-%d", deps.AIClient.Dim())
	writeResult, err := deps.Store.Write(ctx, embedded, store.WriteOpts{
		RepoID:         ingest.RepoID,
		DefaultBranch:  ingest.RepoMeta.DefaultBranch,
		SizeKB:         ingest.RepoMeta.SizeKB,
		FileCount:      ingest.RepoMeta.FileCount,
		CommitHash:     commitHash,
		EmbeddingModel: embeddingModel,
	})
	if err != nil {
		return models.JobResult{}, fmt.Errorf("write: %w", err)
	}
	_ = deps.Store.UpdateJobProgress(ctx, jobID, models.JobActive, 100, 0)

	return models.JobResult{
		RepoID:          ingest.RepoID,
		Strategy:        string(writeResult.Strategy),
		ChunksWritten:   writeResult.ChunksWritten,
		ChunksDeleted:   writeResult.ChunksDeleted,
		TotalDurationMs: time.Since(start).Milliseconds(),
	}, nil
}
