// Package store persists chunks and repository bookkeeping to Postgres,
// with pgvector-backed similarity search.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/stratalabs/coderag/pkg/models"
)

// WriteStrategy identifies which of the three write paths a Write call took.
type WriteStrategy string

const (
	StrategySkipped     WriteStrategy = "skipped"
	StrategyFullReindex WriteStrategy = "full-reindex"
	StrategyUpsert      WriteStrategy = "upsert"
)

// WriteOpts carries the repository context a Write call needs to decide
// which strategy applies and what to stamp onto RepoIndex.
type WriteOpts struct {
	RepoID         string
	DefaultBranch  string
	SizeKB         int
	FileCount      int
	CommitHash     *string
	EmbeddingModel string
}

// WriteResult reports what a Write call actually did.
type WriteResult struct {
	Strategy      WriteStrategy
	ChunksWritten int
	ChunksDeleted int
	DurationMs    int64
}

const writeBatchSize = 50

// Store provides the persistence layer for chunks, repo bookkeeping and
// vector similarity search.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new Store connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Migrate applies the code_chunks/repo_index schema and the HNSW index.
func (s *Store) Migrate(ctx context.Context, embedDim int) error {
	q := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS code_chunks (
  id          TEXT PRIMARY KEY,
  repo_id     TEXT NOT NULL,
  file_path   TEXT NOT NULL,
  language    TEXT NOT NULL,
  content     TEXT NOT NULL,
  start_line  INT NOT NULL,
  end_line    INT NOT NULL,
  symbol_name TEXT NOT NULL DEFAULT '',
  chunk_index INT NOT NULL DEFAULT 0,
  embedding   vector(%d),
  embedded_at TIMESTAMP WITH TIME ZONE
);

CREATE INDEX IF NOT EXISTS code_chunks_repo_id_idx
  ON code_chunks (repo_id);

CREATE INDEX IF NOT EXISTS code_chunks_embedding_hnsw_idx
  ON code_chunks USING hnsw (embedding vector_cosine_ops)
  WITH (m = 16, ef_construction = 64);

CREATE TABLE IF NOT EXISTS repo_index (
  repo_id         TEXT PRIMARY KEY,
  commit_hash     TEXT,
  default_branch  TEXT NOT NULL DEFAULT '',
  size_kb         INT NOT NULL DEFAULT 0,
  file_count      INT NOT NULL DEFAULT 0,
  chunk_count     INT NOT NULL DEFAULT 0,
  embedding_model TEXT NOT NULL DEFAULT '',
  updated_at      TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE TABLE IF NOT EXISTS jobs (
  job_id       TEXT PRIMARY KEY,
  github_url   TEXT NOT NULL,
  requested_by TEXT NOT NULL DEFAULT '',
  state        TEXT NOT NULL DEFAULT 'queued',
  progress     INT NOT NULL DEFAULT 0,
  attempts     INT NOT NULL DEFAULT 0,
  result       JSONB,
  fail_reason  TEXT NOT NULL DEFAULT '',
  created_at   TIMESTAMP WITH TIME ZONE DEFAULT now(),
  updated_at   TIMESTAMP WITH TIME ZONE DEFAULT now()
);
`, embedDim)
	_, err := s.pool.Exec(ctx, q)
	return err
}

// GetRepoIndex returns the bookkeeping row for repoID, or (zero, false) if
// the repo has never been indexed.
func (s *Store) GetRepoIndex(ctx context.Context, repoID string) (models.RepoIndex, bool, error) {
	const q = `
SELECT repo_id, commit_hash, default_branch, size_kb, file_count, chunk_count, embedding_model, updated_at
FROM repo_index WHERE repo_id = $1`
	var ri models.RepoIndex
	err := s.pool.QueryRow(ctx, q, repoID).Scan(
		&ri.RepoID, &ri.CommitHash, &ri.DefaultBranch, &ri.SizeKB, &ri.FileCount,
		&ri.ChunkCount, &ri.EmbeddingModel, &ri.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.RepoIndex{}, false, nil
		}
		return models.RepoIndex{}, false, err
	}
	return ri, true, nil
}

// Write persists embedded chunks using the strategy spec §4.5 selects:
// skipped when the commit hash hasn't changed, full-reindex when it has (or
// there was no prior index), upsert when no commit hash is known at all.
func (s *Store) Write(ctx context.Context, chunks []models.EmbeddedChunk, opts WriteOpts) (WriteResult, error) {
	start := time.Now()

	existing, found, err := s.GetRepoIndex(ctx, opts.RepoID)
	if err != nil {
		return WriteResult{}, err
	}

	if opts.CommitHash != nil && found && existing.CommitHash != nil && *existing.CommitHash == *opts.CommitHash {
		return WriteResult{Strategy: StrategySkipped, DurationMs: time.Since(start).Milliseconds()}, nil
	}

	if opts.CommitHash != nil {
		deleted, err := s.deleteRepoChunks(ctx, opts.RepoID)
		if err != nil {
			return WriteResult{}, err
		}
		written, err := s.insertChunks(ctx, chunks, false)
		if err != nil {
			return WriteResult{}, err
		}
		if err := s.upsertRepoIndex(ctx, opts, len(chunks)); err != nil {
			return WriteResult{}, err
		}
		return WriteResult{
			Strategy:      StrategyFullReindex,
			ChunksWritten: written,
			ChunksDeleted: deleted,
			DurationMs:    time.Since(start).Milliseconds(),
		}, nil
	}

	written, err := s.insertChunks(ctx, chunks, true)
	if err != nil {
		return WriteResult{}, err
	}
	if err := s.upsertRepoIndex(ctx, opts, len(chunks)); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{
		Strategy:      StrategyUpsert,
		ChunksWritten: written,
		DurationMs:    time.Since(start).Milliseconds(),
	}, nil
}

func (s *Store) deleteRepoChunks(ctx context.Context, repoID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM code_chunks WHERE repo_id = $1`, repoID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// insertChunks writes chunks in batches of writeBatchSize. onConflictUpdate
// selects the upsert strategy's ON CONFLICT DO UPDATE; full-reindex uses DO
// NOTHING since the pre-delete already cleared conflicts in the common case.
func (s *Store) insertChunks(ctx context.Context, chunks []models.EmbeddedChunk, onConflictUpdate bool) (int, error) {
	conflictClause := "ON CONFLICT (id) DO NOTHING"
	if onConflictUpdate {
		conflictClause = `ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			embedded_at = EXCLUDED.embedded_at`
	}

	written := 0
	for start := 0; start < len(chunks); start += writeBatchSize {
		end := start + writeBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		batchQuery := &pgx.Batch{}
		q := fmt.Sprintf(`
			INSERT INTO code_chunks (
				id, repo_id, file_path, language, content, start_line, end_line,
				symbol_name, chunk_index, embedding, embedded_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
			%s`, conflictClause)

		for _, ec := range batch {
			batchQuery.Queue(q,
				ec.Chunk.ID, ec.Chunk.RepoID, ec.Chunk.FilePath, string(ec.Chunk.Language),
				ec.Chunk.Content, ec.Chunk.StartLine, ec.Chunk.EndLine, ec.Chunk.SymbolName,
				ec.Chunk.ChunkIndex, pgvector.NewVector(ec.Embedding),
			)
		}

		br := s.pool.SendBatch(ctx, batchQuery)
		for range batch {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return written, fmt.Errorf("writing chunk batch: %w", err)
			}
			written++
		}
		if err := br.Close(); err != nil {
			return written, err
		}
	}
	return written, nil
}

func (s *Store) upsertRepoIndex(ctx context.Context, opts WriteOpts, chunkCount int) error {
	const q = `
		INSERT INTO repo_index (
			repo_id, commit_hash, default_branch, size_kb, file_count, chunk_count, embedding_model, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		ON CONFLICT (repo_id) DO UPDATE SET
			commit_hash     = EXCLUDED.commit_hash,
			default_branch  = EXCLUDED.default_branch,
			size_kb         = EXCLUDED.size_kb,
			file_count      = EXCLUDED.file_count,
			chunk_count     = EXCLUDED.chunk_count,
			embedding_model = EXCLUDED.embedding_model,
			updated_at      = now()`
	_, err := s.pool.Exec(ctx, q,
		opts.RepoID, opts.CommitHash, opts.DefaultBranch, opts.SizeKB, opts.FileCount,
		chunkCount, opts.EmbeddingModel,
	)
	return err
}

// CreateJob inserts a new job row in the queued state.
func (s *Store) CreateJob(ctx context.Context, jobID, githubURL, requestedBy string) error {
	const q = `
		INSERT INTO jobs (job_id, github_url, requested_by, state, progress, attempts)
		VALUES ($1, $2, $3, 'queued', 0, 0)`
	_, err := s.pool.Exec(ctx, q, jobID, githubURL, requestedBy)
	return err
}

// GetJob fetches one job by id, returning (zero, false) if it doesn't exist.
func (s *Store) GetJob(ctx context.Context, jobID string) (models.Job, bool, error) {
	const q = `
		SELECT job_id, github_url, requested_by, state, progress, attempts, result, fail_reason
		FROM jobs WHERE job_id = $1`
	var j models.Job
	var resultJSON []byte
	err := s.pool.QueryRow(ctx, q, jobID).Scan(
		&j.JobID, &j.GithubURL, &j.RequestedBy, &j.State, &j.Progress, &j.Attempts,
		&resultJSON, &j.FailReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, false, nil
		}
		return models.Job{}, false, err
	}
	if len(resultJSON) > 0 {
		var r models.JobResult
		if err := json.Unmarshal(resultJSON, &r); err != nil {
			return models.Job{}, false, fmt.Errorf("decode job result: %w", err)
		}
		j.ReturnValue = &r
	}
	return j, true, nil
}

// UpdateJobProgress advances state/progress and increments attempts on a
// retry, without touching the result or fail reason.
func (s *Store) UpdateJobProgress(ctx context.Context, jobID string, state models.JobState, progress, attempts int) error {
	const q = `
		UPDATE jobs SET state = $2, progress = $3, attempts = $4, updated_at = now()
		WHERE job_id = $1`
	_, err := s.pool.Exec(ctx, q, jobID, state, progress, attempts)
	return err
}

// CompleteJob marks a job completed with its result payload.
func (s *Store) CompleteJob(ctx context.Context, jobID string, result models.JobResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}
	const q = `
		UPDATE jobs SET state = $2, progress = 100, result = $3, updated_at = now()
		WHERE job_id = $1`
	_, err = s.pool.Exec(ctx, q, jobID, models.JobCompleted, resultJSON)
	return err
}

// FailJob marks a job failed with a reason, after all retries are exhausted.
func (s *Store) FailJob(ctx context.Context, jobID string, attempts int, reason string) error {
	const q = `
		UPDATE jobs SET state = $2, attempts = $3, fail_reason = $4, updated_at = now()
		WHERE job_id = $1`
	_, err := s.pool.Exec(ctx, q, jobID, models.JobFailed, attempts, reason)
	return err
}

// SearchCandidate is a raw similarity-search hit before floor/topK filtering.
type SearchCandidate struct {
	Chunk      models.RetrievedChunk
	Similarity float64 // 1 - cosine_distance
}

// SearchByVector runs an ANN search scoped to repoID, ordered by cosine
// similarity descending, limited to limit rows. The caller (internal/
// retriever) applies the similarity floor.
func (s *Store) SearchByVector(ctx context.Context, repoID string, vec []float32, limit int) ([]SearchCandidate, error) {
	const q = `
SELECT file_path, start_line, end_line, symbol_name, content, language,
       1 - (embedding <=> $1) AS similarity
FROM code_chunks
WHERE repo_id = $2
ORDER BY embedding <=> $1
LIMIT $3`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), repoID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchCandidate
	for rows.Next() {
		var c SearchCandidate
		var lang string
		if err := rows.Scan(&c.Chunk.FilePath, &c.Chunk.StartLine, &c.Chunk.EndLine,
			&c.Chunk.SymbolName, &c.Chunk.Content, &lang, &c.Similarity); err != nil {
			return nil, err
		}
		c.Chunk.Language = models.Language(lang)
		c.Chunk.Score = c.Similarity
		out = append(out, c)
	}
	return out, rows.Err()
}
