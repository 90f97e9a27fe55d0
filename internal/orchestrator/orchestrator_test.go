package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stratalabs/coderag/internal/fetch"
	"github.com/stratalabs/coderag/internal/pipeline"
	"github.com/stratalabs/coderag/internal/queue"
	"github.com/stratalabs/coderag/internal/store"
	"github.com/stratalabs/coderag/pkg/models"
)

type fakeStore struct {
	mu       sync.Mutex
	jobs     map[string]models.Job
	writeErr error
	written  []models.EmbeddedChunk
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]models.Job)}
}

func (f *fakeStore) CreateJob(ctx context.Context, jobID, githubURL, requestedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID] = models.Job{JobID: jobID, GithubURL: githubURL, RequestedBy: requestedBy, State: models.JobQueued}
	return nil
}

func (f *fakeStore) GetJob(ctx context.Context, jobID string) (models.Job, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	return j, ok, nil
}

func (f *fakeStore) UpdateJobProgress(ctx context.Context, jobID string, state models.JobState, progress, attempts int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[jobID]
	j.State, j.Progress, j.Attempts = state, progress, attempts
	f.jobs[jobID] = j
	return nil
}

func (f *fakeStore) CompleteJob(ctx context.Context, jobID string, result models.JobResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[jobID]
	j.State, j.Progress, j.ReturnValue = models.JobCompleted, 100, &result
	f.jobs[jobID] = j
	return nil
}

func (f *fakeStore) FailJob(ctx context.Context, jobID string, attempts int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[jobID]
	j.State, j.Attempts, j.FailReason = models.JobFailed, attempts, reason
	f.jobs[jobID] = j
	return nil
}

func (f *fakeStore) Write(ctx context.Context, chunks []models.EmbeddedChunk, opts store.WriteOpts) (store.WriteResult, error) {
	if f.writeErr != nil {
		return store.WriteResult{}, f.writeErr
	}
	f.written = chunks
	return store.WriteResult{Strategy: store.StrategyUpsert, ChunksWritten: len(chunks)}, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []string
	acked    []string
}

func (f *fakeQueue) Enqueue(ctx context.Context, jobID string, payload []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, jobID)
	return "1-0", nil
}

func (f *fakeQueue) Consume(ctx context.Context, consumerName string, count int64, block time.Duration) ([]queue.Message, error) {
	return nil, nil
}

func (f *fakeQueue) Ack(ctx context.Context, streamID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, streamID)
	return nil
}

func (f *fakeQueue) Trim(ctx context.Context, maxLen int64) error { return nil }

type fakeAIClient struct{ dim int }

func (f *fakeAIClient) Embed(text string) ([]float32, error) {
	vec := make([]float32, f.dim)
	vec[0] = 1
	return vec, nil
}
func (f *fakeAIClient) Summarize(ctx context.Context, filePath, language, content string) (string, error) {
	return "", nil
}
func (f *fakeAIClient) Generate(ctx context.Context, system, user string) (string, error) {
	return "", nil
}
func (f *fakeAIClient) Dim() int { return f.dim }

func TestSubmit_CreatesJobAndEnqueues(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	deps := Deps{Store: st, Queue: q, AIClient: &fakeAIClient{dim: 4}}

	jobID, err := Submit(context.Background(), deps, models.IndexRepoJobData{GithubURL: "https://github.com/acme/widgets"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if jobID == "" {
		t.Fatal("expected non-empty job id")
	}
	if len(q.enqueued) != 1 || q.enqueued[0] != jobID {
		t.Errorf("expected job enqueued, got %v", q.enqueued)
	}
	job, ok, err := Status(context.Background(), deps, jobID)
	if err != nil || !ok {
		t.Fatalf("expected job record to exist, ok=%v err=%v", ok, err)
	}
	if job.State != models.JobQueued {
		t.Errorf("State = %v, want queued", job.State)
	}
}

func TestStatus_UnknownJobReturnsFalse(t *testing.T) {
	st := newFakeStore()
	deps := Deps{Store: st, Queue: &fakeQueue{}, AIClient: &fakeAIClient{dim: 4}}
	_, ok, err := Status(context.Background(), deps, "does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected ok=false for unknown job id")
	}
}

func TestProcessMessage_EmptyCorpusIsSkippedNotFailed(t *testing.T) {
	origRun, origCommit := pipelineRunFn, commitHashFn
	t.Cleanup(func() { pipelineRunFn, commitHashFn = origRun, origCommit })

	pipelineRunFn = func(ctx context.Context, url, token string) (pipeline.Result, error) {
		return pipeline.Result{RepoID: "acme/empty", RepoMeta: fetch.RepoMeta{RepoID: "acme/empty", DefaultBranch: "main"}}, nil
	}
	commitHashFn = func(ctx context.Context, token, owner, repo, branch string) *string { return nil }

	st := newFakeStore()
	q := &fakeQueue{}
	deps := Deps{Store: st, Queue: q, AIClient: &fakeAIClient{dim: 4}}

	jobID, err := Submit(context.Background(), deps, models.IndexRepoJobData{GithubURL: "https://github.com/acme/empty"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	processMessage(context.Background(), deps, "worker-0", queue.Message{
		StreamID: "1-0", JobID: jobID, Payload: []byte(`{"githubUrl":"https://github.com/acme/empty"}`),
	})

	job, ok, _ := Status(context.Background(), deps, jobID)
	if !ok {
		t.Fatal("expected job to exist")
	}
	if job.State != models.JobCompleted {
		t.Errorf("State = %v, want completed (empty corpus is not a failure)", job.State)
	}
	if job.ReturnValue == nil || job.ReturnValue.Strategy != string(store.StrategySkipped) {
		t.Errorf("expected skipped strategy result, got %+v", job.ReturnValue)
	}
	if len(q.acked) != 1 {
		t.Errorf("expected message to be acked, got %v", q.acked)
	}
}

func TestProcessMessage_SuccessfulIngestWritesChunks(t *testing.T) {
	origRun, origCommit := pipelineRunFn, commitHashFn
	t.Cleanup(func() { pipelineRunFn, commitHashFn = origRun, origCommit })

	chunks := []models.CodeChunk{{ID: "c1", RepoID: "acme/widgets", Content: "x"}}
	pipelineRunFn = func(ctx context.Context, url, token string) (pipeline.Result, error) {
		return pipeline.Result{
			RepoID:   "acme/widgets",
			RepoMeta: fetch.RepoMeta{RepoID: "acme/widgets", DefaultBranch: "main"},
			Chunks:   chunks,
		}, nil
	}
	commitHash := "abc123"
	commitHashFn = func(ctx context.Context, token, owner, repo, branch string) *string { return &commitHash }

	st := newFakeStore()
	q := &fakeQueue{}
	deps := Deps{Store: st, Queue: q, AIClient: &fakeAIClient{dim: 4}}

	jobID, err := Submit(context.Background(), deps, models.IndexRepoJobData{GithubURL: "https://github.com/acme/widgets"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	processMessage(context.Background(), deps, "worker-0", queue.Message{
		StreamID: "1-0", JobID: jobID, Payload: []byte(`{"githubUrl":"https://github.com/acme/widgets"}`),
	})

	job, ok, _ := Status(context.Background(), deps, jobID)
	if !ok || job.State != models.JobCompleted {
		t.Fatalf("expected completed job, got %+v ok=%v", job, ok)
	}
	if len(st.written) != 1 {
		t.Errorf("expected 1 chunk written, got %d", len(st.written))
	}
}
