// Package models holds the data types shared across ingestion, storage and
// retrieval: the raw filesystem view of a repo, the chunked/embedded forms
// persisted to the vector store, and the job/query wire types.
package models

import "time"

// Language is the set of languages the chunker tags content with.
type Language string

const (
	LangTypeScript Language = "typescript"
	LangJavaScript Language = "javascript"
	LangPython     Language = "python"
	LangMarkdown   Language = "markdown"
	LangJSON       Language = "json"
	LangYAML       Language = "yaml"
	LangTOML       Language = "toml"
	LangText       Language = "text"
)

// RawFile is a single repo-relative file as fetched, before filtering or
// chunking. It is never persisted.
type RawFile struct {
	Path      string // repo-root-relative, forward-slash-separated
	Content   []byte
	SizeBytes int
}

// CodeChunk is a contiguous, line-addressed slice of a file, the unit of
// embedding and retrieval.
type CodeChunk struct {
	ID         string
	RepoID     string // "{owner}/{repo}"
	FilePath   string
	Language   Language
	Content    string
	StartLine  int // 1-indexed, inclusive
	EndLine    int // 1-indexed, inclusive
	SymbolName string
	ChunkIndex int // 0-based emission order within the file
}

// EmbeddedChunk pairs a CodeChunk with its L2-normalized dense vector.
type EmbeddedChunk struct {
	Chunk      CodeChunk
	Embedding  []float32
	EmbeddedAt time.Time
	Model      string
}

// RepoIndex is the one-row-per-repository bookkeeping record.
type RepoIndex struct {
	RepoID         string
	CommitHash     *string
	DefaultBranch  string
	SizeKB         int
	FileCount      int
	ChunkCount     int
	EmbeddingModel string
	UpdatedAt      time.Time
}

// RetrievedChunk is a similarity-search hit projected for the caller.
type RetrievedChunk struct {
	FilePath   string
	StartLine  int
	EndLine    int
	SymbolName string
	Content    string
	Language   Language
	Score      float64 // 1 - cosine_distance, in [0,1]
}

// JobState is the lifecycle state of an indexing job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Job is the durable record of one indexing request.
type Job struct {
	JobID       string
	GithubURL   string
	GithubToken string
	RequestedBy string
	State       JobState
	Progress    int
	Attempts    int
	ReturnValue *JobResult
	FailReason  string
}

// JobResult is the return value of a completed indexing job.
type JobResult struct {
	RepoID          string `json:"repoId"`
	Strategy        string `json:"strategy"`
	ChunksWritten   int    `json:"chunksWritten"`
	ChunksDeleted   int    `json:"chunksDeleted"`
	TotalDurationMs int64  `json:"totalDurationMs"`
}

// IndexRepoJobData is the payload enqueued for the "index-repo" queue.
type IndexRepoJobData struct {
	GithubURL   string `json:"githubUrl"`
	GithubToken string `json:"githubToken,omitempty"`
	RequestedBy string `json:"requestedBy,omitempty"`
}
