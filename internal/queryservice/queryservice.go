// Package queryservice implements the RAG query endpoint: validate,
// retrieve, assemble, generate.
package queryservice

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/stratalabs/coderag/internal/ai"
	"github.com/stratalabs/coderag/internal/promptctx"
	"github.com/stratalabs/coderag/internal/retriever"
	"github.com/stratalabs/coderag/pkg/models"
)

// ErrInvalidInput is returned by Query when repoId or query fail
// validation; callers surface this as HTTP 400.
var ErrInvalidInput = errors.New("invalid input")

const noContextAnswer = "No relevant code was found for this query."

// ChunkView is a retrieved chunk projected for the response body.
type ChunkView struct {
	FilePath   string  `json:"filePath"`
	StartLine  int     `json:"startLine"`
	EndLine    int     `json:"endLine"`
	SymbolName string  `json:"symbolName,omitempty"`
	Score      float64 `json:"score"`
	Language   string  `json:"language"`
}

// CitationView is one numbered citation in the response body.
type CitationView struct {
	Tag        string `json:"tag"`
	FilePath   string `json:"filePath"`
	StartLine  int    `json:"startLine"`
	EndLine    int    `json:"endLine"`
	SymbolName string `json:"symbolName,omitempty"`
}

// Meta reports counters describing how a response was produced.
type Meta struct {
	CandidatesConsidered int   `json:"candidatesConsidered"`
	ChunksUsed           int   `json:"chunksUsed"`
	TokenEstimate        int   `json:"tokenEstimate"`
	DurationMs           int64 `json:"durationMs"`
}

// Response is the full POST /api/rag/query response body.
type Response struct {
	Answer    string         `json:"answer"`
	Citations []CitationView `json:"citations"`
	Chunks    []ChunkView    `json:"chunks"`
	Meta      Meta           `json:"meta"`
}

// Searcher is the subset of store.Store the query service needs.
type Searcher = retriever.Searcher

// Validate checks repoId and query per spec §4.10: repoId non-empty,
// query trimmed length >= 3.
func Validate(repoID, query string) error {
	if strings.TrimSpace(repoID) == "" {
		return fmt.Errorf("%w: repoId is required", ErrInvalidInput)
	}
	if len(strings.TrimSpace(query)) < 3 {
		return fmt.Errorf("%w: query must be at least 3 characters", ErrInvalidInput)
	}
	return nil
}

// Query runs the retrieve -> assemble -> generate pipeline. If retrieval
// finds nothing above the similarity floor, it returns the fixed
// no-context answer without calling the LLM.
func Query(ctx context.Context, client ai.Client, searcher Searcher, repoID, query string, topK int) (Response, error) {
	if err := Validate(repoID, query); err != nil {
		return Response{}, err
	}

	result, err := retriever.Retrieve(ctx, client, searcher, query, repoID, topK)
	if err != nil {
		return Response{}, fmt.Errorf("retrieve: %w", err)
	}

	if len(result.Chunks) == 0 {
		return Response{
			Answer:    noContextAnswer,
			Citations: []CitationView{},
			Chunks:    []ChunkView{},
			Meta: Meta{
				CandidatesConsidered: result.TotalCandidates,
				DurationMs:           result.DurationMs,
			},
		}, nil
	}

	asm := promptctx.Assemble(query, result.Chunks, repoID)

	answer, err := client.Generate(ctx, asm.SystemPrompt, asm.UserPrompt)
	if err != nil {
		return Response{}, fmt.Errorf("generate: %w", err)
	}

	return Response{
		Answer:    answer,
		Citations: citationViews(asm),
		Chunks:    chunkViews(result.Chunks),
		Meta: Meta{
			CandidatesConsidered: result.TotalCandidates,
			ChunksUsed:           len(result.Chunks),
			TokenEstimate:        asm.TokenEstimate,
			DurationMs:           result.DurationMs,
		},
	}, nil
}

func citationViews(asm promptctx.Assembly) []CitationView {
	out := make([]CitationView, 0, len(asm.CitationMap))
	for tag, c := range asm.CitationMap {
		out = append(out, CitationView{
			Tag: tag, FilePath: c.FilePath, StartLine: c.StartLine, EndLine: c.EndLine, SymbolName: c.SymbolName,
		})
	}
	return out
}

func chunkViews(chunks []models.RetrievedChunk) []ChunkView {
	out := make([]ChunkView, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, ChunkView{
			FilePath:   c.FilePath,
			StartLine:  c.StartLine,
			EndLine:    c.EndLine,
			SymbolName: c.SymbolName,
			Score:      roundTo4(c.Score),
			Language:   string(c.Language),
		})
	}
	return out
}

func roundTo4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
