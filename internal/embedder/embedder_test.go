package embedder

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stratalabs/coderag/pkg/models"
)

type fakeClient struct {
	dim        int
	failCount  int32 // number of calls to fail before succeeding
	calls      int32
	alwaysFail bool
}

func (f *fakeClient) Embed(text string) ([]float32, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.alwaysFail {
		return nil, errors.New("embedding backend down")
	}
	if f.failCount > 0 {
		f.failCount--
		return nil, errors.New("transient error")
	}
	vec := make([]float32, f.dim)
	for i := range vec {
		vec[i] = float32(len(text) + i)
	}
	return vec, nil
}

func (f *fakeClient) Summarize(ctx context.Context, filePath, language, content string) (string, error) {
	return "", nil
}

func (f *fakeClient) Generate(ctx context.Context, system, user string) (string, error) {
	return "", nil
}

func (f *fakeClient) Dim() int { return f.dim }

func chunkSet(n int) []models.CodeChunk {
	chunks := make([]models.CodeChunk, n)
	for i := range chunks {
		chunks[i] = models.CodeChunk{ID: "c" + string(rune('0'+i)), Content: "hello world"}
	}
	return chunks
}

func TestEmbed_ProducesUnitLengthVectors(t *testing.T) {
	client := &fakeClient{dim: 4}
	out, err := Embed(context.Background(), client, chunkSet(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 embedded chunks, got %d", len(out))
	}
	for _, ec := range out {
		var sumSq float64
		for _, v := range ec.Embedding {
			sumSq += float64(v) * float64(v)
		}
		norm := math.Sqrt(sumSq)
		if math.Abs(norm-1.0) > 1e-4 {
			t.Errorf("expected unit-length vector, got norm %f", norm)
		}
	}
}

func TestEmbed_EmptyInputReturnsNil(t *testing.T) {
	client := &fakeClient{dim: 4}
	out, err := Embed(context.Background(), client, nil)
	if err != nil || out != nil {
		t.Fatalf("expected (nil, nil) for empty input, got (%v, %v)", out, err)
	}
}

func TestEmbed_RetriesTransientFailures(t *testing.T) {
	client := &fakeClient{dim: 4, failCount: 2}
	out, err := Embed(context.Background(), client, chunkSet(1))
	if err != nil {
		t.Fatalf("expected eventual success after retries, got %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 embedded chunk, got %d", len(out))
	}
}

func TestEmbed_FailsBatchAfterRetriesExhausted(t *testing.T) {
	client := &fakeClient{dim: 4, alwaysFail: true}
	_, err := Embed(context.Background(), client, chunkSet(2))
	if err == nil {
		t.Fatal("expected an error after retries are exhausted")
	}
}
