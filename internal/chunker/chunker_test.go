package chunker

import (
	"strconv"
	"strings"
	"testing"
)

func TestChunk_TypeScriptFunctions(t *testing.T) {
	content := strings.Join([]string{
		"import foo from 'bar'",
		"",
		"export function add(a, b) {",
		"  return a + b",
		"}",
		"",
		"function helper() {",
		"  return 1",
		"}",
	}, "\n")

	result := Chunk("acme/widgets", "src/math.ts", content)
	if result.Strategy != StrategyAST {
		t.Fatalf("expected ast strategy, got %s", result.Strategy)
	}
	if len(result.Chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(result.Chunks))
	}
	if result.Chunks[0].SymbolName != "add" {
		t.Errorf("expected first symbol 'add', got %q", result.Chunks[0].SymbolName)
	}
	if result.Chunks[1].SymbolName != "helper" {
		t.Errorf("expected second symbol 'helper', got %q", result.Chunks[1].SymbolName)
	}
}

func TestChunk_PythonAsyncDef(t *testing.T) {
	content := strings.Join([]string{
		"class Widget:",
		"    async def build(self):",
		"        return 1",
	}, "\n")

	result := Chunk("acme/widgets", "src/widget.py", content)
	if result.Strategy != StrategyAST {
		t.Fatalf("expected ast strategy, got %s", result.Strategy)
	}
	if len(result.Chunks) != 2 {
		t.Fatalf("expected class + method chunks, got %d", len(result.Chunks))
	}
}

func TestChunk_FallsBackToSlidingWindowWhenNoSymbols(t *testing.T) {
	lines := make([]string, 200)
	for i := range lines {
		lines[i] = "x = " + strconv.Itoa(i)
	}
	content := strings.Join(lines, "\n")

	result := Chunk("acme/widgets", "src/data.py", content)
	if result.Strategy != StrategySlidingWindow {
		t.Fatalf("expected sliding-window strategy, got %s", result.Strategy)
	}
	if len(result.Chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
}

func TestChunk_UnknownExtensionUsesSlidingWindow(t *testing.T) {
	content := strings.Repeat("line\n", 100)
	result := Chunk("acme/widgets", "README.md", content)
	if result.Strategy != StrategySlidingWindow {
		t.Fatalf("expected sliding-window strategy for markdown, got %s", result.Strategy)
	}
}

func TestSlidingWindow_RespectsStepAndOverlap(t *testing.T) {
	lines := make([]string, 150)
	for i := range lines {
		lines[i] = "l"
	}
	content := strings.Join(lines, "\n")

	chunks := slidingWindowChunk("acme/widgets", "big.md", content, "text")
	if len(chunks) < 2 {
		t.Fatalf("expected multiple windows, got %d", len(chunks))
	}
	if chunks[0].StartLine != 1 || chunks[0].EndLine != SlidingWindowSize {
		t.Errorf("first window = [%d,%d], want [1,%d]", chunks[0].StartLine, chunks[0].EndLine, SlidingWindowSize)
	}
	step := SlidingWindowSize - SlidingWindowOverlap
	if chunks[1].StartLine != 1+step {
		t.Errorf("second window start = %d, want %d", chunks[1].StartLine, 1+step)
	}
}

func TestChunk_SplitsOversizedSymbolBlock(t *testing.T) {
	var b strings.Builder
	b.WriteString("export function big() {\n")
	for i := 0; i < 300; i++ {
		b.WriteString("  doSomething()\n")
	}
	b.WriteString("}\n")

	result := Chunk("acme/widgets", "src/big.ts", b.String())
	if result.Strategy != StrategyAST {
		t.Fatalf("expected ast strategy, got %s", result.Strategy)
	}
	if len(result.Chunks) < 2 {
		t.Fatalf("expected oversized block split into multiple sub-chunks, got %d", len(result.Chunks))
	}
	for i, c := range result.Chunks {
		if c.EndLine-c.StartLine+1 > MaxChunkLines {
			t.Errorf("chunk %d exceeds MaxChunkLines: %d lines", i, c.EndLine-c.StartLine+1)
		}
		if !strings.Contains(c.SymbolName, "[part") {
			t.Errorf("chunk %d symbol name missing part suffix: %q", i, c.SymbolName)
		}
	}
}

func TestChunkID_DeterministicAndSafe(t *testing.T) {
	id1 := chunkID("acme/widgets", "src/a.ts", 10)
	id2 := chunkID("acme/widgets", "src/a.ts", 10)
	if id1 != id2 {
		t.Errorf("chunkID not deterministic: %q != %q", id1, id2)
	}
	if strings.ContainsAny(id1, "/.") {
		t.Errorf("chunkID contains unsafe characters: %q", id1)
	}
}
