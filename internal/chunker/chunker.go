// Package chunker splits a file's content into line-addressed chunks for
// embedding, using symbol-aware boundaries where a cheap regex can find
// them and a sliding window everywhere else.
package chunker

import (
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/stratalabs/coderag/pkg/models"
)

const (
	MinChunkLines        = 3
	MaxChunkLines        = 150
	SlidingWindowSize    = 60
	SlidingWindowOverlap = 15
)

// Strategy identifies which algorithm produced a ChunkingResult.
type Strategy string

const (
	StrategyAST           Strategy = "ast"
	StrategySlidingWindow Strategy = "sliding-window"
)

// ChunkingResult is the output of chunking a single file.
type ChunkingResult struct {
	Chunks   []models.CodeChunk
	Strategy Strategy
}

var extLanguage = map[string]models.Language{
	".ts": models.LangTypeScript, ".tsx": models.LangTypeScript,
	".js": models.LangJavaScript, ".jsx": models.LangJavaScript,
	".mjs": models.LangJavaScript, ".cjs": models.LangJavaScript,
	".py":   models.LangPython,
	".md":   models.LangMarkdown,
	".mdx":  models.LangMarkdown,
	".json": models.LangJSON,
	".yaml": models.LangYAML,
	".yml":  models.LangYAML,
	".toml": models.LangTOML,
}

// symbolStart is a (pattern, nameGroup) pair tried in order against each
// line; the first capturing match seeds a symbol boundary.
type symbolPattern struct {
	re      *regexp.Regexp
	nameIdx int
}

// jsSymbolPatterns match TS/JS/JSX function and class declarations, plus
// exported consts assigned to arrow functions.
var jsSymbolPatterns = []symbolPattern{
	{regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s+([A-Za-z_$][\w$]*)\s*\(`), 1},
	{regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?class\s+([A-Za-z_$][\w$]*)`), 1},
	{regexp.MustCompile(`^\s*export\s+const\s+([A-Za-z_$][\w$]*)\s*=\s*(?:async\s*)?\(.*\)\s*=>`), 1},
	{regexp.MustCompile(`^\s*export\s+const\s+([A-Za-z_$][\w$]*)\s*=\s*(?:async\s*)?\w*\s*=>`), 1},
}

// pySymbolPatterns match Python function and class declarations.
var pySymbolPatterns = []symbolPattern{
	{regexp.MustCompile(`^\s*(?:async\s+)?def\s+([A-Za-z_]\w*)\s*\(`), 1},
	{regexp.MustCompile(`^\s*class\s+([A-Za-z_]\w*)\s*[:\(]`), 1},
}

// Chunk dispatches to the symbol-aware chunker for the file's extension, or
// falls back to a sliding window. repoID and path together seed the
// deterministic chunk ID.
func Chunk(repoID, filePath, content string) ChunkingResult {
	ext := strings.ToLower(path.Ext(filePath))
	lang := languageFor(ext)

	var patterns []symbolPattern
	switch ext {
	case ".ts", ".tsx", ".js", ".jsx", ".mjs":
		patterns = jsSymbolPatterns
	case ".py":
		patterns = pySymbolPatterns
	}

	if patterns != nil {
		if chunks, ok := symbolAwareChunk(repoID, filePath, content, lang, patterns); ok {
			return ChunkingResult{Chunks: chunks, Strategy: StrategyAST}
		}
	}

	return ChunkingResult{Chunks: slidingWindowChunk(repoID, filePath, content, lang), Strategy: StrategySlidingWindow}
}

func languageFor(ext string) models.Language {
	if lang, ok := extLanguage[ext]; ok {
		return lang
	}
	return models.LangText
}

type boundary struct {
	startLine  int // 1-indexed
	symbolName string
}

// symbolAwareChunk scans content for symbol-start patterns and slices the
// file into blocks between consecutive boundaries. Returns ok=false when no
// symbol matched at all, signaling the caller to fall through to the
// sliding window.
func symbolAwareChunk(repoID, filePath, content string, lang models.Language, patterns []symbolPattern) ([]models.CodeChunk, bool) {
	lines := strings.Split(content, "\n")

	var boundaries []boundary
	for i, line := range lines {
		for _, p := range patterns {
			if m := p.re.FindStringSubmatch(line); m != nil {
				boundaries = append(boundaries, boundary{startLine: i + 1, symbolName: m[p.nameIdx]})
				break
			}
		}
	}

	if len(boundaries) == 0 {
		return nil, false
	}

	var chunks []models.CodeChunk
	idx := 0
	for i, b := range boundaries {
		endLine := len(lines)
		if i+1 < len(boundaries) {
			endLine = boundaries[i+1].startLine - 1
		}

		blockLines := endLine - b.startLine + 1
		if blockLines < MinChunkLines {
			continue
		}

		if blockLines <= MaxChunkLines {
			chunks = append(chunks, newChunk(repoID, filePath, lang, lines, b.startLine, endLine, b.symbolName, idx))
			idx++
			continue
		}

		for part, subStart := 1, b.startLine; subStart <= endLine; part++ {
			subEnd := subStart + MaxChunkLines - 1
			if subEnd > endLine {
				subEnd = endLine
			}
			if subEnd-subStart+1 >= MinChunkLines {
				name := b.symbolName + " [part " + strconv.Itoa(part) + "]"
				chunks = append(chunks, newChunk(repoID, filePath, lang, lines, subStart, subEnd, name, idx))
				idx++
			}
			if subEnd == endLine {
				break
			}
			subStart = subEnd - SlidingWindowOverlap + 1
		}
	}

	if len(chunks) == 0 {
		return nil, false
	}
	return chunks, true
}

// slidingWindowChunk emits fixed-size, overlapping windows with no symbol
// name, skipping a final window shorter than MinChunkLines.
func slidingWindowChunk(repoID, filePath, content string, lang models.Language) []models.CodeChunk {
	lines := strings.Split(content, "\n")
	step := SlidingWindowSize - SlidingWindowOverlap

	var chunks []models.CodeChunk
	idx := 0
	for start := 1; start <= len(lines); start += step {
		end := start + SlidingWindowSize - 1
		if end > len(lines) {
			end = len(lines)
		}
		if end-start+1 < MinChunkLines {
			break
		}
		chunks = append(chunks, newChunk(repoID, filePath, lang, lines, start, end, "", idx))
		idx++
		if end == len(lines) {
			break
		}
	}
	return chunks
}

func newChunk(repoID, filePath string, lang models.Language, lines []string, start, end int, symbolName string, idx int) models.CodeChunk {
	content := strings.Join(lines[start-1:end], "\n")
	return models.CodeChunk{
		ID:         chunkID(repoID, filePath, start),
		RepoID:     repoID,
		FilePath:   filePath,
		Language:   lang,
		Content:    content,
		StartLine:  start,
		EndLine:    end,
		SymbolName: symbolName,
		ChunkIndex: idx,
	}
}

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

func safe(s string) string {
	return nonAlnum.ReplaceAllString(s, "_")
}

func chunkID(repoID, filePath string, startLine int) string {
	return safe(repoID) + "__" + safe(filePath) + "__L" + strconv.Itoa(startLine)
}
