// Package promptctx assembles retrieved chunks into the system/user prompt
// pair sent to the LLM, with numbered citations and a character budget.
package promptctx

import (
	"fmt"
	"math"
	"strings"

	"github.com/stratalabs/coderag/pkg/models"
)

const MaxContextChars = 12_000

const systemPromptText = `You are a code assistant. Answer only using the provided context. ` +
	`Cite your sources using [N] markers that correspond to the numbered context blocks. ` +
	`Always include file paths and line numbers when referencing code. ` +
	`If the context is insufficient to answer, say you don't know rather than guessing. ` +
	`Be concise.`

// Citation is one entry of the citation map returned alongside the prompt.
type Citation struct {
	FilePath   string
	StartLine  int
	EndLine    int
	SymbolName string
}

// Assembly is the output of Assemble.
type Assembly struct {
	SystemPrompt  string
	UserPrompt    string
	CitationMap   map[string]Citation
	TokenEstimate int
}

// Assemble groups chunks by file, emits numbered citation blocks in
// retrieval order up to MaxContextChars, and builds the fixed prompt pair
// of spec §4.7.
func Assemble(query string, chunks []models.RetrievedChunk, repoID string) Assembly {
	groups := groupByFile(chunks)

	citationMap := make(map[string]Citation, len(chunks))
	var blocks []string
	n := 0
	charCount := 0
	budgetExceeded := false

	for _, g := range groups {
		var fileBlocks []string
		for _, c := range g.chunks {
			n++
			tag := fmt.Sprintf("[%d]", n)
			citationMap[tag] = Citation{
				FilePath: c.FilePath, StartLine: c.StartLine, EndLine: c.EndLine, SymbolName: c.SymbolName,
			}

			if budgetExceeded {
				continue
			}

			header := fmt.Sprintf("%s lines %d–%d", tag, c.StartLine, c.EndLine)
			if c.SymbolName != "" {
				header = fmt.Sprintf("%s `%s` (lines %d–%d)", tag, c.SymbolName, c.StartLine, c.EndLine)
			}

			block := header + "\n```" + string(c.Language) + "\n" + c.Content + "\n```"
			fileBlocks = append(fileBlocks, block)
			charCount += len(block)

			if charCount > MaxContextChars {
				budgetExceeded = true
			}
		}
		if len(fileBlocks) > 0 {
			blocks = append(blocks, strings.Join(fileBlocks, "\n\n"))
		}
	}

	contextBlock := strings.Join(blocks, "\n\n---\n\n")
	userPrompt := "## Codebase Context\n\n" + contextBlock +
		"\n\n---\n\n## Question\n\n" + query +
		"\n\n## Answer (cite sources with [N] markers)"

	tokenEstimate := int(math.Ceil(float64(len(systemPromptText)+len(userPrompt)) / 4.0))

	return Assembly{
		SystemPrompt:  systemPromptText,
		UserPrompt:    userPrompt,
		CitationMap:   citationMap,
		TokenEstimate: tokenEstimate,
	}
}

type fileGroup struct {
	filePath string
	chunks   []models.RetrievedChunk
}

// groupByFile groups chunks by filePath in first-seen (insertion) order,
// sorting each group's chunks by startLine ascending.
func groupByFile(chunks []models.RetrievedChunk) []fileGroup {
	index := make(map[string]int)
	var groups []fileGroup

	for _, c := range chunks {
		i, ok := index[c.FilePath]
		if !ok {
			i = len(groups)
			index[c.FilePath] = i
			groups = append(groups, fileGroup{filePath: c.FilePath})
		}
		groups[i].chunks = append(groups[i].chunks, c)
	}

	for i := range groups {
		sortByStartLine(groups[i].chunks)
	}
	return groups
}

func sortByStartLine(chunks []models.RetrievedChunk) {
	for i := 1; i < len(chunks); i++ {
		for j := i; j > 0 && chunks[j].StartLine < chunks[j-1].StartLine; j-- {
			chunks[j], chunks[j-1] = chunks[j-1], chunks[j]
		}
	}
}
