// Package filter decides which fetched files are worth indexing.
package filter

import (
	"bytes"
	"path"
	"strings"

	"github.com/stratalabs/coderag/pkg/models"
)

const (
	minSizeBytes = 10
	maxSizeBytes = 512_000
)

// dirDenylist are path segments (excluding the final basename) that
// disqualify a file regardless of any other attribute.
var dirDenylist = map[string]struct{}{
	"node_modules": {}, "dist": {}, "build": {}, "out": {}, ".next": {},
	".nuxt": {}, ".output": {}, ".cache": {}, "__pycache__": {},
	".pytest_cache": {}, "vendor": {}, "venv": {}, ".venv": {}, "env": {},
	"__pypackages__": {}, ".git": {}, ".svn": {}, ".hg": {}, ".idea": {},
	".vscode": {}, "coverage": {}, ".nyc_output": {}, "htmlcov": {},
	"tmp": {}, "temp": {}, "logs": {}, ".pnp": {},
}

var fileDenylist = map[string]struct{}{
	"package-lock.json": {}, "yarn.lock": {}, "pnpm-lock.yaml": {},
	"poetry.lock": {}, "Pipfile.lock": {}, "composer.lock": {},
	".DS_Store": {}, "Thumbs.db": {},
	".env": {}, ".env.local": {}, ".env.production": {},
	".gitignore": {}, ".gitattributes": {}, ".editorconfig": {},
	".prettierrc": {},
}

var extAllowlist = map[string]struct{}{
	".ts": {}, ".tsx": {}, ".js": {}, ".jsx": {}, ".mjs": {}, ".cjs": {},
	".py": {}, ".md": {}, ".mdx": {}, ".json": {}, ".yaml": {}, ".yml": {},
	".toml": {},
}

// Result pairs an accepted/rejected file with the reason it was decided.
type Rejection struct {
	File   models.RawFile
	Reason string
}

// Filter partitions files into accepted and rejected sets. It is a pure
// function of its input: no hidden state, same input always yields the
// same partition.
func Filter(files []models.RawFile) (accepted []models.RawFile, rejected []Rejection) {
	for _, f := range files {
		if reason, ok := reject(f); ok {
			rejected = append(rejected, Rejection{File: f, Reason: reason})
			continue
		}
		accepted = append(accepted, f)
	}
	return accepted, rejected
}

// reject evaluates the ordered rule chain and returns the first failing
// reason, or ("", false) if the file is accepted.
func reject(f models.RawFile) (string, bool) {
	if reason, ok := rejectPath(f.Path); ok {
		return reason, true
	}

	if f.SizeBytes < minSizeBytes || f.SizeBytes > maxSizeBytes {
		return "size out of bounds", true
	}

	if bytes.IndexByte(f.Content, 0) >= 0 {
		return "content looks binary (NUL byte present)", true
	}

	return "", false
}

// PathAllowed reports whether path passes the directory/filename/extension
// rules alone, without regard to size or content. Callers that only know a
// path and a reported size up front (e.g. a repo tree listing, before any
// blob has been fetched) use this to avoid downloading content doomed to be
// rejected anyway.
func PathAllowed(p string) bool {
	_, rejected := rejectPath(p)
	return !rejected
}

func rejectPath(p string) (string, bool) {
	if hasDenylistedSegment(p) {
		return "path contains a denylisted directory segment", true
	}

	base := path.Base(p)
	if isDenylistedFilename(base) {
		return "filename is denylisted", true
	}

	ext := strings.ToLower(path.Ext(base))
	if _, ok := extAllowlist[ext]; !ok {
		return "extension not in allowlist", true
	}

	return "", false
}

func hasDenylistedSegment(p string) bool {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return false
	}
	for _, seg := range strings.Split(dir, "/") {
		if seg == "" {
			continue
		}
		if _, ok := dirDenylist[seg]; ok {
			return true
		}
		if strings.HasSuffix(seg, ".egg-info") {
			return true
		}
	}
	return false
}

func isDenylistedFilename(base string) bool {
	if _, ok := fileDenylist[base]; ok {
		return true
	}
	return strings.HasPrefix(base, ".eslintrc") ||
		strings.HasPrefix(base, "jest.config.") ||
		base == "vitest.config.ts"
}
