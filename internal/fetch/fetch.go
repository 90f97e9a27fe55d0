// Package fetch acquires a repository's file contents, either through the
// GitHub REST API or a shallow git clone, depending on repo size.
package fetch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/google/go-github/v73/github"
	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/stratalabs/coderag/internal/filter"
	"github.com/stratalabs/coderag/pkg/models"
)

const (
	// maxFileCountForAPI and maxSizeMBForAPI gate the API strategy; above
	// either threshold fetch falls back to a shallow clone.
	maxFileCountForAPI = 1000
	maxSizeMBForAPI    = 50

	perFileCapBytes = 500_000
	blobBatchSize   = 20
	cloneDepth      = 1
)

// ErrInvalidURL is returned when a URL does not identify a github.com repo.
var ErrInvalidURL = errors.New("invalid repository URL")

var githubURLPattern = regexp.MustCompile(`github\.com[/:]([^/]+)/([^/]+?)(?:\.git)?(?:/tree/.*)?/?$`)

// RepoMeta describes the repository a fetch was performed against.
type RepoMeta struct {
	Owner         string
	Repo          string
	RepoID        string // "{owner}/{repo}"
	DefaultBranch string
	SizeKB        int
	FileCount     int
	UsedFallback  bool
}

// ParseURL extracts owner/repo from a github.com URL, tolerating a trailing
// ".git" suffix and a "/tree/<ref>/..." suffix.
func ParseURL(rawURL string) (owner, repo string, err error) {
	m := githubURLPattern.FindStringSubmatch(strings.TrimSpace(rawURL))
	if m == nil {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}
	owner, repo = m[1], strings.TrimSuffix(m[2], ".git")
	if owner == "" || repo == "" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}
	return owner, repo, nil
}

func newClient(ctx context.Context, token string) *github.Client {
	if token == "" {
		return github.NewClient(nil)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return github.NewClient(oauth2.NewClient(ctx, ts))
}

// Fetch acquires all filterable files for a repository, choosing the API
// strategy or the clone fallback based on repo size/file count.
func Fetch(ctx context.Context, rawURL, token string) ([]models.RawFile, RepoMeta, error) {
	owner, repo, err := ParseURL(rawURL)
	if err != nil {
		return nil, RepoMeta{}, err
	}

	client := newClient(ctx, token)
	meta := RepoMeta{Owner: owner, Repo: repo, RepoID: owner + "/" + repo}

	ghRepo, _, err := client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, RepoMeta{}, fmt.Errorf("fetching repo metadata: %w", err)
	}
	meta.DefaultBranch = ghRepo.GetDefaultBranch()
	meta.SizeKB = ghRepo.GetSize()

	tree, _, err := client.Git.GetTree(ctx, owner, repo, meta.DefaultBranch, true)
	if err != nil {
		return nil, RepoMeta{}, fmt.Errorf("listing repository tree: %w", err)
	}

	blobEntries := make([]*github.TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		if e.GetType() == "blob" {
			blobEntries = append(blobEntries, e)
		}
	}
	meta.FileCount = len(blobEntries)

	sizeMB := float64(meta.SizeKB) / 1024.0
	if meta.FileCount <= maxFileCountForAPI && sizeMB <= maxSizeMBForAPI {
		files, err := fetchViaAPI(ctx, client, owner, repo, blobEntries)
		if err != nil {
			return nil, RepoMeta{}, err
		}
		meta.UsedFallback = false
		return files, meta, nil
	}

	meta.UsedFallback = true
	files, err := fetchViaClone(ctx, rawURL, token, meta.DefaultBranch)
	if err != nil {
		return nil, RepoMeta{}, err
	}
	return files, meta, nil
}

// fetchViaAPI retrieves blob contents in parallel batches, pre-filtering by
// path/extension and a per-file size cap. Individual blob failures are
// logged and skipped; they never fail the overall fetch.
func fetchViaAPI(ctx context.Context, client *github.Client, owner, repo string, entries []*github.TreeEntry) ([]models.RawFile, error) {
	candidates := preFilterEntries(entries)

	var files []models.RawFile
	for start := 0; start < len(candidates); start += blobBatchSize {
		end := start + blobBatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		results := make([]*models.RawFile, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for i, entry := range batch {
			i, entry := i, entry
			g.Go(func() error {
				blob, _, err := client.Git.GetBlob(gctx, owner, repo, entry.GetSHA())
				if err != nil {
					log.Warn().Err(err).Str("path", entry.GetPath()).Msg("blob fetch failed, skipping")
					return nil
				}
				content, err := decodeBlob(blob)
				if err != nil {
					log.Warn().Err(err).Str("path", entry.GetPath()).Msg("blob decode failed, skipping")
					return nil
				}
				results[i] = &models.RawFile{Path: entry.GetPath(), Content: content, SizeBytes: len(content)}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for _, r := range results {
			if r != nil {
				files = append(files, *r)
			}
		}
	}
	return files, nil
}

func decodeBlob(blob *github.Blob) ([]byte, error) {
	if blob.GetEncoding() == "base64" {
		return base64.StdEncoding.DecodeString(blob.GetContent())
	}
	return []byte(blob.GetContent()), nil
}

// preFilterEntries applies C1's path/extension rules plus the per-file size
// cap before any network call is made for a blob's content.
func preFilterEntries(entries []*github.TreeEntry) []*github.TreeEntry {
	out := make([]*github.TreeEntry, 0, len(entries))
	for _, e := range entries {
		if e.GetSize() > perFileCapBytes {
			continue
		}
		if filter.PathAllowed(e.GetPath()) {
			out = append(out, e)
		}
	}
	return out
}

// fetchViaClone shallow-clones the repo into a scoped temp directory and
// walks it, applying the same filter rules as the API strategy. The temp
// directory is removed on every exit path.
func fetchViaClone(ctx context.Context, rawURL, token, branch string) ([]models.RawFile, error) {
	dir, err := os.MkdirTemp("", "coderag-clone-*")
	if err != nil {
		return nil, fmt.Errorf("creating clone dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Warn().Err(rmErr).Str("dir", dir).Msg("failed to clean up clone directory")
		}
	}()

	cloneOpts := &git.CloneOptions{
		URL:           normalizeCloneURL(rawURL),
		Depth:         cloneDepth,
		SingleBranch:  true,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		Tags:          git.NoTags,
	}
	if token != "" {
		cloneOpts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: token}
	}

	if _, err := git.PlainCloneContext(ctx, dir, false, cloneOpts); err != nil {
		return nil, fmt.Errorf("cloning repository: %w", err)
	}

	return walkClone(dir)
}

func normalizeCloneURL(rawURL string) string {
	u := strings.TrimSpace(rawURL)
	u = strings.TrimSuffix(u, "/")
	if !strings.HasSuffix(u, ".git") {
		u += ".git"
	}
	if strings.Contains(u, "/tree/") {
		u = u[:strings.Index(u, "/tree/")] + ".git"
	}
	return u
}

func walkClone(root string) ([]models.RawFile, error) {
	var raw []models.RawFile
	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				if de.Name() == ".git" {
					return filepath.SkipDir
				}
				return nil
			}
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)

			content, readErr := os.ReadFile(path)
			if readErr != nil {
				log.Warn().Err(readErr).Str("path", rel).Msg("failed to read cloned file, skipping")
				return nil
			}
			raw = append(raw, models.RawFile{Path: rel, Content: content, SizeBytes: len(content)})
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// CommitHash returns the current head commit SHA of branch, or nil if it
// cannot be determined. It never fails the caller.
func CommitHash(ctx context.Context, token, owner, repo, branch string) *string {
	client := newClient(ctx, token)
	ref, _, err := client.Git.GetRef(ctx, owner, repo, "refs/heads/"+branch)
	if err != nil || ref.GetObject() == nil {
		return nil
	}
	sha := ref.GetObject().GetSHA()
	if sha == "" {
		return nil
	}
	return &sha
}

