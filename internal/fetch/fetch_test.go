package fetch

import (
	"errors"
	"testing"

	"github.com/google/go-github/v73/github"
)

func TestParseURL(t *testing.T) {
	cases := []struct {
		url       string
		wantOwner string
		wantRepo  string
		wantErr   bool
	}{
		{"https://github.com/acme/widgets", "acme", "widgets", false},
		{"https://github.com/acme/widgets.git", "acme", "widgets", false},
		{"https://github.com/acme/widgets/tree/main", "acme", "widgets", false},
		{"git@github.com:acme/widgets.git", "acme", "widgets", false},
		{"https://example.com/acme/widgets", "", "", true},
		{"not a url at all", "", "", true},
	}

	for _, c := range cases {
		owner, repo, err := ParseURL(c.url)
		if c.wantErr {
			if err == nil || !errors.Is(err, ErrInvalidURL) {
				t.Errorf("ParseURL(%q): expected ErrInvalidURL, got %v", c.url, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseURL(%q): unexpected error: %v", c.url, err)
			continue
		}
		if owner != c.wantOwner || repo != c.wantRepo {
			t.Errorf("ParseURL(%q) = (%q, %q), want (%q, %q)", c.url, owner, repo, c.wantOwner, c.wantRepo)
		}
	}
}

func TestNormalizeCloneURL(t *testing.T) {
	cases := map[string]string{
		"https://github.com/acme/widgets":            "https://github.com/acme/widgets.git",
		"https://github.com/acme/widgets.git":         "https://github.com/acme/widgets.git",
		"https://github.com/acme/widgets/tree/main":   "https://github.com/acme/widgets.git",
		"https://github.com/acme/widgets/":            "https://github.com/acme/widgets.git",
	}
	for in, want := range cases {
		if got := normalizeCloneURL(in); got != want {
			t.Errorf("normalizeCloneURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestPreFilterEntries_AppliesSizeCapAndPathRules(t *testing.T) {
	entries := []*github.TreeEntry{
		{Path: strPtr("src/index.ts"), Size: intPtr(100), Type: strPtr("blob")},
		{Path: strPtr("node_modules/pkg/index.js"), Size: intPtr(100), Type: strPtr("blob")},
		{Path: strPtr("huge.ts"), Size: intPtr(600_000), Type: strPtr("blob")},
		{Path: strPtr("binary.exe"), Size: intPtr(100), Type: strPtr("blob")},
	}

	out := preFilterEntries(entries)
	if len(out) != 1 {
		t.Fatalf("expected exactly 1 surviving entry, got %d", len(out))
	}
	if out[0].GetPath() != "src/index.ts" {
		t.Errorf("expected src/index.ts to survive, got %s", out[0].GetPath())
	}
}

func TestDecodeBlob_Base64(t *testing.T) {
	blob := &github.Blob{
		Content:  strPtr("aGVsbG8="), // "hello"
		Encoding: strPtr("base64"),
	}
	content, err := decodeBlob(blob)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(content) != "hello" {
		t.Errorf("decodeBlob: got %q, want %q", content, "hello")
	}
}

func TestDecodeBlob_Plain(t *testing.T) {
	blob := &github.Blob{Content: strPtr("hello"), Encoding: strPtr("utf-8")}
	content, err := decodeBlob(blob)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(content) != "hello" {
		t.Errorf("decodeBlob: got %q, want %q", content, "hello")
	}
}
