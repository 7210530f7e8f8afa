package fetcher

import (
	"context"
	"fmt"
	"html"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/docsmcp/docsmcp/internal/errors"
)

// FileFetcher serves file:// URLs and plain local paths. Directories
// become pseudo-pages: an HTML listing whose links let the crawler
// descend into the tree. File modification time plays the role of
// Last-Modified for differential refresh.
type FileFetcher struct{}

func NewFile() *FileFetcher { return &FileFetcher{} }

func (f *FileFetcher) CanFetch(rawURL string) bool {
	if strings.HasPrefix(rawURL, "file://") {
		return true
	}
	if strings.HasPrefix(rawURL, "/") || strings.HasPrefix(rawURL, "./") || strings.HasPrefix(rawURL, "~") {
		return true
	}
	return false
}

func (f *FileFetcher) Close() error { return nil }

func (f *FileFetcher) Fetch(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := toPath(rawURL)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return &Result{Source: canonicalFileURL(path), Status: StatusGone}, nil
	}
	if err != nil {
		return nil, errors.Permanent(err, "cannot stat %s", path)
	}

	if info.IsDir() {
		return f.fetchDir(path)
	}
	return f.fetchFile(path, info, opts)
}

func (f *FileFetcher) fetchFile(path string, info os.FileInfo, opts Options) (*Result, error) {
	modified := info.ModTime().UTC().Format(time.RFC1123)

	// Unchanged mtime answers the conditional request without a read.
	if opts.IfModifiedSince != "" {
		if since, err := time.Parse(time.RFC1123, opts.IfModifiedSince); err == nil {
			if !info.ModTime().UTC().Truncate(time.Second).After(since.UTC()) {
				return &Result{
					Source:       canonicalFileURL(path),
					LastModified: modified,
					Status:       StatusNotModified,
				}, nil
			}
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Permanent(err, "cannot read %s", path)
	}

	return &Result{
		Source:       canonicalFileURL(path),
		Content:      content,
		MimeType:     mimeForPath(path),
		LastModified: modified,
		Status:       StatusOK,
	}, nil
}

// fetchDir renders a directory as an HTML index page so link discovery
// works the same way it does for a website.
func (f *FileFetcher) fetchDir(path string) (*Result, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Permanent(err, "cannot list %s", path)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><title>")
	b.WriteString(html.EscapeString(filepath.Base(path)))
	b.WriteString("</title></head><body><ul>\n")
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		child := canonicalFileURL(filepath.Join(path, e.Name()))
		fmt.Fprintf(&b, `<li><a href="%s">%s</a></li>`+"\n",
			html.EscapeString(child), html.EscapeString(e.Name()))
	}
	b.WriteString("</ul></body></html>\n")

	return &Result{
		Source:   canonicalFileURL(path),
		Content:  []byte(b.String()),
		MimeType: "text/html",
		Status:   StatusOK,
	}, nil
}

func toPath(rawURL string) (string, error) {
	if strings.HasPrefix(rawURL, "file://") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", errors.Validation("invalid file url %q", rawURL)
		}
		return filepath.Clean(u.Path), nil
	}
	if strings.HasPrefix(rawURL, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			rawURL = filepath.Join(home, strings.TrimPrefix(rawURL, "~"))
		}
	}
	abs, err := filepath.Abs(rawURL)
	if err != nil {
		return "", errors.Validation("invalid path %q", rawURL)
	}
	return abs, nil
}

func canonicalFileURL(path string) string {
	return "file://" + filepath.ToSlash(path)
}

// mimeForPath maps a file extension to a MIME type, preferring the
// documentation formats the pipelines understand.
func mimeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".mdx":
		return "text/markdown"
	case ".txt", ".rst":
		return "text/plain"
	case ".json":
		return "application/json"
	case ".go":
		return "text/x-go"
	case ".py":
		return "text/x-python"
	case ".js", ".mjs":
		return "text/javascript"
	case ".ts", ".tsx":
		return "text/x-typescript"
	case ".yaml", ".yml":
		return "application/yaml"
	}
	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		mt, _ := parseContentType(byExt)
		return mt
	}
	return "text/plain"
}
