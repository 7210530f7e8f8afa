package store

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsmcp/docsmcp/internal/errors"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append(opts, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s, err := Open(":memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fakeEmbedder maps marker words onto fixed axes, so tests can steer
// cosine similarity deterministically.
type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) vecFor(text string) []float32 {
	v := make([]float32, f.dim)
	switch {
	case strings.Contains(text, "alpha"):
		v[0] = 1
	case strings.Contains(text, "beta"):
		v[1] = 1
	default:
		v[2] = 1
	}
	return v
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vecFor(t)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return f.vecFor(text), nil
}

func (f *fakeEmbedder) Dimensions() int   { return f.dim }
func (f *fakeEmbedder) ModelName() string { return "fake:test" }

func testEmbedder() (Embedder, EmbeddingSpec) {
	return &fakeEmbedder{dim: 4}, EmbeddingSpec{
		Provider: "fake", Model: "test", Dimension: 4, Spec: "fake:test",
	}
}

func simpleDoc(url string, contents ...string) *DocumentPayload {
	doc := &DocumentPayload{URL: url, Title: "Title of " + url, ContentType: "text/markdown"}
	for _, c := range contents {
		doc.Chunks = append(doc.Chunks, IngestChunk{
			Content: c,
			Path:    []string{"Title"},
			Level:   1,
			Types:   []string{"text"},
		})
	}
	return doc
}

func TestResolveVersionIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.ResolveVersion(ctx, "React", "18.2.0")
	require.NoError(t, err)

	// Case and whitespace variants, plus "latest" aliasing for the
	// unversioned row, must all hit the same rows.
	id2, err := s.ResolveVersion(ctx, "  react ", "18.2.0")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	u1, err := s.ResolveVersion(ctx, "react", "")
	require.NoError(t, err)
	u2, err := s.ResolveVersion(ctx, "react", "latest")
	require.NoError(t, err)
	u3, err := s.ResolveVersion(ctx, "react", "   ")
	require.NoError(t, err)
	assert.Equal(t, u1, u2)
	assert.Equal(t, u1, u3)
	assert.NotEqual(t, id1, u1)
}

func TestStatusTransitions(t *testing.T) {
	all := []VersionStatus{
		StatusNotIndexed, StatusQueued, StatusRunning,
		StatusCompleted, StatusFailed, StatusCancelled, StatusUpdating,
	}
	allowed := map[string]bool{
		"NOT_INDEXED>QUEUED":  true,
		"QUEUED>RUNNING":      true,
		"QUEUED>CANCELLED":    true,
		"RUNNING>COMPLETED":   true,
		"RUNNING>FAILED":      true,
		"RUNNING>CANCELLED":   true,
		"COMPLETED>UPDATING":  true,
		"UPDATING>RUNNING":    true,
		"UPDATING>CANCELLED":  true,
		"FAILED>QUEUED":       true,
		"CANCELLED>QUEUED":    true,
	}
	for _, from := range all {
		for _, to := range all {
			key := string(from) + ">" + string(to)
			assert.Equal(t, allowed[key], CanTransition(from, to), key)
		}
	}
}

func TestUpdateVersionStatusRejectsIllegal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.ResolveVersion(ctx, "lib", "1.0.0")
	require.NoError(t, err)

	// NOT_INDEXED -> RUNNING skips QUEUED.
	err = s.UpdateVersionStatus(ctx, id, StatusRunning, "")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	require.NoError(t, s.UpdateVersionStatus(ctx, id, StatusQueued, ""))
	require.NoError(t, s.UpdateVersionStatus(ctx, id, StatusRunning, ""))
	require.NoError(t, s.UpdateVersionStatus(ctx, id, StatusFailed, "boom"))

	v, err := s.GetVersionByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, v.Status)
	assert.Equal(t, "boom", v.ErrorMessage)
	require.NotNil(t, v.StartedAt)

	// Retry path clears the recorded error.
	require.NoError(t, s.UpdateVersionStatus(ctx, id, StatusQueued, ""))
	v, err = s.GetVersionByID(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, v.ErrorMessage)

	// Same-status update is a no-op, not an error.
	require.NoError(t, s.UpdateVersionStatus(ctx, id, StatusQueued, ""))
}

func TestGetVersionIDSuggestions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ResolveVersion(ctx, "react", "18.0.0")
	require.NoError(t, err)
	_, err = s.ResolveVersion(ctx, "redux", "5.0.0")
	require.NoError(t, err)

	_, err = s.GetVersionID(ctx, "raect", "18.0.0")
	require.Error(t, err)
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errors.KindNotFound, e.Kind)
	assert.Contains(t, e.Details["suggestions"], "react")
}

func TestAddDocumentsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := &DocumentPayload{
		URL:         "https://example.com/guide",
		Title:       "Guide",
		ContentType: "text/html",
		Etag:        `"abc123"`,
		Chunks: []IngestChunk{
			{Content: "# Intro", Path: []string{"Intro"}, Level: 1, Types: []string{"heading"}},
			{Content: "Opening text.", Path: []string{"Intro"}, Level: 1, Types: []string{"text"}},
			{Content: "More text.", Path: []string{"Intro", "Detail"}, Level: 2, Types: []string{"text", "code"}},
		},
	}
	require.NoError(t, s.AddDocuments(ctx, "lib", "1.0.0", doc))

	chunks, err := s.FindChunksByURL(ctx, "lib", "1.0.0", doc.URL)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.SortOrder)
		assert.Equal(t, doc.Chunks[i].Content, c.Content)
		assert.Equal(t, doc.Chunks[i].Path, c.Metadata.Path)
	}
	assert.True(t, chunks[2].Metadata.HasType("code"))
	assert.False(t, chunks[1].Metadata.HasType("code"))

	// Re-ingesting the same URL replaces, never duplicates.
	doc.Chunks = doc.Chunks[:1]
	require.NoError(t, s.AddDocuments(ctx, "lib", "1.0.0", doc))
	chunks, err = s.FindChunksByURL(ctx, "lib", "1.0.0", doc.URL)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestPageConditionalState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := simpleDoc("https://example.com/a", "content a")
	doc.Etag = `"v1"`
	doc.LastModified = "Tue, 01 Jan 2026 00:00:00 GMT"
	require.NoError(t, s.AddDocuments(ctx, "lib", "", doc))

	id, err := s.GetVersionID(ctx, "lib", "")
	require.NoError(t, err)
	pages, err := s.GetPagesByVersionID(ctx, id)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, `"v1"`, pages[0].Etag)
	assert.Equal(t, "Tue, 01 Jan 2026 00:00:00 GMT", pages[0].LastModified)
}

func TestDeletePages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddDocuments(ctx, "lib", "1.0.0", simpleDoc("https://x/a", "alpha text")))
	require.NoError(t, s.AddDocuments(ctx, "lib", "1.0.0", simpleDoc("https://x/b", "beta text")))

	n, err := s.DeletePages(ctx, "lib", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	id, err := s.GetVersionID(ctx, "lib", "1.0.0")
	require.NoError(t, err)
	pages, err := s.GetPagesByVersionID(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, pages)

	// FTS rows must be gone too.
	hits, err := s.ftsSearch(ctx, id, "alpha", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRemoveVersionCleansLibrary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddDocuments(ctx, "lib", "1.0.0", simpleDoc("https://x/a", "alpha")))
	require.NoError(t, s.AddDocuments(ctx, "lib", "2.0.0", simpleDoc("https://x/a", "beta")))

	require.NoError(t, s.RemoveVersion(ctx, "lib", "1.0.0"))
	libs, err := s.ListLibraries(ctx)
	require.NoError(t, err)
	require.Len(t, libs, 1)
	require.Len(t, libs[0].Versions, 1)

	require.NoError(t, s.RemoveVersion(ctx, "lib", "2.0.0"))
	libs, err = s.ListLibraries(ctx)
	require.NoError(t, err)
	assert.Empty(t, libs)

	err = s.RemoveVersion(ctx, "lib", "2.0.0")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestListLibrariesVersionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, v := range []string{"1.2.0", "", "10.0.0", "not-semver", "2.0.0"} {
		_, err := s.ResolveVersion(ctx, "lib", v)
		require.NoError(t, err)
	}

	libs, err := s.ListLibraries(ctx)
	require.NoError(t, err)
	require.Len(t, libs, 1)

	names := make([]string, len(libs[0].Versions))
	for i, v := range libs[0].Versions {
		names[i] = v.Name
	}
	// Unversioned first, semver descending, invalid last.
	assert.Equal(t, []string{"", "10.0.0", "2.0.0", "1.2.0", "not-semver"}, names)
}

func TestListVersionsAscendingFiltered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, v := range []string{"2.0.0", "1.10.0", "1.2.0", "garbage", ""} {
		_, err := s.ResolveVersion(ctx, "lib", v)
		require.NoError(t, err)
	}

	versions, err := s.ListVersions(ctx, "lib")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2.0", "1.10.0", "2.0.0"}, versions)

	_, err = s.ListVersions(ctx, "missing")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestFindVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	complete := func(lib, ver string) {
		id, err := s.ResolveVersion(ctx, lib, ver)
		require.NoError(t, err)
		require.NoError(t, s.UpdateVersionStatus(ctx, id, StatusQueued, ""))
		require.NoError(t, s.UpdateVersionStatus(ctx, id, StatusRunning, ""))
		require.NoError(t, s.UpdateVersionStatus(ctx, id, StatusCompleted, ""))
	}
	complete("react", "17.0.2")
	complete("react", "18.2.0")
	complete("react", "18.3.1")
	complete("react", "")

	// A queued-but-never-completed version must not be selectable.
	_, err := s.ResolveVersion(ctx, "react", "19.0.0")
	require.NoError(t, err)

	tests := []struct {
		target string
		want   string
	}{
		{"", "18.3.1"},
		{"latest", "18.3.1"},
		{"18", "18.3.1"},
		{"18.2", "18.2.0"},
		{"18.2.0", "18.2.0"},
		{"17.x", "17.0.2"},
		{"16", ""},
	}
	for _, tt := range tests {
		m, err := s.FindVersion(ctx, "react", tt.target)
		require.NoError(t, err, tt.target)
		assert.Equal(t, tt.want, m.BestMatch, "target %q", tt.target)
		assert.True(t, m.HasUnversioned)
	}
}

func TestScraperOptionsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.ResolveVersion(ctx, "lib", "1.0.0")
	require.NoError(t, err)

	opts := []byte(`{"max_depth":3,"scope":"subpages"}`)
	require.NoError(t, s.StoreScraperOptions(ctx, id, "https://example.com/docs", opts))

	v, err := s.GetVersionByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/docs", v.SourceURL)
	assert.JSONEq(t, string(opts), string(v.ScraperOptions))

	found, err := s.FindVersionsBySourceURL(ctx, "https://example.com/docs")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, id, found[0].ID)
}

func TestEmbeddingConfigDimensionPinned(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/docs.db"

	e, spec := testEmbedder()
	s, err := Open(path, WithEmbedder(e, spec),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Same dimension, different model: opens with a warning.
	s, err = Open(path, WithEmbedder(e, EmbeddingSpec{
		Provider: "fake", Model: "other", Dimension: 4, Spec: "fake:other",
	}), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Changed dimension: refused.
	_, err = Open(path, WithEmbedder(e, EmbeddingSpec{
		Provider: "fake", Model: "wide", Dimension: 8, Spec: "fake:wide",
	}), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindIntegrity))
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddDocuments(ctx, "a", "1.0.0", simpleDoc("https://x/1", "one", "two")))
	require.NoError(t, s.AddDocuments(ctx, "b", "", simpleDoc("https://y/1", "three")))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Libraries)
	assert.Equal(t, 2, st.Versions)
	assert.Equal(t, 2, st.Pages)
	assert.Equal(t, 3, st.Chunks)
}

func TestEmbedTextFormat(t *testing.T) {
	got := EmbedText("API Guide", "https://x/api", []string{"Guide", "Auth"}, "Use tokens.")
	want := "<title>API Guide</title>\n" +
		"<url>https://x/api</url>\n" +
		"<path>Guide / Auth</path>\n" +
		"Use tokens."
	assert.Equal(t, want, got)
}

func TestOpenLockExcludesSecondProcess(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/docs.db"

	s1, err := Open(path, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	defer s1.Close()

	_, err = Open(path, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")
}

func TestChunkHierarchyNavigation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := &DocumentPayload{
		URL: "https://x/doc", Title: "Doc", ContentType: "text/markdown",
		Chunks: []IngestChunk{
			{Content: "root", Path: []string{}, Level: 0, Types: []string{"text"}},
			{Content: "s1 a", Path: []string{"S1"}, Level: 1, Types: []string{"text"}},
			{Content: "s1 b", Path: []string{"S1"}, Level: 1, Types: []string{"text"}},
			{Content: "s1 c", Path: []string{"S1"}, Level: 1, Types: []string{"text"}},
			{Content: "s1.1", Path: []string{"S1", "S1.1"}, Level: 2, Types: []string{"text"}},
			{Content: "s1.2", Path: []string{"S1", "S1.2"}, Level: 2, Types: []string{"text"}},
			{Content: "s2", Path: []string{"S2"}, Level: 1, Types: []string{"text"}},
		},
	}
	require.NoError(t, s.AddDocuments(ctx, "lib", "", doc))

	chunks, err := s.FindChunksByURL(ctx, "lib", "", doc.URL)
	require.NoError(t, err)
	require.Len(t, chunks, 7)
	byContent := map[string]*Chunk{}
	for _, c := range chunks {
		byContent[c.Content] = c
	}

	parent, err := s.FindParentChunk(ctx, byContent["s1.1"].ID)
	require.NoError(t, err)
	require.NotNil(t, parent)
	// Closest preceding chunk with the parent path.
	assert.Equal(t, "s1 c", parent.Content)

	root, err := s.FindParentChunk(ctx, byContent["root"].ID)
	require.NoError(t, err)
	assert.Nil(t, root)

	prev, err := s.FindPrecedingSiblingChunks(ctx, byContent["s1 c"].ID, 1)
	require.NoError(t, err)
	require.Len(t, prev, 1)
	assert.Equal(t, "s1 b", prev[0].Content)

	next, err := s.FindSubsequentSiblingChunks(ctx, byContent["s1 a"].ID, 2)
	require.NoError(t, err)
	require.Len(t, next, 2)
	assert.Equal(t, "s1 b", next[0].Content)
	assert.Equal(t, "s1 c", next[1].Content)

	children, err := s.FindChildChunks(ctx, byContent["s1 a"].ID, 3)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "s1.1", children[0].Content)
	assert.Equal(t, "s1.2", children[1].Content)
}

func TestVectorBlobRoundTrip(t *testing.T) {
	v := []float32{0.25, -1, 3.5, 0}
	decoded, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, decoded)

	_, err = decodeVector([]byte{1, 2, 3})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindIntegrity))
}

func TestVersionScopedSearchIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddDocuments(ctx, "lib", "1.0.0", simpleDoc("https://x/a", "needle in one")))
	require.NoError(t, s.AddDocuments(ctx, "lib", "2.0.0", simpleDoc("https://x/a", "haystack only")))

	hits, err := s.FindByContent(ctx, "lib", "2.0.0", "needle", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.FindByContent(ctx, "lib", "1.0.0", "needle", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Content, "needle")
}
