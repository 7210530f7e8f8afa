package retriever

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsmcp/docsmcp/internal/store"
)

func newTestRetriever(t *testing.T) (*Retriever, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, nil), st
}

func addDoc(t *testing.T, st *store.Store, url, mime string, chunks []store.IngestChunk) {
	t.Helper()
	err := st.AddDocuments(context.Background(), "lib", "", &store.DocumentPayload{
		URL: url, Title: "Doc", ContentType: mime, Chunks: chunks,
	})
	require.NoError(t, err)
}

// assertOrdered checks that the substrings appear in content in order.
func assertOrdered(t *testing.T, content string, parts ...string) {
	t.Helper()
	pos := 0
	for _, p := range parts {
		idx := strings.Index(content[pos:], p)
		require.GreaterOrEqual(t, idx, 0, "missing %q after offset %d in %q", p, pos, content)
		pos += idx + len(p)
	}
}

func TestProseContextExpansion(t *testing.T) {
	r, st := newTestRetriever(t)
	addDoc(t, st, "https://x/guide", "text/markdown", []store.IngestChunk{
		{Content: "Guide overview", Path: []string{"Guide"}, Level: 1, Types: []string{"text"}},
		{Content: "Install overview", Path: []string{"Guide", "Install"}, Level: 2, Types: []string{"text"}},
		{Content: "Prerequisites first", Path: []string{"Guide", "Install", "Prerequisites"}, Level: 3, Types: []string{"text"}},
		{Content: "Setup the zebralith here", Path: []string{"Guide", "Install", "Setup"}, Level: 3, Types: []string{"text"}},
		{Content: "Steps detail", Path: []string{"Guide", "Install", "Setup", "Steps"}, Level: 4, Types: []string{"text"}},
		{Content: "Config notes", Path: []string{"Guide", "Install", "Config"}, Level: 3, Types: []string{"text"}},
	})

	results, err := r.Search(context.Background(), "lib", "", "zebralith", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, "https://x/guide", res.URL)
	assert.Equal(t, "text/markdown", res.MimeType)
	assert.Greater(t, res.Score, 0.0)

	assertOrdered(t, res.Content,
		"Install overview",
		"Prerequisites first",
		"Setup the zebralith here",
		"Steps detail",
		"Config notes",
	)
	// The hit's grandparent is not part of the expansion.
	assert.NotContains(t, res.Content, "Guide overview")
	assert.Contains(t, res.Content, "\n\n")
}

func TestHierarchicalStructuralAncestor(t *testing.T) {
	r, st := newTestRetriever(t)
	addDoc(t, st, "https://x/widget.go", "text/x-go", []store.IngestChunk{
		{Content: "type Widget struct {\n", Path: []string{"Widget"}, Level: 1, Types: []string{"code", "structural"}},
		{Content: "\tzanzibar string\n", Path: []string{"Widget", "fields"}, Level: 2, Types: []string{"code"}},
		{Content: "}\n", Path: []string{"Widget"}, Level: 1, Types: []string{"code", "structural"}},
		{Content: "func Other() {}\n", Path: []string{"Other"}, Level: 1, Types: []string{"code"}},
	})

	results, err := r.Search(context.Background(), "lib", "", "zanzibar", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// The enclosing container is reconstructed span for span.
	assert.Equal(t, "type Widget struct {\n\tzanzibar string\n}\n", results[0].Content)
	assert.Equal(t, "text/x-go", results[0].MimeType)
}

func TestHierarchicalPromotionToTopLevel(t *testing.T) {
	r, st := newTestRetriever(t)
	addDoc(t, st, "https://x/migrate.ts", "text/x-typescript", []store.IngestChunk{
		{Content: "const applyMigrations = async () => {\n", Path: []string{"applyMigrations"}, Level: 1, Types: []string{"code"}},
		{Content: "  await quorvath()\n}\n", Path: []string{"applyMigrations", "<anonymous_arrow>"}, Level: 2, Types: []string{"code"}},
	})

	results, err := r.Search(context.Background(), "lib", "", "quorvath", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// No structural ancestor exists, so the hit promotes to the
	// top-level container named by the head of its path.
	assert.Contains(t, results[0].Content, "applyMigrations")
	assert.Contains(t, results[0].Content, "await quorvath()")
}

func TestHierarchicalMultipleHitsCommonPrefix(t *testing.T) {
	r, st := newTestRetriever(t)
	addDoc(t, st, "https://x/api.go", "text/x-go", []store.IngestChunk{
		{Content: "type API struct {\n", Path: []string{"API"}, Level: 1, Types: []string{"code", "structural"}},
		{Content: "\tfunc (a *API) Lorvane() {}\n", Path: []string{"API", "Lorvane"}, Level: 2, Types: []string{"code"}},
		{Content: "\tfunc (a *API) Mirkel() {}\n", Path: []string{"API", "Mirkel"}, Level: 2, Types: []string{"code"}},
		{Content: "}\n", Path: []string{"API"}, Level: 1, Types: []string{"code", "structural"}},
	})

	results, err := r.Search(context.Background(), "lib", "", "Lorvane Mirkel", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// Both hits share the [API] prefix whose chunks carry the opening
	// and closing braces.
	assertOrdered(t, results[0].Content,
		"type API struct {",
		"Lorvane",
		"Mirkel",
		"}",
	)
}

func TestSearchGroupsByURL(t *testing.T) {
	r, st := newTestRetriever(t)
	addDoc(t, st, "https://x/a", "text/markdown", []store.IngestChunk{
		{Content: "frobnax intro", Path: []string{"A"}, Level: 1, Types: []string{"text"}},
		{Content: "frobnax detail", Path: []string{"A", "B"}, Level: 2, Types: []string{"text"}},
	})
	addDoc(t, st, "https://x/b", "text/markdown", []store.IngestChunk{
		{Content: "frobnax elsewhere", Path: []string{"C"}, Level: 1, Types: []string{"text"}},
	})

	results, err := r.Search(context.Background(), "lib", "", "frobnax", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	urls := []string{results[0].URL, results[1].URL}
	assert.ElementsMatch(t, []string{"https://x/a", "https://x/b"}, urls)
	for _, res := range results {
		assert.NotEmpty(t, res.Content)
		assert.Greater(t, res.Score, 0.0)
	}
}

func TestSearchNoMatches(t *testing.T) {
	r, st := newTestRetriever(t)
	addDoc(t, st, "https://x/a", "text/markdown", []store.IngestChunk{
		{Content: "something", Path: []string{"A"}, Level: 1, Types: []string{"text"}},
	})

	results, err := r.Search(context.Background(), "lib", "", "absentword", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchDefaultLimit(t *testing.T) {
	r, st := newTestRetriever(t)
	addDoc(t, st, "https://x/a", "text/markdown", []store.IngestChunk{
		{Content: "gadget overview", Path: []string{"A"}, Level: 1, Types: []string{"text"}},
	})

	results, err := r.Search(context.Background(), "lib", "", "gadget", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestCommonPrefix(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, commonPrefix([]string{"a", "b", "c"}, []string{"a", "b", "d"}))
	assert.Empty(t, commonPrefix([]string{"a"}, []string{"b"}))
	assert.Empty(t, commonPrefix(nil, []string{"a"}))
}
