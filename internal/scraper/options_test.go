package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsValidate(t *testing.T) {
	good := Options{MaxPages: 10, MaxDepth: 2, Scope: ScopeHostname}
	require.NoError(t, good.Validate())

	bad := Options{Scope: "galaxy"}
	require.Error(t, bad.Validate())

	badConc := Options{MaxConcurrency: -1}
	require.Error(t, badConc.Validate())
}

func TestOptionsNormalizedDefaults(t *testing.T) {
	n := Options{}.Normalized()
	assert.Equal(t, DefaultMaxPages, n.MaxPages)
	assert.Equal(t, DefaultMaxDepth, n.MaxDepth)
	assert.Equal(t, ScopeSubpages, n.Scope)
	assert.Equal(t, DefaultMaxConcurrency, n.MaxConcurrency)
	require.NotNil(t, n.FollowRedirects)
	assert.True(t, *n.FollowRedirects)
}

func TestOptionsRoundTrip(t *testing.T) {
	o := Options{MaxPages: 5, Scope: ScopeDomain, ExcludePatterns: []string{`\.pdf$`}}
	data, err := o.Marshal()
	require.NoError(t, err)

	restored, err := UnmarshalOptions(data)
	require.NoError(t, err)
	assert.Equal(t, o, restored)

	empty, err := UnmarshalOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, Options{}, empty)
}

func TestPatternRegexAndGlob(t *testing.T) {
	re, err := compilePattern(`/api/v\d+/`)
	require.NoError(t, err)
	assert.True(t, re.matches("https://x.com/api/v2/users"))
	assert.False(t, re.matches("https://x.com/blog/"))

	// "*.html" is not a valid regexp, so it compiles as a glob against
	// the last path segment.
	glob, err := compilePattern("*.html")
	require.NoError(t, err)
	assert.True(t, glob.matches("https://x.com/docs/page.html"))
	assert.False(t, glob.matches("https://x.com/docs/page.pdf"))
}

func TestFilterExcludeWins(t *testing.T) {
	f, err := newFilter(Options{
		IncludePatterns: []string{`/docs/`},
		ExcludePatterns: []string{`/docs/private/`},
	})
	require.NoError(t, err)

	assert.True(t, f.admits("https://x.com/docs/guide"))
	assert.False(t, f.admits("https://x.com/docs/private/secret"))
	assert.False(t, f.admits("https://x.com/blog/post"))

	open, err := newFilter(Options{})
	require.NoError(t, err)
	assert.True(t, open.admits("https://anything.example/at/all"))
}

func TestScopeFilter(t *testing.T) {
	tests := []struct {
		scope string
		link  string
		want  bool
	}{
		{ScopeSubpages, "https://docs.x.com/guide/intro", true},
		{ScopeSubpages, "https://docs.x.com/api/ref", false},
		{ScopeSubpages, "https://other.x.com/guide/intro", false},
		{ScopeHostname, "https://docs.x.com/api/ref", true},
		{ScopeHostname, "https://www.x.com/anything", false},
		{ScopeDomain, "https://www.x.com/anything", true},
		{ScopeDomain, "https://y.com/anything", false},
	}
	for _, tt := range tests {
		s, err := newScopeFilter("https://docs.x.com/guide/", tt.scope)
		require.NoError(t, err)
		assert.Equal(t, tt.want, s.admits(tt.link), "%s %s", tt.scope, tt.link)
	}
}

func TestScopeFilterFileTree(t *testing.T) {
	s, err := newScopeFilter("file:///home/me/docs/", ScopeSubpages)
	require.NoError(t, err)
	assert.True(t, s.admits("file:///home/me/docs/sub/page.md"))
	assert.False(t, s.admits("file:///home/me/other/page.md"))
	assert.False(t, s.admits("https://x.com/docs/page.md"))
}
