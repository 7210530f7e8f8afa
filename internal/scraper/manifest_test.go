package scraper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
sources:
  - library: react
    version: 18.2.0
    url: https://react.dev/reference/
    options:
      max_pages: 500
      scope: subpages
      exclude_patterns:
        - \.pdf$
  - library: go
    url: file:///usr/share/doc/go/
`)

	m, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, m.Sources, 2)

	assert.Equal(t, "react", m.Sources[0].Library)
	assert.Equal(t, "18.2.0", m.Sources[0].Version)
	assert.Equal(t, 500, m.Sources[0].Options.MaxPages)
	assert.Equal(t, ScopeSubpages, m.Sources[0].Options.Scope)
	assert.Equal(t, []string{`\.pdf$`}, m.Sources[0].Options.ExcludePatterns)

	assert.Equal(t, "go", m.Sources[1].Library)
	assert.Empty(t, m.Sources[1].Version)
}

func TestLoadManifestRejectsBadInput(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = LoadManifest(writeManifest(t, "sources: []"))
	require.Error(t, err)

	_, err = LoadManifest(writeManifest(t, `
sources:
  - version: 1.0.0
    url: https://x.com/
`))
	require.Error(t, err)

	_, err = LoadManifest(writeManifest(t, `
sources:
  - library: x
    url: https://x.com/
    options:
      scope: galaxy
`))
	require.Error(t, err)
}
