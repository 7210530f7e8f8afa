package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsmcp/docsmcp/internal/store"
)

func concat(chunks []store.IngestChunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Content)
	}
	return b.String()
}

const sampleMarkdown = `# Getting Started

Intro paragraph.

## Install

Run the installer.

` + "```sh\nnpm install\n```" + `

## Usage

| flag | meaning |
|------|---------|
| -v   | verbose |

### Advanced

Deep dive text.

## FAQ

Answers.
`

func TestSplitMarkdownPaths(t *testing.T) {
	title, chunks := splitMarkdown(sampleMarkdown)
	assert.Equal(t, "Getting Started", title)
	require.NotEmpty(t, chunks)

	pathFor := func(substr string) []string {
		t.Helper()
		for _, c := range chunks {
			if strings.Contains(c.Content, substr) {
				return c.Path
			}
		}
		t.Fatalf("no chunk contains %q", substr)
		return nil
	}

	assert.Equal(t, []string{"Getting Started"}, pathFor("Intro paragraph"))
	assert.Equal(t, []string{"Getting Started", "Install"}, pathFor("npm install"))
	assert.Equal(t, []string{"Getting Started", "Usage"}, pathFor("verbose"))
	assert.Equal(t, []string{"Getting Started", "Usage", "Advanced"}, pathFor("Deep dive"))
	// FAQ is a sibling of Usage: Advanced must be popped.
	assert.Equal(t, []string{"Getting Started", "FAQ"}, pathFor("Answers"))
}

func TestSplitMarkdownTypes(t *testing.T) {
	_, chunks := splitMarkdown(sampleMarkdown)

	var sawCode, sawTable bool
	for _, c := range chunks {
		for _, typ := range c.Types {
			switch typ {
			case TypeCode:
				sawCode = true
				assert.Contains(t, concat([]store.IngestChunk{c}), "```")
			case TypeTable:
				sawTable = true
			}
		}
	}
	assert.True(t, sawCode)
	assert.True(t, sawTable)
}

func TestSplitMarkdownConcatenationExact(t *testing.T) {
	inputs := []string{
		sampleMarkdown,
		"no headings at all, just text\n",
		"# Only title",
		"text before\n\n# Title\n\ntext after\n",
		"",
	}
	for _, in := range inputs {
		_, chunks := splitMarkdown(in)
		assert.Equal(t, in, concat(chunks))
	}
}

func TestSplitMarkdownLevels(t *testing.T) {
	_, chunks := splitMarkdown("preamble\n\n# A\n\ntext\n\n### Deep\n\nmore\n")

	for _, c := range chunks {
		switch {
		case strings.Contains(c.Content, "preamble"):
			assert.Equal(t, 0, c.Level)
			assert.Empty(t, c.Path)
		case strings.Contains(c.Content, "more"):
			assert.Equal(t, 3, c.Level)
		}
	}
}

func TestSplitMarkdownUnterminatedFence(t *testing.T) {
	in := "# T\n\n```go\nfunc main() {}\n"
	_, chunks := splitMarkdown(in)
	assert.Equal(t, in, concat(chunks))
}

func TestSplitOversized(t *testing.T) {
	var lines []string
	for i := 0; i < 400; i++ {
		lines = append(lines, "some reasonably long line of documentation text here")
	}
	in := strings.Join(lines, "\n") + "\n"

	_, chunks := splitMarkdown(in)
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, in, concat(chunks))
	for _, c := range chunks {
		assert.LessOrEqual(t, countTokens(c.Content), 2*maxChunkTokens)
	}
}
