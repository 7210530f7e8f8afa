package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "name": "widget",
  "version": "1.2.3",
  "scripts": {
    "build": "make",
    "test": "make test"
  }
}
`

func TestJSONSplitByKey(t *testing.T) {
	p := NewJSON()
	defer p.Close()

	res, err := p.Process(context.Background(), []byte(sampleJSON),
		"application/json", "file:///pkg/package.json")
	require.NoError(t, err)
	assert.Equal(t, "package.json", res.Title)

	assert.Equal(t, sampleJSON, concat(res.Chunks))

	paths := make(map[string]bool)
	for _, c := range res.Chunks {
		if len(c.Path) == 1 {
			paths[c.Path[0]] = true
			assert.Equal(t, 1, c.Level)
		}
	}
	assert.True(t, paths["name"])
	assert.True(t, paths["version"])
	assert.True(t, paths["scripts"])

	// Braces are structural chunks.
	assert.Contains(t, res.Chunks[0].Types, TypeStructural)
	assert.Contains(t, res.Chunks[len(res.Chunks)-1].Types, TypeStructural)
}

func TestJSONNonObjectRoot(t *testing.T) {
	p := NewJSON()
	defer p.Close()

	res, err := p.Process(context.Background(), []byte(`[1, 2, 3]`),
		"application/json", "file:///list.json")
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, `[1, 2, 3]`, res.Chunks[0].Content)
}

func TestJSONMalformed(t *testing.T) {
	p := NewJSON()
	defer p.Close()

	_, err := p.Process(context.Background(), []byte(`{"unclosed":`),
		"application/json", "file:///bad.json")
	require.Error(t, err)
}
