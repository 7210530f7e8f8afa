package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"strings"

	"github.com/docsmcp/docsmcp/internal/errors"
	"github.com/docsmcp/docsmcp/internal/store"
)

// JSONPipeline splits JSON documents along top-level object members,
// the path tracking the object-key path. Spans are cut from the raw
// input by decoder offset, so concatenation reproduces the document.
type JSONPipeline struct{}

func NewJSON() *JSONPipeline { return &JSONPipeline{} }

func (p *JSONPipeline) CanProcess(mimeType string) bool { return isJSONMime(mimeType) }

func (p *JSONPipeline) Close() error { return nil }

func (p *JSONPipeline) Process(ctx context.Context, content []byte, mimeType, sourceURL string) (*ScrapeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chunks, err := splitJSON(content)
	if err != nil {
		return nil, errors.Permanent(err, "failed to parse json from %s", sourceURL)
	}

	return &ScrapeResult{
		URL:         sourceURL,
		Title:       path.Base(strings.TrimSuffix(sourceURL, "/")),
		ContentType: mimeType,
		Chunks:      chunks,
	}, nil
}

func splitJSON(content []byte) ([]store.IngestChunk, error) {
	dec := json.NewDecoder(bytes.NewReader(content))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		// Arrays and scalars become one chunk; there is no key path to
		// track.
		return []store.IngestChunk{{
			Content: string(content),
			Path:    []string{},
			Level:   0,
			Types:   []string{TypeCode},
		}}, nil
	}

	var chunks []store.IngestChunk
	// Opening brace plus any leading whitespace.
	chunks = append(chunks, store.IngestChunk{
		Content: string(content[:dec.InputOffset()]),
		Path:    []string{},
		Level:   0,
		Types:   []string{TypeStructural},
	})

	cursor := dec.InputOffset()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		end := dec.InputOffset()

		chunks = append(chunks, store.IngestChunk{
			Content: string(content[cursor:end]),
			Path:    []string{key},
			Level:   1,
			Types:   []string{TypeCode},
		})
		cursor = end
	}

	// Closing brace and everything after it (commas were consumed into
	// the preceding member spans by the decoder offsets).
	if int(cursor) < len(content) {
		chunks = append(chunks, store.IngestChunk{
			Content: string(content[cursor:]),
			Path:    []string{},
			Level:   0,
			Types:   []string{TypeStructural},
		})
	}
	return chunks, nil
}
