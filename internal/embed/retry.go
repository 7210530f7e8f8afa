package embed

import (
	"context"
	"strings"

	"github.com/docsmcp/docsmcp/internal/errors"
)

// sizeErrorMarkers are the provider message fragments that identify an
// oversized-input rejection across the supported backends.
var sizeErrorMarkers = []string{
	"maximum context length",
	"input is too long",
	"token limit",
	"too large",
	"exceeds the limit",
	"max token count",
}

func isSizeError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range sizeErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// embedWithRetry applies the size-aware retry policy: a size error on a
// multi-element batch bisects and retries each half recursively; on a
// single element it truncates the text to half its length and retries
// once. Non-size errors propagate untouched.
func embedWithRetry(ctx context.Context, p provider, texts []string) ([][]float32, error) {
	vecs, err := p.embedBatch(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	if !isSizeError(err) {
		return nil, err
	}

	if len(texts) > 1 {
		mid := len(texts) / 2
		left, err := embedWithRetry(ctx, p, texts[:mid])
		if err != nil {
			return nil, err
		}
		right, err := embedWithRetry(ctx, p, texts[mid:])
		if err != nil {
			return nil, err
		}
		return append(left, right...), nil
	}

	runes := []rune(texts[0])
	truncated := string(runes[:len(runes)/2])
	vecs, retryErr := p.embedBatch(ctx, []string{truncated})
	if retryErr != nil {
		return nil, errors.Embedding(retryErr,
			"text of %d chars still rejected after truncation", len(runes))
	}
	return vecs, nil
}
