package embed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider fails any batch whose combined length exceeds a
// threshold, recording every call it sees.
type scriptedProvider struct {
	maxChars int
	failWith error
	calls    [][]string
	dims     int
}

func (p *scriptedProvider) embedBatch(_ context.Context, texts []string) ([][]float32, error) {
	copied := make([]string, len(texts))
	copy(copied, texts)
	p.calls = append(p.calls, copied)

	if p.failWith != nil {
		return nil, p.failWith
	}
	total := 0
	for _, t := range texts {
		total += len(t)
	}
	if p.maxChars > 0 && total > p.maxChars {
		return nil, errors.New("this model's maximum context length is exceeded")
	}

	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, p.dims)
	}
	return out, nil
}

func (p *scriptedProvider) Dimensions() int   { return p.dims }
func (p *scriptedProvider) ModelName() string { return "scripted" }
func (p *scriptedProvider) batchSize() int    { return 64 }

func TestIsSizeError(t *testing.T) {
	sizeMessages := []string{
		"This model's maximum context length is 8192 tokens",
		"400: input is too long for this model",
		"Request exceeded the token limit",
		"payload too large",
		"the input exceeds the limit of the endpoint",
		"Max token count exceeded",
	}
	for _, m := range sizeMessages {
		assert.True(t, isSizeError(errors.New(m)), m)
	}

	assert.False(t, isSizeError(errors.New("connection refused")))
	assert.False(t, isSizeError(errors.New("invalid api key")))
	assert.False(t, isSizeError(nil))
}

func TestRetryBisectsOversizedBatch(t *testing.T) {
	p := &scriptedProvider{maxChars: 10, dims: 2}
	texts := []string{"aaaa", "bbbb", "cccc", "dddd"}

	vecs, err := embedWithRetry(context.Background(), p, texts)
	require.NoError(t, err)
	assert.Len(t, vecs, 4)

	// The call sequence must include at least one strict subset of the
	// original batch, and the first call must be the full batch.
	require.GreaterOrEqual(t, len(p.calls), 3)
	assert.Equal(t, texts, p.calls[0])
	foundSubset := false
	for _, call := range p.calls[1:] {
		if len(call) < len(texts) {
			foundSubset = true
		}
	}
	assert.True(t, foundSubset)
}

func TestRetryTruncatesSingleText(t *testing.T) {
	p := &scriptedProvider{maxChars: 10, dims: 2}

	vecs, err := embedWithRetry(context.Background(), p, []string{"0123456789abcdef"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)

	require.Len(t, p.calls, 2)
	assert.Equal(t, "01234567", p.calls[1][0]) // half of 16 chars
}

func TestRetrySurfacesAfterTruncationFailure(t *testing.T) {
	// 40 chars: half is 20, still above the threshold.
	p := &scriptedProvider{maxChars: 10, dims: 2}
	long := make([]byte, 40)
	for i := range long {
		long[i] = 'x'
	}

	_, err := embedWithRetry(context.Background(), p, []string{string(long)})
	require.Error(t, err)
	assert.Len(t, p.calls, 2) // exactly one truncated retry, no loop
}

func TestRetryPropagatesNonSizeErrors(t *testing.T) {
	p := &scriptedProvider{failWith: errors.New("invalid api key"), dims: 2}

	_, err := embedWithRetry(context.Background(), p, []string{"a", "b"})
	require.Error(t, err)
	assert.Len(t, p.calls, 1) // no bisection for non-size failures
}

func TestBatcherSplitsLargeInputs(t *testing.T) {
	p := &scriptedProvider{dims: 2}
	b := newBatcher(p, time.Second)
	// batchSize is 64; 130 texts means 3 provider calls.
	texts := make([]string, 130)
	for i := range texts {
		texts[i] = "t"
	}

	vecs, err := b.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vecs, 130)
	assert.Len(t, p.calls, 3)
}
