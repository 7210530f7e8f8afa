package embed

import (
	"context"
	"math"

	"github.com/docsmcp/docsmcp/internal/errors"
)

// fixedDimension adapts an embedder whose native width differs from the
// store dimension. Wider vectors are truncated to the target width and
// renormalized (valid for MRL-trained models); narrower vectors are
// refused, since padding would fabricate signal.
type fixedDimension struct {
	inner Embedder
	dims  int
}

// NewFixedDimension wraps inner so that every returned vector has
// exactly dims values. A same-width inner is returned unwrapped.
func NewFixedDimension(inner Embedder, dims int) Embedder {
	if inner.Dimensions() == dims {
		return inner
	}
	return &fixedDimension{inner: inner, dims: dims}
}

func (f *fixedDimension) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := f.inner.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i, v := range vecs {
		adapted, err := f.adapt(v)
		if err != nil {
			return nil, err
		}
		vecs[i] = adapted
	}
	return vecs, nil
}

func (f *fixedDimension) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := f.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	return f.adapt(vec)
}

func (f *fixedDimension) adapt(vec []float32) ([]float32, error) {
	if len(vec) < f.dims {
		return nil, errors.New(errors.KindEmbedding,
			"model %s produces %d dimensions, cannot widen to %d",
			f.inner.ModelName(), len(vec), f.dims)
	}
	if len(vec) == f.dims {
		return vec, nil
	}

	truncated := vec[:f.dims]
	var sumSquares float64
	for _, v := range truncated {
		sumSquares += float64(v) * float64(v)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return truncated, nil
	}
	out := make([]float32, f.dims)
	for i, v := range truncated {
		out[i] = float32(float64(v) / magnitude)
	}
	return out, nil
}

func (f *fixedDimension) Dimensions() int   { return f.dims }
func (f *fixedDimension) ModelName() string { return f.inner.ModelName() }
