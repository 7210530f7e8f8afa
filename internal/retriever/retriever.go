// Package retriever turns hybrid search hits into coherent passages.
// Hits are grouped by page and expanded with surrounding context: prose
// pages pull in the neighbouring hierarchy, structural pages (source
// code, JSON) reassemble the enclosing container subtree.
package retriever

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/docsmcp/docsmcp/internal/pipeline"
	"github.com/docsmcp/docsmcp/internal/store"
)

// DefaultLimit is the service-level result count.
const DefaultLimit = 5

// maxParallelGroups bounds the per-URL context lookups.
const maxParallelGroups = 5

// maxWalkDepth caps ancestor traversal on malformed hierarchies.
const maxWalkDepth = 50

// Result is one assembled passage.
type Result struct {
	URL      string  `json:"url"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
	MimeType string  `json:"mime_type"`
}

// Retriever answers search queries against the store.
type Retriever struct {
	store  *store.Store
	logger *slog.Logger
}

func New(st *store.Store, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: st, logger: logger}
}

// Search runs a hybrid query and assembles one result per matching
// page, best fused score first.
func (r *Retriever) Search(ctx context.Context, library, version, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	hits, err := r.store.FindByContent(ctx, library, version, query, limit)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []Result{}, nil
	}

	// Group by URL preserving fused order: the first hit of a group is
	// its best-ranked chunk.
	var urls []string
	groups := make(map[string][]*store.Chunk)
	for _, h := range hits {
		if _, ok := groups[h.URL]; !ok {
			urls = append(urls, h.URL)
		}
		groups[h.URL] = append(groups[h.URL], h)
	}

	results := make([]Result, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelGroups)
	for i, url := range urls {
		g.Go(func() error {
			res, err := r.assemble(gctx, library, version, url, groups[url])
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Retriever) assemble(ctx context.Context, library, version, url string, hits []*store.Chunk) (Result, error) {
	var (
		ids  []int64
		sep  string
		err  error
		mime = hits[0].ContentType
	)
	if pipeline.Hierarchical(mime) {
		ids, err = r.selectHierarchical(ctx, library, version, url, hits)
		sep = "" // structural chunks are contiguous spans
	} else {
		ids, err = r.selectProse(ctx, hits)
		sep = "\n\n"
	}
	if err != nil {
		return Result{}, err
	}

	chunks, err := r.store.FindChunksByIDs(ctx, ids)
	if err != nil {
		return Result{}, err
	}
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Content
	}

	score := hits[0].Score
	for _, h := range hits[1:] {
		if h.Score > score {
			score = h.Score
		}
	}
	return Result{
		URL:      url,
		Content:  strings.Join(parts, sep),
		Score:    score,
		MimeType: mime,
	}, nil
}

// selectProse expands each hit with its parent, one preceding and two
// subsequent siblings, and up to three children.
func (r *Retriever) selectProse(ctx context.Context, hits []*store.Chunk) ([]int64, error) {
	seen := make(map[int64]struct{})
	var ids []int64
	add := func(chunks ...*store.Chunk) {
		for _, c := range chunks {
			if c == nil {
				continue
			}
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			ids = append(ids, c.ID)
		}
	}

	for _, hit := range hits {
		add(hit)

		parent, err := r.store.FindParentChunk(ctx, hit.ID)
		if err != nil {
			return nil, err
		}
		add(parent)

		before, err := r.store.FindPrecedingSiblingChunks(ctx, hit.ID, 1)
		if err != nil {
			return nil, err
		}
		add(before...)

		after, err := r.store.FindSubsequentSiblingChunks(ctx, hit.ID, 2)
		if err != nil {
			return nil, err
		}
		add(after...)

		children, err := r.store.FindChildChunks(ctx, hit.ID, 3)
		if err != nil {
			return nil, err
		}
		add(children...)
	}
	return ids, nil
}

// selectHierarchical reconstructs the container subtree around the hits.
func (r *Retriever) selectHierarchical(ctx context.Context, library, version, url string, hits []*store.Chunk) ([]int64, error) {
	all, err := r.store.FindChunksByURL(ctx, library, version, url)
	if err != nil {
		return nil, err
	}

	byPath := make(map[string][]*store.Chunk)
	for _, c := range all {
		k := pathKey(c.Metadata.Path)
		byPath[k] = append(byPath[k], c)
	}

	seen := make(map[int64]struct{})
	var ids []int64
	add := func(chunks ...*store.Chunk) {
		for _, c := range chunks {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			ids = append(ids, c.ID)
		}
	}

	if len(hits) == 1 {
		hit := hits[0]
		add(hit)

		anchor, found := structuralAncestor(byPath, hit.Metadata.Path)
		if !found && len(hit.Metadata.Path) > 0 {
			// No structural ancestor: promote to the top-level
			// container the hit lives under.
			anchor = hit.Metadata.Path[:1]
			found = true
		}
		if found {
			add(subtree(all, anchor)...)
			add(parentChain(byPath, anchor)...)
		}
		return ids, nil
	}

	// Multiple hits on one page share the longest common path prefix;
	// its chunks carry the opening and closing container lines.
	prefix := hits[0].Metadata.Path
	for _, h := range hits[1:] {
		prefix = commonPrefix(prefix, h.Metadata.Path)
	}
	add(byPath[pathKey(prefix)]...)
	for _, h := range hits {
		add(h)
		add(subtree(all, h.Metadata.Path)...)
	}
	return ids, nil
}

// structuralAncestor walks shortening prefixes of path until it finds a
// chunk tagged structural. Missing intermediate levels are skipped.
func structuralAncestor(byPath map[string][]*store.Chunk, path []string) ([]string, bool) {
	p := path
	for depth := 0; len(p) > 0 && depth < maxWalkDepth; depth++ {
		p = p[:len(p)-1]
		for _, c := range byPath[pathKey(p)] {
			if c.Metadata.HasType(pipeline.TypeStructural) {
				return p, true
			}
		}
	}
	return nil, false
}

// subtree returns every chunk whose path is root or descends from it.
func subtree(all []*store.Chunk, root []string) []*store.Chunk {
	var out []*store.Chunk
	for _, c := range all {
		if hasPrefix(c.Metadata.Path, root) {
			out = append(out, c)
		}
	}
	return out
}

// parentChain returns the chunks at every proper prefix of path, root
// first, so the enclosing container headers frame the subtree.
func parentChain(byPath map[string][]*store.Chunk, path []string) []*store.Chunk {
	var out []*store.Chunk
	for i := 0; i < len(path); i++ {
		out = append(out, byPath[pathKey(path[:i])]...)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].SortOrder < out[b].SortOrder })
	return out
}

func commonPrefix(a, b []string) []string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

func hasPrefix(path, prefix []string) bool {
	if len(path) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if path[i] != p {
			return false
		}
	}
	return true
}

func pathKey(path []string) string {
	return strings.Join(path, "\x00")
}
