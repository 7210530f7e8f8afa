package store

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/docsmcp/docsmcp/internal/errors"
)

const (
	// rrfK is the reciprocal-rank-fusion smoothing constant.
	rrfK = 60
	// DefaultSearchLimit applies when the caller passes limit <= 0.
	DefaultSearchLimit = 10
)

// FindByContent runs hybrid search over one version's chunks: vector
// k-NN and FTS5 keyword search in parallel rank lists, fused with
// reciprocal rank fusion (score = sum of 1/(60+rank) over the lists the
// chunk appears in). Without an embedder the FTS ranking stands alone.
func (s *Store) FindByContent(ctx context.Context, library, version, query string, limit int) ([]*Chunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.Validation("search query must not be empty")
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	versionID, err := s.GetVersionID(ctx, library, version)
	if err != nil {
		return nil, err
	}

	var vecHits []vectorHit
	if s.embedder != nil {
		qvec, err := s.embedder.EmbedQuery(ctx, query)
		if err != nil {
			return nil, errors.Embedding(err, "failed to embed query")
		}
		g, err := s.graphFor(ctx, versionID)
		if err != nil {
			return nil, err
		}
		vecHits = g.search(qvec, limit)
	}

	ftsHits, err := s.ftsSearch(ctx, versionID, query, limit)
	if err != nil {
		return nil, err
	}

	fused := fuseRanks(vecHits, ftsHits)
	if len(fused) > limit {
		fused = fused[:limit]
	}
	if len(fused) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(fused))
	byID := make(map[int64]fusedHit, len(fused))
	for i, f := range fused {
		ids[i] = f.chunkID
		byID[f.chunkID] = f
	}

	chunks, err := s.FindChunksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	// FindChunksByIDs returns document order; restore fused order and
	// attach the ranking provenance.
	ordered := make([]*Chunk, 0, len(chunks))
	chunkByID := make(map[int64]*Chunk, len(chunks))
	for _, c := range chunks {
		chunkByID[c.ID] = c
	}
	for _, f := range fused {
		c, ok := chunkByID[f.chunkID]
		if !ok {
			continue // row vanished between rank and load
		}
		c.Score = f.score
		c.VecRank = f.vecRank
		c.FTSRank = f.ftsRank
		ordered = append(ordered, c)
	}

	s.logger.Debug("hybrid search",
		slog.String("query", query),
		slog.Int("vector_hits", len(vecHits)),
		slog.Int("fts_hits", len(ftsHits)),
		slog.Int("fused", len(ordered)))
	return ordered, nil
}

type fusedHit struct {
	chunkID int64
	score   float64
	vecRank int // 1-based, 0 = absent from the vector list
	ftsRank int // 1-based, 0 = absent from the keyword list
	arrival int
}

// fuseRanks merges the two rank lists with RRF. An absent rank
// contributes nothing. Ties break on vector rank, then keyword rank,
// then first-seen order, so results are deterministic.
func fuseRanks(vecHits []vectorHit, ftsHits []ftsHit) []fusedHit {
	merged := make(map[int64]*fusedHit, len(vecHits)+len(ftsHits))
	order := 0

	get := func(id int64) *fusedHit {
		if f, ok := merged[id]; ok {
			return f
		}
		f := &fusedHit{chunkID: id, arrival: order}
		order++
		merged[id] = f
		return f
	}

	for i, h := range vecHits {
		f := get(h.chunkID)
		f.vecRank = i + 1
		f.score += 1.0 / float64(rrfK+i+1)
	}
	for i, h := range ftsHits {
		f := get(h.chunkID)
		f.ftsRank = i + 1
		f.score += 1.0 / float64(rrfK+i+1)
	}

	out := make([]fusedHit, 0, len(merged))
	for _, f := range merged {
		out = append(out, *f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if ri, rj := rankOrMax(out[i].vecRank), rankOrMax(out[j].vecRank); ri != rj {
			return ri < rj
		}
		if ri, rj := rankOrMax(out[i].ftsRank), rankOrMax(out[j].ftsRank); ri != rj {
			return ri < rj
		}
		return out[i].arrival < out[j].arrival
	})
	return out
}

func rankOrMax(r int) int {
	if r == 0 {
		return int(^uint(0) >> 1)
	}
	return r
}
