package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/coder/hnsw"

	"github.com/docsmcp/docsmcp/internal/errors"
)

// DefaultDimension is the store's default embedding width.
const DefaultDimension = 1536

// encodeVector serializes a vector as little-endian float32, the on-disk
// blob format (D * 4 bytes).
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector deserializes a little-endian float32 blob.
func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, errors.New(errors.KindIntegrity,
			"embedding blob length %d is not a multiple of 4", len(data))
	}
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return v, nil
}

// versionGraph is the in-memory HNSW index for one version's chunks.
// Chunk ids are used directly as graph keys; deletion is lazy (the node
// stays in the graph but is dropped from live) because removing the last
// node corrupts a coder/hnsw graph.
type versionGraph struct {
	graph *hnsw.Graph[uint64]
	live  map[uint64]struct{}
}

func newVersionGraph() *versionGraph {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 64
	g.Ml = 0.25
	return &versionGraph{graph: g, live: make(map[uint64]struct{})}
}

func (vg *versionGraph) add(chunkID int64, vec []float32) {
	key := uint64(chunkID)
	vg.graph.Add(hnsw.MakeNode(key, normalizeVector(vec)))
	vg.live[key] = struct{}{}
}

func (vg *versionGraph) remove(chunkID int64) {
	delete(vg.live, uint64(chunkID))
}

// vectorHit is one k-NN neighbour.
type vectorHit struct {
	chunkID int64
	score   float32 // 1 - cosine distance
}

func (vg *versionGraph) search(query []float32, k int) []vectorHit {
	if vg.graph.Len() == 0 || k <= 0 {
		return nil
	}
	q := normalizeVector(query)
	// Over-fetch to compensate for lazily deleted nodes.
	nodes := vg.graph.Search(q, k+vg.graph.Len()-len(vg.live))

	hits := make([]vectorHit, 0, k)
	for _, node := range nodes {
		if _, ok := vg.live[node.Key]; !ok {
			continue
		}
		hits = append(hits, vectorHit{
			chunkID: int64(node.Key),
			score:   1 - vg.graph.Distance(q, node.Value),
		})
		if len(hits) == k {
			break
		}
	}
	return hits
}

// graphFor returns the HNSW graph for a version, building it from the
// stored blobs on first use.
func (s *Store) graphFor(ctx context.Context, versionID int64) (*versionGraph, error) {
	s.vecMu.Lock()
	defer s.vecMu.Unlock()

	if g, ok := s.graphs[versionID]; ok {
		return g, nil
	}

	g := newVersionGraph()
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.embedding
		FROM chunks c JOIN pages p ON p.id = c.page_id
		WHERE p.version_id = ? AND c.embedding IS NOT NULL`, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings for version %d: %w", versionID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, err
		}
		g.add(id, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.graphs[versionID] = g
	return g, nil
}

// indexVectors registers freshly persisted embeddings with the version's
// graph, if it has been built.
func (s *Store) indexVectors(versionID int64, chunkIDs []int64, vectors [][]float32) {
	s.vecMu.Lock()
	defer s.vecMu.Unlock()
	g, ok := s.graphs[versionID]
	if !ok {
		return // graph will pick these up when first built
	}
	for i, id := range chunkIDs {
		if vectors[i] != nil {
			g.add(id, vectors[i])
		}
	}
}

// unindexVectors lazily removes chunks from the version's graph.
func (s *Store) unindexVectors(versionID int64, chunkIDs []int64) {
	s.vecMu.Lock()
	defer s.vecMu.Unlock()
	g, ok := s.graphs[versionID]
	if !ok {
		return
	}
	for _, id := range chunkIDs {
		g.remove(id)
	}
}

// dropGraph discards the in-memory graph for a removed version.
func (s *Store) dropGraph(versionID int64) {
	s.vecMu.Lock()
	defer s.vecMu.Unlock()
	delete(s.graphs, versionID)
}

// normalizeVector returns a unit-length copy for cosine distance.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, val := range v {
		out[i] = float32(float64(val) / magnitude)
	}
	return out
}
