package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docsmcp/docsmcp/internal/errors"
)

// EmbedText is the exact text sent to the embedding model for a chunk.
// Reproducing this formatting byte-for-byte is part of the store contract.
func EmbedText(title, url string, path []string, content string) string {
	var b strings.Builder
	b.WriteString("<title>")
	b.WriteString(title)
	b.WriteString("</title>\n<url>")
	b.WriteString(url)
	b.WriteString("</url>\n<path>")
	b.WriteString(strings.Join(path, " / "))
	b.WriteString("</path>\n")
	b.WriteString(content)
	return b.String()
}

// AddDocuments ingests one fetched page for (library, version): existing
// chunks for the URL are replaced atomically, the ordered chunks are
// inserted with their FTS rows, and non-empty chunks get embeddings.
//
// Embedding happens before the write transaction opens, so the store's
// writer connection is never held across a network suspension. A
// non-transient embedding failure (after the embed layer's size retry)
// aborts the whole ingest.
func (s *Store) AddDocuments(ctx context.Context, library, version string, doc *DocumentPayload) error {
	if doc == nil || doc.URL == "" {
		return errors.Validation("document payload must carry a URL")
	}

	versionID, err := s.ResolveVersion(ctx, library, version)
	if err != nil {
		return err
	}

	// Embed first, outside any transaction.
	vectors := make([][]float32, len(doc.Chunks))
	if s.embedder != nil {
		var texts []string
		var targets []int
		for i, c := range doc.Chunks {
			if strings.TrimSpace(c.Content) == "" {
				continue
			}
			texts = append(texts, EmbedText(doc.Title, doc.URL, c.Path, c.Content))
			targets = append(targets, i)
		}
		if len(texts) > 0 {
			embedded, err := s.embedder.EmbedDocuments(ctx, texts)
			if err != nil {
				return errors.Embedding(err, "failed to embed %d chunks for %s", len(texts), doc.URL)
			}
			if len(embedded) != len(texts) {
				return errors.New(errors.KindEmbedding,
					"embedder returned %d vectors for %d texts", len(embedded), len(texts))
			}
			for i, idx := range targets {
				vectors[idx] = embedded[i]
			}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Replace any existing page for this URL.
	oldChunkIDs, err := s.deletePageTx(ctx, tx, versionID, doc.URL)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO pages (version_id, url, title, etag, last_modified, content_type, depth, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		versionID, doc.URL, doc.Title, doc.Etag, doc.LastModified, doc.ContentType, doc.Depth, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert page %s: %w", doc.URL, err)
	}
	pageID, _ := res.LastInsertId()

	chunkStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (page_id, content, metadata, sort_order, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer chunkStmt.Close()

	ftsStmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks_fts (chunk_id, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare fts insert: %w", err)
	}
	defer ftsStmt.Close()

	chunkIDs := make([]int64, len(doc.Chunks))
	for i, c := range doc.Chunks {
		meta, err := marshalMetadata(ChunkMetadata{Path: c.Path, Level: c.Level, Types: c.Types})
		if err != nil {
			return fmt.Errorf("failed to marshal chunk metadata: %w", err)
		}
		var blob any
		if vectors[i] != nil {
			blob = encodeVector(vectors[i])
		}
		res, err := chunkStmt.ExecContext(ctx, pageID, c.Content, string(meta), i, blob, now)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d of %s: %w", i, doc.URL, err)
		}
		id, _ := res.LastInsertId()
		chunkIDs[i] = id
		if _, err := ftsStmt.ExecContext(ctx, id, c.Content); err != nil {
			return fmt.Errorf("failed to index chunk %d of %s: %w", i, doc.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ingest of %s: %w", doc.URL, err)
	}

	s.unindexVectors(versionID, oldChunkIDs)
	s.indexVectors(versionID, chunkIDs, vectors)

	s.logger.Debug("documents added",
		slog.String("url", doc.URL),
		slog.Int64("version_id", versionID),
		slog.Int("chunks", len(doc.Chunks)))
	return nil
}

// deletePageTx removes the page for (versionID, url) with its chunks and
// FTS rows. Returns the removed chunk ids (for vector unindexing).
func (s *Store) deletePageTx(ctx context.Context, tx *sql.Tx, versionID int64, url string) ([]int64, error) {
	var pageID int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM pages WHERE version_id = ? AND url = ?`, versionID, url).Scan(&pageID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up page %s: %w", url, err)
	}
	return s.deletePageByIDTx(ctx, tx, pageID)
}

func (s *Store) deletePageByIDTx(ctx context.Context, tx *sql.Tx, pageID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE page_id = ?`, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks of page %d: %w", pageID, err)
	}
	var chunkIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		chunkIDs = append(chunkIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range chunkIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks_fts WHERE chunk_id = ?`, id); err != nil {
			return nil, fmt.Errorf("failed to delete fts row %d: %w", id, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE id = ?`, pageID); err != nil {
		return nil, fmt.Errorf("failed to delete page %d: %w", pageID, err)
	}
	return chunkIDs, nil
}

// DeletePage removes a page and its chunks by id.
func (s *Store) DeletePage(ctx context.Context, pageID int64) error {
	var versionID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version_id FROM pages WHERE id = ?`, pageID).Scan(&versionID)
	if err == sql.ErrNoRows {
		return errors.NotFound("page id %d not found", pageID)
	}
	if err != nil {
		return fmt.Errorf("failed to look up page %d: %w", pageID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	chunkIDs, err := s.deletePageByIDTx(ctx, tx, pageID)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.unindexVectors(versionID, chunkIDs)
	return nil
}

// DeletePages removes all pages of (library, version) and returns the
// number deleted. The version row itself stays.
func (s *Store) DeletePages(ctx context.Context, library, version string) (int, error) {
	versionID, err := s.GetVersionID(ctx, library, version)
	if err != nil {
		return 0, err
	}
	pages, err := s.GetPagesByVersionID(ctx, versionID)
	if err != nil {
		return 0, err
	}
	for _, p := range pages {
		if err := s.DeletePage(ctx, p.ID); err != nil {
			return 0, err
		}
	}
	return len(pages), nil
}

// GetPagesByVersionID lists the pages of a version with their conditional
// request state (etag, last_modified) for the refresh engine.
func (s *Store) GetPagesByVersionID(ctx context.Context, versionID int64) ([]*Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version_id, url, title, etag, last_modified, content_type, depth, created_at, updated_at
		FROM pages WHERE version_id = ? ORDER BY id`, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages of version %d: %w", versionID, err)
	}
	defer rows.Close()

	var pages []*Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.ID, &p.VersionID, &p.URL, &p.Title, &p.Etag, &p.LastModified,
			&p.ContentType, &p.Depth, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		pages = append(pages, &p)
	}
	return pages, rows.Err()
}

const chunkSelect = `
	SELECT c.id, c.page_id, p.url, p.title, p.content_type, c.content, c.metadata, c.sort_order
	FROM chunks c JOIN pages p ON p.id = c.page_id`

func scanChunk(row rowScanner) (*Chunk, error) {
	var c Chunk
	var meta string
	if err := row.Scan(&c.ID, &c.PageID, &c.URL, &c.Title, &c.ContentType,
		&c.Content, &meta, &c.SortOrder); err != nil {
		return nil, err
	}
	m, err := unmarshalMetadata([]byte(meta))
	if err != nil {
		return nil, err
	}
	c.Metadata = m
	return &c, nil
}

// FindChunkByID loads a single chunk.
func (s *Store) FindChunkByID(ctx context.Context, id int64) (*Chunk, error) {
	c, err := scanChunk(s.db.QueryRowContext(ctx, chunkSelect+` WHERE c.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("chunk id %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chunk %d: %w", id, err)
	}
	return c, nil
}

// FindChunksByIDs loads chunks in sort_order (page id, then sort_order,
// so multi-page id sets stay grouped and ordered).
func (s *Store) FindChunksByIDs(ctx context.Context, ids []int64) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		chunkSelect+fmt.Sprintf(` WHERE c.id IN (%s) ORDER BY c.page_id, c.sort_order`,
			strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// FindChunksByURL loads all chunks of one URL in sort_order.
func (s *Store) FindChunksByURL(ctx context.Context, library, version, url string) ([]*Chunk, error) {
	versionID, err := s.GetVersionID(ctx, library, version)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		chunkSelect+` WHERE p.version_id = ? AND p.url = ? ORDER BY c.sort_order`,
		versionID, url)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks of %s: %w", url, err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// pageChunks loads all chunks sharing a page, ordered by sort_order.
func (s *Store) pageChunks(ctx context.Context, pageID int64) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		chunkSelect+` WHERE c.page_id = ? ORDER BY c.sort_order`, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks of page %d: %w", pageID, err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func pathEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FindParentChunk returns the chunk whose path is the immediate prefix of
// the given chunk's path, within the same page. Nil when the chunk is at
// the root or no parent chunk exists.
func (s *Store) FindParentChunk(ctx context.Context, chunkID int64) (*Chunk, error) {
	chunk, err := s.FindChunkByID(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	if len(chunk.Metadata.Path) == 0 {
		return nil, nil
	}
	parentPath := chunk.Metadata.Path[:len(chunk.Metadata.Path)-1]

	siblings, err := s.pageChunks(ctx, chunk.PageID)
	if err != nil {
		return nil, err
	}
	var parent *Chunk
	for _, c := range siblings {
		if c.SortOrder >= chunk.SortOrder {
			break
		}
		if pathEqual(c.Metadata.Path, parentPath) {
			parent = c // closest preceding wins
		}
	}
	return parent, nil
}

// siblingPaths reports whether two chunks sit at the same depth under
// the same parent. Chunks sharing an exact path are also siblings.
func siblingPaths(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return pathEqual(a[:len(a)-1], b[:len(b)-1])
}

// FindPrecedingSiblingChunks returns up to limit sibling chunks before
// the given chunk, in sort_order.
func (s *Store) FindPrecedingSiblingChunks(ctx context.Context, chunkID int64, limit int) ([]*Chunk, error) {
	chunk, err := s.FindChunkByID(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	all, err := s.pageChunks(ctx, chunk.PageID)
	if err != nil {
		return nil, err
	}
	var preceding []*Chunk
	for _, c := range all {
		if c.SortOrder >= chunk.SortOrder {
			break
		}
		if siblingPaths(c.Metadata.Path, chunk.Metadata.Path) {
			preceding = append(preceding, c)
		}
	}
	if limit > 0 && len(preceding) > limit {
		preceding = preceding[len(preceding)-limit:]
	}
	return preceding, nil
}

// FindSubsequentSiblingChunks returns up to limit sibling chunks after
// the given chunk, in sort_order.
func (s *Store) FindSubsequentSiblingChunks(ctx context.Context, chunkID int64, limit int) ([]*Chunk, error) {
	chunk, err := s.FindChunkByID(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	all, err := s.pageChunks(ctx, chunk.PageID)
	if err != nil {
		return nil, err
	}
	var subsequent []*Chunk
	for _, c := range all {
		if c.SortOrder <= chunk.SortOrder {
			continue
		}
		if siblingPaths(c.Metadata.Path, chunk.Metadata.Path) {
			subsequent = append(subsequent, c)
			if limit > 0 && len(subsequent) == limit {
				break
			}
		}
	}
	return subsequent, nil
}

// FindChildChunks returns up to limit chunks exactly one level below the
// given chunk's path, in sort_order.
func (s *Store) FindChildChunks(ctx context.Context, chunkID int64, limit int) ([]*Chunk, error) {
	chunk, err := s.FindChunkByID(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	all, err := s.pageChunks(ctx, chunk.PageID)
	if err != nil {
		return nil, err
	}
	parentPath := chunk.Metadata.Path
	var children []*Chunk
	for _, c := range all {
		if len(c.Metadata.Path) != len(parentPath)+1 {
			continue
		}
		if pathEqual(c.Metadata.Path[:len(parentPath)], parentPath) {
			children = append(children, c)
			if limit > 0 && len(children) == limit {
				break
			}
		}
	}
	return children, nil
}
