package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	"github.com/docsmcp/docsmcp/internal/errors"
)

// Store is the single-writer persistence layer. Concurrent reads during
// writes are served by SQLite WAL snapshots; all writer access goes
// through the one-connection pool.
type Store struct {
	db     *sql.DB
	path   string
	lock   *flock.Flock
	logger *slog.Logger

	embedder Embedder
	spec     *EmbeddingSpec

	// Per-version in-memory HNSW graphs, rebuilt lazily from the
	// embedding blobs. Guarded by vecMu.
	vecMu  sync.Mutex
	graphs map[int64]*versionGraph

	closed bool
	mu     sync.Mutex
}

// Option configures a Store at open time.
type Option func(*Store)

// WithEmbedder attaches the embedding layer. A nil embedder degrades
// search to FTS-only.
func WithEmbedder(e Embedder, spec EmbeddingSpec) Option {
	return func(s *Store) {
		s.embedder = e
		s.spec = &spec
	}
}

// WithLogger sets the logger handle.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open opens (or creates) the store at path. ":memory:" opens an
// in-memory store for testing. The on-disk variant takes an exclusive
// advisory lock: the store is a single-writer resource.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:   path,
		logger: slog.Default(),
		graphs: make(map[int64]*versionGraph),
	}
	for _, opt := range opts {
		opt(s)
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		s.lock = flock.New(path + ".lock")
		locked, err := s.lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire store lock: %w", err)
		}
		if !locked {
			return nil, errors.New(errors.KindIntegrity,
				"store %s is locked by another process", path)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer connection prevents SQLITE_BUSY between goroutines;
	// WAL keeps readers unblocked during writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	s.db = db

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, errors.Integrity(err, "failed to initialize schema")
	}
	if err := s.checkEmbeddingConfig(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the database and the advisory lock.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.lock != nil {
		_ = s.lock.Unlock()
	}
	return s.db.Close()
}

// HasEmbedder reports whether vector search is available.
func (s *Store) HasEmbedder() bool {
	return s.embedder != nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS libraries (
		id   INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS versions (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		library_id         INTEGER NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
		name               TEXT NOT NULL DEFAULT '',
		status             TEXT NOT NULL DEFAULT 'NOT_INDEXED',
		progress_pages     INTEGER NOT NULL DEFAULT 0,
		progress_max_pages INTEGER NOT NULL DEFAULT 0,
		source_url         TEXT NOT NULL DEFAULT '',
		scraper_options    TEXT,
		error_message      TEXT NOT NULL DEFAULT '',
		started_at         TIMESTAMP,
		updated_at         TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(library_id, name)
	);

	CREATE TABLE IF NOT EXISTS pages (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		version_id    INTEGER NOT NULL REFERENCES versions(id) ON DELETE CASCADE,
		url           TEXT NOT NULL,
		title         TEXT NOT NULL DEFAULT '',
		etag          TEXT NOT NULL DEFAULT '',
		last_modified TEXT NOT NULL DEFAULT '',
		content_type  TEXT NOT NULL DEFAULT '',
		depth         INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(version_id, url)
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		page_id    INTEGER NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
		content    TEXT NOT NULL,
		metadata   TEXT NOT NULL DEFAULT '{}',
		sort_order INTEGER NOT NULL,
		embedding  BLOB,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_page ON chunks(page_id, sort_order);
	CREATE INDEX IF NOT EXISTS idx_pages_version ON pages(version_id);

	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		chunk_id UNINDEXED,
		content,
		tokenize='unicode61'
	);

	CREATE TABLE IF NOT EXISTS embedding_config (
		id        INTEGER PRIMARY KEY CHECK (id = 1),
		provider  TEXT NOT NULL,
		model     TEXT NOT NULL,
		dimension INTEGER NOT NULL,
		spec      TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// checkEmbeddingConfig records the embedding configuration on first use
// and refuses to open when a later run would change the dimension.
func (s *Store) checkEmbeddingConfig() error {
	if s.spec == nil {
		return nil
	}

	var provider, model, spec string
	var dimension int
	err := s.db.QueryRow(
		`SELECT provider, model, dimension, spec FROM embedding_config WHERE id = 1`,
	).Scan(&provider, &model, &dimension, &spec)

	switch {
	case err == sql.ErrNoRows:
		_, err := s.db.Exec(
			`INSERT INTO embedding_config (id, provider, model, dimension, spec)
			 VALUES (1, ?, ?, ?, ?)`,
			s.spec.Provider, s.spec.Model, s.spec.Dimension, s.spec.Spec)
		if err != nil {
			return fmt.Errorf("failed to record embedding config: %w", err)
		}
		s.logger.Info("embedding config recorded",
			slog.String("spec", s.spec.Spec),
			slog.Int("dimension", s.spec.Dimension))
		return nil
	case err != nil:
		return errors.Integrity(err, "failed to read embedding config")
	}

	if dimension != s.spec.Dimension {
		return errors.New(errors.KindIntegrity,
			"store was created with dimension %d but embedder %q produces %d",
			dimension, s.spec.Spec, s.spec.Dimension)
	}
	if spec != s.spec.Spec {
		s.logger.Warn("embedding model changed at equal dimension",
			slog.String("stored", spec),
			slog.String("current", s.spec.Spec))
	}
	return nil
}

// Stats summarizes store contents for operator surfaces.
type Stats struct {
	Libraries int
	Versions  int
	Pages     int
	Chunks    int
	SizeBytes int64
}

// Stats returns store-wide counts and the database file size.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM libraries),
			(SELECT COUNT(*) FROM versions),
			(SELECT COUNT(*) FROM pages),
			(SELECT COUNT(*) FROM chunks)`)
	if err := row.Scan(&st.Libraries, &st.Versions, &st.Pages, &st.Chunks); err != nil {
		return nil, fmt.Errorf("failed to collect stats: %w", err)
	}
	if s.path != ":memory:" {
		if info, err := os.Stat(s.path); err == nil {
			st.SizeBytes = info.Size()
		}
	}
	return st, nil
}
