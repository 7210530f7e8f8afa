// Package store provides the persistent library/version/page/chunk catalog
// with a hybrid keyword + vector index. Persistence is a single SQLite
// database file (FTS5 for keyword rank, float32 blobs + HNSW for k-NN).
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/docsmcp/docsmcp/internal/errors"
)

// VersionStatus is the per-version indexing state.
type VersionStatus string

const (
	StatusNotIndexed VersionStatus = "NOT_INDEXED"
	StatusQueued     VersionStatus = "QUEUED"
	StatusRunning    VersionStatus = "RUNNING"
	StatusCompleted  VersionStatus = "COMPLETED"
	StatusFailed     VersionStatus = "FAILED"
	StatusCancelled  VersionStatus = "CANCELLED"
	StatusUpdating   VersionStatus = "UPDATING"
)

// allowedTransitions is the version state machine. Any pair not listed
// here is rejected by UpdateVersionStatus.
var allowedTransitions = map[VersionStatus][]VersionStatus{
	StatusNotIndexed: {StatusQueued},
	StatusQueued:     {StatusRunning, StatusCancelled},
	StatusRunning:    {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {StatusUpdating},
	StatusUpdating:   {StatusRunning, StatusCancelled},
	StatusFailed:     {StatusQueued},
	StatusCancelled:  {StatusQueued},
}

// CanTransition reports whether from -> to is a legal status transition.
func CanTransition(from, to VersionStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsActive reports whether the status marks an in-flight job.
func (s VersionStatus) IsActive() bool {
	return s == StatusQueued || s == StatusRunning || s == StatusUpdating
}

// IsTerminal reports whether the status marks a finished job.
func (s VersionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Library is a named documentation corpus.
type Library struct {
	ID   int64
	Name string
}

// Version is a named revision of a library. The empty name is the
// unversioned variant.
type Version struct {
	ID               int64
	LibraryID        int64
	LibraryName      string
	Name             string
	Status           VersionStatus
	ProgressPages    int
	ProgressMaxPages int
	SourceURL        string
	ScraperOptions   []byte // opaque JSON, owned by the scraper package
	ErrorMessage     string
	StartedAt        *time.Time
	UpdatedAt        time.Time
}

// Page is one fetched resource belonging to a version.
type Page struct {
	ID           int64
	VersionID    int64
	URL          string
	Title        string
	Etag         string
	LastModified string
	ContentType  string
	Depth        int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ChunkMetadata is the hierarchical position of a chunk within its page.
type ChunkMetadata struct {
	Path  []string `json:"path"`
	Level int      `json:"level"`
	Types []string `json:"types"`
}

// HasType reports whether the chunk carries the given type tag.
func (m ChunkMetadata) HasType(t string) bool {
	for _, x := range m.Types {
		if x == t {
			return true
		}
	}
	return false
}

// Chunk is the unit of retrieval.
type Chunk struct {
	ID          int64
	PageID      int64
	URL         string
	Title       string
	ContentType string
	Content     string
	Metadata    ChunkMetadata
	SortOrder   int

	// Populated by FindByContent.
	Score   float64
	VecRank int // 1-based, 0 when the vector index did not contribute
	FTSRank int // 1-based, 0 when the FTS index did not contribute
}

// IngestChunk is a splitter-produced chunk pending persistence.
type IngestChunk struct {
	Content string
	Path    []string
	Level   int
	Types   []string
}

// DocumentPayload is the unit AddDocuments ingests: one fetched page and
// its ordered chunks.
type DocumentPayload struct {
	URL          string
	Title        string
	ContentType  string
	Etag         string
	LastModified string
	Depth        int
	Chunks       []IngestChunk
}

// LibrarySummary aggregates a library and its versions for listings.
type LibrarySummary struct {
	Name     string
	Versions []VersionSummary
}

// VersionSummary is one version row in a listing.
type VersionSummary struct {
	Name          string
	Status        VersionStatus
	PageCount     int
	ChunkCount    int
	IndexedAt     *time.Time
	SourceURL     string
	ErrorMessage  string
	ProgressPages int
	ProgressMax   int
}

// VersionMatch is the result of FindVersion.
type VersionMatch struct {
	BestMatch      string
	HasUnversioned bool
}

// Embedder is the capability the store needs from the embedding layer.
// Implementations must return vectors of a fixed dimension.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	ModelName() string
}

// EmbeddingSpec identifies the embedding configuration recorded in the
// store. The store refuses to open if a later run changes the dimension.
type EmbeddingSpec struct {
	Provider  string
	Model     string
	Dimension int
	Spec      string // canonical "provider:model"
}

// marshalMetadata serializes chunk metadata for the chunks.metadata column.
func marshalMetadata(m ChunkMetadata) ([]byte, error) {
	if m.Path == nil {
		m.Path = []string{}
	}
	if m.Types == nil {
		m.Types = []string{}
	}
	return json.Marshal(m)
}

func unmarshalMetadata(data []byte) (ChunkMetadata, error) {
	var m ChunkMetadata
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, errors.Integrity(err, "corrupt chunk metadata")
	}
	return m, nil
}
