package mcp

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docsmcp/docsmcp/internal/errors"
	"github.com/docsmcp/docsmcp/internal/fetcher"
	"github.com/docsmcp/docsmcp/internal/jobs"
	"github.com/docsmcp/docsmcp/internal/pipeline"
	"github.com/docsmcp/docsmcp/internal/retriever"
	"github.com/docsmcp/docsmcp/internal/scraper"
	"github.com/docsmcp/docsmcp/internal/store"
	"github.com/docsmcp/docsmcp/internal/version"
)

// Server bridges AI clients with the documentation index.
type Server struct {
	mcp     *mcp.Server
	store   *store.Store
	ret     *retriever.Retriever
	manager *jobs.Manager
	fetch   fetcher.Fetcher
	prose   *pipeline.ProsePipeline
	logger  *slog.Logger
}

// NewServer wires the tool surface. All dependencies are required
// except the logger.
func NewServer(st *store.Store, ret *retriever.Retriever, manager *jobs.Manager, fetch fetcher.Fetcher, logger *slog.Logger) (*Server, error) {
	if st == nil || ret == nil || manager == nil || fetch == nil {
		return nil, errors.Validation("store, retriever, job manager, and fetcher are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		store:   st,
		ret:     ret,
		manager: manager,
		fetch:   fetch,
		prose:   pipeline.NewProse(nil),
		logger:  logger,
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{Name: "docsmcp", Version: version.Version},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Serve runs the server over stdio until the context ends.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP server", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("MCP server stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_docs",
		Description: "Search indexed documentation for a library. Combines semantic and keyword matching and returns assembled passages with surrounding context, one per page.",
	}, s.handleSearchDocs)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_libraries",
		Description: "List all indexed libraries with their versions, indexing status, and document counts.",
	}, s.handleListLibraries)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_versions",
		Description: "List the indexed versions of one library, oldest first.",
	}, s.handleListVersions)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "find_version",
		Description: "Resolve a version hint (exact, partial like '18.2', or range like '17.x') to the best indexed version of a library.",
	}, s.handleFindVersion)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "scrape_docs",
		Description: "Crawl and index a documentation website or local file tree for a library version. Returns a job id immediately; poll get_job_info for progress.",
	}, s.handleScrapeDocs)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "fetch_url",
		Description: "Fetch a single URL and return its content converted to Markdown. Does not touch the index.",
	}, s.handleFetchURL)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "remove_docs",
		Description: "Remove an indexed library version and all its documents.",
	}, s.handleRemoveDocs)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_job_info",
		Description: "Get the status of one indexing job by id, or of all jobs when the id is omitted.",
	}, s.handleGetJobInfo)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "cancel_job",
		Description: "Cancel a queued or running indexing job.",
	}, s.handleCancelJob)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "clear_completed_jobs",
		Description: "Remove finished jobs from the job list.",
	}, s.handleClearCompletedJobs)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "refresh_version",
		Description: "Re-check an indexed version against its source and update only the pages that changed.",
	}, s.handleRefreshVersion)
	s.logger.Info("MCP tools registered", slog.Int("count", 11))
}

// SearchDocsInput is the search_docs tool input.
type SearchDocsInput struct {
	Library string `json:"library" jsonschema:"library name to search"`
	Version string `json:"version,omitempty" jsonschema:"version to search; omit for the unversioned or latest docs"`
	Query   string `json:"query" jsonschema:"the search query"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 5"`
}

// SearchDocsOutput is the search_docs tool output.
type SearchDocsOutput struct {
	Results []retriever.Result `json:"results" jsonschema:"assembled passages, best match first"`
}

func (s *Server) handleSearchDocs(ctx context.Context, _ *mcp.CallToolRequest, input SearchDocsInput) (*mcp.CallToolResult, SearchDocsOutput, error) {
	if input.Library == "" {
		return nil, SearchDocsOutput{}, NewInvalidParamsError("library parameter is required")
	}
	if input.Query == "" {
		return nil, SearchDocsOutput{}, NewInvalidParamsError("query parameter is required")
	}
	results, err := s.ret.Search(ctx, input.Library, input.Version, input.Query, input.Limit)
	if err != nil {
		return nil, SearchDocsOutput{}, MapError(err)
	}
	return nil, SearchDocsOutput{Results: results}, nil
}

// VersionInfo is one version row in library listings.
type VersionInfo struct {
	Version       string     `json:"version"`
	Status        string     `json:"status"`
	PageCount     int        `json:"page_count"`
	ChunkCount    int        `json:"chunk_count"`
	IndexedAt     *time.Time `json:"indexed_at,omitempty"`
	SourceURL     string     `json:"source_url,omitempty"`
	Error         string     `json:"error,omitempty"`
	ProgressPages int        `json:"progress_pages,omitempty"`
	ProgressMax   int        `json:"progress_max_pages,omitempty"`
}

// LibraryInfo is one library in list_libraries output.
type LibraryInfo struct {
	Library  string        `json:"library"`
	Versions []VersionInfo `json:"versions"`
}

// ListLibrariesInput is the (empty) list_libraries input.
type ListLibrariesInput struct{}

// ListLibrariesOutput is the list_libraries tool output.
type ListLibrariesOutput struct {
	Libraries []LibraryInfo `json:"libraries"`
}

func (s *Server) handleListLibraries(ctx context.Context, _ *mcp.CallToolRequest, _ ListLibrariesInput) (*mcp.CallToolResult, ListLibrariesOutput, error) {
	summaries, err := s.store.ListLibraries(ctx)
	if err != nil {
		return nil, ListLibrariesOutput{}, MapError(err)
	}
	out := ListLibrariesOutput{Libraries: make([]LibraryInfo, 0, len(summaries))}
	for _, lib := range summaries {
		info := LibraryInfo{Library: lib.Name, Versions: make([]VersionInfo, 0, len(lib.Versions))}
		for _, v := range lib.Versions {
			info.Versions = append(info.Versions, VersionInfo{
				Version:       v.Name,
				Status:        string(v.Status),
				PageCount:     v.PageCount,
				ChunkCount:    v.ChunkCount,
				IndexedAt:     v.IndexedAt,
				SourceURL:     v.SourceURL,
				Error:         v.ErrorMessage,
				ProgressPages: v.ProgressPages,
				ProgressMax:   v.ProgressMax,
			})
		}
		out.Libraries = append(out.Libraries, info)
	}
	return nil, out, nil
}

// ListVersionsInput is the list_versions tool input.
type ListVersionsInput struct {
	Library string `json:"library" jsonschema:"library name"`
}

// ListVersionsOutput is the list_versions tool output.
type ListVersionsOutput struct {
	Versions []string `json:"versions" jsonschema:"indexed semver versions in ascending order"`
}

func (s *Server) handleListVersions(ctx context.Context, _ *mcp.CallToolRequest, input ListVersionsInput) (*mcp.CallToolResult, ListVersionsOutput, error) {
	if input.Library == "" {
		return nil, ListVersionsOutput{}, NewInvalidParamsError("library parameter is required")
	}
	versions, err := s.store.ListVersions(ctx, input.Library)
	if err != nil {
		return nil, ListVersionsOutput{}, MapError(err)
	}
	return nil, ListVersionsOutput{Versions: versions}, nil
}

// FindVersionInput is the find_version tool input.
type FindVersionInput struct {
	Library string `json:"library" jsonschema:"library name"`
	Target  string `json:"target,omitempty" jsonschema:"version hint: exact, partial like 18.2, or range like 17.x; omit for latest"`
}

// FindVersionOutput is the find_version tool output.
type FindVersionOutput struct {
	BestMatch      string `json:"best_match" jsonschema:"best matching indexed version, empty when none"`
	HasUnversioned bool   `json:"has_unversioned" jsonschema:"true when unversioned docs exist for the library"`
}

func (s *Server) handleFindVersion(ctx context.Context, _ *mcp.CallToolRequest, input FindVersionInput) (*mcp.CallToolResult, FindVersionOutput, error) {
	if input.Library == "" {
		return nil, FindVersionOutput{}, NewInvalidParamsError("library parameter is required")
	}
	match, err := s.store.FindVersion(ctx, input.Library, input.Target)
	if err != nil {
		return nil, FindVersionOutput{}, MapError(err)
	}
	return nil, FindVersionOutput{
		BestMatch:      match.BestMatch,
		HasUnversioned: match.HasUnversioned,
	}, nil
}

// ScrapeDocsInput is the scrape_docs tool input.
type ScrapeDocsInput struct {
	URL     string           `json:"url" jsonschema:"start URL: https:// or file://"`
	Library string           `json:"library" jsonschema:"library name to index under"`
	Version string           `json:"version,omitempty" jsonschema:"version to index under; omit for unversioned"`
	Options *scraper.Options `json:"options,omitempty" jsonschema:"crawl options: max_pages, max_depth, scope, patterns"`
}

// JobIDOutput carries a job id for the enqueueing tools.
type JobIDOutput struct {
	JobID string `json:"job_id" jsonschema:"id to pass to get_job_info and cancel_job"`
}

func (s *Server) handleScrapeDocs(ctx context.Context, _ *mcp.CallToolRequest, input ScrapeDocsInput) (*mcp.CallToolResult, JobIDOutput, error) {
	if input.URL == "" {
		return nil, JobIDOutput{}, NewInvalidParamsError("url parameter is required")
	}
	if input.Library == "" {
		return nil, JobIDOutput{}, NewInvalidParamsError("library parameter is required")
	}
	var opts scraper.Options
	if input.Options != nil {
		opts = *input.Options
	}
	jobID, err := s.manager.EnqueueScrape(ctx, input.Library, input.Version, input.URL, opts)
	if err != nil {
		return nil, JobIDOutput{}, MapError(err)
	}
	return nil, JobIDOutput{JobID: jobID}, nil
}

// FetchURLInput is the fetch_url tool input.
type FetchURLInput struct {
	URL             string            `json:"url" jsonschema:"URL to fetch: https:// or file://"`
	FollowRedirects *bool             `json:"follow_redirects,omitempty" jsonschema:"follow HTTP redirects, default true"`
	Headers         map[string]string `json:"headers,omitempty" jsonschema:"extra request headers"`
}

// FetchURLOutput is the fetch_url tool output.
type FetchURLOutput struct {
	Markdown string `json:"markdown" jsonschema:"page content converted to Markdown"`
}

func (s *Server) handleFetchURL(ctx context.Context, _ *mcp.CallToolRequest, input FetchURLInput) (*mcp.CallToolResult, FetchURLOutput, error) {
	if input.URL == "" {
		return nil, FetchURLOutput{}, NewInvalidParamsError("url parameter is required")
	}
	res, err := s.fetch.Fetch(ctx, input.URL, fetcher.Options{
		FollowRedirects: input.FollowRedirects == nil || *input.FollowRedirects,
		Headers:         input.Headers,
	})
	if err != nil {
		return nil, FetchURLOutput{}, MapError(err)
	}
	if res.Status == fetcher.StatusGone {
		return nil, FetchURLOutput{}, MapError(errors.NotFound("page %s not found", input.URL))
	}
	markdown, err := s.prose.Markdown(res.Content, res.MimeType, res.Source)
	if err != nil {
		return nil, FetchURLOutput{}, MapError(err)
	}
	return nil, FetchURLOutput{Markdown: markdown}, nil
}

// RemoveDocsInput is the remove_docs tool input.
type RemoveDocsInput struct {
	Library string `json:"library" jsonschema:"library name"`
	Version string `json:"version,omitempty" jsonschema:"version to remove; omit for the unversioned docs"`
}

// MessageOutput is a human-readable confirmation.
type MessageOutput struct {
	Message string `json:"message"`
}

func (s *Server) handleRemoveDocs(ctx context.Context, _ *mcp.CallToolRequest, input RemoveDocsInput) (*mcp.CallToolResult, MessageOutput, error) {
	if input.Library == "" {
		return nil, MessageOutput{}, NewInvalidParamsError("library parameter is required")
	}
	if err := s.store.RemoveVersion(ctx, input.Library, input.Version); err != nil {
		return nil, MessageOutput{}, MapError(err)
	}
	label := input.Version
	if label == "" {
		label = "unversioned"
	}
	return nil, MessageOutput{Message: "removed " + input.Library + "@" + label}, nil
}

// JobInfo is one job in get_job_info output.
type JobInfo struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Library    string     `json:"library"`
	Version    string     `json:"version,omitempty"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	Pages      int        `json:"pages"`
	MaxPages   int        `json:"max_pages"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func toJobInfo(j *jobs.Job) JobInfo {
	return JobInfo{
		ID:         j.ID,
		Type:       string(j.Type),
		Library:    j.Library,
		Version:    j.Version,
		Status:     string(j.Status),
		Error:      j.Error,
		Pages:      j.Pages,
		MaxPages:   j.MaxPages,
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
	}
}

// GetJobInfoInput is the get_job_info tool input.
type GetJobInfoInput struct {
	JobID string `json:"job_id,omitempty" jsonschema:"job id; omit to list all jobs"`
}

// GetJobInfoOutput is the get_job_info tool output.
type GetJobInfoOutput struct {
	Jobs []JobInfo `json:"jobs"`
}

func (s *Server) handleGetJobInfo(ctx context.Context, _ *mcp.CallToolRequest, input GetJobInfoInput) (*mcp.CallToolResult, GetJobInfoOutput, error) {
	if input.JobID != "" {
		job, err := s.manager.GetJob(input.JobID)
		if err != nil {
			return nil, GetJobInfoOutput{}, MapError(err)
		}
		return nil, GetJobInfoOutput{Jobs: []JobInfo{toJobInfo(job)}}, nil
	}
	all := s.manager.ListJobs()
	out := GetJobInfoOutput{Jobs: make([]JobInfo, 0, len(all))}
	for _, j := range all {
		out.Jobs = append(out.Jobs, toJobInfo(j))
	}
	return nil, out, nil
}

// CancelJobInput is the cancel_job tool input.
type CancelJobInput struct {
	JobID string `json:"job_id" jsonschema:"id of the job to cancel"`
}

func (s *Server) handleCancelJob(ctx context.Context, _ *mcp.CallToolRequest, input CancelJobInput) (*mcp.CallToolResult, MessageOutput, error) {
	if input.JobID == "" {
		return nil, MessageOutput{}, NewInvalidParamsError("job_id parameter is required")
	}
	if err := s.manager.Cancel(input.JobID); err != nil {
		return nil, MessageOutput{}, MapError(err)
	}
	return nil, MessageOutput{Message: "cancellation requested for job " + input.JobID}, nil
}

// ClearCompletedJobsInput is the (empty) clear_completed_jobs input.
type ClearCompletedJobsInput struct{}

// ClearCompletedJobsOutput is the clear_completed_jobs tool output.
type ClearCompletedJobsOutput struct {
	Cleared int `json:"cleared" jsonschema:"number of finished jobs removed"`
}

func (s *Server) handleClearCompletedJobs(ctx context.Context, _ *mcp.CallToolRequest, _ ClearCompletedJobsInput) (*mcp.CallToolResult, ClearCompletedJobsOutput, error) {
	return nil, ClearCompletedJobsOutput{Cleared: s.manager.ClearCompleted()}, nil
}

// RefreshVersionInput is the refresh_version tool input.
type RefreshVersionInput struct {
	Library string `json:"library" jsonschema:"library name"`
	Version string `json:"version,omitempty" jsonschema:"version to refresh; omit for the unversioned docs"`
}

func (s *Server) handleRefreshVersion(ctx context.Context, _ *mcp.CallToolRequest, input RefreshVersionInput) (*mcp.CallToolResult, JobIDOutput, error) {
	if input.Library == "" {
		return nil, JobIDOutput{}, NewInvalidParamsError("library parameter is required")
	}
	jobID, err := s.manager.EnqueueRefresh(ctx, input.Library, input.Version)
	if err != nil {
		return nil, JobIDOutput{}, MapError(err)
	}
	return nil, JobIDOutput{JobID: jobID}, nil
}
