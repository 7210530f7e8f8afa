// Package web is the operator-facing JSON API: catalog listings, job
// control, and search over HTTP for dashboards and scripts.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/docsmcp/docsmcp/internal/errors"
	"github.com/docsmcp/docsmcp/internal/jobs"
	"github.com/docsmcp/docsmcp/internal/retriever"
	"github.com/docsmcp/docsmcp/internal/scraper"
	"github.com/docsmcp/docsmcp/internal/store"
)

// Server serves the HTTP API.
type Server struct {
	store   *store.Store
	ret     *retriever.Retriever
	manager *jobs.Manager
	logger  *slog.Logger
	router  chi.Router
}

func New(st *store.Store, ret *retriever.Retriever, manager *jobs.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{store: st, ret: ret, manager: manager, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/api/stats", s.handleStats)
	r.Get("/api/libraries", s.handleListLibraries)
	r.Delete("/api/libraries/{library}", s.handleRemoveVersion)
	r.Post("/api/search", s.handleSearch)
	r.Get("/api/jobs", s.handleListJobs)
	r.Post("/api/jobs", s.handleCreateJob)
	r.Delete("/api/jobs", s.handleClearCompleted)
	r.Get("/api/jobs/{id}", s.handleGetJob)
	r.Delete("/api/jobs/{id}", s.handleCancelJob)

	s.router = r
	return s
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks until the context ends, then drains in-flight
// requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web API listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	if status >= 500 {
		s.logger.Error("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type statsResponse struct {
	Libraries int    `json:"libraries"`
	Versions  int    `json:"versions"`
	Pages     int    `json:"pages"`
	Chunks    int    `json:"chunks"`
	SizeBytes int64  `json:"size_bytes"`
	Size      string `json:"size"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Libraries: st.Libraries,
		Versions:  st.Versions,
		Pages:     st.Pages,
		Chunks:    st.Chunks,
		SizeBytes: st.SizeBytes,
		Size:      humanize.Bytes(uint64(st.SizeBytes)),
	})
}

type versionResponse struct {
	Version       string     `json:"version"`
	Status        string     `json:"status"`
	PageCount     int        `json:"page_count"`
	ChunkCount    int        `json:"chunk_count"`
	IndexedAt     *time.Time `json:"indexed_at,omitempty"`
	IndexedAgo    string     `json:"indexed_ago,omitempty"`
	SourceURL     string     `json:"source_url,omitempty"`
	Error         string     `json:"error,omitempty"`
	ProgressPages int        `json:"progress_pages,omitempty"`
	ProgressMax   int        `json:"progress_max_pages,omitempty"`
}

type libraryResponse struct {
	Library  string            `json:"library"`
	Versions []versionResponse `json:"versions"`
}

func (s *Server) handleListLibraries(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.ListLibraries(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]libraryResponse, 0, len(summaries))
	for _, lib := range summaries {
		lr := libraryResponse{Library: lib.Name, Versions: make([]versionResponse, 0, len(lib.Versions))}
		for _, v := range lib.Versions {
			vr := versionResponse{
				Version:       v.Name,
				Status:        string(v.Status),
				PageCount:     v.PageCount,
				ChunkCount:    v.ChunkCount,
				IndexedAt:     v.IndexedAt,
				SourceURL:     v.SourceURL,
				Error:         v.ErrorMessage,
				ProgressPages: v.ProgressPages,
				ProgressMax:   v.ProgressMax,
			}
			if v.IndexedAt != nil {
				vr.IndexedAgo = humanize.Time(*v.IndexedAt)
			}
			lr.Versions = append(lr.Versions, vr)
		}
		out = append(out, lr)
	}
	writeJSON(w, http.StatusOK, map[string]any{"libraries": out})
}

func (s *Server) handleRemoveVersion(w http.ResponseWriter, r *http.Request) {
	library := chi.URLParam(r, "library")
	version := r.URL.Query().Get("version")
	if err := s.store.RemoveVersion(r.Context(), library, version); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

type searchRequest struct {
	Library string `json:"library"`
	Version string `json:"version,omitempty"`
	Query   string `json:"query"`
	Limit   int    `json:"limit,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.Validation("invalid request body: %v", err))
		return
	}
	if req.Library == "" || req.Query == "" {
		s.writeError(w, errors.Validation("library and query are required"))
		return
	}
	results, err := s.ret.Search(r.Context(), req.Library, req.Version, req.Query, req.Limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]retriever.Result{"results": results})
}

type jobResponse struct {
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

func toJobResponse(j *jobs.Job) jobResponse {
	return jobResponse{
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

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	all := s.manager.ListJobs()
	out := make([]jobResponse, 0, len(all))
	for _, j := range all {
		out = append(out, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, map[string][]jobResponse{"jobs": out})
}

type createJobRequest struct {
	Type    string           `json:"type,omitempty"` // scrape (default) or refresh
	URL     string           `json:"url,omitempty"`
	Library string           `json:"library"`
	Version string           `json:"version,omitempty"`
	Options *scraper.Options `json:"options,omitempty"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.Validation("invalid request body: %v", err))
		return
	}
	if req.Library == "" {
		s.writeError(w, errors.Validation("library is required"))
		return
	}

	var (
		jobID string
		err   error
	)
	switch req.Type {
	case "", "scrape":
		var opts scraper.Options
		if req.Options != nil {
			opts = *req.Options
		}
		jobID, err = s.manager.EnqueueScrape(r.Context(), req.Library, req.Version, req.URL, opts)
	case "refresh":
		jobID, err = s.manager.EnqueueRefresh(r.Context(), req.Library, req.Version)
	default:
		err = errors.Validation("unknown job type %q", req.Type)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.manager.GetJob(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Cancel(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"cleared": s.manager.ClearCompleted()})
}
