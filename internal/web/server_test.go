package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsmcp/docsmcp/internal/fetcher"
	"github.com/docsmcp/docsmcp/internal/jobs"
	"github.com/docsmcp/docsmcp/internal/pipeline"
	"github.com/docsmcp/docsmcp/internal/retriever"
	"github.com/docsmcp/docsmcp/internal/scraper"
	"github.com/docsmcp/docsmcp/internal/store"
)

func newTestAPI(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	crawler := scraper.NewCrawler(fetcher.NewAutoDetect(), pipeline.NewSelector(nil), nil)
	manager := jobs.NewManager(st, crawler, jobs.NewBus(), nil, 1)
	require.NoError(t, manager.Start(context.Background()))
	t.Cleanup(manager.Stop)

	api := httptest.NewServer(New(st, retriever.New(st, nil), manager, nil).Handler())
	t.Cleanup(api.Close)
	return api, st
}

func docSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Docs</title></head><body><h1>Guide</h1><p>the blorple spins</p></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func scrapeAndWait(t *testing.T, api *httptest.Server, sourceURL string) string {
	t.Helper()
	resp := postJSON(t, api.URL+"/api/jobs", map[string]any{
		"url": sourceURL, "library": "widget", "version": "1.0.0",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobID := decode[map[string]string](t, resp)["job_id"]
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		r, err := http.Get(api.URL + "/api/jobs/" + jobID)
		if err != nil {
			return false
		}
		job := decode[map[string]any](t, r)
		return store.VersionStatus(job["status"].(string)).IsTerminal()
	}, 10*time.Second, 20*time.Millisecond)
	return jobID
}

func TestJobAndSearchEndpoints(t *testing.T) {
	api, _ := newTestAPI(t)
	site := docSite(t)

	jobID := scrapeAndWait(t, api, site.URL+"/")

	resp, err := http.Get(api.URL + "/api/jobs/" + jobID)
	require.NoError(t, err)
	job := decode[map[string]any](t, resp)
	assert.Equal(t, string(store.StatusCompleted), job["status"])

	resp = postJSON(t, api.URL+"/api/search", map[string]any{
		"library": "widget", "version": "1.0.0", "query": "blorple",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	search := decode[map[string][]retriever.Result](t, resp)
	require.NotEmpty(t, search["results"])
	assert.Contains(t, search["results"][0].Content, "blorple")

	resp, err = http.Get(api.URL + "/api/libraries")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	libs := decode[map[string][]libraryResponse](t, resp)
	require.Len(t, libs["libraries"], 1)
	assert.Equal(t, "widget", libs["libraries"][0].Library)

	resp, err = http.Get(api.URL + "/api/stats")
	require.NoError(t, err)
	stats := decode[statsResponse](t, resp)
	assert.Equal(t, 1, stats.Libraries)
	assert.Equal(t, 1, stats.Pages)
	assert.NotEmpty(t, stats.Size)
}

func TestErrorStatusMapping(t *testing.T) {
	api, _ := newTestAPI(t)

	// Unknown job id maps to 404.
	resp, err := http.Get(api.URL + "/api/jobs/bogus")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	// Missing fields map to 400.
	resp = postJSON(t, api.URL+"/api/search", map[string]any{"query": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, api.URL+"/api/jobs", map[string]any{"library": "widget", "type": "galaxy"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Refreshing a version that was never indexed maps to 404.
	resp = postJSON(t, api.URL+"/api/jobs", map[string]any{
		"library": "widget", "version": "1.0.0", "type": "refresh",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestRemoveVersionEndpoint(t *testing.T) {
	api, st := newTestAPI(t)
	site := docSite(t)
	scrapeAndWait(t, api, site.URL+"/")

	req, err := http.NewRequest(http.MethodDelete, api.URL+"/api/libraries/widget?version=1.0.0", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Pages)
}

func TestClearCompletedEndpoint(t *testing.T) {
	api, _ := newTestAPI(t)
	site := docSite(t)
	scrapeAndWait(t, api, site.URL+"/")

	req, err := http.NewRequest(http.MethodDelete, api.URL+"/api/jobs", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	cleared := decode[map[string]int](t, resp)
	assert.Equal(t, 1, cleared["cleared"])
}
