package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIEmbedDocuments(t *testing.T) {
	var gotAuth string
	var gotReq openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		// Respond out of order to prove index-based reassembly.
		resp := map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0, 1}},
				{"index": 0, "embedding": []float32{1, 0}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewOpenAI(OpenAIConfig{
		BaseURL:           srv.URL,
		APIKey:            "sk-test",
		Model:             "text-embedding-3-small",
		Dimensions:        2,
		RequestDimensions: true,
	})

	vecs, err := e.EmbedDocuments(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1}, vecs[1])

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "text-embedding-3-small", gotReq.Model)
	assert.Equal(t, 2, gotReq.Dimensions)
}

func TestOpenAISizeErrorMessageSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message": "This model's maximum context length is 8192 tokens",
				"type":    "invalid_request_error",
			},
		})
	}))
	defer srv.Close()

	p := &openAIProvider{
		cfg:    OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m", Dimensions: 2},
		client: srv.Client(),
	}
	_, err := p.embedBatch(context.Background(), []string{"text"})
	require.Error(t, err)
	// The retry layer keys off this message text.
	assert.True(t, isSizeError(err))
}

func TestOpenAICustomAuthHeader(t *testing.T) {
	var gotAPIKey, gotBearer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("api-key")
		gotBearer = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float32{1}}},
		})
	}))
	defer srv.Close()

	e := NewOpenAI(OpenAIConfig{
		BaseURL:    srv.URL,
		APIKey:     "azure-key",
		Model:      "deployment",
		Dimensions: 1,
		AuthHeader: "api-key",
		Query:      "api-version=2024-02-01",
	})
	_, err := e.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "azure-key", gotAPIKey)
	assert.Empty(t, gotBearer)
}
