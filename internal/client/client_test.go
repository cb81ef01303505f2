package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"embed-service/internal/service"
)

func newStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /embed", func(w http.ResponseWriter, r *http.Request) {
		var req service.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"detail":"invalid payload"}`, http.StatusBadRequest)
			return
		}
		if len(req.Texts) == 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"detail":"texts list cannot be empty"}`))
			return
		}
		out := make([][]float32, len(req.Texts))
		for i := range req.Texts {
			out[i] = []float32{float32(i), 1}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(service.Response{
			Embeddings: out,
			Model:      "stub",
			Dimension:  2,
			BatchSize:  len(out),
		})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","model":"stub","device":"cpu","batch_size":32}`))
	})
	mux.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model_name":"stub","device":"cpu","max_batch_size":32,"max_input_length":8192,"embedding_dimension":768,"truncation":true}`))
	})
	mux.HandleFunc("POST /v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "float", body["encoding_format"])
		w.Header().Set("Content-Type", "application/json")
		// Out of order on purpose; the client must place by index.
		_, _ = w.Write([]byte(`{"object":"list","model":"stub","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}
		],"usage":{"prompt_tokens":0,"total_tokens":0}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbed(t *testing.T) {
	srv := newStub(t)
	c := New(srv.URL)

	resp, err := c.Embed(context.Background(), []string{"a", "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.BatchSize)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}}, resp.Embeddings)
	assert.Equal(t, "stub", resp.Model)
}

func TestEmbedClientError(t *testing.T) {
	srv := newStub(t)
	c := New(srv.URL)

	_, err := c.Embed(context.Background(), []string{}, nil)
	require.Error(t, err)
	assert.True(t, IsClientError(err))

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
}

func TestHealthAndInfo(t *testing.T) {
	srv := newStub(t)
	c := New(srv.URL + "/")

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Health{Status: "healthy", Model: "stub", Device: "cpu", BatchSize: 32}, h)

	info, err := c.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 768, info.EmbeddingDimension)
	assert.Equal(t, 8192, info.MaxInputLength)
	assert.True(t, info.Truncation)
}

func TestOpenAIEmbedOrdersByIndex(t *testing.T) {
	srv := newStub(t)
	c := New(srv.URL)

	vecs, err := c.OpenAIEmbed(context.Background(), "stub", []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1")
	_, err := c.Health(context.Background())
	require.Error(t, err)
	assert.False(t, IsClientError(err))
}
