package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveBatch(t *testing.T) {
	m := New()
	m.ObserveBatch(3, 20*time.Millisecond)
	m.ObserveBatch(2, 10*time.Millisecond)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.texts))
	assert.Equal(t, 1, testutil.CollectAndCount(m.batchDuration))
}

func TestCounters(t *testing.T) {
	m := New()
	m.IncError("client")
	m.IncError("client")
	m.IncError("internal")
	m.IncCacheLookup("hit")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.errors.WithLabelValues("client")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("internal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveBatch(1, time.Second)
	m.IncError("internal")
	m.IncCacheLookup("miss")

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, id := range []string{"1", "2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/"+id, nil))
		require.Equal(t, http.StatusNoContent, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues(http.MethodGet, "/items/{id}", "204")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveBatch(1, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "embed_texts_total 1"))
}
