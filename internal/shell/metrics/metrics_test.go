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

func TestRecordDeploy(t *testing.T) {
	m := New()
	m.RecordDeploy("deploy", "test", "success", 3*time.Second)
	m.RecordDeploy("deploy", "test", "success", time.Second)
	m.RecordDeploy("approve", "prod", "failure", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.deployResults.WithLabelValues("deploy", "test", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deployResults.WithLabelValues("approve", "prod", "failure")))

	m.RecordTeardownFailure("prod")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.teardownFailures.WithLabelValues("prod")))
}

func TestSetEnvironments_Resets(t *testing.T) {
	m := New()
	m.SetEnvironments(map[string]map[string]int{"test": {"running": 2, "exited": 1}})
	m.SetEnvironments(map[string]map[string]int{"test": {"running": 3}})

	assert.Equal(t, 3.0, testutil.ToFloat64(m.environments.WithLabelValues("test", "running")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.environments))
}

func TestInstrumentAndHandler(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/projects/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", m.Handler())

	for _, name := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/"+name, nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestTotal.WithLabelValues("GET", "/projects/{name}", "418")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "reflow_api_http_requests_total"))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordDeploy("deploy", "test", "success", time.Second)
	m.RecordTeardownFailure("test")
	m.SetEnvironments(nil)
	assert.Nil(t, m.Registry())

	h := m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}
