package metrics

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRun(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	r.ObserveRun("committed", 12, 0, 40*time.Millisecond)
	r.ObserveRun("rolled_back", 3, 2, 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("rolled_back")))
	assert.Equal(t, 15.0, testutil.ToFloat64(r.rows.WithLabelValues("inserted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.rows.WithLabelValues("failed")))
}

func TestWriteTextfile(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	r.ObserveRun("committed", 1, 0, time.Millisecond)

	path := filepath.Join(t.TempDir(), "odkimport.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `odkimport_runs_total{status="committed"} 1`)
}

func TestPush(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r, err := New()
	require.NoError(t, err)
	r.ObserveRun("committed", 1, 0, time.Millisecond)

	require.NoError(t, r.Push(srv.URL, "odkimport"))
	assert.True(t, strings.HasPrefix(gotPath, "/metrics/job/odkimport"))

	assert.Error(t, r.Push("", "odkimport"))
}
