package streamserver

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcodeserver/internal/apierror"
)

func newTestServer(t *testing.T, workingDir string, err error) (*mux.Router, *Server) {
	t.Helper()
	srv := New(func(jobID string) (string, error) {
		if err != nil {
			return "", err
		}
		return workingDir, nil
	}, zerolog.Nop())
	r := mux.NewRouter()
	srv.Register(r)
	return r, srv
}

func TestHandle_ServesExistingSegment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "stream"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stream", "segment_00000.ts"), []byte("tsdata"), 0o644))

	r, _ := newTestServer(t, dir, nil)

	req := httptest.NewRequest(http.MethodGet, "/stream/job1/stream/segment_00000.ts", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tsdata", rec.Body.String())
}

func TestHandle_MissingSegmentIsPlain404(t *testing.T) {
	dir := t.TempDir()
	r, _ := newTestServer(t, dir, nil)

	req := httptest.NewRequest(http.MethodGet, "/stream/job1/stream/segment_99999.ts", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandle_UnknownJobReturnsAPIError(t *testing.T) {
	r, _ := newTestServer(t, "", apierror.New(apierror.CodeNotFound, "job unknown not found"))

	req := httptest.NewRequest(http.MethodGet, "/stream/unknown/master.m3u8", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandle_PathTraversalIsRejected(t *testing.T) {
	dir := t.TempDir()
	secret := filepath.Join(filepath.Dir(dir), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("top secret"), 0o644))
	defer os.Remove(secret)

	r, _ := newTestServer(t, dir, nil)

	req := httptest.NewRequest(http.MethodGet, "/stream/job1/../secret.txt", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestWithinDir_RejectsEscape(t *testing.T) {
	assert.True(t, withinDir("/a/b", "/a/b/c.ts"))
	assert.False(t, withinDir("/a/b", "/a/c.ts"))
	assert.False(t, withinDir("/a/b", "/a/b/../c.ts"))
}
