package transcode

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcodeserver/pkg/models"
)

func TestSubtitleFetcher_FetchAllWritesEachTrack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("WEBVTT\n\n00:00:00.000 --> 00:00:01.000\nhi\n"))
	}))
	defer srv.Close()

	f := NewSubtitleFetcher(zerolog.Nop())
	workDir := t.TempDir()

	tracks := f.FetchAll(t.Context(), workDir, []models.SubtitleSpec{
		{Lang: "en", URL: srv.URL, Default: true},
		{Lang: "fr", URL: srv.URL},
	})

	require.Len(t, tracks, 2)
	assert.FileExists(t, filepath.Join(workDir, "subs", "en.vtt"))
	assert.FileExists(t, filepath.Join(workDir, "subs", "fr.vtt"))
}

func TestSubtitleFetcher_SkipsFailingTrackWithoutFailingOthers(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("WEBVTT\n"))
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()

	f := NewSubtitleFetcher(zerolog.Nop())
	workDir := t.TempDir()

	tracks := f.FetchAll(t.Context(), workDir, []models.SubtitleSpec{
		{Lang: "en", URL: ok.URL},
		{Lang: "xx", URL: bad.URL},
	})

	require.Len(t, tracks, 1)
	assert.Equal(t, "en", tracks[0].Lang)
	_, err := os.Stat(filepath.Join(workDir, "subs", "xx.vtt"))
	assert.True(t, os.IsNotExist(err))
}

func TestSubtitleFetcher_EmptySpecsReturnsNil(t *testing.T) {
	f := NewSubtitleFetcher(zerolog.Nop())
	tracks := f.FetchAll(t.Context(), t.TempDir(), nil)
	assert.Nil(t, tracks)
}
