package transcode

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackClient_NotifyPostsPayload(t *testing.T) {
	var gotBody []byte
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewCallbackClient(zerolog.Nop())
	c.Notify(t.Context(), srv.URL, CompletionPayload{JobID: "abc", Status: "ready"})

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Contains(t, string(gotBody), "abc")
}

func TestCallbackClient_NotifySwallowsFailure(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewCallbackClient(zerolog.Nop())
	require.NotPanics(t, func() {
		c.Notify(t.Context(), srv.URL, CompletionPayload{JobID: "abc", Status: "error"})
	})
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits), "RetryMax=0 means exactly one attempt")
}

func TestCallbackClient_NotifyNoopOnEmptyURL(t *testing.T) {
	c := NewCallbackClient(zerolog.Nop())
	require.NotPanics(t, func() {
		c.Notify(t.Context(), "", CompletionPayload{JobID: "abc"})
	})
}
