package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// CompletionPayload is the body POSTed to a job's completion_callback_url,
// §4.5.6.
type CompletionPayload struct {
	JobID        string  `json:"job_id"`
	Status       string  `json:"status"`
	DownloadURL  string  `json:"download_url,omitempty"`
	StreamURL    string  `json:"stream_url,omitempty"`
	DurationS    float64 `json:"duration_s,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// CallbackClient posts job completion notifications. Grounded on the
// teacher's OrchestratorClient (internal/client/client.go), generalized
// from a fixed orchestrator base URL into a per-job arbitrary callback URL,
// and from a 3-retry policy into the single-attempt, short-timeout contract
// §4.5.6 requires: completion callbacks are best-effort and must never
// block job cleanup.
type CallbackClient struct {
	httpClient *http.Client
	log        zerolog.Logger
}

// NewCallbackClient builds a client with RetryMax=0 (single attempt) and a
// short per-request timeout, since a stuck callback endpoint must not delay
// the worker moving on to its next job.
func NewCallbackClient(log zerolog.Logger) *CallbackClient {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 0
	retryClient.Logger = nil
	retryClient.HTTPClient.Timeout = 5 * time.Second

	return &CallbackClient{httpClient: retryClient.StandardClient(), log: log}
}

// Notify POSTs the completion payload to url. Failures are logged and
// swallowed: §4.5.6 treats the callback as fire-and-forget, not part of the
// job's own success/failure determination.
func (c *CallbackClient) Notify(ctx context.Context, url string, payload CompletionPayload) {
	if url == "" {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn().Err(err).Str("job_id", payload.JobID).Msg("failed to marshal completion callback payload")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.log.Warn().Err(err).Str("job_id", payload.JobID).Msg("failed to build completion callback request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("job_id", payload.JobID).Str("url", url).Msg("completion callback failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.log.Warn().Str("job_id", payload.JobID).Int("status", resp.StatusCode).Msg("completion callback returned non-2xx")
		return
	}

	c.log.Debug().Str("job_id", payload.JobID).Msg(fmt.Sprintf("completion callback delivered to %s", url))
}
