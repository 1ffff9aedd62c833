package transcode

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"transcodeserver/pkg/models"
)

// SubtitleFetcher downloads declared subtitle tracks into a job's working
// directory ahead of muxing, §4.5.2/§6. Grounded on the teacher's
// OrchestratorClient HTTP plumbing (internal/client/client.go), reused here
// for outbound GETs instead of orchestrator RPCs.
type SubtitleFetcher struct {
	httpClient *http.Client
	log        zerolog.Logger
}

// NewSubtitleFetcher builds a fetcher with a bounded retry policy; a slow or
// dead subtitle origin must not stall the whole job indefinitely.
func NewSubtitleFetcher(log zerolog.Logger) *SubtitleFetcher {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil
	retryClient.HTTPClient.Timeout = 15 * time.Second

	return &SubtitleFetcher{httpClient: retryClient.StandardClient(), log: log}
}

// FetchAll downloads every declared subtitle track into
// workingDir/subs/{lang}.vtt, skipping (and logging) any track that fails
// to fetch rather than failing the whole job: subtitles are a supplementary
// output, §4.5.2.
func (f *SubtitleFetcher) FetchAll(ctx context.Context, workingDir string, specs []models.SubtitleSpec) []subtitleTrack {
	if len(specs) == 0 {
		return nil
	}

	subsDir := filepath.Join(workingDir, "subs")
	if err := os.MkdirAll(subsDir, 0o755); err != nil {
		f.log.Warn().Err(err).Msg("failed to create subtitles directory, skipping all subtitle tracks")
		return nil
	}

	var tracks []subtitleTrack
	for _, spec := range specs {
		dest := filepath.Join(subsDir, spec.Lang+".vtt")
		if err := f.fetchOne(ctx, spec.URL, dest); err != nil {
			f.log.Warn().Err(err).Str("lang", spec.Lang).Str("url", spec.URL).Msg("subtitle fetch failed, skipping track")
			continue
		}
		tracks = append(tracks, subtitleTrack{Lang: spec.Lang, Default: spec.Default})
	}
	return tracks
}

func (f *SubtitleFetcher) fetchOne(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	return writeFileAtomic(dest, data)
}
