// Command transcodeserver runs the adaptive transcoding server: it probes
// host hardware once at startup, continuously samples load, admits and
// dispatches queued jobs, runs the encoder subprocess per job, broadcasts
// progress over WebSocket, and serves the resulting HLS/download output.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transcodeserver/internal/api"
	"transcodeserver/internal/config"
	"transcodeserver/internal/hardware"
	"transcodeserver/internal/loadmonitor"
	"transcodeserver/internal/logging"
	"transcodeserver/internal/progressbus"
	"transcodeserver/internal/registry"
	"transcodeserver/internal/streamserver"
	"transcodeserver/internal/transcode"
)

const (
	version = "0.1.0"

	// Exit codes, §6: 1 covers any other fatal startup error, 2 is
	// reserved specifically for the encoder tool being missing/unusable.
	exitFatalStartup   = 1
	exitEncoderMissing = 2
)

func main() {
	configPath := flag.String("config", ".", "directory to search for config.yaml")
	pretty := flag.Bool("pretty-log", false, "use human-readable console log output")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(exitFatalStartup)
	}

	log := logging.New(cfg.LogLevel, *pretty)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prober := hardware.NewProber(cfg.Transcoding.EncoderTool, hardware.WithLogger(log))
	profile, err := prober.Probe(ctx)
	if err != nil {
		var probeErr *hardware.ProbeError
		if errors.As(err, &probeErr) {
			log.Error().Err(err).Msg("encoder tool not available, cannot start")
			os.Exit(exitEncoderMissing)
		}
		log.Error().Err(err).Msg("hardware probe failed, cannot start")
		os.Exit(exitFatalStartup)
	}
	log.Info().Str("tier", profile.Capabilities.Tier).Int("suggested_max_jobs", profile.Capabilities.SuggestedMaxJobs).Msg("hardware profile ready")

	mon := loadmonitor.New(loadmonitor.WithLogger(log))
	go mon.Run(ctx)

	if err := os.MkdirAll(cfg.Transcoding.TempDirectory, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create temp directory")
	}
	retention := time.Duration(cfg.Transcoding.RetentionMinutes) * time.Minute
	reg := registry.New(cfg.Transcoding.TempDirectory, retention, log)

	janitorStop := make(chan struct{})
	go reg.RunJanitor(janitorStop)
	defer close(janitorStop)

	bus := progressbus.New(log)

	callback := transcode.NewCallbackClient(log)
	subs := transcode.NewSubtitleFetcher(log)

	workerCfg := transcode.WorkerConfig{
		Binary:           transcode.Binary{Path: cfg.Transcoding.EncoderTool},
		Caps:             profile,
		TierMaxHeight:    maxHeightForTier(profile.Capabilities.MaxResolution),
		ToneMapHDR:       cfg.Transcoding.ToneMapHDR,
		StallTimeoutS:    cfg.Transcoding.StallTimeoutS,
		RetryCount:       cfg.Transcoding.RetryCount,
		SegmentDurationS: cfg.Transcoding.SegmentDurationS,
		FallbackToSW:     cfg.Hardware.FallbackToSW,
		ProbeSource:      transcode.NewFFprobeSourceProber(cfg.Transcoding.ProbeTool),
	}
	worker := transcode.NewWorker(workerCfg, reg, bus, callback, subs, log)

	ceiling := cfg.Transcoding.MaxConcurrentJobs
	dispatcher := transcode.NewDispatcher(reg, mon, worker, ceiling, log)
	go dispatcher.Run(ctx, profile.Capabilities.SuggestedMaxJobs)

	streamSrv := streamserver.New(func(jobID string) (string, error) {
		job, err := reg.Get(jobID)
		if err != nil {
			return "", err
		}
		return job.WorkingDir, nil
	}, log)

	apiSrv := api.New(reg, mon, profile, bus, streamSrv, cfg.Security.APIKey, version, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: apiSrv.Router(),
	}

	go func() {
		log.Info().Str("addr", addr).Msg("transcodeserver listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

func maxHeightForTier(maxResolution string) int {
	switch maxResolution {
	case "4k":
		return 2160
	case "1440p":
		return 1440
	case "1080p":
		return 1080
	case "720p":
		return 720
	case "480p":
		return 480
	default:
		return 1080
	}
}
