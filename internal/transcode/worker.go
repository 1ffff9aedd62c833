package transcode

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"transcodeserver/internal/hardware"
	"transcodeserver/internal/progressbus"
	"transcodeserver/internal/registry"
)

// SourceProber resolves a source's duration/resolution/HDR metadata ahead
// of planning. The encoder tool's own probe subcommand is the natural
// implementation but is an external collaborator contract, out of scope
// per spec.md §1; callers wire in whatever concrete prober fits their
// encoder tool.
type SourceProber func(ctx context.Context, source string) (SourceInfo, error)

// WorkerConfig carries the fixed, process-lifetime settings a Worker needs
// for every job it processes.
type WorkerConfig struct {
	Binary           Binary
	Caps             *hardware.Profile
	TierMaxHeight    int
	ToneMapHDR       bool
	StallTimeoutS    int
	RetryCount       int
	SegmentDurationS int
	FallbackToSW     bool
	ProbeSource      SourceProber
}

// Worker runs the full per-job attempt loop: plan, build args, run the
// encoder subprocess, react to its exit per the §4.5.5 retry/fallback
// decision table, and report completion. Grounded on the teacher's
// internal/transcoder/executor.go Start/Wait lifecycle, generalized into a
// retrying, hardware-fallback-aware loop with registry and progress-bus
// integration the teacher's single-shot executor never had.
type Worker struct {
	cfg      WorkerConfig
	registry *registry.Registry
	bus      *progressbus.Hub
	callback *CallbackClient
	subs     *SubtitleFetcher
	log      zerolog.Logger
}

// NewWorker constructs a Worker.
func NewWorker(cfg WorkerConfig, reg *registry.Registry, bus *progressbus.Hub, callback *CallbackClient, subs *SubtitleFetcher, log zerolog.Logger) *Worker {
	return &Worker{cfg: cfg, registry: reg, bus: bus, callback: callback, subs: subs, log: log}
}

// Process owns job end-to-end: it is the single writer for this job's
// record for the job's entire processing lifetime, per §4.4's single-writer
// discipline.
func (w *Worker) Process(ctx context.Context, job *registry.Job, qualityFactor float64) {
	log := w.log.With().Str("job_id", job.ID).Logger()

	source, err := w.probeSource(ctx, job.Request.Source)
	if err != nil {
		w.finish(job.ID, registry.StatusError, fmt.Sprintf("source probe failed: %v", err))
		return
	}

	tracks := w.subs.FetchAll(ctx, job.WorkingDir, job.Request.Subtitles)

	_ = w.registry.Update(job.ID, func(j *registry.Job) {
		j.Status = registry.StatusProcessing
		j.StartedAt = time.Now()
		j.DurationS = source.DurationS
	})
	w.bus.StatusChange(job.ID, string(registry.StatusProcessing), "")

	family := job.Request.HWAccel
	stallTimeout := time.Duration(w.cfg.StallTimeoutS) * time.Second
	if stallTimeout <= 0 {
		stallTimeout = 20 * time.Second
	}

	attempt := 0
	twoPassEnabled := job.Request.TwoPass

	for {
		opts := PlanOptions{
			Job:             job,
			Source:          source,
			Caps:            w.cfg.Caps,
			QualityFactor:   qualityFactor,
			TierMaxHeight:   w.cfg.TierMaxHeight,
			ToneMapHDR:      w.cfg.ToneMapHDR,
			HWAccelOverride: family,
			TwoPassOverride: &twoPassEnabled,
		}

		plan, err := BuildPlan(opts)
		if err != nil {
			w.finish(job.ID, registry.StatusError, fmt.Sprintf("planning failed: %v", err))
			return
		}

		if plan.Mode == registry.ModeStream || plan.Mode == registry.ModeABR {
			if err := WriteMasterPlaylist(plan, tracks); err != nil {
				log.Warn().Err(err).Msg("failed to write master playlist")
			}
		}

		args, err := BuildArgs(plan, w.cfg.SegmentDurationS)
		if err != nil {
			w.finish(job.ID, registry.StatusError, fmt.Sprintf("arg build failed: %v", err))
			return
		}

		_ = w.registry.Update(job.ID, func(j *registry.Job) {
			j.HWAccelUsed = string(plan.Family)
			j.Attempt = attempt
		})

		onProgress := func(s Sample) {
			progress := 0.0
			if source.DurationS > 0 {
				progress = math.Min(float64(s.OutTimeMS)/1000.0/source.DurationS, 1.0)
			}
			var eta float64
			if s.Speed > 0 && source.DurationS > 0 {
				remaining := source.DurationS - float64(s.OutTimeMS)/1000.0
				if remaining > 0 {
					eta = remaining / s.Speed
				}
			}
			_ = w.registry.Update(job.ID, func(j *registry.Job) {
				j.Progress = progress
				j.CurrentTimeS = float64(s.OutTimeMS) / 1000.0
				j.Frame = s.Frame
				j.FPS = s.FPS
				j.Speed = s.Speed
				j.ETASec = eta
			})
			w.bus.Progress(job.ID, progress, s.Frame, s.FPS, float64(s.OutTimeMS)/1000.0, s.Speed)

			if plan.Mode == registry.ModeStream || plan.Mode == registry.ModeABR {
				_ = RewriteVariantPlaylists(plan, w.cfg.SegmentDurationS, s.Done)
			}
		}

		result, err := w.cfg.Binary.RunAttempt(ctx, args, job.CancelSignal, stallTimeout, onProgress)
		if err != nil {
			w.finish(job.ID, registry.StatusError, fmt.Sprintf("failed to run encoder: %v", err))
			return
		}

		switch result.Class {
		case ExitClean:
			w.complete(job, plan)
			return

		case ExitCancelled:
			w.finish(job.ID, registry.StatusCancelled, "")
			return

		case ExitStalled, ExitTransient:
			if attempt < w.cfg.RetryCount {
				attempt++
				backoff := time.Duration(math.Min(math.Pow(2, float64(attempt)), 30)) * time.Second
				log.Warn().Int("attempt", attempt).Dur("backoff", backoff).Str("stderr_tail", result.StderrTail).Msg("transient encoder failure, retrying")
				select {
				case <-time.After(backoff):
				case <-job.CancelSignal:
					w.finish(job.ID, registry.StatusCancelled, "")
					return
				case <-ctx.Done():
					w.finish(job.ID, registry.StatusCancelled, "")
					return
				}
				continue
			}
			exhaustedMsg := "encoder failed after retries exhausted"
			if result.Class == ExitStalled {
				exhaustedMsg = "encoder stalled and failed after retries exhausted"
			}
			w.finish(job.ID, registry.StatusError, truncatedErr(exhaustedMsg, result.StderrTail))
			return

		case ExitHardwareFault:
			if w.cfg.FallbackToSW && family != string(hardware.FamilySoftware) {
				log.Warn().Str("stderr_tail", result.StderrTail).Msg("hardware encoder fault, falling back to software")
				family = string(hardware.FamilySoftware)
				attempt = 0
				if twoPassEnabled {
					twoPassEnabled = false // Open Question (b): disable two-pass once a software fallback occurs
				}
				continue
			}
			w.finish(job.ID, registry.StatusError, truncatedErr("hardware encoder fault", result.StderrTail))
			return

		default: // ExitFatal
			w.finish(job.ID, registry.StatusError, truncatedErr("encoder exited fatally", result.StderrTail))
			return
		}
	}
}

func (w *Worker) complete(job *registry.Job, plan *Plan) {
	streamURL, downloadURL := "", ""
	switch plan.Mode {
	case registry.ModeStream, registry.ModeABR:
		streamURL = fmt.Sprintf("/stream/%s/master.m3u8", job.ID)
	case registry.ModeBatch:
		downloadURL = fmt.Sprintf("/stream/%s/output.%s", job.ID, plan.Container)
	}

	_ = w.registry.Update(job.ID, func(j *registry.Job) {
		j.Status = registry.StatusReady
		j.Progress = 1.0
		j.StreamURL = streamURL
		j.DownloadURL = downloadURL
	})
	w.bus.StatusChange(job.ID, string(registry.StatusReady), "")

	snapshot, err := w.registry.Get(job.ID)
	if err != nil {
		return
	}
	w.callback.Notify(context.Background(), job.Request.CompletionURL, CompletionPayload{
		JobID:       job.ID,
		Status:      string(registry.StatusReady),
		DownloadURL: snapshot.DownloadURL,
		StreamURL:   snapshot.StreamURL,
		DurationS:   snapshot.DurationS,
	})
}

func (w *Worker) finish(jobID string, status registry.Status, errMsg string) {
	_ = w.registry.Update(jobID, func(j *registry.Job) {
		j.Status = status
		j.ErrorMessage = errMsg
	})
	w.bus.StatusChange(jobID, string(status), errMsg)

	snapshot, err := w.registry.Get(jobID)
	if err != nil {
		return
	}
	if status == registry.StatusError {
		w.callback.Notify(context.Background(), snapshot.Request.CompletionURL, CompletionPayload{
			JobID:        jobID,
			Status:       string(status),
			ErrorMessage: errMsg,
		})
	}
}

func (w *Worker) probeSource(ctx context.Context, source string) (SourceInfo, error) {
	if w.cfg.ProbeSource == nil {
		return SourceInfo{Height: 1080, DurationS: 0}, nil
	}
	return w.cfg.ProbeSource(ctx, source)
}

func truncatedErr(prefix, tail string) string {
	msg := prefix
	if tail != "" {
		msg = fmt.Sprintf("%s: %s", prefix, tail)
	}
	if len(msg) > 2048 {
		msg = msg[len(msg)-2048:]
	}
	return msg
}
