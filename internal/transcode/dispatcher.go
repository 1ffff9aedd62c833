package transcode

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"transcodeserver/internal/admission"
	"transcodeserver/internal/loadmonitor"
	"transcodeserver/internal/registry"
)

const dispatchTick = 1 * time.Second

// Dispatcher repeatedly evaluates admission against the current load
// sample and, while allowed, pulls the oldest queued job and hands it to a
// fresh Worker goroutine, §4.3/§4.5.1. Grounded on the teacher's
// heartbeat.go polling loop shape, generalized from a fixed-interval
// heartbeat-and-fetch into an admission-gated dequeue loop.
type Dispatcher struct {
	registry *registry.Registry
	monitor  *loadmonitor.Monitor
	worker   *Worker
	ceiling  int
	log      zerolog.Logger
}

// NewDispatcher constructs a Dispatcher. ceiling is the configured
// max_concurrent_jobs; 0 means "unbounded by config" (hardware suggestion
// still applies).
func NewDispatcher(reg *registry.Registry, mon *loadmonitor.Monitor, worker *Worker, ceiling int, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{registry: reg, monitor: mon, worker: worker, ceiling: ceiling, log: log}
}

// Run blocks, evaluating admission and dispatching jobs until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, suggestedMaxJobs int) {
	ticker := time.NewTicker(dispatchTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx, suggestedMaxJobs)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context, suggestedMaxJobs int) {
	active := d.registry.CountByStatus(registry.StatusProcessing)
	sample := d.monitor.Latest()

	decision := admission.Evaluate(admission.Input{
		SuggestedMaxJobs:  suggestedMaxJobs,
		Sample:            sample,
		ConfiguredCeiling: d.ceiling,
		ActiveJobs:        active,
	})

	if !decision.Allow {
		return
	}
	if active >= decision.EffectiveMaxJobs {
		return
	}

	job := d.registry.DequeueOldestQueued()
	if job == nil {
		return
	}

	owned, err := d.registry.Owned(job.ID)
	if err != nil {
		return
	}

	d.log.Info().Str("job_id", owned.ID).Int("effective_max_jobs", decision.EffectiveMaxJobs).Float64("quality_factor", decision.QualityFactor).Msg("dispatching job")

	go d.worker.Process(ctx, owned, decision.QualityFactor)
}
