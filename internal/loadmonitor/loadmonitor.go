// Package loadmonitor implements the Load Monitor (C2): a fixed 2s sampler
// of CPU/GPU/memory state (the power source is always reported as AC, see
// powerState) that publishes a smoothed load_factor and
// a short-window trend. Grounded on the teacher's internal/monitor/monitor.go
// (which samples cpu.PercentWithContext and mem.VirtualMemoryWithContext on
// demand); generalized here into a continuously-running sampler with an
// exponential smoother and a 30s ring buffer, per spec.md §4.2.
package loadmonitor

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/rs/zerolog"

	"transcodeserver/pkg/models"
)

const (
	samplePeriod  = 2 * time.Second
	trendWindow   = 30 * time.Second
	smoothingAlph = 0.3 // exponential smoothing factor for load_factor
	trendFlatSlop = 0.5 // |slope| below this (percent-points per sample) => stable
)

// GPUSample is what a vendor GPU utility probe (out of scope collaborator)
// reports for a single tick. A nil GPUSample means "no GPU metrics
// available this tick" and is excluded from the load_factor max, per
// spec.md §4.2 ("missing metrics are reported as null and excluded").
type GPUSample struct {
	UtilizationPercent float64
	TempC              float64
}

type ringEntry struct {
	at   time.Time
	cpu  float64
	gpu  *float64
}

// Monitor runs the continuous sampler.
type Monitor struct {
	gpuProbe func(ctx context.Context) (*GPUSample, error)
	log      zerolog.Logger

	mu           sync.RWMutex
	latest       models.RealtimeSample
	smoothedLoad float64
	ring         []ringEntry

	clock func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithGPUProbe injects the vendor GPU utility collaborator.
func WithGPUProbe(fn func(ctx context.Context) (*GPUSample, error)) Option {
	return func(m *Monitor) { m.gpuProbe = fn }
}

// WithLogger attaches a structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// withClock overrides the time source; used by tests.
func withClock(fn func() time.Time) Option {
	return func(m *Monitor) { m.clock = fn }
}

// New constructs a Monitor. Call Run to start sampling.
func New(opts ...Option) *Monitor {
	m := &Monitor{log: zerolog.Nop(), clock: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run samples at a fixed 2s period until ctx is cancelled. Never blocks on
// external collectors: a failed collector contributes nothing to the
// sample rather than stalling the loop.
func (m *Monitor) Run(ctx context.Context) {
	m.sampleOnce(ctx)

	ticker := time.NewTicker(samplePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleOnce(ctx)
		}
	}
}

func (m *Monitor) sampleOnce(ctx context.Context) {
	now := m.clock()

	var cpuPct float64
	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		cpuPct = pcts[0]
	} else if err != nil {
		m.log.Debug().Err(err).Msg("cpu sample failed, excluding from load_factor")
	}

	var memPct float64
	if v, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		memPct = v.UsedPercent
	} else {
		m.log.Debug().Err(err).Msg("memory sample failed")
	}

	onBattery, onAC := powerState(ctx)

	var gpuPct *float64
	var gpuTemp float64
	if m.gpuProbe != nil {
		if g, err := m.gpuProbe(ctx); err == nil && g != nil {
			v := g.UtilizationPercent
			gpuPct = &v
			gpuTemp = g.TempC
		} else if err != nil {
			m.log.Debug().Err(err).Msg("gpu sample failed, excluding from load_factor")
		}
	}

	rawLoad := cpuPct
	if gpuPct != nil && *gpuPct > rawLoad {
		rawLoad = *gpuPct
	}
	rawLoad = rawLoad / 100.0

	m.mu.Lock()
	if m.smoothedLoad == 0 && len(m.ring) == 0 {
		m.smoothedLoad = rawLoad
	} else {
		m.smoothedLoad = smoothingAlph*rawLoad + (1-smoothingAlph)*m.smoothedLoad
	}

	m.ring = append(m.ring, ringEntry{at: now, cpu: cpuPct, gpu: gpuPct})
	cutoff := now.Add(-trendWindow)
	kept := m.ring[:0]
	for _, e := range m.ring {
		if !e.at.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	m.ring = kept

	trend := computeTrend(m.ring)

	m.latest = models.RealtimeSample{
		CPUPercent: cpuPct,
		GPUPercent: gpuPctOrZero(gpuPct),
		GPUTempC:   gpuTemp,
		MemPercent: memPct,
		OnBattery:  onBattery,
		OnAC:       onAC,
		LoadFactor: m.smoothedLoad,
		Trend:      trend,
	}
	m.mu.Unlock()
}

func gpuPctOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// computeTrend fits a simple slope (least squares over index vs. combined
// load value) and classifies it per §4.2: |slope| < 0.5 => stable.
func computeTrend(ring []ringEntry) string {
	if len(ring) < 2 {
		return "stable"
	}

	n := float64(len(ring))
	var sumX, sumY, sumXY, sumXX float64
	for i, e := range ring {
		x := float64(i)
		y := e.cpu
		if e.gpu != nil && *e.gpu > y {
			y = *e.gpu
		}
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return "stable"
	}
	slope := (n*sumXY - sumX*sumY) / denom

	switch {
	case slope > trendFlatSlop:
		return "rising"
	case slope < -trendFlatSlop:
		return "falling"
	default:
		return "stable"
	}
}

// powerState reports whether the host is running on battery vs AC. gopsutil
// has no direct cross-platform battery API, and no battery or AC sensor is
// read here: the result is always "AC, not on battery" (the common
// server/desktop case), whatever the host's real power source.
func powerState(ctx context.Context) (onBattery, onAC bool) {
	_, err := host.InfoWithContext(ctx)
	if err != nil {
		return false, true
	}
	return false, true
}

// Latest returns the most recent realtime sample.
func (m *Monitor) Latest() models.RealtimeSample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}
