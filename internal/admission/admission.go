// Package admission implements the Adaptive Admission Controller (C3): a
// pure function of (capabilities, latest load sample, configured ceiling,
// active job count) that decides whether a new job may start, the current
// concurrency ceiling, and a quality downscaling hint. Grounded on
// other_examples/571071b9_ManuGH-xg2g__internal-admission-monitor.go (a
// ResourceMonitor with an ordered CanAdmit rule chain and a documented
// AdmissionReason taxonomy) but reworked into spec.md §4.3's own five
// first-match rules instead of xg2g's pool/GPU-token/CPU-window rules.
package admission

import (
	"transcodeserver/pkg/models"
)

// Decision is the result of one admission evaluation, §4.3.
type Decision struct {
	Allow            bool
	EffectiveMaxJobs int
	QualityFactor    float64
	Reason           string
}

// Input bundles everything the controller needs to decide: the static
// capabilities snapshot (C1), the latest realtime sample (C2), the
// configured base ceiling, and how many jobs are currently processing.
type Input struct {
	SuggestedMaxJobs int
	Sample           models.RealtimeSample
	ConfiguredCeiling int // 0 means "use tier suggestion"
	ActiveJobs        int
}

const (
	gpuTempHighC   = 80.0
	loadHighCutoff = 0.85
	loadRiseCutoff = 0.7
)

// Evaluate applies the §4.3 rule chain, first match wins, later rules may
// further tighten what an earlier rule already set.
func Evaluate(in Input) Decision {
	base := in.SuggestedMaxJobs
	if in.ConfiguredCeiling > 0 && in.ConfiguredCeiling < base {
		base = in.ConfiguredCeiling
	}
	if base < 1 {
		base = 1
	}

	d := Decision{
		Allow:            true,
		EffectiveMaxJobs: base,
		QualityFactor:    1.0,
		Reason:           "nominal",
	}

	// Rule 1: on battery.
	if in.Sample.OnBattery {
		d.EffectiveMaxJobs = min(d.EffectiveMaxJobs, 1)
		d.QualityFactor = min(d.QualityFactor, 0.6)
		d.Reason = "on_battery"
	}

	// Rule 2: GPU thermal pressure.
	if in.Sample.GPUTempC >= gpuTempHighC {
		d.EffectiveMaxJobs = max(d.EffectiveMaxJobs-1, 1)
		d.QualityFactor = min(d.QualityFactor, 0.75)
		if d.Reason == "nominal" {
			d.Reason = "gpu_hot"
		} else {
			d.Reason += "+gpu_hot"
		}
	}

	// Rule 3: load saturation, unless nothing is currently running.
	if in.Sample.LoadFactor >= loadHighCutoff && in.ActiveJobs > 0 {
		d.Allow = false
		if d.Reason == "nominal" {
			d.Reason = "load_saturated"
		} else {
			d.Reason += "+load_saturated"
		}
	}

	// Rule 4: rising trend under pressure freezes the ceiling at the
	// current active count.
	if in.Sample.Trend == "rising" && in.Sample.LoadFactor >= loadRiseCutoff {
		d.EffectiveMaxJobs = in.ActiveJobs
		if d.Reason == "nominal" {
			d.Reason = "load_rising"
		} else {
			d.Reason += "+load_rising"
		}
	}

	if d.EffectiveMaxJobs < 0 {
		d.EffectiveMaxJobs = 0
	}

	return d
}
