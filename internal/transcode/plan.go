// Package transcode implements the Transcode Engine (C5): invocation
// planning, subprocess supervision with progress parsing, retry/hardware
// fallback, and post-completion callbacks. Grounded on the teacher's
// internal/transcoder package (engine.go's codec constants and hardware
// probing split, transcoder.go's ffmpeg arg building and stderr progress
// scanning, executor.go's Start/Wait supervision shape) generalized from a
// single-rendition HLS job into stream/abr/batch planning with retry and
// hardware fallback per spec.md §4.5.
package transcode

import (
	"fmt"
	"path/filepath"

	"transcodeserver/internal/hardware"
	"transcodeserver/internal/registry"
)

// abrRung is one entry of the fixed ABR ladder, §4.5.2.
type abrRung struct {
	name        string
	height      int
	bitrateKbps int
}

var abrLadder = []abrRung{
	{"2160p", 2160, 20000},
	{"1080p", 1080, 8000},
	{"720p", 720, 4000},
	{"480p", 480, 1500},
	{"360p", 360, 800},
}

// Variant is one rendition of a plan: either the single stream rendition,
// one rung of an ABR ladder, or the sole output of a batch job.
type Variant struct {
	Name        string // directory name under the job's working dir
	Height      int    // 0 means "use source height" (batch passthrough-ish)
	BitrateKbps int
	Codec       string // encoder name, e.g. h264_nvenc, libx264
}

// Plan is the fully resolved invocation plan for one attempt of one job.
type Plan struct {
	Mode          registry.Mode
	Source        string
	WorkingDir    string
	Variants      []Variant
	Family        hardware.Family
	SeekOffsetS   float64
	Container     string // batch only
	TwoPass       bool   // batch only
	ToneMapHDR    bool
	MasterPlaylist string // absolute path, stream/abr only
}

// SourceInfo is what probing the input (out of scope: the encoder tool's
// own probe subcommand) yields; the planner never upscales past it.
type SourceInfo struct {
	Height          int
	DurationS       float64
	HDRTransfer     string // "smpte2084", "arib-std-b67", or ""
	BitDepth        int
	WideColor       bool
}

// IsHDR reports whether the source should be treated as HDR per §4.5.2.
func (s SourceInfo) IsHDR() bool {
	if s.HDRTransfer == "smpte2084" || s.HDRTransfer == "arib-std-b67" {
		return true
	}
	return s.BitDepth >= 10 && s.WideColor
}

// PlanOptions carries everything the planner needs beyond the job request.
// HWAccelOverride and TwoPassOverride let a retrying worker replan with a
// different encoder family or two-pass setting without mutating the job's
// original request, §4.5.5.
type PlanOptions struct {
	Job             *registry.Job
	Source          SourceInfo
	Caps            *hardware.Profile
	QualityFactor   float64
	TierMaxHeight   int
	ToneMapHDR      bool
	MaxAudioCh      int
	HWAccelOverride string
	TwoPassOverride *bool
}

// BuildPlan resolves a job's request into a concrete Plan, applying
// encoder-family selection (§4.5.3), resolution capping (never upscale,
// capped by tier x quality_factor, §4.5.2), and the ABR ladder trim.
func BuildPlan(opts PlanOptions) (*Plan, error) {
	job := opts.Job
	hwAccel := job.Request.HWAccel
	if opts.HWAccelOverride != "" {
		hwAccel = opts.HWAccelOverride
	}
	family, err := SelectFamily(hwAccel, opts.Caps)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Mode:        job.Request.Mode,
		Source:      job.Request.Source,
		WorkingDir:  job.WorkingDir,
		Family:      family,
		SeekOffsetS: job.Request.SeekOffsetS,
		ToneMapHDR:  opts.ToneMapHDR && opts.Source.IsHDR(),
	}

	codec := encoderNameForFamily(family, opts.Caps)

	switch job.Request.Mode {
	case registry.ModeStream:
		height := capHeight(requestedHeight(job.Request.Resolution, opts.Source.Height), opts.Source.Height, opts.TierMaxHeight, opts.QualityFactor)
		plan.Variants = []Variant{{Name: "stream", Height: height, BitrateKbps: bitrateForHeight(height), Codec: codec}}
		plan.MasterPlaylist = filepath.Join(job.WorkingDir, "master.m3u8")

	case registry.ModeABR:
		capped := min(opts.Source.Height, int(float64(opts.TierMaxHeight)*opts.QualityFactor))
		for _, rung := range abrLadder {
			if rung.height <= capped {
				plan.Variants = append(plan.Variants, Variant{Name: rung.name, Height: rung.height, BitrateKbps: rung.bitrateKbps, Codec: codec})
			}
		}
		if len(plan.Variants) == 0 {
			// Boundary: source smaller than any rung still gets one rendition
			// at its native height, §8 boundary behaviors.
			plan.Variants = []Variant{{Name: fmt.Sprintf("%dp", opts.Source.Height), Height: opts.Source.Height, BitrateKbps: abrLadder[len(abrLadder)-1].bitrateKbps, Codec: codec}}
		}
		plan.MasterPlaylist = filepath.Join(job.WorkingDir, "master.m3u8")

	case registry.ModeBatch:
		plan.Container = job.Request.Container
		if plan.Container == "" {
			plan.Container = "mp4"
		}
		plan.TwoPass = job.Request.TwoPass
		if opts.TwoPassOverride != nil {
			plan.TwoPass = *opts.TwoPassOverride
		}
		height := capHeight(requestedHeight(job.Request.Resolution, opts.Source.Height), opts.Source.Height, opts.TierMaxHeight, opts.QualityFactor)
		plan.Variants = []Variant{{Name: "output", Height: height, BitrateKbps: bitrateForHeight(height), Codec: codec}}

	default:
		return nil, fmt.Errorf("unknown mode %q", job.Request.Mode)
	}

	return plan, nil
}

// DisableTwoPassForSoftwareFallback implements the Open Question (b)
// resolution from spec.md §9: two-pass batch mode is disabled once a
// software fallback occurs mid-job.
func (p *Plan) DisableTwoPassForSoftwareFallback() {
	p.TwoPass = false
}

func requestedHeight(resolution string, sourceHeight int) int {
	switch resolution {
	case "", "auto":
		return sourceHeight
	default:
		return heightFromLabel(resolution)
	}
}

func heightFromLabel(label string) int {
	var h int
	_, err := fmt.Sscanf(label, "%dp", &h)
	if err != nil {
		return 0
	}
	return h
}

// capHeight never upscales past the source, and caps by tier x quality.
func capHeight(requested, sourceHeight, tierMax int, quality float64) int {
	h := requested
	if h <= 0 || h > sourceHeight {
		h = sourceHeight
	}
	cap := int(float64(tierMax) * quality)
	if h > cap {
		h = cap
	}
	return h
}

func bitrateForHeight(height int) int {
	for _, rung := range abrLadder {
		if height >= rung.height {
			return rung.bitrateKbps
		}
	}
	return abrLadder[len(abrLadder)-1].bitrateKbps
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// SelectFamily implements §4.5.3: explicit request if available, else the
// auto preference order restricted to available families.
func SelectFamily(requested string, caps *hardware.Profile) (hardware.Family, error) {
	if requested != "" && requested != "auto" {
		fam := hardware.Family(requested)
		if _, ok := caps.Families[fam]; ok || fam == hardware.FamilySoftware {
			return fam, nil
		}
		return "", fmt.Errorf("hw_accel %q requested but not available on this host", requested)
	}

	for _, fam := range hardware.AutoPreferenceOrder {
		if names, ok := caps.Families[fam]; ok && len(names) > 0 {
			return fam, nil
		}
	}
	return hardware.FamilySoftware, nil
}

func encoderNameForFamily(family hardware.Family, caps *hardware.Profile) string {
	if names, ok := caps.Families[family]; ok && len(names) > 0 {
		return names[0]
	}
	switch family {
	case hardware.FamilyNVENC:
		return "h264_nvenc"
	case hardware.FamilyQSV:
		return "h264_qsv"
	case hardware.FamilyVAAPI:
		return "h264_vaapi"
	case hardware.FamilyAMF:
		return "h264_amf"
	case hardware.FamilyVideoToolbox:
		return "h264_videotoolbox"
	default:
		return "libx264"
	}
}
