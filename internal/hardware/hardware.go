// Package hardware implements the Hardware Profiler (C1): a startup-only
// probe of the encoder tool's advertised encoders and (through an injected
// collaborator) the GPU, classified into a tier with a fixed (resolution, bitrate, max
// jobs) table. Grounded on the teacher's internal/transcoder/probe.go
// (ffmpeg -encoders scraping) and internal/monitor/monitor.go
// (detectFFmpegCapabilities), generalized from a single best-codec guess
// into the full per-family Capabilities snapshot spec.md §3/§4.1 requires.
package hardware

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/rs/zerolog"

	"transcodeserver/pkg/models"
)

// Family is an encoder family, preference-ordered for "auto" selection.
type Family string

const (
	FamilyNVENC         Family = "nvenc"
	FamilyQSV           Family = "qsv"
	FamilyVAAPI         Family = "vaapi"
	FamilyAMF           Family = "amf"
	FamilyVideoToolbox  Family = "videotoolbox"
	FamilySoftware      Family = "software"
)

// AutoPreferenceOrder is the §4.5.3 fallback order for hw_accel=auto.
var AutoPreferenceOrder = []Family{FamilyNVENC, FamilyQSV, FamilyVAAPI, FamilyAMF, FamilyVideoToolbox, FamilySoftware}

// Tier classifies the host's encoding capability, §4.1.
type Tier string

const (
	TierUltra   Tier = "ultra"
	TierHigh    Tier = "high"
	TierMedium  Tier = "medium"
	TierLow     Tier = "low"
	TierMinimal Tier = "minimal"
)

// tierDefaults is the fixed (max_resolution, max_bitrate, suggested_max_jobs)
// table from §4.1.
var tierDefaults = map[Tier]struct {
	maxResolution    string
	maxBitrateKbps   int
	suggestedMaxJobs int
}{
	TierUltra:   {"4k", 25000, 4},
	TierHigh:    {"1440p", 15000, 3},
	TierMedium:  {"1080p", 8000, 2},
	TierLow:     {"720p", 4000, 1},
	TierMinimal: {"480p", 2000, 1},
}

// ProbeError is returned only when the encoder tool itself is absent; every
// other detection failure degrades silently to software-only (§4.1).
type ProbeError struct {
	Tool string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("encoder tool %q not available: %v", e.Tool, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Profile is the static result of a one-time probe.
type Profile struct {
	Capabilities models.Capabilities
	Families     map[Family][]string // encoder family -> advertised encoder names
}

// GPUInfo is what the vendor GPU utility probe (out of scope, consumed
// as an external collaborator) reports. A nil *GPUInfo (or no GPU probe at
// all) means "no discrete GPU found"; callers pass in whatever their platform's vendor tool
// integration produces.
type GPUInfo struct {
	VRAMMB      int
	Discrete    bool
	DriverFound bool
}

// Prober runs the one-time startup probe described in §4.1.
type Prober struct {
	encoderTool string // e.g. "ffmpeg"
	gpuProbe    func(ctx context.Context) (*GPUInfo, error)
	log         zerolog.Logger
}

// Option configures a Prober.
type Option func(*Prober)

// WithGPUProbe injects the vendor GPU utility collaborator (out of scope
// per spec.md §1; nil means "no GPU available").
func WithGPUProbe(fn func(ctx context.Context) (*GPUInfo, error)) Option {
	return func(p *Prober) { p.gpuProbe = fn }
}

// WithLogger attaches a structured logger; defaults to a no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Prober) { p.log = l }
}

// NewProber constructs a Prober for the given encoder tool binary name.
func NewProber(encoderTool string, opts ...Option) *Prober {
	p := &Prober{encoderTool: encoderTool, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe runs the full startup sequence: encoder-list scraping, GPU
// identity/VRAM, the OS platform string, tier classification. Chassis type
// and power source are not inspected. Returns
// *ProbeError only if the encoder tool binary itself cannot be found or
// invoked; any other failure (no GPU tool, no driver) degrades the result
// to software-only rather than failing startup.
func (p *Prober) Probe(ctx context.Context) (*Profile, error) {
	encoders, version, err := p.listEncoders(ctx)
	if err != nil {
		return nil, &ProbeError{Tool: p.encoderTool, Err: err}
	}

	families := classifyEncoders(encoders)

	var gpu *GPUInfo
	if p.gpuProbe != nil {
		gpu, err = p.gpuProbe(ctx)
		if err != nil {
			p.log.Warn().Err(err).Msg("GPU probe failed, degrading to software-only for tier purposes")
			gpu = nil
		}
	}

	tier := classifyTier(families, gpu)
	defaults := tierDefaults[tier]

	softwareEncoders := families[FamilySoftware]
	delete(families, FamilySoftware)

	encoderFamilies := make(map[string][]string, len(families))
	for fam, names := range families {
		encoderFamilies[string(fam)] = names
	}

	info, _ := host.InfoWithContext(ctx)
	osName := runtime.GOOS
	if info != nil && info.Platform != "" {
		osName = fmt.Sprintf("%s/%s", runtime.GOOS, info.Platform)
	}

	caps := models.Capabilities{
		Tier:             string(tier),
		EncoderFamilies:  encoderFamilies,
		SoftwareEncoders: softwareEncoders,
		Containers:       []string{"hls", "mp4", "mkv"},
		MaxResolution:    defaults.maxResolution,
		MaxBitrateKbps:   defaults.maxBitrateKbps,
		SuggestedMaxJobs: defaults.suggestedMaxJobs,
		EncoderToolVer:   version,
		OS:               osName,
	}

	return &Profile{Capabilities: caps, Families: families2(families, softwareEncoders)}, nil
}

func families2(families map[Family][]string, software []string) map[Family][]string {
	out := make(map[Family][]string, len(families)+1)
	for k, v := range families {
		out[k] = v
	}
	out[FamilySoftware] = software
	return out
}

// listEncoders invokes the encoder tool's "-encoders" listing and extracts
// a version string, mirroring probe.go's ffmpeg -encoders scrape plus
// transcoder.go's ffprobe JSON parsing discipline (but for a plain text
// listing here).
func (p *Prober) listEncoders(ctx context.Context) (string, string, error) {
	path, err := exec.LookPath(p.encoderTool)
	if err != nil {
		return "", "", err
	}

	cmd := exec.CommandContext(ctx, path, "-hide_banner", "-encoders")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", "", err
	}

	verCmd := exec.CommandContext(ctx, path, "-version")
	var verOut bytes.Buffer
	verCmd.Stdout = &verOut
	version := "unknown"
	if err := verCmd.Run(); err == nil {
		if line, _, found := strings.Cut(verOut.String(), "\n"); found || line != "" {
			version = strings.TrimSpace(line)
		}
	}

	return out.String(), version, nil
}

// classifyEncoders scans the "-encoders" listing for known hardware
// encoder name substrings, grouping by family, plus software fallbacks.
func classifyEncoders(listing string) map[Family][]string {
	families := map[Family][]string{}

	type match struct {
		family Family
		needle string
	}
	matches := []match{
		{FamilyNVENC, "nvenc"},
		{FamilyQSV, "qsv"},
		{FamilyVAAPI, "vaapi"},
		{FamilyAMF, "amf"},
		{FamilyVideoToolbox, "videotoolbox"},
	}

	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name := fields[1]
		lower := strings.ToLower(name)

		matched := false
		for _, m := range matches {
			if strings.Contains(lower, m.needle) {
				families[m.family] = append(families[m.family], name)
				matched = true
				break
			}
		}
		if !matched && (strings.HasPrefix(name, "libx264") || strings.HasPrefix(name, "libx265") || strings.HasPrefix(name, "libvpx") || strings.HasPrefix(name, "libaom")) {
			families[FamilySoftware] = append(families[FamilySoftware], name)
		}
	}

	if len(families[FamilySoftware]) == 0 {
		families[FamilySoftware] = []string{"libx264"}
	}

	return families
}

// classifyTier applies the first-match tier rules from §4.1.
func classifyTier(families map[Family][]string, gpu *GPUInfo) Tier {
	hasHW := false
	for fam := range families {
		if fam != FamilySoftware {
			hasHW = true
			break
		}
	}

	if !hasHW {
		return TierMinimal
	}

	if gpu == nil || !gpu.Discrete {
		return TierLow
	}

	switch {
	case gpu.VRAMMB >= 8192:
		return TierUltra
	case gpu.VRAMMB >= 6144:
		return TierHigh
	case gpu.VRAMMB >= 4096:
		return TierMedium
	default:
		return TierLow
	}
}

// CPUModel returns the CPU model string for diagnostics, grounded on the
// teacher's GetStaticSpecs (internal/transcoder/probe.go).
func CPUModel(ctx context.Context) string {
	info, err := cpu.InfoWithContext(ctx)
	if err != nil || len(info) == 0 {
		return "unknown"
	}
	return info[0].ModelName
}
