package transcode

import (
	"fmt"
	"os"
	"path/filepath"
)

const maxAudioChannelsDefault = 2

// BuildArgs constructs the encoder tool command line for one attempt of a
// plan, generalizing the teacher's buildArgs (internal/transcoder/transcoder.go)
// from a single hardcoded HLS ladder into stream/abr/batch with seek,
// HDR tone-mapping, and a machine-readable progress stream instead of
// stderr time= scraping.
func BuildArgs(plan *Plan, segmentDurationS int) ([]string, error) {
	if err := os.MkdirAll(plan.WorkingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create working dir: %w", err)
	}

	args := []string{"-y", "-hide_banner"}

	if plan.SeekOffsetS > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", plan.SeekOffsetS))
	}
	args = append(args, "-i", plan.Source)

	switch string(plan.Mode) {
	case "stream", "abr":
		for _, v := range plan.Variants {
			variantDir := filepath.Join(plan.WorkingDir, v.Name)
			if err := os.MkdirAll(variantDir, 0o755); err != nil {
				return nil, fmt.Errorf("create variant dir: %w", err)
			}

			filters := []string{fmt.Sprintf("scale=-2:%d", v.Height)}
			if plan.ToneMapHDR {
				filters = append(filters, "zscale=transfer=linear,tonemap=hable,zscale=transfer=bt709")
			}

			args = append(args,
				"-vf", joinFilters(filters),
				"-c:v", v.Codec,
				"-b:v", fmt.Sprintf("%dk", v.BitrateKbps),
				"-c:a", "aac",
				"-ac", fmt.Sprintf("%d", maxAudioChannelsDefault),
				"-b:a", "128k",
				"-f", "hls",
				"-hls_time", fmt.Sprintf("%d", segmentDurationS),
				"-hls_list_size", "0",
				"-hls_playlist_type", "vod",
				"-hls_segment_filename", filepath.Join(variantDir, "segment_%05d.ts"),
				filepath.Join(variantDir, "playlist.m3u8"),
			)
		}

	case "batch":
		v := plan.Variants[0]
		filters := []string{fmt.Sprintf("scale=-2:%d", v.Height)}
		if plan.ToneMapHDR {
			filters = append(filters, "zscale=transfer=linear,tonemap=hable,zscale=transfer=bt709")
		}
		outPath := filepath.Join(plan.WorkingDir, "output."+plan.Container)
		args = append(args,
			"-vf", joinFilters(filters),
			"-c:v", v.Codec,
			"-b:v", fmt.Sprintf("%dk", v.BitrateKbps),
			"-c:a", "aac",
			"-b:a", "128k",
			outPath,
		)

	default:
		return nil, fmt.Errorf("unknown plan mode %q", plan.Mode)
	}

	// Machine-readable progress stream to stdout, §4.5.4.
	args = append(args, "-progress", "pipe:1", "-nostats")

	return args, nil
}

func joinFilters(filters []string) string {
	out := filters[0]
	for _, f := range filters[1:] {
		out += "," + f
	}
	return out
}
