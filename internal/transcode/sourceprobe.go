package transcode

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// ffprobeFormat and ffprobeStream mirror the subset of ffprobe's
// -print_format json output the planner needs: container duration and the
// first video stream's height/color metadata.
type ffprobeFormat struct {
	Format struct {
		DurationS string `json:"duration"`
	} `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	CodecType        string `json:"codec_type"`
	Height           int    `json:"height"`
	BitsPerRawSample string `json:"bits_per_raw_sample"`
	ColorTransfer    string `json:"color_transfer"`
	ColorSpace       string `json:"color_space"`
}

// NewFFprobeSourceProber returns a SourceProber backed by the given probe
// tool binary (conventionally "ffprobe", the encoder tool's sibling
// inspection utility). This is the concrete implementation of the external
// collaborator contract spec.md §1 calls "source probing" and leaves
// unspecified.
func NewFFprobeSourceProber(probeTool string) SourceProber {
	return func(ctx context.Context, source string) (SourceInfo, error) {
		cmd := exec.CommandContext(ctx, probeTool,
			"-v", "quiet",
			"-print_format", "json",
			"-show_format", "-show_streams",
			source,
		)
		out, err := cmd.Output()
		if err != nil {
			return SourceInfo{}, fmt.Errorf("probe source: %w", err)
		}

		var parsed ffprobeFormat
		if err := json.Unmarshal(out, &parsed); err != nil {
			return SourceInfo{}, fmt.Errorf("parse probe output: %w", err)
		}

		info := SourceInfo{}
		if d, err := strconv.ParseFloat(parsed.Format.DurationS, 64); err == nil {
			info.DurationS = d
		}

		for _, st := range parsed.Streams {
			if st.CodecType != "video" {
				continue
			}
			info.Height = st.Height
			info.HDRTransfer = st.ColorTransfer
			if bd, err := strconv.Atoi(st.BitsPerRawSample); err == nil {
				info.BitDepth = bd
			}
			info.WideColor = st.ColorSpace == "bt2020nc" || st.ColorSpace == "bt2020c"
			break
		}

		return info, nil
	}
}
