package transcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcodeserver/internal/registry"
)

func TestBuildArgs_StreamModeIncludesHLSFlags(t *testing.T) {
	plan := &Plan{
		Mode:       registry.ModeStream,
		Source:     "in.mp4",
		WorkingDir: t.TempDir(),
		Variants:   []Variant{{Name: "stream", Height: 1080, BitrateKbps: 8000, Codec: "libx264"}},
	}

	args, err := BuildArgs(plan, 4)
	require.NoError(t, err)

	assert.Contains(t, args, "-i")
	assert.Contains(t, args, "in.mp4")
	assert.Contains(t, args, "-hls_time")
	assert.Contains(t, args, "4")
	assert.Contains(t, args, "-progress")
	assert.Contains(t, args, "pipe:1")
}

func TestBuildArgs_SeekOffsetAddsSSFlag(t *testing.T) {
	plan := &Plan{
		Mode:        registry.ModeStream,
		Source:      "in.mp4",
		WorkingDir:  t.TempDir(),
		SeekOffsetS: 12.5,
		Variants:    []Variant{{Name: "stream", Height: 720, BitrateKbps: 4000, Codec: "libx264"}},
	}

	args, err := BuildArgs(plan, 4)
	require.NoError(t, err)

	assert.Contains(t, args, "-ss")
	assert.Contains(t, args, "12.500")
}

func TestBuildArgs_ToneMapFilterInsertedWhenHDR(t *testing.T) {
	plan := &Plan{
		Mode:       registry.ModeStream,
		Source:     "in.mp4",
		WorkingDir: t.TempDir(),
		ToneMapHDR: true,
		Variants:   []Variant{{Name: "stream", Height: 1080, BitrateKbps: 8000, Codec: "libx264"}},
	}

	args, err := BuildArgs(plan, 4)
	require.NoError(t, err)

	found := false
	for _, a := range args {
		if a == "scale=-2:1080,zscale=transfer=linear,tonemap=hable,zscale=transfer=bt709" {
			found = true
		}
	}
	assert.True(t, found, "expected tone-map filter chain in args: %v", args)
}

func TestBuildArgs_BatchModeWritesContainerOutput(t *testing.T) {
	plan := &Plan{
		Mode:       registry.ModeBatch,
		Source:     "in.mp4",
		WorkingDir: t.TempDir(),
		Container:  "mkv",
		Variants:   []Variant{{Name: "output", Height: 1080, BitrateKbps: 8000, Codec: "libx264"}},
	}

	args, err := BuildArgs(plan, 4)
	require.NoError(t, err)

	last := args[len(args)-3] // before -progress pipe:1 -nostats
	assert.Contains(t, last, "output.mkv")
}

func TestBuildArgs_ABRModeBuildsOneOutputPerVariant(t *testing.T) {
	plan := &Plan{
		Mode:       registry.ModeABR,
		Source:     "in.mp4",
		WorkingDir: t.TempDir(),
		Variants: []Variant{
			{Name: "1080p", Height: 1080, BitrateKbps: 8000, Codec: "libx264"},
			{Name: "720p", Height: 720, BitrateKbps: 4000, Codec: "libx264"},
		},
	}

	args, err := BuildArgs(plan, 4)
	require.NoError(t, err)

	count := 0
	for _, a := range args {
		if a == "hls" {
			count++
		}
	}
	assert.Equal(t, 2, count)
}
