package transcode

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFakeProbeTool(t *testing.T, jsonOut string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffprobe")
	script := "#!/bin/sh\ncat <<'EOF'\n" + jsonOut + "\nEOF\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestFFprobeSourceProber_ParsesDurationAndVideoStream(t *testing.T) {
	tool := writeFakeProbeTool(t, `{
  "format": {"duration": "123.456"},
  "streams": [
    {"codec_type": "audio"},
    {"codec_type": "video", "height": 2160, "color_transfer": "smpte2084", "bits_per_raw_sample": "10", "color_space": "bt2020nc"}
  ]
}`)

	prober := NewFFprobeSourceProber(tool)
	info, err := prober(context.Background(), "in.mp4")
	require.NoError(t, err)

	assert.Equal(t, 123.456, info.DurationS)
	assert.Equal(t, 2160, info.Height)
	assert.Equal(t, 10, info.BitDepth)
	assert.True(t, info.WideColor)
	assert.True(t, info.IsHDR())
}

func TestFFprobeSourceProber_NonHDRSource(t *testing.T) {
	tool := writeFakeProbeTool(t, `{
  "format": {"duration": "60.0"},
  "streams": [
    {"codec_type": "video", "height": 1080, "color_transfer": "bt709", "bits_per_raw_sample": "8", "color_space": "bt709"}
  ]
}`)

	prober := NewFFprobeSourceProber(tool)
	info, err := prober(context.Background(), "in.mp4")
	require.NoError(t, err)

	assert.False(t, info.IsHDR())
}

func TestFFprobeSourceProber_ToolFailureReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake-ffprobe")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 1\n"), 0o755))

	prober := NewFFprobeSourceProber(path)
	_, err := prober(context.Background(), "in.mp4")
	assert.Error(t, err)
}
