package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcodeserver/internal/hardware"
	"transcodeserver/pkg/models"
)

var testCaps = &hardware.Profile{
	Families: map[hardware.Family][]string{
		hardware.FamilyNVENC: {"h264_nvenc"},
	},
}

func TestValidateRequest_RequiresSource(t *testing.T) {
	_, err := validateRequest(models.TranscodeRequest{Mode: "stream"}, testCaps)
	require.Error(t, err)
}

func TestValidateRequest_RejectsUnknownMode(t *testing.T) {
	_, err := validateRequest(models.TranscodeRequest{Source: "in.mp4", Mode: "weird"}, testCaps)
	require.Error(t, err)
}

func TestValidateRequest_RejectsUnknownHWAccel(t *testing.T) {
	_, err := validateRequest(models.TranscodeRequest{Source: "in.mp4", Mode: "stream", HWAccel: "magic"}, testCaps)
	require.Error(t, err)
}

func TestValidateRequest_RejectsUnavailableExplicitHWAccel(t *testing.T) {
	_, err := validateRequest(models.TranscodeRequest{Source: "in.mp4", Mode: "stream", HWAccel: "qsv"}, testCaps)
	require.Error(t, err)
}

func TestValidateRequest_AllowsAvailableExplicitHWAccel(t *testing.T) {
	_, err := validateRequest(models.TranscodeRequest{Source: "in.mp4", Mode: "stream", HWAccel: "nvenc"}, testCaps)
	require.NoError(t, err)
}

func TestValidateRequest_TwoPassOnlyForBatch(t *testing.T) {
	_, err := validateRequest(models.TranscodeRequest{
		Source: "in.mp4", Mode: "stream", Output: models.OutputRequest{TwoPass: true},
	}, testCaps)
	require.Error(t, err)

	req, err := validateRequest(models.TranscodeRequest{
		Source: "in.mp4", Mode: "batch", Output: models.OutputRequest{TwoPass: true, Container: "mp4"},
	}, testCaps)
	require.NoError(t, err)
	assert.True(t, req.TwoPass)
}

func TestValidateRequest_RejectsUnknownContainerForBatch(t *testing.T) {
	_, err := validateRequest(models.TranscodeRequest{
		Source: "in.mp4", Mode: "batch", Output: models.OutputRequest{Container: "avi"},
	}, testCaps)
	require.Error(t, err)
}

func TestValidateRequest_RejectsNegativeSeekOffset(t *testing.T) {
	_, err := validateRequest(models.TranscodeRequest{Source: "in.mp4", Mode: "stream", SeekOffsetS: -1}, testCaps)
	require.Error(t, err)
}

func TestValidateRequest_RejectsIncompleteSubtitleSpec(t *testing.T) {
	_, err := validateRequest(models.TranscodeRequest{
		Source: "in.mp4", Mode: "stream",
		Subtitles: []models.SubtitleSpec{{Lang: "en"}},
	}, testCaps)
	require.Error(t, err)
}

func TestValidateRequest_AcceptsWellFormedStreamRequest(t *testing.T) {
	req, err := validateRequest(models.TranscodeRequest{
		Source: "in.mp4", Mode: "stream", HWAccel: "auto",
		Subtitles: []models.SubtitleSpec{{Lang: "en", URL: "http://example.com/en.vtt"}},
	}, testCaps)
	require.NoError(t, err)
	assert.Equal(t, "in.mp4", req.Source)
	require.Len(t, req.Subtitles, 1)
}
