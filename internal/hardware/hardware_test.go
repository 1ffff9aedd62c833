package hardware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleEncoders = `Encoders:
 V..... h264_nvenc           NVIDIA NVENC H.264 encoder
 V..... hevc_nvenc           NVIDIA NVENC hevc encoder
 V..... h264_qsv             H.264 (Intel Quick Sync Video)
 V..... libx264              libx264 H.264 / AVC
 V..... libx265              libx265 H.265 / HEVC
 A..... aac                  AAC (Advanced Audio Coding)
`

func TestClassifyEncoders_GroupsByFamily(t *testing.T) {
	families := classifyEncoders(sampleEncoders)

	assert.ElementsMatch(t, []string{"h264_nvenc", "hevc_nvenc"}, families[FamilyNVENC])
	assert.ElementsMatch(t, []string{"h264_qsv"}, families[FamilyQSV])
	assert.ElementsMatch(t, []string{"libx264", "libx265"}, families[FamilySoftware])
	assert.Empty(t, families[FamilyVAAPI])
}

func TestClassifyEncoders_AlwaysHasSoftwareFallback(t *testing.T) {
	families := classifyEncoders("Encoders:\n V..... h264_nvenc    NVIDIA NVENC H.264 encoder\n")

	assert.Equal(t, []string{"libx264"}, families[FamilySoftware])
}

func TestClassifyTier_NoHardwareIsMinimal(t *testing.T) {
	families := map[Family][]string{FamilySoftware: {"libx264"}}
	assert.Equal(t, TierMinimal, classifyTier(families, nil))
}

func TestClassifyTier_HWWithoutDiscreteGPUIsLow(t *testing.T) {
	families := map[Family][]string{FamilyNVENC: {"h264_nvenc"}, FamilySoftware: {"libx264"}}
	assert.Equal(t, TierLow, classifyTier(families, nil))
	assert.Equal(t, TierLow, classifyTier(families, &GPUInfo{Discrete: false}))
}

func TestClassifyTier_VRAMThresholds(t *testing.T) {
	families := map[Family][]string{FamilyNVENC: {"h264_nvenc"}, FamilySoftware: {"libx264"}}

	assert.Equal(t, TierUltra, classifyTier(families, &GPUInfo{Discrete: true, VRAMMB: 12288}))
	assert.Equal(t, TierHigh, classifyTier(families, &GPUInfo{Discrete: true, VRAMMB: 8000}))
	assert.Equal(t, TierMedium, classifyTier(families, &GPUInfo{Discrete: true, VRAMMB: 4096}))
	assert.Equal(t, TierLow, classifyTier(families, &GPUInfo{Discrete: true, VRAMMB: 2048}))
}

func TestProbeError_UnwrapsCause(t *testing.T) {
	cause := assert.AnError
	err := &ProbeError{Tool: "ffmpeg", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "ffmpeg")
}
