package api

import (
	"transcodeserver/internal/apierror"
	"transcodeserver/internal/hardware"
	"transcodeserver/internal/registry"
	"transcodeserver/pkg/models"
)

var validModes = map[string]registry.Mode{
	"stream": registry.ModeStream,
	"abr":    registry.ModeABR,
	"batch":  registry.ModeBatch,
}

var validHWAccel = map[string]bool{
	"": true, "auto": true, "nvenc": true, "qsv": true, "vaapi": true,
	"amf": true, "videotoolbox": true, "software": true,
}

var validContainers = map[string]bool{"": true, "mp4": true, "mkv": true, "mov": true}

// validateRequest enforces §9's "enumerated options with defaults" and the
// mode-specific field constraints from §3/§4.5, translating the wire
// contract into the registry's internal Request shape. caps is the host's
// probed hardware profile; an explicit hw_accel naming a family the host
// never advertised is rejected here, at submit time, rather than surfacing
// as a job failure deep inside the worker's plan-building.
func validateRequest(body models.TranscodeRequest, caps *hardware.Profile) (registry.Request, error) {
	if body.Source == "" {
		return registry.Request{}, apierror.New(apierror.CodeValidation, "source is required")
	}

	mode, ok := validModes[body.Mode]
	if !ok {
		return registry.Request{}, apierror.New(apierror.CodeValidation, "mode must be one of stream, abr, batch")
	}

	if !validHWAccel[body.HWAccel] {
		return registry.Request{}, apierror.New(apierror.CodeValidation, "unrecognized hw_accel value")
	}

	if body.HWAccel != "" && body.HWAccel != "auto" && body.HWAccel != "software" {
		fam := hardware.Family(body.HWAccel)
		if caps == nil || len(caps.Families[fam]) == 0 {
			return registry.Request{}, apierror.New(apierror.CodeValidation, "hw_accel "+body.HWAccel+" is not available on this host")
		}
	}

	if mode == registry.ModeBatch {
		if !validContainers[body.Output.Container] {
			return registry.Request{}, apierror.New(apierror.CodeValidation, "unrecognized container value")
		}
	} else if body.Output.TwoPass {
		return registry.Request{}, apierror.New(apierror.CodeValidation, "two_pass is only valid for batch mode")
	}

	if body.SeekOffsetS < 0 {
		return registry.Request{}, apierror.New(apierror.CodeValidation, "seek_offset_s must be non-negative")
	}

	for _, sub := range body.Subtitles {
		if sub.Lang == "" || sub.URL == "" {
			return registry.Request{}, apierror.New(apierror.CodeValidation, "subtitle entries require lang and url")
		}
	}

	return registry.Request{
		Source:        body.Source,
		Mode:          mode,
		Resolution:    body.Output.Resolution,
		VideoCodec:    body.Output.VideoCodec,
		Container:     body.Output.Container,
		TwoPass:       body.Output.TwoPass,
		SeekOffsetS:   body.SeekOffsetS,
		Subtitles:     append([]models.SubtitleSpec(nil), body.Subtitles...),
		CompletionURL: body.CompletionURL,
		HWAccel:       body.HWAccel,
	}, nil
}
