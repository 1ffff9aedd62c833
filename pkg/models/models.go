// Package models defines the JSON wire contracts exchanged over the REST
// and WebSocket surfaces. Internal domain types live under internal/; these
// are the shapes clients actually see.
package models

import "time"

// ===== Submission =====

// TranscodeRequest is the body of POST /api/transcode/start.
type TranscodeRequest struct {
	Source        string         `json:"source"`
	Mode          string         `json:"mode"` // stream | abr | batch
	Output        OutputRequest  `json:"output"`
	SeekOffsetS   float64        `json:"seek_offset_s,omitempty"`
	Subtitles     []SubtitleSpec `json:"subtitles,omitempty"`
	CompletionURL string         `json:"completion_callback_url,omitempty"`
	HWAccel       string         `json:"hw_accel,omitempty"` // auto | nvenc | qsv | vaapi | amf | videotoolbox | software
}

// OutputRequest describes the requested output shape for a job.
type OutputRequest struct {
	Resolution string `json:"resolution,omitempty"` // e.g. "720p", "auto"
	VideoCodec string `json:"video_codec,omitempty"`
	Container  string `json:"container,omitempty"` // batch mode only
	TwoPass    bool   `json:"two_pass,omitempty"`   // batch mode only
}

// SubtitleSpec declares a subtitle track to fetch and mux into the playlist.
type SubtitleSpec struct {
	Lang    string `json:"lang"`
	URL     string `json:"url"`
	Default bool   `json:"default,omitempty"`
}

// ===== Job view (response) =====

// JobView is the subset of a job record returned to API clients.
type JobView struct {
	JobID        string    `json:"job_id"`
	Status       string    `json:"status"`
	Progress     float64   `json:"progress"`
	CurrentTimeS float64   `json:"current_time_s,omitempty"`
	DurationS    float64   `json:"duration_s,omitempty"`
	Speed        float64   `json:"speed,omitempty"`
	FPS          float64   `json:"fps,omitempty"`
	Frame        int64     `json:"frame,omitempty"`
	ETASec       float64   `json:"eta_s,omitempty"`
	HWAccelUsed  string    `json:"hw_accel_used,omitempty"`
	StreamURL    string    `json:"stream_url,omitempty"`
	DownloadURL  string    `json:"download_url,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
	Attempt      int       `json:"attempt"`
}

// StartResponse is returned from POST /api/transcode/start.
type StartResponse struct {
	JobID     string  `json:"job_id"`
	Status    string  `json:"status"`
	StreamURL string  `json:"stream_url,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
}

// CancelResponse is returned from POST /api/transcode/{id}/cancel.
type CancelResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
}

// ===== Capabilities / hardware =====

// Capabilities is the immutable snapshot reported by the hardware profiler.
type Capabilities struct {
	Tier             string              `json:"tier"`
	EncoderFamilies  map[string][]string `json:"encoder_families"` // family -> encoder names
	SoftwareEncoders []string            `json:"software_encoders"`
	Containers       []string            `json:"containers"`
	MaxResolution    string              `json:"max_resolution"`
	MaxBitrateKbps   int                 `json:"max_bitrate_kbps"`
	SuggestedMaxJobs int                 `json:"suggested_max_jobs"`
	EncoderToolVer   string              `json:"encoder_tool_version"`
	OS               string              `json:"os"`
}

// RealtimeSample is the latest smoothed load sample from the load monitor.
type RealtimeSample struct {
	CPUPercent float64 `json:"cpu_percent"`
	GPUPercent float64 `json:"gpu_percent"`
	GPUTempC   float64 `json:"gpu_temp_c"`
	MemPercent float64 `json:"mem_percent"`
	OnBattery  bool    `json:"on_battery"`
	OnAC       bool    `json:"on_ac"`
	LoadFactor float64 `json:"load_factor"`
	Trend      string  `json:"trend"` // rising | falling | stable
}

// ===== Composite endpoints =====

// HealthResponse is returned from GET /api/health.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	CurrentJobs   int     `json:"current_jobs"`
	QueuedJobs    int     `json:"queued_jobs"`
}

// StatsResponse is returned from GET /api/stats.
type StatsResponse struct {
	TotalSubmitted   int64            `json:"total_submitted"`
	TotalCompleted   int64            `json:"total_completed"`
	TotalFailed      int64            `json:"total_failed"`
	TotalCancelled   int64            `json:"total_cancelled"`
	HWAccelHistogram map[string]int64 `json:"hw_accel_histogram"`
}

// StatusResponse is returned from GET /api/status.
type StatusResponse struct {
	Hardware Capabilities   `json:"hardware"`
	Realtime RealtimeSample `json:"realtime"`
	Jobs     []JobView      `json:"jobs"`
}

// ===== Errors =====

// ErrorBody is the envelope for all non-2xx REST responses.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the stable error code and a human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ===== WebSocket messages =====

// ClientMessage is a message sent by a /ws/progress subscriber.
type ClientMessage struct {
	Type   string   `json:"type"` // ping | pong | subscribe | unsubscribe | subscribe_all
	JobIDs []string `json:"job_ids,omitempty"`
}

// ServerMessage is a message pushed to a /ws/progress subscriber.
type ServerMessage struct {
	Type         string  `json:"type"` // ping | progress | status_change
	JobID        string  `json:"job_id,omitempty"`
	ServerTS     int64   `json:"server_ts,omitempty"`
	Progress     float64 `json:"progress,omitempty"`
	Frame        int64   `json:"frame,omitempty"`
	FPS          float64 `json:"fps,omitempty"`
	TimeS        float64 `json:"time_s,omitempty"`
	Speed        float64 `json:"speed,omitempty"`
	Status       string  `json:"status,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}
