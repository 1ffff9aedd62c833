// Package registry implements the Job Registry (C4): the authoritative
// in-memory store of job records and their state machine, a single-writer-
// per-job discipline, and the janitor sweep. Grounded on the teacher's
// pkg/models.JobSpec/JobProgress shape (generalized into a full lifecycle
// record per spec.md §3) and internal/client's Sync/UpdateJobStatus
// request/response split, which inspired splitting read snapshots from the
// single typed mutation entrypoint a job's owning worker uses.
package registry

import (
	"time"

	"transcodeserver/pkg/models"
)

// Status is one of the job lifecycle states, §3.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

// Mode is the transcode mode requested for a job.
type Mode string

const (
	ModeStream Mode = "stream"
	ModeABR    Mode = "abr"
	ModeBatch  Mode = "batch"
)

// Request is the immutable, validated request a job was submitted with.
type Request struct {
	Source        string
	Mode          Mode
	Resolution    string // may be "auto"
	VideoCodec    string
	Container     string
	TwoPass       bool
	SeekOffsetS   float64
	Subtitles     []models.SubtitleSpec
	CompletionURL string
	HWAccel       string // auto | explicit family name
}

// Job is the central entity owned by the registry for its entire lifetime.
// Once handed to a worker, every field below is mutated ONLY through that
// worker calling Registry.Update — see §3 invariant 1 and the single-writer
// discipline in §4.4/§9.
type Job struct {
	ID      string
	Request Request

	Status       Status
	Progress     float64
	CurrentTimeS float64
	DurationS    float64
	Speed        float64
	FPS          float64
	Frame        int64
	ETASec       float64

	HWAccelUsed string
	StreamURL   string
	DownloadURL string

	ErrorMessage string

	CreatedAt  time.Time
	StartedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt time.Time

	Attempt int

	WorkingDir string

	// CancelSignal is a one-shot cancellation handle read by C5; closing it
	// is the only externally-visible mutation not gated behind Update,
	// since cancellation must interrupt a worker that may be blocked deep
	// inside subprocess I/O.
	CancelSignal chan struct{}
	cancelOnce   bool
}

// View projects the read-only subset returned over the REST surface.
func (j *Job) View() models.JobView {
	return models.JobView{
		JobID:        j.ID,
		Status:       string(j.Status),
		Progress:     j.Progress,
		CurrentTimeS: j.CurrentTimeS,
		DurationS:    j.DurationS,
		Speed:        j.Speed,
		FPS:          j.FPS,
		Frame:        j.Frame,
		ETASec:       j.ETASec,
		HWAccelUsed:  j.HWAccelUsed,
		StreamURL:    j.StreamURL,
		DownloadURL:  j.DownloadURL,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		UpdatedAt:    j.UpdatedAt,
		FinishedAt:   j.FinishedAt,
		Attempt:      j.Attempt,
	}
}

// IsTerminal reports whether Status is one a job cannot leave.
func (s Status) IsTerminal() bool {
	return s == StatusReady || s == StatusError || s == StatusCancelled
}

// clone returns a value copy safe to hand out as a read snapshot (the
// CancelSignal channel is shared by reference, which is fine: it is only
// ever closed, never mutated in place, by Registry.Cancel).
func (j *Job) clone() *Job {
	cp := *j
	cp.Request.Subtitles = append([]models.SubtitleSpec(nil), j.Request.Subtitles...)
	return &cp
}
