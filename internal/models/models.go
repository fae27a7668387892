package models

import (
	"errors"
	"strings"
)

// ErrIOFailure marks a local byte-copy or staging failure
var ErrIOFailure = errors.New("io failure")

// JobStatus is the server-reported job status token
type JobStatus string

// Status values the server is known to emit. Unknown values are non-terminal.
const (
	StatusWaitingSource JobStatus = "waiting_source"
	StatusWaitingTarget JobStatus = "waiting_target"
	StatusReady         JobStatus = "ready"
	StatusQueued        JobStatus = "queued"
	StatusRunning       JobStatus = "running"
	StatusCompleted     JobStatus = "completed"
	StatusFailed        JobStatus = "failed"
	StatusCancelled     JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions occur after this status
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// TargetKind is the server-declared output type
type TargetKind string

const (
	TargetKindImage TargetKind = "image"
	TargetKindVideo TargetKind = "video"
)

// Mode selects the processing pipeline for a job
type Mode string

const (
	ModePhotoVideoFast       Mode = "photo_video_fast"
	ModePhotoVideoQuality    Mode = "photo_video_quality"
	ModePhotoPhotoGPEN       Mode = "photo_photo_gpen"
	ModePhotoPhotoCodeformer Mode = "photo_photo_codeformer"

	DefaultMode = ModePhotoVideoFast
)

// ModeInfo describes a mode for display
type ModeInfo struct {
	Mode        Mode
	Label       string
	Description string
}

// Modes lists the pipelines in display order
var Modes = []ModeInfo{
	{ModePhotoVideoFast, "Photo -> Video (fast)", "Faster, medium quality, gfpgan enhancer."},
	{ModePhotoVideoQuality, "Photo -> Video (quality)", "Best quality, slower, codeformer enhancer."},
	{ModePhotoPhotoGPEN, "Photo -> Photo (gpen)", "gpen_bfr_1024 enhancer, softer and sharper."},
	{ModePhotoPhotoCodeformer, "Photo -> Photo (codeformer)", "codeformer enhancer, balances sharpness and detail."},
}

// ParseMode validates a mode string. Empty input resolves to DefaultMode.
func ParseMode(s string) (Mode, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultMode, true
	}
	for _, info := range Modes {
		if string(info.Mode) == s {
			return info.Mode, true
		}
	}
	return "", false
}

// TargetKind returns the target kind the server expects for this mode
func (m Mode) TargetKind() TargetKind {
	if strings.HasPrefix(string(m), "photo_video") {
		return TargetKindVideo
	}
	return TargetKindImage
}

// Job is a point-in-time snapshot of a server job, received from a poll or the event stream.
// Progress and Stage are pointers so an absent field can be told apart from zero.
type Job struct {
	ID             string     `json:"job_id"`
	Status         JobStatus  `json:"status"`
	Mode           Mode       `json:"mode,omitempty"`
	TargetKind     TargetKind `json:"target_kind,omitempty"`
	OwnerID        string     `json:"owner_id,omitempty"`
	Progress       *int       `json:"progress,omitempty"`
	Stage          *string    `json:"stage,omitempty"`
	SourceUploaded bool       `json:"source_uploaded,omitempty"`
	TargetUploaded bool       `json:"target_uploaded,omitempty"`
	ResultReady    bool       `json:"result_ready,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// ProgressValue returns the progress clamped to 0-100, or 0 when absent
func (j *Job) ProgressValue() int {
	if j.Progress == nil {
		return 0
	}
	return ClampProgress(*j.Progress)
}

// StageValue returns the stage label or an empty string
func (j *Job) StageValue() string {
	if j.Stage == nil {
		return ""
	}
	return *j.Stage
}

// ClampProgress bounds a progress value to 0-100
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status string `json:"status"`
}

// WebhookRequest registers a callback URL for job events
type WebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events,omitempty"`
}

// CreateJobRequest is the body of POST /jobs
type CreateJobRequest struct {
	Mode Mode `json:"mode"`
}

// SubmitFields are optional form fields sent with POST /jobs/{id}/submit
type SubmitFields struct {
	ReferenceFrameNumber *int
}
