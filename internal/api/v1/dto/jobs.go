package dto

import (
	"time"

	"innervoice/internal/app/model"
	"innervoice/internal/app/progress"
	"innervoice/internal/app/queue"
)

// SubmitRequest is accepted as multipart form (with an "audio" file part) or JSON.
type SubmitRequest struct {
	OwnerID string `form:"owner_id" json:"owner_id" binding:"required,max=128"`
	// SourcePath names a file on the server; only honored when local paths are enabled.
	SourcePath string `form:"source_path" json:"source_path"`
	Language   string `form:"language" json:"language" binding:"omitempty,min=2,max=8"`
	Mode       string `form:"mode" json:"mode" binding:"omitempty,oneof=translation-only transcription-and-translation"`
	Timestamps bool   `form:"timestamps" json:"timestamps"`
	Statistics bool   `form:"statistics" json:"statistics"`
}

// Preferences converts the request into the per-job snapshot.
func (r SubmitRequest) Preferences() model.Preferences {
	p := model.DefaultPreferences()
	if r.Mode != "" {
		p.Mode = model.OutputMode(r.Mode)
	}
	p.Language = r.Language
	p.Timestamps = r.Timestamps
	p.Statistics = r.Statistics
	return p
}

// SubmitResponse acknowledges a queued job.
type SubmitResponse struct {
	JobID    string          `json:"job_id"`
	Status   model.JobStatus `json:"status"`
	Position int             `json:"position"`
}

// RetryRequest asks for the owner's busy-exhausted job to run again.
type RetryRequest struct {
	OwnerID string `form:"owner_id" json:"owner_id" binding:"required,max=128"`
}

// PendingRetryResponse describes a job waiting for a manual retry.
type PendingRetryResponse struct {
	OwnerID     string            `json:"owner_id"`
	JobID       string            `json:"job_id"`
	Attempt     int               `json:"attempt"`
	Preferences model.Preferences `json:"preferences"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// ProgressResponse is the progress query result.
type ProgressResponse struct {
	JobID         string          `json:"job_id"`
	OwnerID       string          `json:"owner_id"`
	Status        model.JobStatus `json:"status"`
	Position      int             `json:"position"`
	SegmentsDone  int             `json:"segments_done"`
	SegmentsTotal int             `json:"segments_total"`
	Percent       float64         `json:"percent"`
	Bar           string          `json:"bar"`
	ElapsedSec    float64         `json:"elapsed_sec"`
	// ETASec is omitted until the first segment completes.
	ETASec *float64 `json:"eta_sec,omitempty"`
}

// NewProgressResponse flattens a queue progress value.
func NewProgressResponse(p queue.Progress) ProgressResponse {
	resp := ProgressResponse{
		JobID:    p.JobID,
		OwnerID:  p.OwnerID,
		Status:   p.Status,
		Position: p.Position,
		Bar:      progress.TextBar(0),
	}
	if s := p.Snapshot; s != nil {
		resp.SegmentsDone = s.SegmentsDone
		resp.SegmentsTotal = s.SegmentsTotal
		resp.Percent = s.Percent
		resp.Bar = progress.TextBar(s.Percent)
		resp.ElapsedSec = s.Elapsed.Seconds()
		if s.ETAKnown {
			eta := s.ETA.Seconds()
			resp.ETASec = &eta
		}
	}
	return resp
}

// EventsQuery selects events after a sequence number.
type EventsQuery struct {
	Since int64 `form:"since" binding:"min=0"`
}

// EventsResponse is one page of the event log.
type EventsResponse struct {
	Events  []queue.Event `json:"events"`
	LastSeq int64         `json:"last_seq"`
}

// HealthResponse is the service health.
type HealthResponse struct {
	Status     string  `json:"status"`
	Backend    string  `json:"backend"`
	Model      string  `json:"model,omitempty"`
	VRAMUsedMB float64 `json:"vram_used_mb,omitempty"`
	VRAMTotal  float64 `json:"vram_total_mb,omitempty"`
	VRAMFreeMB float64 `json:"vram_free_mb,omitempty"`
	QueueDepth int     `json:"queue_depth"`
	Timestamp  int64   `json:"timestamp"`
}

// SuccessResponse wraps handler payloads.
type SuccessResponse struct {
	Code    int         `json:"code"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}
