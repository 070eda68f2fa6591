package model

import (
	"time"
)

// SectionKind names an output section.
type SectionKind string

const (
	SectionTranscription SectionKind = "transcription"
	SectionTranslation   SectionKind = "translation"
)

// DeliveryChunk is one bounded-size unit handed to the outbound channel.
// Concatenating Text of all chunks of a section reproduces Section.Text.
type DeliveryChunk struct {
	Ordinal int    `json:"ordinal"`
	Total   int    `json:"total"`
	Label   string `json:"label,omitempty"`
	Text    string `json:"text"`
}

// Render returns the label and text as they are sent.
func (c DeliveryChunk) Render() string {
	return c.Label + c.Text
}

// Section is one assembled text body, e.g. the translation.
type Section struct {
	Kind   SectionKind     `json:"kind"`
	Text   string          `json:"text"`
	Chunks []DeliveryChunk `json:"chunks"`
}

// Stats is the optional statistics block.
type Stats struct {
	Elapsed        time.Duration       `json:"elapsed"`
	AudioSeconds   float64             `json:"audio_seconds"`
	Segments       int                 `json:"segments"`
	FailedSegments int                 `json:"failed_segments"`
	Words          map[SectionKind]int `json:"words"`
	VRAMUsedMB     float64             `json:"vram_used_mb,omitempty"`
	VRAMTotalMB    float64             `json:"vram_total_mb,omitempty"`
}

// AssembledOutput is the final ordered user-facing output of a job.
type AssembledOutput struct {
	Sections []Section `json:"sections"`
	Stats    *Stats    `json:"stats,omitempty"`
}

// Section returns the section of the given kind, or nil.
func (o *AssembledOutput) Section(kind SectionKind) *Section {
	if o == nil {
		return nil
	}
	for i := range o.Sections {
		if o.Sections[i].Kind == kind {
			return &o.Sections[i]
		}
	}
	return nil
}

// Report is delivered to the completion callback for every terminal job.
// For partial failures FailedSegments lists the placeholder indices and Output
// carries the best-effort text for the rest.
type Report struct {
	JobID            string           `json:"job_id"`
	OwnerID          string           `json:"owner_id"`
	Status           JobStatus        `json:"status"`
	Output           *AssembledOutput `json:"output,omitempty"`
	FailedSegments   []int            `json:"failed_segments,omitempty"`
	BusySegments     []int            `json:"busy_segments,omitempty"`
	NeedsManualRetry bool             `json:"needs_manual_retry"`
	Error            string           `json:"error,omitempty"`
	Err              error            `json:"-"`
	Elapsed          time.Duration    `json:"elapsed"`
	FinishedAt       time.Time        `json:"finished_at"`
}
