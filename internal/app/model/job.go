package model

import (
	"time"
)

// OutputMode selects which backend tasks run per segment.
type OutputMode string

const (
	ModeTranslationOnly             OutputMode = "translation-only"
	ModeTranscriptionAndTranslation OutputMode = "transcription-and-translation"
)

// Valid reports whether m is a known mode.
func (m OutputMode) Valid() bool {
	return m == ModeTranslationOnly || m == ModeTranscriptionAndTranslation
}

// Preferences is the immutable per-submission snapshot of user choices.
type Preferences struct {
	// Language is a source-language hint such as "ru" or "en". Empty means auto-detect.
	Language   string     `json:"language,omitempty" yaml:"language" validate:"omitempty,min=2,max=8"`
	Mode       OutputMode `json:"mode" yaml:"mode" validate:"required,oneof=translation-only transcription-and-translation"`
	Timestamps bool       `json:"timestamps" yaml:"timestamps"`
	Statistics bool       `json:"statistics" yaml:"statistics"`
}

// DefaultPreferences mirrors what a new user gets.
func DefaultPreferences() Preferences {
	return Preferences{Mode: ModeTranslationOnly}
}

// AudioJob is one submission flowing through the queue.
type AudioJob struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"owner_id"`
	SourcePath  string      `json:"source_path"`
	Fingerprint string      `json:"content_fingerprint"`
	Preferences Preferences `json:"preferences"`
	SubmittedAt time.Time   `json:"submitted_at"`
	// Attempt counts manual retries; the first run is 1.
	Attempt int `json:"attempt"`
}

// JobStatus is the lifecycle state of a job in the queue.
type JobStatus string

const (
	JobStatusQueued         JobStatus = "queued"
	JobStatusProcessing     JobStatus = "processing"
	JobStatusCompleted      JobStatus = "completed"
	JobStatusPartialFailure JobStatus = "partial_failure"
	JobStatusFailed         JobStatus = "failed"
	JobStatusCancelled      JobStatus = "cancelled"
)

// Terminal reports whether no further transitions happen from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusPartialFailure, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}
