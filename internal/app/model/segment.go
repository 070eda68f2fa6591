package model

import (
	"time"
)

// Segment is one bounded-duration slice of a job's audio.
type Segment struct {
	JobID string
	// Index is 0-based and defines output order.
	Index    int
	Path     string
	Start    float64
	Duration float64
}

// End is the job-relative end offset in seconds.
func (s Segment) End() float64 {
	return s.Start + s.Duration
}

// Task is the backend operation requested for a segment.
type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// Span is a timed piece of text inside a segment, offsets relative to the job.
type Span struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// AttemptOutcome is the terminal state of one segment task's retry state machine.
type AttemptOutcome string

const (
	OutcomeSuccess          AttemptOutcome = "success"
	OutcomeTransientFailed  AttemptOutcome = "transient_exhausted"
	OutcomeNeedsManualRetry AttemptOutcome = "needs_manual_retry"
	OutcomeFatal            AttemptOutcome = "fatal"
)

// TranscriptionResult is the output of one task for one segment.
// Text is empty whenever Outcome is not OutcomeSuccess.
type TranscriptionResult struct {
	Task          Task
	Text          string
	Spans         []Span
	StartOffset   float64
	EndOffset     float64
	BackendMillis int64
	Attempts      int
	Outcome       AttemptOutcome
	Err           error
}

// Failed reports whether the result must be replaced by a placeholder.
func (r TranscriptionResult) Failed() bool {
	return r.Outcome != OutcomeSuccess
}

// SegmentResult groups the per-task results of one segment.
type SegmentResult struct {
	Index         int
	Transcription *TranscriptionResult
	Translation   *TranscriptionResult
	Elapsed       time.Duration
}

// Results returns the non-nil task results in output order.
func (r SegmentResult) Results() []*TranscriptionResult {
	var out []*TranscriptionResult
	if r.Transcription != nil {
		out = append(out, r.Transcription)
	}
	if r.Translation != nil {
		out = append(out, r.Translation)
	}
	return out
}

// Failed reports whether any task of the segment failed.
func (r SegmentResult) Failed() bool {
	for _, res := range r.Results() {
		if res.Failed() {
			return true
		}
	}
	return false
}

// NeedsManualRetry reports whether any task ended busy-exhausted.
func (r SegmentResult) NeedsManualRetry() bool {
	for _, res := range r.Results() {
		if res.Outcome == OutcomeNeedsManualRetry {
			return true
		}
	}
	return false
}
