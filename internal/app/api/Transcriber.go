package api

import (
	"context"

	"innervoice/internal/app/api/provider"
	"innervoice/internal/app/model"
)

// Transcriber defines a transcription interface for converting one audio segment to text.
// Transcribe never returns an error: failures are reported through the result's Outcome.
type Transcriber interface {
	Transcribe(ctx context.Context, seg model.Segment, task model.Task, prefs model.Preferences) model.TranscriptionResult
	Health(ctx context.Context) (*provider.HealthStatus, error)
}
