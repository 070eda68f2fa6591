package provider

import (
	"context"
)

// TranscriptionProvider performs exactly one backend call per invocation.
// Retries are the caller's concern.
type TranscriptionProvider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// TranscriptWithOptions sends one chunk. Errors are *TranscriptionError
	// whenever the provider can classify them.
	TranscriptWithOptions(ctx context.Context, request *TranscriptionRequest) (*TranscriptionResponse, error)

	// HealthCheck reports backend readiness without forcing model initialization.
	HealthCheck(ctx context.Context) (*HealthStatus, error)
}
