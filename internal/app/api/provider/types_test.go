package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "innervoice/internal/app/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperrors.Kind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "busy_transcription_error", err: &TranscriptionError{Kind: apperrors.KindBackendBusy}, want: apperrors.KindBackendBusy},
		{name: "wrapped_malformed", err: fmt.Errorf("call: %w", &TranscriptionError{Kind: apperrors.KindBackendMalformed}), want: apperrors.KindBackendMalformed},
		{name: "deadline_exceeded", err: context.DeadlineExceeded, want: apperrors.KindBackendTransient},
		{name: "unknown_error", err: errors.New("connection reset by peer"), want: apperrors.KindBackendTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestTranscriptionErrorMatchesSentinels(t *testing.T) {
	err := fmt.Errorf("segment 2: %w", &TranscriptionError{Kind: apperrors.KindBackendBusy, Code: "gpu_busy", Provider: "whisper_server"})

	assert.True(t, errors.Is(err, apperrors.ErrBackendBusy))
	assert.False(t, errors.Is(err, apperrors.ErrBackendTransient))

	var te *TranscriptionError
	require.True(t, errors.As(err, &te))
	assert.True(t, te.Retryable())
}

func TestIsBusyMessage(t *testing.T) {
	assert.True(t, IsBusyMessage(`{"error":"gpu_busy","message":"GPU/VRAM is busy"}`))
	assert.True(t, IsBusyMessage("HIP out of memory. Tried to allocate 20.00 MiB"))
	assert.False(t, IsBusyMessage(`{"error":"No audio file"}`))
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatOGG, FormatFromPath("/tmp/voice.OGG"))
	assert.Equal(t, FormatWAV, FormatFromPath("segment_000.wav"))
	assert.Equal(t, AudioFormat(""), FormatFromPath("README"))
	assert.Equal(t, AudioFormat(""), FormatFromPath("notes.txt"))
}

func TestRegistry(t *testing.T) {
	RegisterProvider("registry_test_fake", func(s Settings) (TranscriptionProvider, error) {
		return nil, fmt.Errorf("fake provider for %s", s.BaseURL)
	})

	assert.Contains(t, AvailableProviders(), "registry_test_fake")

	_, err := NewProvider("registry_test_fake", Settings{BaseURL: "http://x"})
	assert.EqualError(t, err, "fake provider for http://x")

	_, err = NewProvider("does_not_exist", Settings{})
	assert.Error(t, err)

	assert.Panics(t, func() {
		RegisterProvider("registry_test_fake", func(Settings) (TranscriptionProvider, error) { return nil, nil })
	})
}
