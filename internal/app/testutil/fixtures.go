package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"innervoice/internal/app/api/provider"
	apperrors "innervoice/internal/app/errors"
)

// BusyError is what a GPU-saturated whisper server answers.
func BusyError() error {
	return &provider.TranscriptionError{
		Kind:       apperrors.KindBackendBusy,
		Code:       "gpu_busy",
		Message:    "GPU memory exhausted",
		Provider:   "mock",
		StatusCode: 503,
	}
}

// TransientError is a 5xx answer.
func TransientError() error {
	return &provider.TranscriptionError{
		Kind:       apperrors.KindBackendTransient,
		Code:       "http_502",
		Message:    "bad gateway",
		Provider:   "mock",
		StatusCode: 502,
	}
}

// MalformedError is a 200 answer without a text field.
func MalformedError() error {
	return &provider.TranscriptionError{
		Kind:     apperrors.KindBackendMalformed,
		Code:     "missing_text",
		Message:  "no text field found in response",
		Provider: "mock",
	}
}

// WriteAudioFile creates a small file standing in for uploaded audio.
func WriteAudioFile(t testing.TB, dir, name string, content []byte) string {
	t.Helper()
	if content == nil {
		content = []byte("OggS\x00\x02fake-opus-" + name)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

// WriteChunks creates n chunk files named like the segmenter names them.
func WriteChunks(t testing.TB, dir string, n int) []string {
	t.Helper()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = WriteAudioFile(t, dir, fmt.Sprintf("segment_%03d.wav", i), []byte("RIFF....WAVEfmt "))
	}
	return paths
}

// FakeClock is a manually advanced clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock starts at a fixed instant.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
