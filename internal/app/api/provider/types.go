package provider

import (
	stderrors "errors"
	"strings"

	apperrors "innervoice/internal/app/errors"
	"innervoice/internal/app/model"
)

// AudioFormat defines supported audio formats
type AudioFormat string

const (
	FormatWAV  AudioFormat = "wav"
	FormatMP3  AudioFormat = "mp3"
	FormatM4A  AudioFormat = "m4a"
	FormatFLAC AudioFormat = "flac"
	FormatOGG  AudioFormat = "ogg"
	FormatOPUS AudioFormat = "opus"
	FormatWEBM AudioFormat = "webm"
)

// TranscriptionRequest is one chunk plus task options.
type TranscriptionRequest struct {
	InputFilePath string `json:"input_file_path"`
	// Language is a hint; empty lets the backend detect it.
	Language     string     `json:"language,omitempty"`
	Task         model.Task `json:"task"`
	WantSegments bool       `json:"want_segments"`
}

// TranscriptionResponse is a successful backend answer. Segment offsets are relative to the chunk.
type TranscriptionResponse struct {
	Text     string                 `json:"text"`
	Segments []TranscriptionSegment `json:"segments,omitempty"`
	Duration float64                `json:"duration,omitempty"`
	Language string                 `json:"language,omitempty"`
}

// TranscriptionSegment represents a time-segmented piece of transcription
type TranscriptionSegment struct {
	ID    int     `json:"id"`
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// HealthStatus is what the backend reports without loading its model.
type HealthStatus struct {
	Status      string  `json:"status"`
	Model       string  `json:"model,omitempty"`
	VRAMUsedMB  float64 `json:"vram_used_mb,omitempty"`
	VRAMTotalMB float64 `json:"vram_total_mb,omitempty"`
	VRAMFreeMB  float64 `json:"vram_free_mb,omitempty"`
}

// HasVRAM reports whether the VRAM fields were populated.
func (h *HealthStatus) HasVRAM() bool {
	return h != nil && h.VRAMTotalMB > 0
}

// TranscriptionError represents provider-specific errors
type TranscriptionError struct {
	Kind        apperrors.Kind `json:"kind"`
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Provider    string         `json:"provider"`
	StatusCode  int            `json:"status_code,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
}

func (e *TranscriptionError) Error() string {
	return e.Provider + ": " + e.Code + ": " + e.Message
}

// Is lets errors.Is match the pipeline sentinels, e.g. apperrors.ErrBackendBusy.
func (e *TranscriptionError) Is(target error) bool {
	t, ok := target.(*apperrors.PipelineError)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether another attempt may succeed.
func (e *TranscriptionError) Retryable() bool {
	return e.Kind == apperrors.KindBackendTransient || e.Kind == apperrors.KindBackendBusy
}

// Classify maps any backend call error onto the backend part of the taxonomy.
// Unrecognized errors are treated as transient.
func Classify(err error) apperrors.Kind {
	if err == nil {
		return ""
	}
	var te *TranscriptionError
	if stderrors.As(err, &te) {
		return te.Kind
	}
	if kind := apperrors.KindOf(err); kind != apperrors.KindUnknown {
		return kind
	}
	return apperrors.KindBackendTransient
}

var busyMarkers = []string{"gpu_busy", "gpu_oom", "out of memory", "insufficient vram", "resource exhausted"}

// IsBusyMessage reports whether a backend error body signals exhausted accelerator capacity.
func IsBusyMessage(body string) bool {
	lower := strings.ToLower(body)
	for _, m := range busyMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// FormatFromPath derives the audio format from a file extension.
func FormatFromPath(path string) AudioFormat {
	i := strings.LastIndex(path, ".")
	if i < 0 {
		return ""
	}
	switch f := AudioFormat(strings.ToLower(path[i+1:])); f {
	case FormatWAV, FormatMP3, FormatM4A, FormatFLAC, FormatOGG, FormatOPUS, FormatWEBM:
		return f
	default:
		return ""
	}
}
