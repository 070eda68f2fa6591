package model

import (
	"strconv"
	"strings"
)

// FFProbeOutput is the subset of `ffprobe -print_format json -show_format -show_streams` we read.
type FFProbeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate int    `json:"sample_rate,string"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

// HasAudio reports whether at least one audio stream was found.
func (o FFProbeOutput) HasAudio() bool {
	for _, s := range o.Streams {
		if s.CodecType == "audio" {
			return true
		}
	}
	return false
}

// DurationSeconds parses the container duration. ok is false when ffprobe reported none.
func (o FFProbeOutput) DurationSeconds() (float64, bool) {
	raw := strings.TrimSpace(o.Format.Duration)
	if raw == "" || raw == "N/A" {
		return 0, false
	}
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}
