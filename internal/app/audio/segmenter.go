package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	apperrors "innervoice/internal/app/errors"
	"innervoice/internal/app/model"
)

const (
	// SampleRate of the normalized mono s16 WAV that chunks are cut from.
	SampleRate = 16000
	// BytesPerSecond of the normalized WAV.
	BytesPerSecond = SampleRate * 2
	wavHeaderBytes = 44
	// tails shorter than this are merged into the previous segment
	tailToleranceSec = 0.25
)

// Config controls segmentation.
type Config struct {
	FFmpegPath   string  `yaml:"ffmpeg_path"`
	FFprobePath  string  `yaml:"ffprobe_path"`
	ChunkSeconds float64 `yaml:"chunk_seconds"`
	// MaxSegmentBytes caps a chunk's encoded size; 0 disables the cap.
	MaxSegmentBytes int64  `yaml:"max_segment_bytes"`
	ScratchDir      string `yaml:"scratch_dir"`
}

// DefaultConfig returns the 30 second chunk policy.
func DefaultConfig() Config {
	return Config{
		FFmpegPath:      "ffmpeg",
		FFprobePath:     "ffprobe",
		ChunkSeconds:    30,
		MaxSegmentBytes: 24 << 20,
	}
}

// Segmenter turns a raw audio file into an ordered, lazily produced sequence of segments.
type Segmenter struct {
	cfg       Config
	runner    commandRunner
	logger    *zap.Logger
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
	stat      func(name string) (os.FileInfo, error)
	rename    func(oldpath, newpath string) error
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithCommandRunner replaces process execution, used by tests.
func WithCommandRunner(r commandRunner) Option {
	return func(s *Segmenter) {
		s.runner = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Segmenter) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSegmenter builds a Segmenter, filling zero config fields with defaults.
func NewSegmenter(cfg Config, opts ...Option) *Segmenter {
	def := DefaultConfig()
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = def.FFmpegPath
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = def.FFprobePath
	}
	if cfg.ChunkSeconds <= 0 {
		cfg.ChunkSeconds = def.ChunkSeconds
	}
	if cfg.MaxSegmentBytes < 0 {
		cfg.MaxSegmentBytes = 0
	}

	s := &Segmenter{
		cfg:       cfg,
		runner:    &execRunner{},
		logger:    zap.NewNop(),
		mkdirTemp: os.MkdirTemp,
		removeAll: os.RemoveAll,
		stat:      os.Stat,
		rename:    os.Rename,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EffectiveChunkSeconds is the chunk duration after the size cap is applied.
func (s *Segmenter) EffectiveChunkSeconds() float64 {
	chunk := s.cfg.ChunkSeconds
	if s.cfg.MaxSegmentBytes > wavHeaderBytes {
		capSec := float64(s.cfg.MaxSegmentBytes-wavHeaderBytes)/BytesPerSecond - tailToleranceSec
		if capSec > 0 && capSec < chunk {
			chunk = capSec
		}
	}
	return chunk
}

// Open validates and normalizes sourcePath and returns a stream of its segments.
// The caller must Close the stream on every exit path.
func (s *Segmenter) Open(ctx context.Context, jobID, sourcePath string) (*Stream, error) {
	info, err := s.stat(sourcePath)
	if err != nil {
		return nil, apperrors.E(apperrors.KindIO, "segmenter.stat", err)
	}
	if info.IsDir() {
		return nil, apperrors.E(apperrors.KindIO, "segmenter.stat", fmt.Errorf("%s is a directory", sourcePath))
	}
	f, err := os.Open(sourcePath)
	if err != nil {
		return nil, apperrors.E(apperrors.KindIO, "segmenter.open", err)
	}
	f.Close()

	probe, err := s.probe(ctx, sourcePath)
	if err != nil {
		return nil, err
	}

	dir, err := s.mkdirTemp(s.cfg.ScratchDir, "innervoice-"+jobID+"-")
	if err != nil {
		return nil, apperrors.E(apperrors.KindIO, "segmenter.scratch", err)
	}

	wavPath := filepath.Join(dir, "normalized.wav")
	if err := s.normalize(ctx, sourcePath, wavPath); err != nil {
		s.removeAll(dir)
		return nil, err
	}

	duration, ok := probe.DurationSeconds()
	if !ok {
		wavInfo, err := s.stat(wavPath)
		if err != nil {
			s.removeAll(dir)
			return nil, apperrors.E(apperrors.KindIO, "segmenter.stat", err)
		}
		duration = math.Max(0, float64(wavInfo.Size()-wavHeaderBytes)/BytesPerSecond)
	}

	windows := planWindows(duration, s.EffectiveChunkSeconds())
	s.logger.Debug("segmentation planned",
		zap.String("job_id", jobID),
		zap.Float64("duration_sec", duration),
		zap.Int("segments", len(windows)),
	)

	return &Stream{
		seg:      s,
		jobID:    jobID,
		dir:      dir,
		wavPath:  wavPath,
		duration: duration,
		windows:  windows,
	}, nil
}

func (s *Segmenter) probe(ctx context.Context, path string) (model.FFProbeOutput, error) {
	var out model.FFProbeOutput
	res, err := s.runner.Run(ctx, s.cfg.FFprobePath,
		"-v", "error", "-print_format", "json", "-show_format", "-show_streams", path)
	if err != nil {
		return out, apperrors.E(apperrors.KindUnsupportedFormat, "segmenter.probe",
			fmt.Errorf("ffprobe: %v, stderr: %s", err, strings.TrimSpace(res.Stderr)))
	}
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return out, apperrors.E(apperrors.KindUnsupportedFormat, "segmenter.probe", err)
	}
	if !out.HasAudio() {
		return out, apperrors.E(apperrors.KindUnsupportedFormat, "segmenter.probe",
			fmt.Errorf("no audio stream in %s", filepath.Base(path)))
	}
	return out, nil
}

func (s *Segmenter) normalize(ctx context.Context, in, out string) error {
	res, err := s.runner.Run(ctx, s.cfg.FFmpegPath,
		"-y", "-v", "error", "-i", in, "-vn", "-ac", "1", "-ar", "16000", "-sample_fmt", "s16", out)
	if err != nil {
		return apperrors.E(apperrors.KindUnsupportedFormat, "segmenter.normalize",
			fmt.Errorf("FFmpeg error: %v, stderr: %s", err, strings.TrimSpace(res.Stderr)))
	}
	return nil
}

type window struct {
	start float64
	// dur is zero for the last window, which runs to the end of the input.
	dur float64
}

func planWindows(duration, chunk float64) []window {
	n := int(math.Ceil((duration - tailToleranceSec) / chunk))
	if n < 1 {
		n = 1
	}
	windows := make([]window, n)
	for i := range windows {
		windows[i] = window{start: float64(i) * chunk, dur: chunk}
	}
	windows[n-1].dur = 0
	return windows
}

// Stream yields the segments of one job in index order.
type Stream struct {
	seg      *Segmenter
	jobID    string
	dir      string
	wavPath  string
	duration float64
	windows  []window
	next     int
	closed   bool
}

// Total is the number of segments the stream yields, always at least one.
func (st *Stream) Total() int {
	return len(st.windows)
}

// Duration is the input duration in seconds.
func (st *Stream) Duration() float64 {
	return st.duration
}

// Next cuts the next chunk. ok is false once all segments were produced.
// The returned segment file belongs to the caller.
func (st *Stream) Next(ctx context.Context) (model.Segment, bool, error) {
	if st.closed || st.next >= len(st.windows) {
		return model.Segment{}, false, nil
	}
	i := st.next
	w := st.windows[i]
	path := filepath.Join(st.dir, fmt.Sprintf("segment_%03d.wav", i))

	if len(st.windows) == 1 {
		if err := st.seg.rename(st.wavPath, path); err != nil {
			return model.Segment{}, false, apperrors.E(apperrors.KindIO, "segmenter.cut", err)
		}
	} else {
		args := []string{"-y", "-v", "error", "-ss", formatFFmpegTime(w.start)}
		if w.dur > 0 {
			args = append(args, "-t", formatFFmpegTime(w.dur))
		}
		args = append(args, "-i", st.wavPath, "-c", "copy", path)
		res, err := st.seg.runner.Run(ctx, st.seg.cfg.FFmpegPath, args...)
		if err != nil {
			return model.Segment{}, false, apperrors.E(apperrors.KindIO, "segmenter.cut",
				fmt.Errorf("FFmpeg error: %v, stderr: %s", err, strings.TrimSpace(res.Stderr)))
		}
		if _, err := st.seg.stat(path); err != nil {
			return model.Segment{}, false, apperrors.E(apperrors.KindIO, "segmenter.cut", err)
		}
	}

	dur := w.dur
	if dur == 0 {
		dur = math.Max(0, st.duration-w.start)
	}
	st.next++
	return model.Segment{
		JobID:    st.jobID,
		Index:    i,
		Path:     path,
		Start:    w.start,
		Duration: dur,
	}, true, nil
}

// Close removes the scratch directory including any chunk the caller did not delete.
func (st *Stream) Close() error {
	if st.closed {
		return nil
	}
	st.closed = true
	return st.seg.removeAll(st.dir)
}

// formatFFmpegTime formats seconds for FFmpeg -ss/-t arguments.
func formatFFmpegTime(sec float64) string {
	h := int(sec / 3600)
	m := int(sec/60) % 60
	s := sec - float64(h*3600+m*60)
	return fmt.Sprintf("%02d:%02d:%06.3f", h, m, s)
}
