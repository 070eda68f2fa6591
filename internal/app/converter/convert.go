package converter

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"innervoice/internal/app/api"
	"innervoice/internal/app/assembler"
	"innervoice/internal/app/audio"
	"innervoice/internal/app/common"
	apperrors "innervoice/internal/app/errors"
	"innervoice/internal/app/model"
	"innervoice/internal/app/progress"
)

// SegmentStream yields one job's segments in index order.
type SegmentStream interface {
	Total() int
	Duration() float64
	Next(ctx context.Context) (model.Segment, bool, error)
	Close() error
}

// SegmentSource opens the segment stream of a source file.
type SegmentSource interface {
	Open(ctx context.Context, jobID, sourcePath string) (SegmentStream, error)
}

type segmenterSource struct {
	seg *audio.Segmenter
}

// FromSegmenter adapts an audio.Segmenter to SegmentSource.
func FromSegmenter(s *audio.Segmenter) SegmentSource {
	return segmenterSource{seg: s}
}

func (s segmenterSource) Open(ctx context.Context, jobID, sourcePath string) (SegmentStream, error) {
	st, err := s.seg.Open(ctx, jobID, sourcePath)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Recorder receives one observation per segment task result.
type Recorder interface {
	RecordSegment(task model.Task, outcome model.AttemptOutcome)
}

type nopRecorder struct{}

func (nopRecorder) RecordSegment(model.Task, model.AttemptOutcome) {}

// Hooks connect a run to its queue entry.
type Hooks struct {
	// Cancelled is polled before each segment.
	Cancelled func() bool
	// OnProgress receives snapshots at the tracker's cadence.
	OnProgress func(progress.Snapshot)
}

// Converter runs the segmentation, transcription and assembly of one job.
type Converter struct {
	segments    SegmentSource
	transcriber api.Transcriber
	tracker     *progress.Tracker
	asmConfig   assembler.Config
	logger      *zap.Logger
	recorder    Recorder
	removeFile  func(string) error
	now         func() time.Time
}

// Option configures a Converter.
type Option func(*Converter)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Converter) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Converter) {
		c.now = now
	}
}

func NewConverter(segments SegmentSource, transcriber api.Transcriber, tracker *progress.Tracker,
	asmConfig assembler.Config, logger *zap.Logger, opts ...Option) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Converter{
		segments:    segments,
		transcriber: transcriber,
		tracker:     tracker,
		asmConfig:   asmConfig,
		logger:      logger,
		recorder:    nopRecorder{},
		removeFile:  os.Remove,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tracker returns the progress tracker the converter updates.
func (c *Converter) Tracker() *progress.Tracker {
	return c.tracker
}

// TasksFor lists the backend tasks run per segment in a mode.
func TasksFor(mode model.OutputMode) []model.Task {
	if mode == model.ModeTranscriptionAndTranslation {
		return []model.Task{model.TaskTranscribe, model.TaskTranslate}
	}
	return []model.Task{model.TaskTranslate}
}

// Convert processes job to a terminal report. Segment failures degrade to
// placeholders; format, I/O and consistency failures end the job as failed.
// Every segment file and the scratch area are removed before Convert returns.
func (c *Converter) Convert(ctx context.Context, job model.AudioJob, hooks Hooks) model.Report {
	start := c.now()
	log := common.JobLogger(c.logger, job)
	report := model.Report{JobID: job.ID, OwnerID: job.OwnerID}

	stream, err := c.segments.Open(ctx, job.ID, job.SourcePath)
	if err != nil {
		log.Error("cannot segment source", zap.String("source", job.SourcePath), zap.Error(err))
		return c.fail(report, start, err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.Warn("failed to remove scratch directory", zap.Error(err))
		}
	}()

	total := stream.Total()
	c.tracker.Start(job.ID, total)
	defer c.tracker.Finish(job.ID)
	log.Info("job started", zap.Int("segments", total), zap.Float64("duration_sec", stream.Duration()))

	asm := assembler.New(c.asmConfig, job.Preferences)
	tasks := TasksFor(job.Preferences.Mode)
	cancelled := false

	for {
		if hooks.Cancelled != nil && hooks.Cancelled() {
			cancelled = true
			log.Info("job cancelled between segments")
			break
		}

		seg, ok, err := stream.Next(ctx)
		if err != nil {
			log.Error("segment extraction failed", zap.Error(err))
			return c.fail(report, start, err)
		}
		if !ok {
			break
		}

		if err := c.processSegment(ctx, log, seg, tasks, job.Preferences, asm); err != nil {
			log.Error("assembly failed", zap.Int("segment_index", seg.Index), zap.Error(err))
			return c.fail(report, start, err)
		}

		c.tracker.OnSegmentDone(job.ID)
		if snap, err := c.tracker.Snapshot(job.ID); err == nil {
			if hooks.OnProgress != nil && c.tracker.ShouldEmit(snap.SegmentsDone, snap.SegmentsTotal) {
				hooks.OnProgress(snap)
			}
			log.Debug("progress",
				zap.String("bar", progress.TextBar(snap.Percent)),
				zap.Int("done", snap.SegmentsDone),
				zap.Int("total", snap.SegmentsTotal),
			)
		}
	}

	out := asm.Finalize()
	report.FailedSegments = asm.Failed()
	report.BusySegments = asm.Busy()
	report.NeedsManualRetry = len(report.BusySegments) > 0
	if job.Preferences.Statistics {
		out.Stats = c.stats(ctx, out, stream, len(report.FailedSegments), start)
	}
	report.Output = &out

	switch {
	case cancelled:
		report.Status = model.JobStatusCancelled
		report.Err = apperrors.E(apperrors.KindCancelled, "converter.convert", fmt.Errorf("job %s cancelled", job.ID))
		report.Error = report.Err.Error()
	case len(report.FailedSegments) > 0:
		report.Status = model.JobStatusPartialFailure
	default:
		report.Status = model.JobStatusCompleted
	}
	report.Elapsed = c.now().Sub(start)
	report.FinishedAt = c.now()

	log.Info("job finished",
		zap.String("status", string(report.Status)),
		zap.Ints("failed_segments", report.FailedSegments),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report
}

// processSegment runs every task of one segment and appends the result.
// The chunk file is removed on every path out.
func (c *Converter) processSegment(ctx context.Context, log *zap.Logger, seg model.Segment,
	tasks []model.Task, prefs model.Preferences, asm *assembler.Assembler) error {
	defer func() {
		if err := c.removeFile(seg.Path); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove segment file", zap.String("path", seg.Path), zap.Error(err))
		}
	}()

	c.tracker.OnSegmentStart(seg.JobID, seg.Index)
	segStart := c.now()
	result := model.SegmentResult{Index: seg.Index}
	for _, task := range tasks {
		r := c.transcriber.Transcribe(ctx, seg, task, prefs)
		c.recorder.RecordSegment(task, r.Outcome)
		switch task {
		case model.TaskTranscribe:
			result.Transcription = &r
		case model.TaskTranslate:
			result.Translation = &r
		}
	}
	result.Elapsed = c.now().Sub(segStart)

	if result.Failed() {
		log.Warn("segment degraded to placeholder",
			zap.Int("segment_index", seg.Index),
			zap.Bool("needs_manual_retry", result.NeedsManualRetry()),
		)
	}
	return asm.Append(seg.Index, result)
}

func (c *Converter) stats(ctx context.Context, out model.AssembledOutput, stream SegmentStream, failed int, start time.Time) *model.Stats {
	s := &model.Stats{
		Elapsed:        c.now().Sub(start),
		AudioSeconds:   stream.Duration(),
		Segments:       stream.Total(),
		FailedSegments: failed,
		Words:          assembler.WordCounts(out),
	}
	health, err := c.transcriber.Health(ctx)
	if err != nil {
		c.logger.Debug("health query for statistics failed", zap.Error(err))
		return s
	}
	if health.HasVRAM() {
		s.VRAMUsedMB = health.VRAMUsedMB
		s.VRAMTotalMB = health.VRAMTotalMB
	}
	return s
}

func (c *Converter) fail(report model.Report, start time.Time, err error) model.Report {
	report.Status = model.JobStatusFailed
	report.Err = err
	report.Error = err.Error()
	report.Elapsed = c.now().Sub(start)
	report.FinishedAt = c.now()
	return report
}
