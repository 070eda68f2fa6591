// Package queue serializes audio jobs through a single worker.
package queue

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"innervoice/internal/app/common"
	"innervoice/internal/app/converter"
	"innervoice/internal/app/dedup"
	apperrors "innervoice/internal/app/errors"
	"innervoice/internal/app/model"
	"innervoice/internal/app/progress"
	"innervoice/internal/app/utils"
)

// ErrWorkerRunning is returned when Run is called while a worker is active.
var ErrWorkerRunning = stderrors.New("queue worker already running")

// Config controls the queue.
type Config struct {
	// RetryTTL is how long a busy-exhausted job stays available for manual retry.
	RetryTTL    time.Duration `yaml:"retry_ttl"`
	EventBuffer int           `yaml:"event_buffer"`
	// KeepSources leaves source files in place after a job, for callers that own them.
	KeepSources bool `yaml:"keep_sources"`
}

// DefaultConfig returns a 10 minute retry TTL.
func DefaultConfig() Config {
	return Config{RetryTTL: 10 * time.Minute, EventBuffer: 500}
}

// JobRunner runs one job to a terminal report.
type JobRunner interface {
	Convert(ctx context.Context, job model.AudioJob, hooks converter.Hooks) model.Report
}

// Recorder receives queue level observations.
type Recorder interface {
	RecordJob(status model.JobStatus, elapsed time.Duration)
	SetQueueDepth(n int)
	RecordDuplicate()
	SetPendingRetries(n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordJob(model.JobStatus, time.Duration) {}
func (nopRecorder) SetQueueDepth(int)                        {}
func (nopRecorder) RecordDuplicate()                         {}
func (nopRecorder) SetPendingRetries(int)                    {}

// Progress is what a progress query returns.
type Progress struct {
	JobID   string          `json:"job_id"`
	OwnerID string          `json:"owner_id"`
	Status  model.JobStatus `json:"status"`
	// Position is the number of jobs ahead, 0 once processing.
	Position int                `json:"position"`
	Snapshot *progress.Snapshot `json:"snapshot,omitempty"`
}

type entry struct {
	job       model.AudioJob
	status    model.JobStatus
	cancelled atomic.Bool
}

type pendingRetry struct {
	job       model.AudioJob
	expiresAt time.Time
}

// Queue is a FIFO of audio jobs drained by one worker.
type Queue struct {
	cfg      Config
	runner   JobRunner
	tracker  *progress.Tracker
	guard    dedup.Guard
	events   *EventBus
	logger   *zap.Logger
	recorder Recorder
	validate *validator.Validate

	fingerprint func(path string) (string, error)
	newID       func() string
	now         func() time.Time
	removeFile  func(path string) error

	onComplete []func(model.Report)
	onProgress []func(model.AudioJob, progress.Snapshot)

	mu      sync.Mutex
	pending []*entry
	jobs    map[string]*entry
	retries map[string]*pendingRetry
	wake    chan struct{}
	running atomic.Bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithCompletion registers a callback receiving every terminal report.
func WithCompletion(fn func(model.Report)) Option {
	return func(q *Queue) {
		q.onComplete = append(q.onComplete, fn)
	}
}

// WithProgressListener registers a callback receiving progress snapshots at the tracker cadence.
func WithProgressListener(fn func(model.AudioJob, progress.Snapshot)) Option {
	return func(q *Queue) {
		q.onProgress = append(q.onProgress, fn)
	}
}

// WithRecorder attaches metrics.
func WithRecorder(r Recorder) Option {
	return func(q *Queue) {
		if r != nil {
			q.recorder = r
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// WithIDGenerator replaces uuid job ids.
func WithIDGenerator(fn func() string) Option {
	return func(q *Queue) {
		q.newID = fn
	}
}

// WithFingerprint replaces content hashing.
func WithFingerprint(fn func(path string) (string, error)) Option {
	return func(q *Queue) {
		q.fingerprint = fn
	}
}

// New creates a Queue. Call Run to start its worker.
func New(cfg Config, runner JobRunner, tracker *progress.Tracker, guard dedup.Guard, logger *zap.Logger, opts ...Option) *Queue {
	def := DefaultConfig()
	if cfg.RetryTTL <= 0 {
		cfg.RetryTTL = def.RetryTTL
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if guard == nil {
		guard = dedup.NewMemoryGuard(dedup.DefaultWindow)
	}
	q := &Queue{
		cfg:         cfg,
		runner:      runner,
		tracker:     tracker,
		guard:       guard,
		events:      NewEventBus(cfg.EventBuffer),
		logger:      logger,
		recorder:    nopRecorder{},
		validate:    validator.New(),
		fingerprint: utils.CalculateFileHash,
		newID:       uuid.NewString,
		now:         time.Now,
		removeFile:  os.Remove,
		jobs:        make(map[string]*entry),
		retries:     make(map[string]*pendingRetry),
		wake:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.events.now = q.now
	return q
}

// OnCompletion registers a completion callback on a running queue.
func (q *Queue) OnCompletion(fn func(model.Report)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onComplete = append(q.onComplete, fn)
}

// OnProgress registers a progress callback on a running queue.
func (q *Queue) OnProgress(fn func(model.AudioJob, progress.Snapshot)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onProgress = append(q.onProgress, fn)
}

func (q *Queue) listeners() ([]func(model.Report), []func(model.AudioJob, progress.Snapshot)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.onComplete), slices.Clone(q.onProgress)
}

// Events returns the event log.
func (q *Queue) Events() *EventBus {
	return q.events
}

// Submit fingerprints the source, checks the duplicate guard and enqueues a job.
// It never waits for the worker.
func (q *Queue) Submit(ctx context.Context, ownerID, sourcePath string, prefs model.Preferences) (string, error) {
	if prefs.Mode == "" {
		prefs.Mode = model.DefaultPreferences().Mode
	}
	if err := q.validate.Struct(prefs); err != nil {
		return "", apperrors.Wrap(err, "invalid preferences")
	}

	fp, err := q.fingerprint(sourcePath)
	if err != nil {
		return "", apperrors.E(apperrors.KindIO, "queue.submit", err)
	}

	now := q.now()
	allowed, err := q.guard.ShouldProcess(ctx, fp, now)
	if err != nil {
		// an unavailable shared guard must not block submissions
		q.logger.Warn("duplicate guard unavailable, allowing submission", zap.Error(err))
		allowed = true
	}
	if !allowed {
		q.recorder.RecordDuplicate()
		q.events.Publish(Event{OwnerID: ownerID, Type: EventDuplicate, Message: "duplicate audio suppressed"})
		q.logger.Info("duplicate submission suppressed", zap.String("owner_id", ownerID), zap.String("fingerprint", fp))
		return "", apperrors.E(apperrors.KindDuplicateSuppressed, "queue.submit",
			fmt.Errorf("same audio was submitted less than a minute ago"))
	}

	job := model.AudioJob{
		ID:          q.newID(),
		OwnerID:     ownerID,
		SourcePath:  sourcePath,
		Fingerprint: fp,
		Preferences: prefs,
		SubmittedAt: now,
		Attempt:     1,
	}
	q.enqueue(job)
	return job.ID, nil
}

// Retry re-enqueues the owner's busy-exhausted job, bypassing the duplicate guard.
func (q *Queue) Retry(ctx context.Context, ownerID string) (string, error) {
	q.mu.Lock()
	q.pruneRetriesLocked()
	pr, ok := q.retries[ownerID]
	if ok {
		delete(q.retries, ownerID)
	}
	q.recorder.SetPendingRetries(len(q.retries))
	q.mu.Unlock()

	if !ok {
		return "", apperrors.NotFound("pending retry", ownerID)
	}

	job := pr.job
	job.ID = q.newID()
	job.SubmittedAt = q.now()
	job.Attempt++
	q.enqueue(job)
	q.logger.Info("manual retry enqueued",
		zap.String("job_id", job.ID), zap.String("owner_id", ownerID), zap.Int("attempt", job.Attempt))
	return job.ID, nil
}

// PendingRetry returns the owner's job waiting for a manual retry.
func (q *Queue) PendingRetry(ownerID string) (model.AudioJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneRetriesLocked()
	pr, ok := q.retries[ownerID]
	if !ok {
		return model.AudioJob{}, false
	}
	return pr.job, true
}

// Cancel marks a queued or running job. Running jobs stop at the next segment boundary.
func (q *Queue) Cancel(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.jobs[jobID]
	if !ok {
		return apperrors.NotFound("job", jobID)
	}
	e.cancelled.Store(true)
	q.logger.Info("cancellation requested", zap.String("job_id", jobID), zap.String("status", string(e.status)))
	return nil
}

// QueryProgress reports a non-terminal job's state.
func (q *Queue) QueryProgress(jobID string) (Progress, error) {
	q.mu.Lock()
	e, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return Progress{}, apperrors.NotFound("job", jobID)
	}
	p := Progress{JobID: jobID, OwnerID: e.job.OwnerID, Status: e.status}
	if e.status == model.JobStatusQueued {
		for i, pe := range q.pending {
			if pe == e {
				p.Position = i + 1
				break
			}
		}
	}
	q.mu.Unlock()

	if p.Status == model.JobStatusProcessing && q.tracker != nil {
		if snap, err := q.tracker.Snapshot(jobID); err == nil {
			p.Snapshot = &snap
		}
	}
	return p, nil
}

// Depth returns the number of jobs waiting behind the running one.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) enqueue(job model.AudioJob) {
	e := &entry{job: job, status: model.JobStatusQueued}
	q.mu.Lock()
	q.pending = append(q.pending, e)
	q.jobs[job.ID] = e
	depth := len(q.pending)
	q.mu.Unlock()

	q.recorder.SetQueueDepth(depth)
	q.events.Publish(Event{JobID: job.ID, OwnerID: job.OwnerID, Type: EventQueued, Status: model.JobStatusQueued})
	q.logger.Info("job queued",
		zap.String("job_id", job.ID), zap.String("owner_id", job.OwnerID), zap.Int("depth", depth))

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) dequeue() (*entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	e := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	e.status = model.JobStatusProcessing
	q.recorder.SetQueueDepth(len(q.pending))
	return e, true
}

// Run drains the queue until ctx is done. Only one worker may run at a time.
func (q *Queue) Run(ctx context.Context) error {
	if !q.running.CompareAndSwap(false, true) {
		return ErrWorkerRunning
	}
	defer q.running.Store(false)

	q.logger.Info("queue worker started")
	for {
		if err := ctx.Err(); err != nil {
			q.logger.Info("queue worker stopped", zap.Int("pending", q.Depth()))
			return err
		}
		e, ok := q.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
			case <-q.wake:
			}
			continue
		}
		q.process(ctx, e)
	}
}

func (q *Queue) process(ctx context.Context, e *entry) {
	job := e.job
	log := common.JobLogger(q.logger, job)

	var report model.Report
	if e.cancelled.Load() {
		report = model.Report{
			JobID:      job.ID,
			OwnerID:    job.OwnerID,
			Status:     model.JobStatusCancelled,
			Err:        apperrors.E(apperrors.KindCancelled, "queue.process", fmt.Errorf("job %s cancelled before start", job.ID)),
			FinishedAt: q.now(),
		}
		report.Error = report.Err.Error()
	} else {
		q.events.Publish(Event{JobID: job.ID, OwnerID: job.OwnerID, Type: EventStarted, Status: model.JobStatusProcessing})
		report = q.runSafely(ctx, log, e)
	}

	q.settleSource(log, job, &report)

	q.mu.Lock()
	delete(q.jobs, job.ID)
	q.mu.Unlock()

	q.recorder.RecordJob(report.Status, report.Elapsed)
	q.events.Publish(terminalEvent(report))
	complete, _ := q.listeners()
	for _, fn := range complete {
		q.deliver(log, fn, report)
	}
}

// runSafely converts the job, turning a panic into a failed report.
func (q *Queue) runSafely(ctx context.Context, log *zap.Logger, e *entry) (report model.Report) {
	start := q.now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("worker panic while processing job", zap.Any("panic", r), zap.Stack("stack"))
			if q.tracker != nil {
				q.tracker.Finish(e.job.ID)
			}
			err := apperrors.E(apperrors.KindUnknown, "queue.worker", fmt.Errorf("panic: %v", r))
			report = model.Report{
				JobID:      e.job.ID,
				OwnerID:    e.job.OwnerID,
				Status:     model.JobStatusFailed,
				Err:        err,
				Error:      err.Error(),
				Elapsed:    q.now().Sub(start),
				FinishedAt: q.now(),
			}
		}
	}()

	hooks := converter.Hooks{
		Cancelled: e.cancelled.Load,
		OnProgress: func(s progress.Snapshot) {
			snap := s
			q.events.Publish(Event{JobID: e.job.ID, OwnerID: e.job.OwnerID, Type: EventProgress,
				Status: model.JobStatusProcessing, Progress: &snap})
			_, listeners := q.listeners()
			for _, fn := range listeners {
				q.notify(log, fn, e.job, s)
			}
		},
	}
	return q.runner.Convert(ctx, e.job, hooks)
}

// settleSource deletes the source file or parks it in the retry registry.
func (q *Queue) settleSource(log *zap.Logger, job model.AudioJob, report *model.Report) {
	if report.NeedsManualRetry && report.Status != model.JobStatusCancelled {
		q.mu.Lock()
		q.pruneRetriesLocked()
		if old, ok := q.retries[job.OwnerID]; ok && old.job.SourcePath != job.SourcePath {
			q.discardSource(log, old.job.SourcePath)
		}
		q.retries[job.OwnerID] = &pendingRetry{job: job, expiresAt: q.now().Add(q.cfg.RetryTTL)}
		q.recorder.SetPendingRetries(len(q.retries))
		q.mu.Unlock()

		q.events.Publish(Event{JobID: job.ID, OwnerID: job.OwnerID, Type: EventRetry,
			Message: "backend busy, manual retry available", FailedSegments: report.BusySegments})
		log.Info("job parked for manual retry", zap.Ints("busy_segments", report.BusySegments))
		return
	}
	report.NeedsManualRetry = false
	q.discardSource(log, job.SourcePath)
}

func (q *Queue) discardSource(log *zap.Logger, path string) {
	if q.cfg.KeepSources || path == "" {
		return
	}
	if err := q.removeFile(path); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to remove source file", zap.String("path", path), zap.Error(err))
	}
}

// pruneRetriesLocked drops expired retry entries; q.mu must be held.
func (q *Queue) pruneRetriesLocked() {
	now := q.now()
	for owner, pr := range q.retries {
		if !now.Before(pr.expiresAt) {
			delete(q.retries, owner)
			q.discardSource(q.logger, pr.job.SourcePath)
		}
	}
}

func (q *Queue) deliver(log *zap.Logger, fn func(model.Report), report model.Report) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("completion callback panicked", zap.Any("panic", r))
		}
	}()
	fn(report)
}

// notify calls a progress listener; a panicking listener does not affect the job.
func (q *Queue) notify(log *zap.Logger, fn func(model.AudioJob, progress.Snapshot), job model.AudioJob, s progress.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("progress listener panicked", zap.Any("panic", r))
		}
	}()
	fn(job, s)
}

func terminalEvent(r model.Report) Event {
	ev := Event{
		JobID:          r.JobID,
		OwnerID:        r.OwnerID,
		Status:         r.Status,
		Message:        r.Error,
		FailedSegments: r.FailedSegments,
	}
	switch r.Status {
	case model.JobStatusCompleted, model.JobStatusPartialFailure:
		ev.Type = EventCompleted
	case model.JobStatusCancelled:
		ev.Type = EventCancelled
	default:
		ev.Type = EventFailed
	}
	return ev
}
