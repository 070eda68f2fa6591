package api

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"innervoice/internal/app/api/provider"
	apperrors "innervoice/internal/app/errors"
	"innervoice/internal/app/model"
)

// RetryConfig bounds the per-segment retry state machine.
type RetryConfig struct {
	// TransientAttempts is the maximum number of attempts that may fail transiently.
	TransientAttempts int `yaml:"transient_attempts"`
	// BusyAttempts is the maximum number of attempts that may be answered busy.
	BusyAttempts       int           `yaml:"busy_attempts"`
	InitialBackoff     time.Duration `yaml:"initial_backoff"`
	MaxBackoff         time.Duration `yaml:"max_backoff"`
	BusyInitialBackoff time.Duration `yaml:"busy_initial_backoff"`
	BusyMaxBackoff     time.Duration `yaml:"busy_max_backoff"`
	Multiplier         float64       `yaml:"multiplier"`
	// Jitter is the randomization factor, 0 disables it.
	Jitter float64 `yaml:"jitter"`
	// AttemptTimeout bounds a single backend call.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// DefaultRetryConfig returns the reference retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		TransientAttempts:  3,
		BusyAttempts:       5,
		InitialBackoff:     1 * time.Second,
		MaxBackoff:         8 * time.Second,
		BusyInitialBackoff: 5 * time.Second,
		BusyMaxBackoff:     60 * time.Second,
		Multiplier:         2.0,
		Jitter:             0.1,
		AttemptTimeout:     10 * time.Minute,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.TransientAttempts <= 0 {
		c.TransientAttempts = def.TransientAttempts
	}
	if c.BusyAttempts <= 0 {
		c.BusyAttempts = def.BusyAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.BusyInitialBackoff <= 0 {
		c.BusyInitialBackoff = def.BusyInitialBackoff
	}
	if c.BusyMaxBackoff <= 0 {
		c.BusyMaxBackoff = def.BusyMaxBackoff
	}
	if c.Multiplier < 1 {
		c.Multiplier = def.Multiplier
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = 0
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = def.AttemptTimeout
	}
	return c
}

// AttemptRecorder receives one observation per backend attempt.
type AttemptRecorder interface {
	RecordAttempt(backend string, task model.Task, kind apperrors.Kind, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordAttempt(string, model.Task, apperrors.Kind, time.Duration) {}

// Client wraps a TranscriptionProvider with timeout, retry and busy handling.
type Client struct {
	backend  provider.TranscriptionProvider
	cfg      RetryConfig
	logger   *zap.Logger
	recorder AttemptRecorder
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r AttemptRecorder) ClientOption {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithSleep replaces the backoff wait, used by tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) {
		c.sleep = fn
	}
}

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = fn
	}
}

// NewClient creates the retrying transcription client.
func NewClient(backend provider.TranscriptionProvider, cfg RetryConfig, logger *zap.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		backend:  backend,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		recorder: nopRecorder{},
		sleep:    sleepCtx,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective retry policy.
func (c *Client) Config() RetryConfig {
	return c.cfg
}

// Backend is the name of the wrapped provider.
func (c *Client) Backend() string {
	return c.backend.Name()
}

// Health queries backend readiness without loading the model.
func (c *Client) Health(ctx context.Context) (*provider.HealthStatus, error) {
	return c.backend.HealthCheck(ctx)
}

// Transcribe runs the retry state machine for one task on one segment.
//
// Transient failures are retried until TransientAttempts have failed, then the
// result degrades to OutcomeTransientFailed. Busy answers use the longer busy
// backoff and end in OutcomeNeedsManualRetry after BusyAttempts. Malformed
// answers end the segment immediately with OutcomeFatal.
func (c *Client) Transcribe(ctx context.Context, seg model.Segment, task model.Task, prefs model.Preferences) model.TranscriptionResult {
	result := model.TranscriptionResult{
		Task:        task,
		StartOffset: seg.Start,
		EndOffset:   seg.End(),
	}
	req := &provider.TranscriptionRequest{
		InputFilePath: seg.Path,
		Language:      prefs.Language,
		Task:          task,
		WantSegments:  prefs.Timestamps,
	}

	transientBackoff := c.newBackOff(c.cfg.InitialBackoff, c.cfg.MaxBackoff)
	busyBackoff := c.newBackOff(c.cfg.BusyInitialBackoff, c.cfg.BusyMaxBackoff)
	transientFailures, busyFailures := 0, 0

	log := c.logger.With(
		zap.String("job_id", seg.JobID),
		zap.Int("segment_index", seg.Index),
		zap.String("task", string(task)),
		zap.String("backend", c.backend.Name()),
	)

	for {
		result.Attempts++
		resp, elapsed, err := c.attempt(ctx, req)
		if err == nil {
			c.recorder.RecordAttempt(c.backend.Name(), task, "", elapsed)
			result.Outcome = model.OutcomeSuccess
			result.Text = resp.Text
			result.BackendMillis = elapsed.Milliseconds()
			result.Spans = buildSpans(seg, resp, prefs.Timestamps)
			if result.Attempts > 1 {
				log.Info("segment succeeded after retry", zap.Int("attempts", result.Attempts))
			}
			return result
		}

		kind := provider.Classify(err)
		c.recorder.RecordAttempt(c.backend.Name(), task, kind, elapsed)
		result.Err = apperrors.SegmentE(kind, "transcribe", seg.Index, err)

		var wait time.Duration
		switch kind {
		case apperrors.KindBackendBusy:
			busyFailures++
			if busyFailures >= c.cfg.BusyAttempts {
				log.Warn("backend busy, giving up until manual retry",
					zap.Int("attempts", result.Attempts), zap.Error(err))
				result.Outcome = model.OutcomeNeedsManualRetry
				return result
			}
			wait = busyBackoff.NextBackOff()
		case apperrors.KindBackendTransient:
			transientFailures++
			if transientFailures >= c.cfg.TransientAttempts {
				log.Error("segment failed after retries",
					zap.Int("attempts", result.Attempts), zap.Error(err))
				result.Outcome = model.OutcomeTransientFailed
				return result
			}
			wait = transientBackoff.NextBackOff()
		default:
			log.Error("segment failed", zap.String("kind", string(kind)), zap.Error(err))
			result.Outcome = model.OutcomeFatal
			return result
		}

		log.Warn("retrying segment",
			zap.String("kind", string(kind)),
			zap.Int("attempt", result.Attempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := c.sleep(ctx, wait); err != nil {
			result.Err = apperrors.SegmentE(apperrors.KindCancelled, "transcribe", seg.Index, err)
			result.Outcome = model.OutcomeFatal
			return result
		}
	}
}

func (c *Client) attempt(ctx context.Context, req *provider.TranscriptionRequest) (*provider.TranscriptionResponse, time.Duration, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	start := c.now()
	resp, err := c.backend.TranscriptWithOptions(attemptCtx, req)
	elapsed := c.now().Sub(start)
	if err == nil && resp == nil {
		err = apperrors.E(apperrors.KindBackendMalformed, "transcribe", fmt.Errorf("%s returned no response", c.backend.Name()))
	}
	return resp, elapsed, err
}

func (c *Client) newBackOff(initial, max time.Duration) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: c.cfg.Jitter,
		Multiplier:          c.cfg.Multiplier,
		MaxInterval:         max,
	}
	b.Reset()
	return b
}

// buildSpans shifts backend sub-segment offsets onto the job timeline.
// Without sub-segments the whole text is anchored at the chunk start.
func buildSpans(seg model.Segment, resp *provider.TranscriptionResponse, want bool) []model.Span {
	if !want {
		return nil
	}
	if len(resp.Segments) == 0 {
		if resp.Text == "" {
			return nil
		}
		return []model.Span{{Start: seg.Start, End: seg.End(), Text: resp.Text}}
	}
	spans := make([]model.Span, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		if s.Text == "" {
			continue
		}
		spans = append(spans, model.Span{
			Start: seg.Start + s.Start,
			End:   seg.Start + s.End,
			Text:  s.Text,
		})
	}
	return spans
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
