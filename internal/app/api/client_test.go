package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"innervoice/internal/app/api/provider"
	apperrors "innervoice/internal/app/errors"
	"innervoice/internal/app/model"
	"innervoice/internal/app/testutil"
)

type recordedSleeps struct {
	mu     sync.Mutex
	waits  []time.Duration
	failAt int
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	if r.failAt > 0 && len(r.waits) == r.failAt {
		return context.Canceled
	}
	return nil
}

type attemptLog struct {
	kinds []apperrors.Kind
}

func (a *attemptLog) RecordAttempt(backend string, task model.Task, kind apperrors.Kind, elapsed time.Duration) {
	a.kinds = append(a.kinds, kind)
}

func noJitter() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.Jitter = 0
	return cfg
}

func newTestClient(backend provider.TranscriptionProvider, cfg RetryConfig, sleeps *recordedSleeps, opts ...ClientOption) *Client {
	opts = append(opts, WithSleep(sleeps.sleep))
	return NewClient(backend, cfg, nil, opts...)
}

func testSegment(t *testing.T, index int, start float64) model.Segment {
	t.Helper()
	paths := testutil.WriteChunks(t, t.TempDir(), 1)
	return model.Segment{JobID: "job-1", Index: index, Path: paths[0], Start: start, Duration: 30}
}

func TestClient_SuccessFirstAttempt(t *testing.T) {
	backend := testutil.NewMockProvider().Then(testutil.Text("hello there"))
	sleeps := &recordedSleeps{}
	rec := &attemptLog{}
	c := newTestClient(backend, noJitter(), sleeps, WithRecorder(rec))

	res := c.Transcribe(context.Background(), testSegment(t, 0, 0), model.TaskTranscribe, model.Preferences{Language: "ru"})

	assert.Equal(t, model.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "hello there", res.Text)
	assert.Equal(t, 1, res.Attempts)
	assert.NoError(t, res.Err)
	assert.Empty(t, sleeps.waits)
	assert.Equal(t, []apperrors.Kind{""}, rec.kinds)

	calls := backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ru", calls[0].Language)
	assert.Equal(t, model.TaskTranscribe, calls[0].Task)
	assert.False(t, calls[0].WantSegments)
}

func TestClient_BusyThenSuccessWithinCeiling(t *testing.T) {
	backend := testutil.NewMockProvider().
		Then(testutil.Repeat(testutil.Fail(testutil.BusyError()), 3)...).
		Then(testutil.Text("recovered text"))
	sleeps := &recordedSleeps{}
	c := newTestClient(backend, noJitter(), sleeps)

	res := c.Transcribe(context.Background(), testSegment(t, 2, 60), model.TaskTranslate, model.Preferences{})

	assert.Equal(t, model.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "recovered text", res.Text)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}, sleeps.waits)
}

func TestClient_BusyExhaustedNeedsManualRetry(t *testing.T) {
	backend := testutil.NewMockProvider().
		Then(testutil.Repeat(testutil.Fail(testutil.BusyError()), 10)...)
	sleeps := &recordedSleeps{}
	c := newTestClient(backend, noJitter(), sleeps)

	res := c.Transcribe(context.Background(), testSegment(t, 0, 0), model.TaskTranslate, model.Preferences{})

	assert.Equal(t, model.OutcomeNeedsManualRetry, res.Outcome)
	assert.Empty(t, res.Text)
	assert.Equal(t, 5, res.Attempts)
	assert.Equal(t, 5, backend.CallCount())
	assert.True(t, errors.Is(res.Err, apperrors.ErrBackendBusy))
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second}, sleeps.waits)
}

func TestClient_BusyBackoffIsCapped(t *testing.T) {
	cfg := noJitter()
	cfg.BusyAttempts = 7
	backend := testutil.NewMockProvider().
		Then(testutil.Repeat(testutil.Fail(testutil.BusyError()), 7)...)
	sleeps := &recordedSleeps{}
	c := newTestClient(backend, cfg, sleeps)

	c.Transcribe(context.Background(), testSegment(t, 0, 0), model.TaskTranscribe, model.Preferences{})

	require.Len(t, sleeps.waits, 6)
	assert.Equal(t, 60*time.Second, sleeps.waits[4])
	assert.Equal(t, 60*time.Second, sleeps.waits[5])
}

func TestClient_TransientExhaustedDegrades(t *testing.T) {
	backend := testutil.NewMockProvider().
		Then(testutil.Repeat(testutil.Fail(testutil.TransientError()), 5)...)
	sleeps := &recordedSleeps{}
	rec := &attemptLog{}
	c := newTestClient(backend, noJitter(), sleeps, WithRecorder(rec))

	seg := testSegment(t, 1, 30)
	res := c.Transcribe(context.Background(), seg, model.TaskTranscribe, model.Preferences{})

	assert.Equal(t, model.OutcomeTransientFailed, res.Outcome)
	assert.True(t, res.Failed())
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, sleeps.waits)
	assert.Equal(t, 30.0, res.StartOffset)
	assert.Equal(t, 60.0, res.EndOffset)

	var pe *apperrors.PipelineError
	require.True(t, errors.As(res.Err, &pe))
	assert.Equal(t, 1, pe.Segment)
	assert.Len(t, rec.kinds, 3)
}

func TestClient_UnknownErrorsAreTransient(t *testing.T) {
	backend := testutil.NewMockProvider().
		Then(testutil.Fail(errors.New("connection reset by peer"))).
		Then(testutil.Text("ok"))
	sleeps := &recordedSleeps{}
	c := newTestClient(backend, noJitter(), sleeps)

	res := c.Transcribe(context.Background(), testSegment(t, 0, 0), model.TaskTranscribe, model.Preferences{})

	assert.Equal(t, model.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 2, res.Attempts)
}

func TestClient_MalformedIsFatalForSegment(t *testing.T) {
	backend := testutil.NewMockProvider().
		Then(testutil.Fail(testutil.MalformedError())).
		Then(testutil.Text("never reached"))
	sleeps := &recordedSleeps{}
	c := newTestClient(backend, noJitter(), sleeps)

	res := c.Transcribe(context.Background(), testSegment(t, 0, 0), model.TaskTranscribe, model.Preferences{})

	assert.Equal(t, model.OutcomeFatal, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, sleeps.waits)
	assert.True(t, errors.Is(res.Err, apperrors.ErrBackendMalformed))
}

func TestClient_MixedFailuresUseSeparateCeilings(t *testing.T) {
	backend := testutil.NewMockProvider().
		Then(
			testutil.Fail(testutil.TransientError()),
			testutil.Fail(testutil.BusyError()),
			testutil.Fail(testutil.TransientError()),
			testutil.Fail(testutil.BusyError()),
			testutil.Text("finally"),
		)
	sleeps := &recordedSleeps{}
	c := newTestClient(backend, noJitter(), sleeps)

	res := c.Transcribe(context.Background(), testSegment(t, 0, 0), model.TaskTranscribe, model.Preferences{})

	assert.Equal(t, model.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 5, res.Attempts)
	assert.Equal(t, []time.Duration{1 * time.Second, 5 * time.Second, 2 * time.Second, 10 * time.Second}, sleeps.waits)
}

func TestClient_ShutdownDuringBackoff(t *testing.T) {
	backend := testutil.NewMockProvider().
		Then(testutil.Repeat(testutil.Fail(testutil.TransientError()), 3)...)
	sleeps := &recordedSleeps{failAt: 1}
	c := newTestClient(backend, noJitter(), sleeps)

	res := c.Transcribe(context.Background(), testSegment(t, 0, 0), model.TaskTranscribe, model.Preferences{})

	assert.Equal(t, model.OutcomeFatal, res.Outcome)
	assert.True(t, errors.Is(res.Err, apperrors.ErrCancelled))
	assert.Equal(t, 1, backend.CallCount())
}

func TestClient_TimestampSpansAreJobRelative(t *testing.T) {
	backend := testutil.NewMockProvider().Then(testutil.Step{Response: &provider.TranscriptionResponse{
		Text: "first second",
		Segments: []provider.TranscriptionSegment{
			{ID: 0, Text: "first", Start: 0, End: 4.5},
			{ID: 1, Text: "", Start: 4.5, End: 5},
			{ID: 2, Text: "second", Start: 5, End: 12},
		},
	}})
	c := newTestClient(backend, noJitter(), &recordedSleeps{})

	res := c.Transcribe(context.Background(), testSegment(t, 3, 90), model.TaskTranscribe, model.Preferences{Timestamps: true})

	require.Len(t, res.Spans, 2)
	assert.Equal(t, model.Span{Start: 90, End: 94.5, Text: "first"}, res.Spans[0])
	assert.Equal(t, model.Span{Start: 95, End: 102, Text: "second"}, res.Spans[1])
	assert.True(t, backend.Calls()[0].WantSegments)
}

func TestClient_TimestampsWithoutSubSegmentsAnchorAtChunkStart(t *testing.T) {
	backend := testutil.NewMockProvider().Then(testutil.Text("whole chunk"))
	c := newTestClient(backend, noJitter(), &recordedSleeps{})

	res := c.Transcribe(context.Background(), testSegment(t, 1, 30), model.TaskTranscribe, model.Preferences{Timestamps: true})

	require.Len(t, res.Spans, 1)
	assert.Equal(t, 30.0, res.Spans[0].Start)
	assert.Equal(t, "whole chunk", res.Spans[0].Text)
}

func TestClient_BackendMillisFromClock(t *testing.T) {
	clock := testutil.NewFakeClock()
	backend := testutil.NewMockProvider().Then(testutil.Text("timed"))
	backend.OnCall = func(*provider.TranscriptionRequest) { clock.Advance(1500 * time.Millisecond) }
	c := newTestClient(backend, noJitter(), &recordedSleeps{}, WithClock(clock.Now))

	res := c.Transcribe(context.Background(), testSegment(t, 0, 0), model.TaskTranscribe, model.Preferences{})
	assert.Equal(t, int64(1500), res.BackendMillis)
}

func TestClient_NilResponseIsMalformed(t *testing.T) {
	backend := testutil.NewMockProvider().Then(testutil.Step{})
	c := newTestClient(backend, noJitter(), &recordedSleeps{})

	res := c.Transcribe(context.Background(), testSegment(t, 0, 0), model.TaskTranscribe, model.Preferences{})
	assert.Equal(t, model.OutcomeFatal, res.Outcome)
}

func TestClient_ExpectationsViaTestifyMock(t *testing.T) {
	backend := testutil.NewMockProvider()
	backend.ExpectTranscript(&provider.TranscriptionResponse{Text: "from mock"}, nil).Once()
	c := newTestClient(backend, noJitter(), &recordedSleeps{})

	res := c.Transcribe(context.Background(), testSegment(t, 0, 0), model.TaskTranscribe, model.Preferences{})
	assert.Equal(t, "from mock", res.Text)
	backend.AssertExpectations(t)
}

func TestRetryConfig_Defaults(t *testing.T) {
	cfg := RetryConfig{Jitter: 3}.withDefaults()
	assert.Equal(t, 3, cfg.TransientAttempts)
	assert.Equal(t, 5, cfg.BusyAttempts)
	assert.Equal(t, time.Second, cfg.InitialBackoff)
	assert.Equal(t, 8*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 10*time.Minute, cfg.AttemptTimeout)
	assert.Zero(t, cfg.Jitter)
}

func TestClient_Health(t *testing.T) {
	backend := testutil.NewMockProvider()
	backend.Health = &provider.HealthStatus{Status: "healthy", VRAMUsedMB: 3000, VRAMTotalMB: 8000}
	c := newTestClient(backend, noJitter(), &recordedSleeps{})

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, h.HasVRAM())
	assert.Equal(t, "mock", c.Backend())
}
