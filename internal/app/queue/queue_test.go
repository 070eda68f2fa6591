package queue

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"innervoice/internal/app/converter"
	"innervoice/internal/app/dedup"
	apperrors "innervoice/internal/app/errors"
	"innervoice/internal/app/model"
	"innervoice/internal/app/progress"
	"innervoice/internal/app/testutil"
)

type fakeRunner struct {
	mu        sync.Mutex
	seen      []model.AudioJob
	active    int32
	maxActive int32
	convert   func(ctx context.Context, job model.AudioJob, hooks converter.Hooks) model.Report
}

func (r *fakeRunner) Convert(ctx context.Context, job model.AudioJob, hooks converter.Hooks) model.Report {
	cur := atomic.AddInt32(&r.active, 1)
	defer atomic.AddInt32(&r.active, -1)
	for {
		old := atomic.LoadInt32(&r.maxActive)
		if cur <= old || atomic.CompareAndSwapInt32(&r.maxActive, old, cur) {
			break
		}
	}

	r.mu.Lock()
	r.seen = append(r.seen, job)
	r.mu.Unlock()

	if r.convert != nil {
		return r.convert(ctx, job, hooks)
	}
	return model.Report{JobID: job.ID, OwnerID: job.OwnerID, Status: model.JobStatusCompleted}
}

func (r *fakeRunner) jobs() []model.AudioJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.AudioJob(nil), r.seen...)
}

type countingRecorder struct {
	mu         sync.Mutex
	statuses   []model.JobStatus
	duplicates int
	depth      int
	retries    int
}

func (r *countingRecorder) RecordJob(status model.JobStatus, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *countingRecorder) SetQueueDepth(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.depth = n
}

func (r *countingRecorder) RecordDuplicate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.duplicates++
}

func (r *countingRecorder) SetPendingRetries(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries = n
}

func sequentialIDs() Option {
	var n int64
	return WithIDGenerator(func() string {
		return fmt.Sprintf("job-%d", atomic.AddInt64(&n, 1))
	})
}

func pathFingerprint() Option {
	return WithFingerprint(func(path string) (string, error) {
		return "fp:" + path, nil
	})
}

// newTestQueue returns a queue whose completion reports arrive on the channel.
func newTestQueue(t *testing.T, cfg Config, runner JobRunner, opts ...Option) (*Queue, <-chan model.Report) {
	t.Helper()
	reports := make(chan model.Report, 16)
	all := append([]Option{sequentialIDs(), pathFingerprint()}, opts...)
	all = append(all, WithCompletion(func(r model.Report) { reports <- r }))
	return New(cfg, runner, nil, dedup.NewMemoryGuard(dedup.DefaultWindow), nil, all...), reports
}

func startWorker(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitReport(t *testing.T, reports <-chan model.Report) model.Report {
	t.Helper()
	select {
	case r := <-reports:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a job report")
		return model.Report{}
	}
}

func prefs() model.Preferences {
	return model.DefaultPreferences()
}

func TestQueue_ProcessesInSubmissionOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		log []string
	)
	note := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		log = append(log, s)
	}

	runner := &fakeRunner{convert: func(_ context.Context, job model.AudioJob, _ converter.Hooks) model.Report {
		note("start:" + job.ID)
		time.Sleep(5 * time.Millisecond)
		return model.Report{JobID: job.ID, OwnerID: job.OwnerID, Status: model.JobStatusCompleted}
	}}
	q, reports := newTestQueue(t, Config{}, runner, WithCompletion(func(r model.Report) { note("end:" + r.JobID) }))

	ctx := context.Background()
	for _, name := range []string{"a.wav", "b.wav", "c.wav"} {
		_, err := q.Submit(ctx, "owner", name, prefs())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, q.Depth())

	startWorker(t, q)
	for i := 1; i <= 3; i++ {
		r := waitReport(t, reports)
		assert.Equal(t, fmt.Sprintf("job-%d", i), r.JobID)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.maxActive))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"start:job-1", "end:job-1",
		"start:job-2", "end:job-2",
		"start:job-3", "end:job-3",
	}, log)
}

func TestQueue_WorkerSurvivesPanic(t *testing.T) {
	runner := &fakeRunner{convert: func(_ context.Context, job model.AudioJob, _ converter.Hooks) model.Report {
		if job.ID == "job-1" {
			panic("decoder exploded")
		}
		return model.Report{JobID: job.ID, OwnerID: job.OwnerID, Status: model.JobStatusCompleted}
	}}
	q, reports := newTestQueue(t, Config{}, runner)
	startWorker(t, q)

	ctx := context.Background()
	_, err := q.Submit(ctx, "owner", "a.wav", prefs())
	require.NoError(t, err)
	_, err = q.Submit(ctx, "owner", "b.wav", prefs())
	require.NoError(t, err)

	first := waitReport(t, reports)
	assert.Equal(t, "job-1", first.JobID)
	assert.Equal(t, model.JobStatusFailed, first.Status)
	assert.Equal(t, apperrors.KindUnknown, apperrors.KindOf(first.Err))
	assert.Contains(t, first.Error, "decoder exploded")

	second := waitReport(t, reports)
	assert.Equal(t, "job-2", second.JobID)
	assert.Equal(t, model.JobStatusCompleted, second.Status)
}

func TestQueue_CompletionCallbackPanicDoesNotStopQueue(t *testing.T) {
	q, reports := newTestQueue(t, Config{}, &fakeRunner{},
		WithCompletion(func(model.Report) { panic("bad callback") }))
	startWorker(t, q)

	ctx := context.Background()
	_, err := q.Submit(ctx, "owner", "a.wav", prefs())
	require.NoError(t, err)
	_, err = q.Submit(ctx, "owner", "b.wav", prefs())
	require.NoError(t, err)

	assert.Equal(t, "job-1", waitReport(t, reports).JobID)
	assert.Equal(t, "job-2", waitReport(t, reports).JobID)
}

func TestQueue_ProgressListenerPanicDoesNotFailJob(t *testing.T) {
	runner := &fakeRunner{convert: func(_ context.Context, job model.AudioJob, hooks converter.Hooks) model.Report {
		hooks.OnProgress(progress.Snapshot{JobID: job.ID, SegmentsDone: 1, SegmentsTotal: 2, Percent: 50})
		hooks.OnProgress(progress.Snapshot{JobID: job.ID, SegmentsDone: 2, SegmentsTotal: 2, Percent: 100})
		return model.Report{JobID: job.ID, OwnerID: job.OwnerID, Status: model.JobStatusCompleted}
	}}
	var seen atomic.Int32
	q, reports := newTestQueue(t, Config{}, runner,
		WithProgressListener(func(model.AudioJob, progress.Snapshot) { panic("display glitch") }),
		WithProgressListener(func(model.AudioJob, progress.Snapshot) { seen.Add(1) }))
	startWorker(t, q)

	_, err := q.Submit(context.Background(), "owner", "a.wav", prefs())
	require.NoError(t, err)

	r := waitReport(t, reports)
	assert.Equal(t, model.JobStatusCompleted, r.Status)
	assert.NoError(t, r.Err)
	assert.Equal(t, int32(2), seen.Load())
}

func TestQueue_DuplicateSuppression(t *testing.T) {
	clock := testutil.NewFakeClock()
	rec := &countingRecorder{}
	q, _ := newTestQueue(t, Config{}, &fakeRunner{}, WithClock(clock.Now), WithRecorder(rec))
	ctx := context.Background()

	_, err := q.Submit(ctx, "alice", "voice.ogg", prefs())
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	_, err = q.Submit(ctx, "bob", "voice.ogg", prefs())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindDuplicateSuppressed, apperrors.KindOf(err))

	_, err = q.Submit(ctx, "bob", "other.ogg", prefs())
	require.NoError(t, err)

	clock.Advance(31 * time.Second)
	_, err = q.Submit(ctx, "bob", "voice.ogg", prefs())
	require.NoError(t, err)

	assert.Equal(t, 3, q.Depth())
	assert.Equal(t, 1, rec.duplicates)
	assert.Equal(t, 3, rec.depth)

	var dup int
	for _, ev := range q.Events().Since(0) {
		if ev.Type == EventDuplicate {
			dup++
			assert.Equal(t, "bob", ev.OwnerID)
		}
	}
	assert.Equal(t, 1, dup)
}

func TestQueue_SubmitFingerprintFailure(t *testing.T) {
	q, _ := newTestQueue(t, Config{}, &fakeRunner{}, WithFingerprint(func(string) (string, error) {
		return "", os.ErrNotExist
	}))

	_, err := q.Submit(context.Background(), "owner", "missing.wav", prefs())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindIO, apperrors.KindOf(err))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, 0, q.Depth())
}

func TestQueue_SubmitValidatesPreferences(t *testing.T) {
	runner := &fakeRunner{}
	q, reports := newTestQueue(t, Config{}, runner)
	ctx := context.Background()

	_, err := q.Submit(ctx, "owner", "a.wav", model.Preferences{Mode: "karaoke"})
	require.Error(t, err)
	var verrs validator.ValidationErrors
	assert.True(t, stderrors.As(err, &verrs))

	_, err = q.Submit(ctx, "owner", "b.wav", model.Preferences{Language: "ru"})
	require.NoError(t, err)

	startWorker(t, q)
	waitReport(t, reports)
	jobs := runner.jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, model.ModeTranslationOnly, jobs[0].Preferences.Mode)
	assert.Equal(t, "ru", jobs[0].Preferences.Language)
	assert.Equal(t, 1, jobs[0].Attempt)
}

func TestQueue_CancelQueuedJob(t *testing.T) {
	runner := &fakeRunner{}
	q, reports := newTestQueue(t, Config{}, runner)
	ctx := context.Background()

	first, err := q.Submit(ctx, "owner", "a.wav", prefs())
	require.NoError(t, err)
	_, err = q.Submit(ctx, "owner", "b.wav", prefs())
	require.NoError(t, err)
	require.NoError(t, q.Cancel(first))

	startWorker(t, q)

	r := waitReport(t, reports)
	assert.Equal(t, first, r.JobID)
	assert.Equal(t, model.JobStatusCancelled, r.Status)
	assert.Equal(t, apperrors.KindCancelled, apperrors.KindOf(r.Err))

	r = waitReport(t, reports)
	assert.Equal(t, model.JobStatusCompleted, r.Status)

	jobs := runner.jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-2", jobs[0].ID)
}

func TestQueue_CancelRunningJob(t *testing.T) {
	started := make(chan struct{})
	runner := &fakeRunner{convert: func(_ context.Context, job model.AudioJob, hooks converter.Hooks) model.Report {
		close(started)
		deadline := time.Now().Add(5 * time.Second)
		for !hooks.Cancelled() && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		return model.Report{JobID: job.ID, OwnerID: job.OwnerID, Status: model.JobStatusCancelled}
	}}
	q, reports := newTestQueue(t, Config{}, runner)
	startWorker(t, q)

	id, err := q.Submit(context.Background(), "owner", "a.wav", prefs())
	require.NoError(t, err)
	<-started
	require.NoError(t, q.Cancel(id))

	r := waitReport(t, reports)
	assert.Equal(t, model.JobStatusCancelled, r.Status)

	err = q.Cancel(id)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestQueue_ManualRetry(t *testing.T) {
	clock := testutil.NewFakeClock()
	runner := &fakeRunner{convert: func(_ context.Context, job model.AudioJob, _ converter.Hooks) model.Report {
		if job.Attempt == 1 {
			return model.Report{
				JobID:            job.ID,
				OwnerID:          job.OwnerID,
				Status:           model.JobStatusPartialFailure,
				FailedSegments:   []int{1},
				BusySegments:     []int{1},
				NeedsManualRetry: true,
			}
		}
		return model.Report{JobID: job.ID, OwnerID: job.OwnerID, Status: model.JobStatusCompleted}
	}}
	q, reports := newTestQueue(t, Config{}, runner, WithClock(clock.Now))
	startWorker(t, q)
	ctx := context.Background()

	_, err := q.Submit(ctx, "alice", "voice.ogg", prefs())
	require.NoError(t, err)
	r := waitReport(t, reports)
	assert.True(t, r.NeedsManualRetry)

	parked, ok := q.PendingRetry("alice")
	require.True(t, ok)
	assert.Equal(t, "voice.ogg", parked.SourcePath)

	// still inside the duplicate window
	retryID, err := q.Retry(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "job-2", retryID)

	r = waitReport(t, reports)
	assert.Equal(t, model.JobStatusCompleted, r.Status)

	jobs := runner.jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, 2, jobs[1].Attempt)
	assert.Equal(t, jobs[0].Fingerprint, jobs[1].Fingerprint)

	_, ok = q.PendingRetry("alice")
	assert.False(t, ok)
	_, err = q.Retry(ctx, "alice")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	var retryEvents []Event
	for _, ev := range q.Events().Since(0) {
		if ev.Type == EventRetry {
			retryEvents = append(retryEvents, ev)
		}
	}
	require.Len(t, retryEvents, 1)
	assert.Equal(t, []int{1}, retryEvents[0].FailedSegments)
}

func busyRunner() *fakeRunner {
	return &fakeRunner{convert: func(_ context.Context, job model.AudioJob, _ converter.Hooks) model.Report {
		return model.Report{
			JobID:            job.ID,
			OwnerID:          job.OwnerID,
			Status:           model.JobStatusPartialFailure,
			BusySegments:     []int{0},
			NeedsManualRetry: true,
		}
	}}
}

func TestQueue_RetryExpiresAfterTTL(t *testing.T) {
	dir := t.TempDir()
	src := testutil.WriteAudioFile(t, dir, "voice.ogg", []byte("audio"))
	clock := testutil.NewFakeClock()

	q, reports := newTestQueue(t, Config{RetryTTL: 10 * time.Minute}, busyRunner(), WithClock(clock.Now))
	startWorker(t, q)

	_, err := q.Submit(context.Background(), "alice", src, prefs())
	require.NoError(t, err)
	waitReport(t, reports)
	assert.FileExists(t, src)

	clock.Advance(10 * time.Minute)
	_, err = q.Retry(context.Background(), "alice")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
	assert.NoFileExists(t, src)
}

func TestQueue_RetryEntryReplacedPerOwner(t *testing.T) {
	dir := t.TempDir()
	first := testutil.WriteAudioFile(t, dir, "first.ogg", []byte("one"))
	second := testutil.WriteAudioFile(t, dir, "second.ogg", []byte("two"))
	rec := &countingRecorder{}

	q, reports := newTestQueue(t, Config{}, busyRunner(), WithRecorder(rec))
	startWorker(t, q)
	ctx := context.Background()

	_, err := q.Submit(ctx, "alice", first, prefs())
	require.NoError(t, err)
	waitReport(t, reports)
	_, err = q.Submit(ctx, "alice", second, prefs())
	require.NoError(t, err)
	waitReport(t, reports)

	parked, ok := q.PendingRetry("alice")
	require.True(t, ok)
	assert.Equal(t, second, parked.SourcePath)
	assert.NoFileExists(t, first)
	assert.FileExists(t, second)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.retries)
	assert.Equal(t, []model.JobStatus{model.JobStatusPartialFailure, model.JobStatusPartialFailure}, rec.statuses)
}

func TestQueue_SourceCleanup(t *testing.T) {
	t.Run("removed after job", func(t *testing.T) {
		src := testutil.WriteAudioFile(t, t.TempDir(), "a.wav", []byte("x"))
		q, reports := newTestQueue(t, Config{}, &fakeRunner{})
		startWorker(t, q)

		_, err := q.Submit(context.Background(), "owner", src, prefs())
		require.NoError(t, err)
		waitReport(t, reports)
		assert.NoFileExists(t, src)
	})

	t.Run("kept when configured", func(t *testing.T) {
		src := testutil.WriteAudioFile(t, t.TempDir(), "a.wav", []byte("x"))
		q, reports := newTestQueue(t, Config{KeepSources: true}, &fakeRunner{})
		startWorker(t, q)

		_, err := q.Submit(context.Background(), "owner", src, prefs())
		require.NoError(t, err)
		waitReport(t, reports)
		assert.FileExists(t, src)
	})

	t.Run("missing source is not an error", func(t *testing.T) {
		q, reports := newTestQueue(t, Config{}, &fakeRunner{})
		startWorker(t, q)

		_, err := q.Submit(context.Background(), "owner", filepath.Join(t.TempDir(), "gone.wav"), prefs())
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, waitReport(t, reports).Status)
	})
}

func TestQueue_QueryProgress(t *testing.T) {
	tracker := progress.NewTracker(progress.DefaultConfig(), nil)
	started := make(chan struct{})
	release := make(chan struct{})
	runner := &fakeRunner{convert: func(_ context.Context, job model.AudioJob, _ converter.Hooks) model.Report {
		tracker.Start(job.ID, 4)
		tracker.OnSegmentStart(job.ID, 0)
		tracker.OnSegmentDone(job.ID)
		if job.ID == "job-1" {
			close(started)
			<-release
		}
		tracker.Finish(job.ID)
		return model.Report{JobID: job.ID, OwnerID: job.OwnerID, Status: model.JobStatusCompleted}
	}}

	reports := make(chan model.Report, 4)
	q := New(Config{}, runner, tracker, nil, nil, sequentialIDs(), pathFingerprint(),
		WithCompletion(func(r model.Report) { reports <- r }))
	ctx := context.Background()

	_, err := q.QueryProgress("nope")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	first, err := q.Submit(ctx, "owner", "a.wav", prefs())
	require.NoError(t, err)
	second, err := q.Submit(ctx, "owner", "b.wav", prefs())
	require.NoError(t, err)

	p, err := q.QueryProgress(second)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, p.Status)
	assert.Equal(t, 2, p.Position)
	assert.Nil(t, p.Snapshot)

	startWorker(t, q)
	<-started

	p, err = q.QueryProgress(first)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, p.Status)
	assert.Equal(t, 0, p.Position)
	require.NotNil(t, p.Snapshot)
	assert.Equal(t, 1, p.Snapshot.SegmentsDone)
	assert.Equal(t, 4, p.Snapshot.SegmentsTotal)

	p, err = q.QueryProgress(second)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Position)

	close(release)
	waitReport(t, reports)
	waitReport(t, reports)

	_, err = q.QueryProgress(first)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestQueue_ProgressListener(t *testing.T) {
	runner := &fakeRunner{convert: func(_ context.Context, job model.AudioJob, hooks converter.Hooks) model.Report {
		hooks.OnProgress(progress.Snapshot{JobID: job.ID, SegmentsDone: 1, SegmentsTotal: 2, Percent: 50})
		return model.Report{JobID: job.ID, OwnerID: job.OwnerID, Status: model.JobStatusCompleted}
	}}

	var got []progress.Snapshot
	var mu sync.Mutex
	q, reports := newTestQueue(t, Config{}, runner, WithProgressListener(func(_ model.AudioJob, s progress.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, s)
	}))
	startWorker(t, q)

	_, err := q.Submit(context.Background(), "owner", "a.wav", prefs())
	require.NoError(t, err)
	waitReport(t, reports)

	mu.Lock()
	require.Len(t, got, 1)
	assert.Equal(t, 50.0, got[0].Percent)
	mu.Unlock()

	var types []EventType
	for _, ev := range q.Events().Since(0) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []EventType{EventQueued, EventStarted, EventProgress, EventCompleted}, types)
}

func TestQueue_SingleWorker(t *testing.T) {
	q, _ := newTestQueue(t, Config{}, &fakeRunner{})
	startWorker(t, q)

	require.Eventually(t, q.running.Load, time.Second, time.Millisecond)
	assert.ErrorIs(t, q.Run(context.Background()), ErrWorkerRunning)
}

func TestQueue_ListenersRegisteredAfterStart(t *testing.T) {
	runner := &fakeRunner{convert: func(_ context.Context, job model.AudioJob, hooks converter.Hooks) model.Report {
		hooks.OnProgress(progress.Snapshot{JobID: job.ID, SegmentsDone: 1, SegmentsTotal: 1, Percent: 100})
		return model.Report{JobID: job.ID, OwnerID: job.OwnerID, Status: model.JobStatusCompleted}
	}}
	q := New(Config{}, runner, nil, nil, nil, sequentialIDs(), pathFingerprint())
	startWorker(t, q)

	reports := make(chan model.Report, 1)
	var percent atomic.Value
	q.OnProgress(func(_ model.AudioJob, s progress.Snapshot) { percent.Store(s.Percent) })
	q.OnCompletion(func(r model.Report) { reports <- r })

	_, err := q.Submit(context.Background(), "owner", "a.wav", prefs())
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, waitReport(t, reports).Status)
	assert.Equal(t, 100.0, percent.Load())
}
