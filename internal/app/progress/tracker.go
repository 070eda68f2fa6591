package progress

import (
	"strings"
	"sync"
	"time"

	apperrors "innervoice/internal/app/errors"
)

// Config controls ETA smoothing and the default emission cadence.
type Config struct {
	// ETAWindow is how many recent segment durations the moving average uses.
	ETAWindow int `yaml:"eta_window"`
	// EveryThreshold: jobs with at most this many segments emit after every segment.
	EveryThreshold int `yaml:"every_threshold"`
	// LongJobStride is the emission stride for longer jobs.
	LongJobStride int `yaml:"long_job_stride"`
}

// DefaultConfig returns a window of 5, and per-segment emission up to 5 segments.
func DefaultConfig() Config {
	return Config{ETAWindow: 5, EveryThreshold: 5, LongJobStride: 2}
}

// Snapshot is a read-only view of one job's progress.
type Snapshot struct {
	JobID         string `json:"job_id"`
	SegmentsDone  int    `json:"segments_done"`
	SegmentsTotal int    `json:"segments_total"`
	// CurrentIndex is the segment in flight, -1 between segments.
	CurrentIndex int           `json:"current_index"`
	Percent      float64       `json:"percent"`
	Elapsed      time.Duration `json:"elapsed"`
	ETA          time.Duration `json:"eta"`
	// ETAKnown is false until at least one segment has completed.
	ETAKnown     bool      `json:"eta_known"`
	StartedAt    time.Time `json:"started_at"`
	LastUpdateAt time.Time `json:"last_update_at"`
}

type jobProgress struct {
	total        int
	done         int
	current      int
	startedAt    time.Time
	lastUpdateAt time.Time
	segmentStart time.Time
	durations    []time.Duration
}

// Tracker holds the progress of in-flight jobs.
// Only the worker mutates an entry; any goroutine may take snapshots.
type Tracker struct {
	cfg  Config
	now  func() time.Time
	mu   sync.RWMutex
	jobs map[string]*jobProgress
}

// NewTracker creates a Tracker. A nil clock means time.Now.
func NewTracker(cfg Config, now func() time.Time) *Tracker {
	def := DefaultConfig()
	if cfg.ETAWindow <= 0 {
		cfg.ETAWindow = def.ETAWindow
	}
	if cfg.EveryThreshold <= 0 {
		cfg.EveryThreshold = def.EveryThreshold
	}
	if cfg.LongJobStride <= 0 {
		cfg.LongJobStride = def.LongJobStride
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{cfg: cfg, now: now, jobs: make(map[string]*jobProgress)}
}

// Start registers a job with its segment total.
func (t *Tracker) Start(jobID string, total int) {
	if total < 1 {
		total = 1
	}
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[jobID] = &jobProgress{
		total:        total,
		current:      -1,
		startedAt:    now,
		lastUpdateAt: now,
	}
}

// OnSegmentStart marks segment index as in flight.
func (t *Tracker) OnSegmentStart(jobID string, index int) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.jobs[jobID]
	if !ok {
		return
	}
	p.current = index
	p.segmentStart = now
	p.lastUpdateAt = now
}

// OnSegmentDone counts one finished segment, failed or not.
// segments_done never exceeds segments_total.
func (t *Tracker) OnSegmentDone(jobID string) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.jobs[jobID]
	if !ok {
		return
	}
	if p.done < p.total {
		p.done++
	}
	if !p.segmentStart.IsZero() {
		p.durations = append(p.durations, now.Sub(p.segmentStart))
		if len(p.durations) > t.cfg.ETAWindow {
			p.durations = p.durations[len(p.durations)-t.cfg.ETAWindow:]
		}
	}
	p.current = -1
	p.segmentStart = time.Time{}
	p.lastUpdateAt = now
}

// Snapshot reports the job's current truth.
func (t *Tracker) Snapshot(jobID string) (Snapshot, error) {
	now := t.now()
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.jobs[jobID]
	if !ok {
		return Snapshot{}, apperrors.NotFound("job", jobID)
	}

	s := Snapshot{
		JobID:         jobID,
		SegmentsDone:  p.done,
		SegmentsTotal: p.total,
		CurrentIndex:  p.current,
		Percent:       float64(p.done) / float64(p.total) * 100,
		Elapsed:       now.Sub(p.startedAt),
		StartedAt:     p.startedAt,
		LastUpdateAt:  p.lastUpdateAt,
	}
	if len(p.durations) > 0 {
		var sum time.Duration
		for _, d := range p.durations {
			sum += d
		}
		avg := sum / time.Duration(len(p.durations))
		s.ETA = avg * time.Duration(p.total-p.done)
		s.ETAKnown = true
	}
	return s, nil
}

// Finish drops the job's progress once it reached a terminal state.
func (t *Tracker) Finish(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, jobID)
}

// Active returns the number of tracked jobs.
func (t *Tracker) Active() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.jobs)
}

// ShouldEmit is the default caller cadence: every segment for short jobs,
// every LongJobStride-th segment for long ones, and always the last.
func (t *Tracker) ShouldEmit(done, total int) bool {
	if done <= 0 {
		return false
	}
	if total <= t.cfg.EveryThreshold || done >= total {
		return true
	}
	return done%t.cfg.LongJobStride == 0
}

// TextBar renders a 10 cell bar such as "▓▓▓░░░░░░░".
func TextBar(percent float64) string {
	const cells = 10
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * cells)
	return strings.Repeat("▓", filled) + strings.Repeat("░", cells-filled)
}
