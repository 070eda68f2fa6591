package progress

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

type BarConfig struct {
	Enabled bool
	Writer  io.Writer
}

// BarManager renders terminal bars fed from tracker snapshots.
type BarManager struct {
	container *mpb.Progress
	enabled   bool
	mu        sync.Mutex
}

type Bar struct {
	bar     *mpb.Bar
	enabled bool
}

func NewBarManager(config BarConfig) *BarManager {
	if !config.Enabled {
		return &BarManager{enabled: false}
	}

	writer := config.Writer
	if writer == nil {
		writer = os.Stderr
	}

	container := mpb.New(
		mpb.WithOutput(writer),
		mpb.WithRefreshRate(120*time.Millisecond),
		mpb.WithWaitGroup(&sync.WaitGroup{}),
	)

	return &BarManager{
		container: container,
		enabled:   true,
	}
}

func (bm *BarManager) CreateBar(total int, description string) *Bar {
	if !bm.enabled || bm.container == nil {
		return &Bar{enabled: false}
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()

	bar := bm.container.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name(description+" ", decor.WC{W: len(description) + 1, C: decor.DindentRight}),
			decor.CountersNoUnit("(%d/%d)", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.NewPercentage("%.1f", decor.WCSyncSpace),
			decor.OnComplete(
				decor.EwmaETA(decor.ET_STYLE_GO, 5, decor.WCSyncWidth), " ✓ ",
			),
		),
	)

	return &Bar{
		bar:     bar,
		enabled: true,
	}
}

// Update moves the bar to the snapshot's position.
func (b *Bar) Update(s Snapshot) {
	if !b.enabled || b.bar == nil {
		return
	}
	b.bar.SetTotal(int64(s.SegmentsTotal), false)
	delta := int64(s.SegmentsDone) - b.bar.Current()
	if delta > 0 {
		b.bar.EwmaIncrInt64(delta, s.Elapsed/time.Duration(max(s.SegmentsDone, 1)))
	}
}

func (b *Bar) Complete() {
	if b.enabled && b.bar != nil {
		b.bar.SetTotal(b.bar.Current(), true)
	}
}

// Abort removes the bar, used for failed or cancelled jobs.
func (b *Bar) Abort() {
	if b.enabled && b.bar != nil {
		b.bar.Abort(false)
	}
}

func (bm *BarManager) Wait() {
	if bm.enabled && bm.container != nil {
		bm.container.Wait()
	}
}

func (bm *BarManager) Shutdown() {
	if bm.enabled && bm.container != nil {
		bm.container.Shutdown()
	}
}

func IsTTY(writer io.Writer) bool {
	if writer == nil {
		return false
	}

	if file, ok := writer.(*os.File); ok {
		stat, err := file.Stat()
		if err != nil {
			return false
		}
		return (stat.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

func ShouldShowProgress(forced bool) bool {
	if forced {
		return true
	}

	return IsTTY(os.Stderr) || IsTTY(os.Stdout)
}
