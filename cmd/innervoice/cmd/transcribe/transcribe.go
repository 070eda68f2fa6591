package transcribe

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"innervoice/cmd/innervoice/cmd/cliconfig"
	"innervoice/internal/app"
	apperrors "innervoice/internal/app/errors"
	"innervoice/internal/app/model"
	"innervoice/internal/app/progress"
	"innervoice/internal/app/storage"
)

var (
	ownerID    string
	mode       string
	language   string
	timestamps bool
	statistics bool
	chunked    bool
	outDir     string
	noProgress bool
)

// Cmd represents the transcribe command
var Cmd = &cobra.Command{
	Use:   "transcribe FILE...",
	Short: "Transcribe and translate local recordings",
	Long: `Queue every FILE, wait for the single worker to finish them in order and
print the assembled sections. Source files are never deleted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: run,
}

func init() {
	Cmd.Flags().StringVarP(&ownerID, "owner", "o", "cli", "owner id used for duplicate suppression and retries")
	Cmd.Flags().StringVarP(&mode, "mode", "m", string(model.ModeTranslationOnly), "translation-only or transcription-and-translation")
	Cmd.Flags().StringVarP(&language, "language", "l", "", "source language hint, empty to auto-detect")
	Cmd.Flags().BoolVar(&timestamps, "timestamps", false, "prefix lines with segment timestamps")
	Cmd.Flags().BoolVar(&statistics, "stats", false, "append the statistics block")
	Cmd.Flags().BoolVar(&chunked, "chunks", false, "print delivery chunks instead of whole sections")
	Cmd.Flags().StringVar(&outDir, "out", "", "also write <name>.txt files to this directory")
	Cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable progress bars")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := cliconfig.Load()
	if err != nil {
		return err
	}
	cfg.Queue.KeepSources = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, cleanup, err := app.InitializePipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	defer p.Logger.Sync() //nolint:errcheck

	prefs := model.Preferences{
		Language:   language,
		Mode:       model.OutputMode(mode),
		Timestamps: timestamps,
		Statistics: statistics,
	}

	showBars := !noProgress && progress.ShouldShowProgress(false)
	bars := progress.NewBarManager(progress.BarConfig{
		Enabled: showBars,
		Writer:  cmd.ErrOrStderr(),
	})
	var (
		mu       sync.Mutex
		barByJob = make(map[string]*progress.Bar)
		names    = make(map[string]string)
	)
	reports := make(chan model.Report, len(args))

	p.Queue.OnProgress(func(job model.AudioJob, s progress.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if !showBars {
			if !noProgress {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s %d/%d\n", filepath.Base(job.SourcePath),
					progress.TextBar(s.Percent), s.SegmentsDone, s.SegmentsTotal)
			}
			return
		}
		bar, ok := barByJob[job.ID]
		if !ok {
			bar = bars.CreateBar(s.SegmentsTotal, filepath.Base(job.SourcePath))
			barByJob[job.ID] = bar
		}
		bar.Update(s)
	})
	p.Queue.OnCompletion(func(r model.Report) {
		mu.Lock()
		if bar, ok := barByJob[r.JobID]; ok {
			if r.Status == model.JobStatusCompleted {
				bar.Complete()
			} else {
				bar.Abort()
			}
		}
		mu.Unlock()
		reports <- r
	})

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	go func() {
		if err := p.Queue.Run(workerCtx); err != nil {
			p.Logger.Error("queue worker stopped", zap.Error(err))
		}
	}()

	var queued []string
	for _, path := range args {
		id, err := p.Queue.Submit(ctx, ownerID, path, prefs)
		switch {
		case apperrors.KindOf(err) == apperrors.KindDuplicateSuppressed:
			fmt.Fprintf(cmd.ErrOrStderr(), "skipping %s: same file submitted moments ago\n", path)
			continue
		case err != nil:
			return fmt.Errorf("submit %s: %w", path, err)
		}
		mu.Lock()
		names[id] = filepath.Base(path)
		mu.Unlock()
		queued = append(queued, id)
	}

	failed := 0
	for range queued {
		select {
		case r := <-reports:
			mu.Lock()
			name := names[r.JobID]
			mu.Unlock()
			if err := printReport(cmd.OutOrStdout(), name, r); err != nil {
				return err
			}
			if r.Status != model.JobStatusCompleted {
				failed++
			}
		case <-ctx.Done():
			for _, id := range queued {
				_ = p.Queue.Cancel(id)
			}
			bars.Shutdown()
			return ctx.Err()
		}
	}
	bars.Wait()

	if failed > 0 {
		return fmt.Errorf("%d of %d recordings did not complete", failed, len(queued))
	}
	return nil
}

func printReport(w io.Writer, name string, r model.Report) error {
	fmt.Fprintf(w, "==> %s [%s]\n", name, r.Status)
	if r.Error != "" {
		fmt.Fprintf(w, "error: %s\n", r.Error)
	}
	if r.NeedsManualRetry {
		fmt.Fprintln(w, "the backend stayed busy; run the command again later to finish this recording")
	}
	if len(r.FailedSegments) > 0 {
		fmt.Fprintf(w, "failed segments: %v\n", r.FailedSegments)
	}
	if r.Output == nil {
		return nil
	}

	if chunked {
		for _, s := range r.Output.Sections {
			for _, c := range s.Chunks {
				fmt.Fprintf(w, "--- %s %d/%d\n%s\n", s.Kind, c.Ordinal, c.Total, c.Render())
			}
		}
	} else {
		fmt.Fprintln(w, storage.RenderText(r.Output))
	}
	if st := r.Output.Stats; st != nil {
		fmt.Fprintf(w, "audio %.1fs in %s, %d segments (%d failed)\n",
			st.AudioSeconds, st.Elapsed.Round(time.Second), st.Segments, st.FailedSegments)
		for kind, n := range st.Words {
			fmt.Fprintf(w, "  %s: %d words\n", kind, n)
		}
	}

	if outDir == "" {
		return nil
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	target := filepath.Join(outDir, trimExt(name)+".txt")
	return os.WriteFile(target, []byte(storage.RenderText(r.Output)), 0o644)
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
