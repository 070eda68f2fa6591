package serve

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"innervoice/cmd/innervoice/cmd/cliconfig"
	"innervoice/internal/api/server"
	"innervoice/internal/api/v1/handlers"
	v1routes "innervoice/internal/api/v1/routes"
	"innervoice/internal/app"
	"innervoice/internal/app/model"
)

var (
	host string
	port int
)

// Cmd represents the serve command
var Cmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job queue behind the HTTP API",
	RunE:  run,
}

func init() {
	Cmd.Flags().StringVar(&host, "host", "", "listen host (overrides config)")
	Cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := cliconfig.Load()
	if err != nil {
		return err
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, cleanup, err := app.InitializePipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	defer p.Logger.Sync() //nolint:errcheck

	p.Queue.OnCompletion(func(r model.Report) {
		p.Logger.Info("job finished",
			zap.String("job_id", r.JobID),
			zap.String("owner_id", r.OwnerID),
			zap.String("status", string(r.Status)),
			zap.Bool("needs_manual_retry", r.NeedsManualRetry),
			zap.Duration("elapsed", r.Elapsed))
	})

	container := &v1routes.Container{
		Queue:   p.Queue,
		Events:  p.Queue.Events(),
		Health:  p.Client,
		Backend: p.Client.Backend(),
		Uploads: handlers.UploadConfig{
			Dir:             cfg.Server.UploadDir,
			MaxBytes:        cfg.Server.MaxUploadMB << 20,
			AllowLocalPaths: cfg.Server.AllowLocalPaths,
		},
		Logger: p.Logger,
	}
	if gpu, ok := p.Backend.(handlers.GPUChecker); ok {
		container.GPU = gpu
	}
	srv := server.NewServer(cfg.Server, container, p.Metrics.Handler(), p.Logger, cfg.Server.Release)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Queue.Run(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
