package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"innervoice/internal/app/api"
	_ "innervoice/internal/app/api/openai/whisper"
	"innervoice/internal/app/api/provider"
	_ "innervoice/internal/app/api/whisper_server"
	"innervoice/internal/app/audio"
	"innervoice/internal/app/common"
	"innervoice/internal/app/converter"
	"innervoice/internal/app/dedup"
	"innervoice/internal/app/metrics"
	"innervoice/internal/app/progress"
	"innervoice/internal/app/queue"
	"innervoice/internal/app/storage"
	"innervoice/internal/config"
)

// Pipeline is the assembled service: one queue worker in front of the converter.
type Pipeline struct {
	Config  *config.Config
	Logger  *zap.Logger
	Backend provider.TranscriptionProvider
	Client  *api.Client
	Tracker *progress.Tracker
	Queue   *queue.Queue
	Metrics *metrics.Metrics
}

// NewPipeline bundles the wired components.
func NewPipeline(cfg *config.Config, logger *zap.Logger, backend provider.TranscriptionProvider, client *api.Client,
	tracker *progress.Tracker, q *queue.Queue, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		Config:  cfg,
		Logger:  logger,
		Backend: backend,
		Client:  client,
		Tracker: tracker,
		Queue:   q,
		Metrics: m,
	}
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return common.New(cfg.Log)
}

func provideBackend(cfg *config.Config) (provider.TranscriptionProvider, error) {
	return provider.NewProvider(cfg.Backend.Kind, cfg.Backend.Settings)
}

func provideClient(backend provider.TranscriptionProvider, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *api.Client {
	return api.NewClient(backend, cfg.Retry, logger, api.WithRecorder(m))
}

func provideTracker(cfg *config.Config) *progress.Tracker {
	return progress.NewTracker(cfg.Progress, nil)
}

func provideSegmenter(cfg *config.Config, logger *zap.Logger) *audio.Segmenter {
	return audio.NewSegmenter(cfg.Segmenter, audio.WithLogger(logger))
}

func provideConverter(seg *audio.Segmenter, client *api.Client, tracker *progress.Tracker, cfg *config.Config,
	logger *zap.Logger, m *metrics.Metrics) *converter.Converter {
	return converter.NewConverter(converter.FromSegmenter(seg), client, tracker, cfg.Assembler, logger,
		converter.WithRecorder(m))
}

// provideGuard picks the in-process or the redis guard. The cleanup closes redis.
func provideGuard(ctx context.Context, cfg *config.Config, logger *zap.Logger) (dedup.Guard, func(), error) {
	if cfg.Dedup.Backend != config.DedupRedis {
		return dedup.NewMemoryGuard(cfg.Dedup.Window), func() {}, nil
	}
	g, err := dedup.NewRedisGuard(ctx, cfg.Dedup.Redis, cfg.Dedup.Window)
	if err != nil {
		return nil, nil, fmt.Errorf("duplicate guard: %w", err)
	}
	logger.Info("using redis duplicate guard", zap.String("addr", cfg.Dedup.Redis.Addr))
	return g, func() {
		if err := g.Close(); err != nil {
			logger.Warn("failed to close redis guard", zap.Error(err))
		}
	}, nil
}

// provideArchive returns nil when storage is disabled.
func provideArchive(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage.Archive, error) {
	if !cfg.Storage.Enabled {
		return nil, nil
	}
	a, err := storage.NewArchive(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("transcript archive: %w", err)
	}
	return a, nil
}

func provideQueue(cfg *config.Config, conv *converter.Converter, tracker *progress.Tracker, guard dedup.Guard,
	logger *zap.Logger, m *metrics.Metrics, archive *storage.Archive) *queue.Queue {
	opts := []queue.Option{queue.WithRecorder(m)}
	if archive != nil {
		opts = append(opts, queue.WithCompletion(archive.Sink()))
	}
	return queue.New(cfg.Queue, conv, tracker, guard, logger, opts...)
}
