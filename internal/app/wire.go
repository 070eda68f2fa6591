//go:build wireinject
// +build wireinject

package app

import (
	"context"

	"github.com/google/wire"

	"innervoice/internal/app/metrics"
	"innervoice/internal/config"
)

// InitializePipeline builds the pipeline from cfg. The cleanup releases external connections.
func InitializePipeline(ctx context.Context, cfg *config.Config) (*Pipeline, func(), error) {
	wire.Build(
		provideLogger,
		metrics.New,
		provideBackend,
		provideClient,
		provideTracker,
		provideSegmenter,
		provideConverter,
		provideGuard,
		provideArchive,
		provideQueue,
		NewPipeline,
	)
	return nil, nil, nil
}
