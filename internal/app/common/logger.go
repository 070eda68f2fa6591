// Package common holds process wide helpers.
package common

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"innervoice/internal/app/model"
)

// LogConfig selects the encoder and level.
type LogConfig struct {
	Development bool   `yaml:"development"`
	Level       string `yaml:"level"`
}

// New builds a logger from cfg. An empty level keeps the zap default for the mode.
func New(cfg LogConfig) (*zap.Logger, error) {
	var config zap.Config
	if cfg.Development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		config.Level = zap.NewAtomicLevelAt(level)
	}
	return config.Build()
}

// JobLogger returns logger annotated with the job's identity.
func JobLogger(logger *zap.Logger, job model.AudioJob) *zap.Logger {
	return logger.With(
		zap.String("job_id", job.ID),
		zap.String("owner_id", job.OwnerID),
		zap.Int("attempt", job.Attempt),
	)
}
