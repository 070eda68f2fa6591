package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"innervoice/internal/app/model"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LogConfig
		enabled zapcore.Level
		wantErr bool
	}{
		{name: "production_default", cfg: LogConfig{}, enabled: zapcore.InfoLevel},
		{name: "development_default", cfg: LogConfig{Development: true}, enabled: zapcore.DebugLevel},
		{name: "explicit_level", cfg: LogConfig{Level: "WARN"}, enabled: zapcore.WarnLevel},
		{name: "bad_level", cfg: LogConfig{Level: "loud"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.enabled))
			assert.False(t, logger.Core().Enabled(tt.enabled-1))
		})
	}
}

func TestJobLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	JobLogger(zap.New(core), model.AudioJob{ID: "job-1", OwnerID: "alice", Attempt: 2}).Info("started")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "job-1", fields["job_id"])
	assert.Equal(t, "alice", fields["owner_id"])
	assert.Equal(t, int64(2), fields["attempt"])
}
