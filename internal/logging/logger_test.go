package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewModes(t *testing.T) {
	t.Parallel()

	for _, cfg := range []Config{{Development: true}, {}, {Level: "warn"}} {
		logger, err := New(cfg)
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Info("logger ready")
		_ = logger.Sync()
	}
}

func TestNewLevel(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Level: "error"})
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zapcore.WarnLevel))
	require.True(t, logger.Core().Enabled(zapcore.ErrorLevel))

	_, err = New(Config{Level: "loud"})
	require.Error(t, err)
}

func TestForRunAddsFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	ForRun(zap.New(core), "run-1", "extract").Info("hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "run-1", fields["run_id"])
	require.Equal(t, "extract", fields["phase"])

	require.NotNil(t, ForRun(nil, "r", "p"))
}
