package telemetry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestInitLoggerWritesJSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	logger, closeFn, err := InitLogger(dir, slog.LevelInfo)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("call started", "plan", "free")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(filepath.Join(dir, "morningcall.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"call started"`)
	assert.Contains(t, string(data), `"service":"morningcall"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestInitTelemetry(t *testing.T) {
	dir := t.TempDir()
	tracer, meter, cleanup, err := InitTelemetry(context.Background(), dir)
	require.NoError(t, err)
	require.NotNil(t, tracer)
	require.NotNil(t, meter)

	_, span := tracer.Start(context.Background(), "test_span")
	span.End()
	cleanup()

	data, err := os.ReadFile(filepath.Join(dir, "morningcall_traces.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "test_span")
}
