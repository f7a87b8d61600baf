package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// TestParseLogLevel verifies mapping from strings to zapcore.Level and handling of unknown values.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"WARNING": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"panic":   zapcore.PanicLevel,
		"fatal":   zapcore.FatalLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok)
		require.Equal(t, lvl, got)
	}

	for _, s := range []string{"unknown", ""} {
		_, ok := ParseLogLevel(s)
		require.False(t, ok, s)
	}
}

// TestContextHelpers verifies that loggers travel through the context and fall back to the global one.
func TestContextHelpers(t *testing.T) {
	t.Parallel()

	require.Same(t, Logger(), FromContext(context.Background()))

	custom := New(zapcore.DebugLevel)
	ctx := ToContext(context.Background(), custom)
	require.Same(t, custom, FromContext(ctx))

	named := WithName(ctx, "workload-install")
	require.NotSame(t, custom, FromContext(named))

	withKV := WithKV(named, "band", "8.0.200")
	require.NotNil(t, FromContext(withKV))
}

// TestNewWithFile writes an entry to a rotating log file.
func TestNewWithFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "engine.log")

	l := NewWithFile(zapcore.InfoLevel, path)
	l.Infow("Pack installed", "pack", "Xamarin.Android.Sdk")
	_ = l.Sync()

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(contents), "Pack installed")
}
