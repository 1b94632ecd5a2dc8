package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(Config{Level: "info", ServiceName: "festival", OutputPath: path})
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("hold created")
	require.NoError(t, l.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"message":"hold created"`)
	assert.Contains(t, string(raw), `"service":"festival"`)
	assert.NotContains(t, string(raw), "hidden")
}

func TestWithContextAddsSpanIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(Config{OutputPath: path})
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1, 2, 3},
		SpanID:  trace.SpanID{4, 5, 6},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	WithContext(ctx, l).Info("scan")
	WithContext(context.Background(), l).Info("plain")
	require.NoError(t, l.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), sc.TraceID().String())
	assert.Equal(t, 1, strings.Count(string(raw), "trace_id"))
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
}
