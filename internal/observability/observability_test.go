package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/processors/minsev"
)

func restoreDefault(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestInstrument_Console(t *testing.T) {
	tests := []struct {
		name   string
		format string
		check  func(t *testing.T, out []byte)
	}{
		{
			name:   "text",
			format: "text",
			check: func(t *testing.T, out []byte) {
				assert.Contains(t, string(out), "msg=hello")
				assert.Contains(t, string(out), "key=value")
			},
		},
		{
			name:   "json",
			format: "json",
			check: func(t *testing.T, out []byte) {
				var rec map[string]any
				require.NoError(t, json.Unmarshal(out, &rec))
				assert.Equal(t, "hello", rec["msg"])
				assert.Equal(t, "value", rec["key"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restoreDefault(t)
			var buf bytes.Buffer

			shutdown, err := Instrument(context.Background(), slog.LevelInfo, tt.format, WithWriter(&buf))
			require.NoError(t, err)
			defer func() { _ = shutdown(context.Background()) }()

			slog.Debug("hidden")
			slog.Info("hello", "key", "value")

			assert.NotContains(t, buf.String(), "hidden")
			tt.check(t, buf.Bytes())
		})
	}
}

func TestInstrument_UnsupportedFormat(t *testing.T) {
	restoreDefault(t)
	_, err := Instrument(context.Background(), slog.LevelInfo, "xml")
	assert.Error(t, err)
}

func TestInstrument_UnsupportedProtocol(t *testing.T) {
	restoreDefault(t)
	_, err := Instrument(context.Background(), slog.LevelInfo, "text", WithOTLP("http://localhost:4318", "carrier-pigeon"))
	assert.Error(t, err)
}

func TestInstrument_MissingEndpoint(t *testing.T) {
	restoreDefault(t)
	_, err := Instrument(context.Background(), slog.LevelInfo, "text", WithOTLP("", ProtocolHTTP))
	assert.Error(t, err)
}

func TestInstrument_StdoutExporter(t *testing.T) {
	restoreDefault(t)
	var buf bytes.Buffer

	shutdown, err := Instrument(context.Background(), slog.LevelInfo, "text",
		WithWriter(&buf), WithOTLP("", ProtocolStdout))
	require.NoError(t, err)

	slog.Info("exported record")
	require.NoError(t, shutdown(context.Background()))

	// Once on the console, once as an OTLP record flushed on shutdown.
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("exported record")))
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, minsev.SeverityDebug, severity(slog.LevelDebug))
	assert.Equal(t, minsev.SeverityInfo, severity(slog.LevelInfo))
	assert.Equal(t, minsev.SeverityWarn, severity(slog.LevelWarn))
	assert.Equal(t, minsev.SeverityError, severity(slog.LevelError))
	assert.Equal(t, minsev.SeverityError, severity(slog.LevelError+4))
}

func TestFanout(t *testing.T) {
	var debug, warn bytes.Buffer
	h := fanout{
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}
	logger := slog.New(h).With("component", "test")

	logger.Debug("low")
	logger.Warn("high")

	assert.Contains(t, debug.String(), "low")
	assert.Contains(t, debug.String(), "high")
	assert.NotContains(t, warn.String(), "low")
	assert.Contains(t, warn.String(), "component=test")
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug-4))
}
