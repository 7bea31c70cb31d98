// Package observability configures process-wide logging.
//
// Records always go to stderr as text or JSON. When an OTLP exporter is
// configured they are additionally bridged into the OpenTelemetry log SDK.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// InstrumentationName identifies records bridged from slog.
const InstrumentationName = "github.com/florianilch/p123dav"

// Exporter protocols understood by WithOTLP.
const (
	ProtocolGRPC   = "grpc"
	ProtocolHTTP   = "http"
	ProtocolStdout = "stdout"
)

type options struct {
	writer   io.Writer
	endpoint string
	protocol string
}

// Option configures Instrument.
type Option func(*options)

// WithWriter replaces stderr as the destination of console logs.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

// WithOTLP exports log records using protocol. Endpoint is ignored for the
// stdout protocol and required otherwise.
func WithOTLP(endpoint, protocol string) Option {
	return func(o *options) {
		o.endpoint = endpoint
		o.protocol = protocol
	}
}

// ShutdownFunc flushes and stops whatever Instrument started.
type ShutdownFunc func(context.Context) error

// Instrument installs the default slog logger. The returned ShutdownFunc must
// be called before exit to flush exported records.
func Instrument(ctx context.Context, level slog.Level, format string, opts ...Option) (ShutdownFunc, error) {
	o := options{writer: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	console, err := consoleHandler(o.writer, level, format)
	if err != nil {
		return nil, err
	}

	if o.protocol == "" {
		slog.SetDefault(slog.New(console))
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("failed to create log exporter: %w", err)
	}

	processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severity(level))
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(processor))
	global.SetLoggerProvider(provider)

	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		// Written to the console only, exporting would recurse.
		slog.New(console).Error("opentelemetry error", "error", err)
	}))

	bridge := otelslog.NewHandler(InstrumentationName, otelslog.WithLoggerProvider(provider))
	slog.SetDefault(slog.New(fanout{console, bridge}))

	return provider.Shutdown, nil
}

func consoleHandler(w io.Writer, level slog.Level, format string) (slog.Handler, error) {
	handlerOpts := &slog.HandlerOptions{Level: level}
	switch format {
	case "", "text":
		return slog.NewTextHandler(w, handlerOpts), nil
	case "json":
		return slog.NewJSONHandler(w, handlerOpts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %q", format)
	}
}

func newExporter(ctx context.Context, o options) (sdklog.Exporter, error) {
	switch o.protocol {
	case ProtocolStdout:
		return stdoutlog.New(stdoutlog.WithWriter(o.writer))
	case ProtocolHTTP:
		if o.endpoint == "" {
			return nil, errors.New("missing OTLP endpoint")
		}
		return otlploghttp.New(ctx, otlploghttp.WithEndpointURL(o.endpoint))
	case ProtocolGRPC:
		if o.endpoint == "" {
			return nil, errors.New("missing OTLP endpoint")
		}
		return otlploggrpc.New(ctx, otlploggrpc.WithEndpointURL(o.endpoint))
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol: %q", o.protocol)
	}
}

// severity maps a slog level onto the closest OpenTelemetry severity.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level < slog.LevelInfo:
		return minsev.SeverityDebug
	case level < slog.LevelWarn:
		return minsev.SeverityInfo
	case level < slog.LevelError:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
