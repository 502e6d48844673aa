// Package boxtrace provides the ambient OpenTelemetry tracing helper shared
// by every subsystem, modeled on the teacher's pkg/katautils/katatrace:
// each package opens a span via Trace(ctx, logger, name, tags) and tags it
// with a "source"/"subsystem" map, so a single trace shows the full
// create -> pipeline stage -> shim -> guest RPC path.
package boxtrace

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var boxTraceLogger = logrus.NewEntry(logrus.New())

var tracingEnabled bool

// SetLogger installs the logger used for trace diagnostics.
func SetLogger(logger *logrus.Entry) {
	boxTraceLogger = logger
}

// SetTracing turns span export on or off process-wide. Disabled by
// default: CreateTracer returns no provider until this is called,
// matching the teacher's opt-in tracing behavior.
func SetTracing(enabled bool) {
	tracingEnabled = enabled
}

// CreateTracer builds a TracerProvider. When tracing is disabled it returns
// nil; when enabled it returns a provider that batches spans through a
// logging exporter (no external collector dependency is assumed by
// default). The provider is not registered as the otel global provider:
// Trace takes its tracer from the span already carried by its parent
// context.
func CreateTracer(serviceName string) (*sdktrace.TracerProvider, error) {
	if !tracingEnabled {
		trace.NewNoopTracerProvider()
		return nil, nil
	}

	exporter := &logExporter{}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	return tp, nil
}

// logExporter reports each finished span through the package logger. It
// stands in for the teacher's Jaeger exporter: BoxLite has no bundled trace
// collector, so spans are surfaced as structured log lines instead.
type logExporter struct{}

var _ sdktrace.SpanExporter = (*logExporter)(nil)

func (e *logExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		boxTraceLogger.WithField("span", span.Name()).Tracef("span %+v", span)
	}
	return nil
}

func (e *logExporter) Shutdown(ctx context.Context) error { return nil }

// StopTracing flushes and shuts down the provider created by CreateTracer.
func StopTracing(ctx context.Context, tp *sdktrace.TracerProvider) {
	if tp == nil {
		return
	}
	if err := tp.Shutdown(ctx); err != nil {
		boxTraceLogger.WithError(err).Warn("failed to shut down tracer provider")
	}
}

// Trace opens a span named `name`, tagging it with every map in tags, and
// returns the span plus the context carrying it. Callers must defer
// span.End().
func Trace(parent context.Context, logger *logrus.Entry, name string, tags ...map[string]string) (trace.Span, context.Context) {
	tracer := trace.SpanFromContext(parent).TracerProvider().Tracer("boxlite")
	ctx, span := tracer.Start(parent, name)

	for _, tagset := range tags {
		for k, v := range tagset {
			span.SetAttributes(attribute.String(k, v))
		}
	}

	if logger != nil {
		logger.WithField("span", name).Debug("trace span started")
	}

	return span, ctx
}
