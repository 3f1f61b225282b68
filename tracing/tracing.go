// Package tracing installs the OpenTelemetry tracer provider and offers the
// two helpers the rest of blockkit uses to open and close spans.
package tracing

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/rustyeddy/blockkit"

var (
	providerOnce sync.Once
	providerErr  error
)

// Shutdown flushes and stops what Init installed.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Init exports spans as JSON to outputFile, or to stdout when it is empty.
// Only the first call has an effect; later calls return a no-op Shutdown.
// The returned Shutdown flushes the provider and closes outputFile.
func Init(serviceName, serviceVersion, outputFile string) (Shutdown, error) {
	var w io.Writer = os.Stdout
	var closer io.Closer
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return noop, err
		}
		w, closer = f, f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		closeQuietly(closer)
		return noop, err
	}
	tp, err := install(serviceName, serviceVersion, exporter)
	if err != nil || tp == nil {
		closeQuietly(closer)
		return noop, err
	}
	return shutdown(tp, closer), nil
}

// InitWithExporter installs a provider around any SDK exporter.
func InitWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) (Shutdown, error) {
	if exporter == nil {
		return noop, nil
	}
	tp, err := install(serviceName, serviceVersion, exporter)
	if err != nil || tp == nil {
		return noop, err
	}
	return shutdown(tp, nil), nil
}

// install sets the global provider once. It returns nil when a provider
// was already installed.
func install(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) (*sdktrace.TracerProvider, error) {
	var tp *sdktrace.TracerProvider
	providerOnce.Do(func() {
		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				attribute.String("service.name", serviceName),
				attribute.String("service.version", serviceVersion),
			),
		)
		if err != nil {
			providerErr = err
			return
		}

		tp = sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
	})
	return tp, providerErr
}

func shutdown(tp *sdktrace.TracerProvider, closer io.Closer) Shutdown {
	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if closer != nil {
			err = errors.Join(err, closer.Close())
		}
		return err
	}
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

// StartSpan opens an internal span. Without Init the global no-op provider
// is used and the span costs nothing.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentation).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// EndSpan records err, if any, and ends the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
