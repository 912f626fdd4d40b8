package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/launch-tube-controller/internal/logging"
)

// Span exporters accepted by TracingConfig.Exporter.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// DefaultOTLPEndpoint is dialled when an otlp exporter has no endpoint.
const DefaultOTLPEndpoint = "localhost:4317"

// TracingConfig selects the span exporter and sampler. It is filled from
// the tracing section of the process config.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string
	Endpoint    string
	// SampleRatio is the root sampling probability in [0,1].
	SampleRatio float64
	// Writer receives stdout spans. Nil means os.Stdout.
	Writer io.Writer
}

// Shutdown flushes and stops a tracer provider.
type Shutdown func(context.Context) error

// InitTracing installs the global propagator and tracer provider for cfg.
// With tracing disabled the provider is a no-op and the returned Shutdown
// does nothing.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (Shutdown, error) {
	if log == nil {
		log = logging.Noop()
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exporter := strings.ToLower(cfg.Exporter)
	if exporter == "" {
		exporter = ExporterStdout
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.namespace", "launchtube"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	spanOpt, err := spanProcessor(ctx, exporter, cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
		sdktrace.WithResource(res),
		spanOpt,
	)
	otel.SetTracerProvider(tp)

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.Float64("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

// spanProcessor builds the exporter. Stdout spans are written synchronously
// so they appear as operations finish; otlp spans are batched.
func spanProcessor(ctx context.Context, exporter string, cfg TracingConfig) (sdktrace.TracerProviderOption, error) {
	switch exporter {
	case ExporterStdout:
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
		if err != nil {
			return nil, fmt.Errorf("stdout span exporter: %w", err)
		}
		return sdktrace.WithSyncer(exp), nil
	case ExporterOTLP, "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = DefaultOTLPEndpoint
		}
		exp, err := otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
		if err != nil {
			return nil, fmt.Errorf("otlp span exporter %s: %w", endpoint, err)
		}
		return sdktrace.WithBatcher(exp), nil
	}
	return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// ShutdownWithTimeout runs shutdown bounded by timeout and logs a failure.
func ShutdownWithTimeout(ctx context.Context, shutdown Shutdown, timeout time.Duration, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}

const tracerName = "github.com/signalsfoundry/launch-tube-controller"

// StartSpan starts a span on the global tracer provider. Tube commands and
// control handlers use it for their internal operations.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// TubeAttr returns the span attribute naming a tube.
func TubeAttr(tube int) attribute.KeyValue { return attribute.Int("tube", tube) }
