package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func TestInitTracingStdoutWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "tube-test",
		Exporter:    "STDOUT",
		SampleRatio: 1,
		Writer:      &buf,
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	t.Cleanup(func() { _, _ = InitTracing(context.Background(), TracingConfig{}, nil) })

	_, span := StartSpan(context.Background(), "tube.assign", TubeAttr(3))
	if !span.SpanContext().IsSampled() {
		t.Fatalf("span not sampled at ratio 1")
	}
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, time.Second, nil)

	out := buf.String()
	if !strings.Contains(out, "tube.assign") || !strings.Contains(out, "tube-test") {
		t.Fatalf("exported spans missing name or service:\n%s", out)
	}
}

func TestInitTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
	_, span := otel.Tracer("t").Start(context.Background(), "x")
	defer span.End()
	if span.SpanContext().IsValid() {
		t.Fatalf("disabled tracing produced a recording span")
	}
}

func TestInitTracingUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("InitTracing accepted an unknown exporter")
	}
}

func TestSamplerBounds(t *testing.T) {
	cases := []struct {
		ratio float64
		want  string
	}{
		{1, "root:AlwaysOnSampler"},
		{2, "root:AlwaysOnSampler"},
		{0, "root:AlwaysOffSampler"},
		{0.5, "root:TraceIDRatioBased{0.5}"},
	}
	for _, tc := range cases {
		if got := sampler(tc.ratio).Description(); !strings.Contains(got, tc.want) {
			t.Fatalf("sampler(%v) = %q, want it to mention %q", tc.ratio, got, tc.want)
		}
	}
}
