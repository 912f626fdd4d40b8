package control

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/launch-tube-controller/internal/logging"
	"github.com/signalsfoundry/launch-tube-controller/internal/observability"
)

const tracerName = "github.com/signalsfoundry/launch-tube-controller/internal/control"

// TracingUnaryServerInterceptor enriches RPC spans with standard attributes and
// ensures a server span exists when the otelgrpc stats handler is not
// installed.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	tracer := otel.Tracer(tracerName)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, span, created := rpcSpan(ctx, tracer, info.FullMethod)
		resp, err := handler(ctx, req)
		finishSpan(span, created, err)
		return resp, err
	}
}

// TracingStreamServerInterceptor is the streaming form of
// TracingUnaryServerInterceptor.
func TracingStreamServerInterceptor() grpc.StreamServerInterceptor {
	tracer := otel.Tracer(tracerName)

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, span, created := rpcSpan(ss.Context(), tracer, info.FullMethod)
		err := handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
		finishSpan(span, created, err)
		return err
	}
}

func rpcSpan(ctx context.Context, tracer trace.Tracer, fullMethod string) (context.Context, trace.Span, bool) {
	service, method := observability.SplitMethod(fullMethod)
	name := fmt.Sprintf("TubeControl/%s", method)
	span := trace.SpanFromContext(ctx)
	created := false
	if !span.SpanContext().IsValid() {
		ctx, span = tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
		created = true
	} else {
		span.SetName(name)
	}

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "grpc"),
		attribute.String("rpc.service", service),
		attribute.String("rpc.method", method),
		attribute.String("rpc.full_method", strings.TrimPrefix(fullMethod, "/")),
	}
	if reqID := logging.RequestIDFromContext(ctx); reqID != "" {
		attrs = append(attrs, attribute.String("request_id", reqID))
	}
	span.SetAttributes(attrs...)
	return ctx, span, created
}

func finishSpan(span trace.Span, created bool, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if created {
		span.End()
	}
}
