package otel

import (
	"context"
	"sync"
	"sync/atomic"

	eventbus "github.com/hanpama/gqlinput/internal/eventbus"
	events "github.com/hanpama/gqlinput/internal/events"
	input "github.com/hanpama/gqlinput/internal/input"
	reqid "github.com/hanpama/gqlinput/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// TraceIDExtension is the execution input extension TraceConfigurer writes.
const TraceIDExtension = "traceId"

var current atomic.Pointer[Subscriber]

// Setup configures OpenTelemetry and attaches eventbus subscribers to the
// global bus. If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	sub := Register(nil, tp)
	return func(ctx context.Context) error {
		sub.Close()
		return tp.Shutdown(ctx)
	}, nil
}

// Subscriber turns transport events into spans. Spans are keyed by the
// request correlation id carried in the event context.
type Subscriber struct {
	tracer    trace.Tracer
	httpSpans sync.Map // rid -> trace.Span
	gqlSpans  sync.Map // transport/rid -> trace.Span
	wsSpans   sync.Map // conn id -> trace.Span
	unsub     []func()
}

// Register subscribes a new Subscriber to b, or to the global bus when b is
// nil, and makes it the one TraceConfigurer consults.
func Register(b *eventbus.Bus, tp trace.TracerProvider) *Subscriber {
	s := &Subscriber{tracer: tp.Tracer("gqlinput")}
	s.register(b)
	current.Store(s)
	return s
}

// Close removes the subscriber's handlers.
func (s *Subscriber) Close() {
	for _, u := range s.unsub {
		u()
	}
	s.unsub = nil
	current.CompareAndSwap(s, nil)
}

func on[T any](s *Subscriber, b *eventbus.Bus, h eventbus.Handler[T]) {
	if b == nil {
		s.unsub = append(s.unsub, eventbus.Subscribe(h))
		return
	}
	s.unsub = append(s.unsub, eventbus.On(b, h))
}

func gqlKey(transport, rid string) string { return transport + "/" + rid }

func (s *Subscriber) register(b *eventbus.Bus) {
	on(s, b, func(ctx context.Context, e events.HTTPStart) {
		_, span := s.tracer.Start(ctx, "http.request")
		span.SetAttributes(
			semconv.HTTPMethodKey.String(e.Request.Method),
			attribute.String("http.target", e.Request.URL.Path),
			attribute.String("graphql.request_id", e.RequestID),
		)
		s.httpSpans.Store(e.RequestID, span)
	})

	on(s, b, func(ctx context.Context, e events.HTTPFinish) {
		v, ok := s.httpSpans.LoadAndDelete(e.RequestID)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
		if e.Status >= 500 {
			span.SetStatus(codes.Error, "")
		}
		span.End()
	})

	on(s, b, func(ctx context.Context, e events.GraphQLStart) {
		_, span := s.tracer.Start(s.parent(ctx), "graphql.operation")
		span.SetAttributes(
			attribute.String("graphql.operation.name", e.OperationName),
			attribute.String("graphql.operation.type", e.OperationType),
			attribute.String("graphql.execution_id", e.ExecutionID),
			attribute.String("graphql.transport", e.Transport),
		)
		s.gqlSpans.Store(gqlKey(e.Transport, e.RequestID), span)
	})

	on(s, b, func(ctx context.Context, e events.GraphQLFinish) {
		v, ok := s.gqlSpans.LoadAndDelete(gqlKey(e.Transport, e.RequestID))
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(attribute.Int("graphql.error_count", len(e.Errors)))
		for _, err := range e.Errors {
			span.RecordError(err)
		}
		span.End()
	})

	on(s, b, func(ctx context.Context, e events.InputBuildFailed) {
		span := trace.SpanFromContext(s.parent(ctx))
		span.RecordError(e.Err, trace.WithAttributes(
			attribute.String("graphql.input_failure", e.Reason),
			attribute.Int("graphql.configurer", e.ConfigurerIndex),
			attribute.String("graphql.transport", e.Transport),
		))
	})

	on(s, b, func(ctx context.Context, e events.WSConnect) {
		_, span := s.tracer.Start(ctx, "ws.connection")
		span.SetAttributes(attribute.String("ws.subprotocol", e.Subprotocol))
		s.wsSpans.Store(e.ConnID, span)
	})

	on(s, b, func(ctx context.Context, e events.WSDisconnect) {
		v, ok := s.wsSpans.LoadAndDelete(e.ConnID)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(attribute.Int("ws.close_code", e.Code))
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})
}

// parent returns ctx extended with the innermost span open for the request
// in ctx, if any.
func (s *Subscriber) parent(ctx context.Context) context.Context {
	if trace.SpanContextFromContext(ctx).IsValid() {
		return ctx
	}
	rid, ok := reqid.FromContext(ctx)
	if !ok {
		return ctx
	}
	if v, ok := s.httpSpans.Load(rid); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	return ctx
}

// Configurer returns a contribution that records the trace id of the span
// active for ctx in the traceId extension. It leaves the input unchanged when
// no span is recording.
func (s *Subscriber) Configurer(ctx context.Context) input.Configurer {
	return func(cur input.ExecutionInput) (input.ExecutionInput, error) {
		sc := trace.SpanContextFromContext(s.parent(ctx))
		if !sc.HasTraceID() {
			return cur, nil
		}
		return cur.Transform(func(b *input.Builder) {
			b.Extension(TraceIDExtension, sc.TraceID().String())
		}), nil
	}
}

// TraceConfigurer is Configurer on the subscriber installed by Setup. Without
// one, only a span already in ctx is considered.
func TraceConfigurer(ctx context.Context) input.Configurer {
	if s := current.Load(); s != nil {
		return s.Configurer(ctx)
	}
	return (&Subscriber{}).Configurer(ctx)
}
