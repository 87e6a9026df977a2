package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
	"github.com/ajitpratap0/wsrm-go/pkg/transport"
)

// TracingMiddleware spans every received item of an inner listener and
// records the reply sent for it
type TracingMiddleware struct {
	tracer trace.Tracer
}

// NewTracingMiddleware creates a transport middleware tracing with tracer
func NewTracingMiddleware(tracer trace.Tracer) transport.Middleware {
	return &TracingMiddleware{tracer: tracer}
}

// Wrap implements the transport.Middleware interface
func (m *TracingMiddleware) Wrap(next transport.Listener) transport.Listener {
	return &tracingListener{Listener: next, middleware: m}
}

type tracingListener struct {
	transport.Listener
	middleware *TracingMiddleware
}

func (tl *tracingListener) Accept(ctx context.Context) (transport.Channel, error) {
	ch, err := tl.Listener.Accept(ctx)
	if err != nil || ch == nil {
		return ch, err
	}
	return &tracingChannel{Channel: ch, listener: tl}, nil
}

type tracingChannel struct {
	transport.Channel
	listener *tracingListener
}

func (tc *tracingChannel) Receive(ctx context.Context) (transport.Item, error) {
	item, err := tc.Channel.Receive(ctx)
	if err != nil || item == nil {
		return item, err
	}

	msg := item.Message()
	_, span := tc.listener.middleware.tracer.Start(ctx, "wsrm.receive",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("wsrm.channel", tc.ID()),
			attribute.String("wsrm.action", msg.Action),
			attribute.String("wsrm.message_id", msg.MessageID),
			attribute.String("wsrm.shape", tc.listener.Shape().String()),
		))
	return &tracingItem{Item: item, span: span, start: time.Now()}, nil
}

// tracingItem ends its span when the item is answered or released
type tracingItem struct {
	transport.Item
	span  trace.Span
	start time.Time
}

func (ti *tracingItem) Reply(ctx context.Context, msg *protocol.Message) error {
	err := ti.Item.Reply(ctx, msg)
	if ti.span.IsRecording() {
		ti.span.SetAttributes(
			attribute.String("wsrm.reply.action", msg.Action),
			attribute.Bool("wsrm.reply.fault", msg.IsFault()),
			attribute.Float64("wsrm.reply.duration_ms", float64(time.Since(ti.start).Milliseconds())),
		)
		if err != nil {
			ti.span.RecordError(err)
			ti.span.SetStatus(codes.Error, err.Error())
		}
	}
	return err
}

func (ti *tracingItem) Close() {
	ti.Item.Close()
	ti.span.End()
}

// RecordError marks the span in ctx as failed
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("wsrm.error.class", ErrorClass(err)))
	}
}

// ErrorClass categorizes errors for metric labels
func ErrorClass(err error) string {
	if rmErr := rmerrors.ConvertStandardError(err); rmErr != nil {
		return string(rmErr.Category())
	}
	return "none"
}
