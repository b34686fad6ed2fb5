package trace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "fnportal/trace"

func (c Channel) attributes(operation string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrMessagingSystem, c.System),
		attribute.String(AttrMessagingOperation, operation),
	}
	if c.Destination != "" {
		attrs = append(attrs, attribute.String(AttrMessagingDestination, c.Destination))
	}
	return attrs
}

// StartPublish 为一次发布启动 Producer Span，返回需要随消息携带的 trace 头
func StartPublish(ctx context.Context, ch Channel) (context.Context, oteltrace.Span, map[string]string) {
	if ctx == nil {
		ctx = context.Background()
	}
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, ch.spanName("publish"),
		oteltrace.WithSpanKind(oteltrace.SpanKindProducer),
		oteltrace.WithAttributes(ch.attributes("publish")...))

	headers := map[string]string{}
	Inject(spanCtx, headers)
	return spanCtx, span, headers
}

// StartProcess 为收到的消息启动 Consumer Span。
// headers 中带有上游 trace 时按 ch.Relation 关联，默认使用 link。
func StartProcess(ctx context.Context, ch Channel, headers map[string]string) (context.Context, oteltrace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	opts := []oteltrace.SpanStartOption{
		oteltrace.WithSpanKind(oteltrace.SpanKindConsumer),
		oteltrace.WithAttributes(ch.attributes("process")...),
	}

	parent := ctx
	if len(headers) > 0 {
		extracted := Extract(ctx, headers)
		if remote := oteltrace.SpanContextFromContext(extracted); remote.IsValid() {
			if ch.Relation == RelationChildOf {
				parent = extracted
			} else {
				opts = append(opts, oteltrace.WithLinks(oteltrace.Link{SpanContext: remote}))
			}
		}
	}
	return otel.Tracer(tracerName).Start(parent, ch.spanName("process"), opts...)
}

// MarkSpanError err 不为 nil 时记录错误并把 Span 状态置为 Error
func MarkSpanError(span oteltrace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
