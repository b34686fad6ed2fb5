package trace

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/fnportal/xerrors"
)

const subject = "fnportal.errors"

func setupTracerForTest(t *testing.T) (oteltrace.Tracer, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Tracer("test"), recorder
}

func findSpan(t *testing.T, recorder *tracetest.SpanRecorder, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, s := range recorder.Ended() {
		if s.Name() == name {
			return s
		}
	}
	t.Fatalf("span %q not found", name)
	return nil
}

func TestStartPublish(t *testing.T) {
	_, recorder := setupTracerForTest(t)

	_, span, headers := StartPublish(context.Background(), Channel{System: SystemNATS, Destination: subject})
	span.End()

	assert.NotEmpty(t, headers["traceparent"])
	s := findSpan(t, recorder, "nats.publish "+subject)
	assert.Equal(t, oteltrace.SpanKindProducer, s.SpanKind())
	assert.Contains(t, s.Attributes(), attribute.String(AttrMessagingOperation, "publish"))
}

func TestStartProcess(t *testing.T) {
	tests := []struct {
		name     string
		relation Relation
		asChild  bool
	}{
		{name: "default link", relation: "", asChild: false},
		{name: "child of", relation: RelationChildOf, asChild: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, recorder := setupTracerForTest(t)

			parentCtx, parentSpan := tracer.Start(context.Background(), "upstream")
			headers := map[string]string{}
			Inject(parentCtx, headers)
			parentSC := parentSpan.SpanContext()
			parentSpan.End()

			ch := Channel{System: SystemRedis, Destination: "fnportal:invalidate", Relation: tt.relation}
			_, consumerSpan := StartProcess(context.Background(), ch, headers)
			consumerSpan.End()

			consumer := findSpan(t, recorder, "redis.process fnportal:invalidate")
			if tt.asChild {
				require.True(t, consumer.Parent().IsValid())
				assert.Equal(t, parentSC.SpanID(), consumer.Parent().SpanID())
				assert.Empty(t, consumer.Links())
				return
			}
			assert.False(t, consumer.Parent().IsValid())
			require.Len(t, consumer.Links(), 1)
			assert.Equal(t, parentSC.TraceID(), consumer.Links()[0].SpanContext.TraceID())
		})
	}
}

func TestStartProcessWithoutHeaders(t *testing.T) {
	_, recorder := setupTracerForTest(t)

	_, span := StartProcess(context.Background(), Channel{System: SystemNATS}, nil)
	span.End()

	s := findSpan(t, recorder, "nats.process")
	assert.False(t, s.Parent().IsValid())
	assert.Empty(t, s.Links())
}

func TestInjectHTTP(t *testing.T) {
	tracer, _ := setupTracerForTest(t)
	ctx, span := tracer.Start(context.Background(), "request")
	defer span.End()

	header := http.Header{}
	InjectHTTP(ctx, header)
	assert.NotEmpty(t, header.Get("traceparent"))
}

func TestMarkSpanError(t *testing.T) {
	tracer, recorder := setupTracerForTest(t)
	_, span := tracer.Start(context.Background(), "work")
	MarkSpanError(span, errors.New("boom"))
	MarkSpanError(span, nil)
	span.End()

	s := findSpan(t, recorder, "work")
	assert.Equal(t, codes.Error, s.Status().Code)
}

func TestInit(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{name: "nil", cfg: nil, wantErr: true},
		{name: "no service name", cfg: &Config{}, wantErr: true},
		{name: "sampler out of range", cfg: &Config{ServiceName: "s", Sampler: 2}, wantErr: true},
		{name: "unknown batcher", cfg: &Config{ServiceName: "s", Batcher: "async"}, wantErr: true},
		{name: "local only", cfg: &Config{ServiceName: "portalctl"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := Init(context.Background(), tt.cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, shutdown(context.Background()))
		})
	}
}

func TestInitLocalProviderSamples(t *testing.T) {
	shutdown, err := Init(context.Background(), &Config{ServiceName: "portalctl"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	_, span, headers := StartPublish(context.Background(), Channel{System: SystemNATS, Destination: subject})
	defer span.End()
	assert.True(t, span.SpanContext().IsSampled())
	assert.NotEmpty(t, headers["traceparent"])
}
