package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/fnportal/metrics"
	"github.com/ceyewan/fnportal/testkit"
	"github.com/ceyewan/fnportal/transport"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func newReporter(t *testing.T, opts ...Option) (*Reporter, *recorder) {
	t.Helper()
	r, err := NewReporter(opts...)
	require.NoError(t, err)
	rec := &recorder{}
	r.Subscribe(rec.handle)
	return r, rec
}

func failure(id string, status int) Failure {
	return Failure{
		ErrorID:   id,
		Message:   "Unable to retrieve the list of functions",
		Operation: "getFunctions",
		Outcome:   transport.Outcome{Status: status},
	}
}

func TestReportIsIdempotentWhileActive(t *testing.T) {
	ctx := context.Background()
	r, rec := newReporter(t)

	assert.True(t, r.Report(ctx, failure("unableToRetrieveFunctionsList", 503)))
	assert.False(t, r.Report(ctx, failure("unableToRetrieveFunctionsList", 500)))
	assert.True(t, r.Active("unableToRetrieveFunctionsList"))

	require.Len(t, rec.events, 1)
	e := rec.events[0]
	assert.Equal(t, EventRaised, e.Type)
	assert.Equal(t, SeverityAPIError, e.Severity)
	assert.Equal(t, 503, e.Status)
	assert.Equal(t, "Service Unavailable", e.StatusText)
	assert.Equal(t, "getFunctions", e.Operation)
}

func TestClearOnlyOnTransition(t *testing.T) {
	ctx := context.Background()
	r, rec := newReporter(t)

	assert.False(t, r.Clear(ctx, "unableToRetrieveFunctionsList"))
	assert.Empty(t, rec.events)

	r.Report(ctx, failure("unableToRetrieveFunctionsList", 0))
	assert.True(t, r.Clear(ctx, "unableToRetrieveFunctionsList"))
	assert.False(t, r.Clear(ctx, "unableToRetrieveFunctionsList"))
	assert.False(t, r.Active("unableToRetrieveFunctionsList"))

	assert.Equal(t, []EventType{EventRaised, EventCleared}, rec.types())
	assert.Equal(t, "Unknown HTTP Error", rec.events[0].StatusText)

	// 清除后可以再次触发
	assert.True(t, r.Report(ctx, failure("unableToRetrieveFunctionsList", 502)))
	assert.Equal(t, []EventType{EventRaised, EventCleared, EventRaised}, rec.types())
}

func TestHandledIsSuppressed(t *testing.T) {
	r, rec := newReporter(t)
	f := failure("unableToRetrieveRuntimeKey", 401)
	f.Outcome.Handled = true

	assert.False(t, r.Report(context.Background(), f))
	assert.False(t, r.Report(context.Background(), Failure{}))
	assert.Empty(t, rec.events)
}

func TestSeverityPreserved(t *testing.T) {
	r, rec := newReporter(t)
	f := failure("functionRuntimeIsUnableToStart", 503)
	f.Severity = SeverityFatal
	r.Report(context.Background(), f)
	assert.Equal(t, SeverityFatal, rec.events[0].Severity)
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	ctx := context.Background()
	r, err := NewReporter()
	require.NoError(t, err)

	var order []string
	unsubA := r.Subscribe(func(Event) { order = append(order, "a") })
	r.Subscribe(func(Event) { order = append(order, "b") })
	r.Subscribe(nil)()

	r.Report(ctx, failure("x", 500))
	unsubA()
	unsubA()
	r.Clear(ctx, "x")

	assert.Equal(t, []string{"a", "b", "b"}, order)
}

func TestConcurrentTransitionsAreOrdered(t *testing.T) {
	ctx := context.Background()
	r, rec := newReporter(t)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				r.Report(ctx, failure("flappy", 503))
			} else {
				r.Clear(ctx, "flappy")
			}
		}(i)
	}
	wg.Wait()

	// 订阅者观察到的序列必须严格交替，从 raised 开始
	types := rec.types()
	for i, typ := range types {
		if i%2 == 0 {
			assert.Equal(t, EventRaised, typ, "event %d", i)
		} else {
			assert.Equal(t, EventCleared, typ, "event %d", i)
		}
	}
	assert.Equal(t, len(types)%2 == 1, r.Active("flappy"))
}

func TestActiveErrors(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r, _ := newReporter(t, WithClock(func() time.Time { return now }))

	r.Report(ctx, failure("b", 500))
	r.Report(ctx, failure("a", 404))
	active := r.ActiveErrors()
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ErrorID)
	assert.Equal(t, now, active[0].Time)
}

func TestReporterMetrics(t *testing.T) {
	kit := testkit.NewKit(t)
	r, _ := newReporter(t, WithMeter(kit.Meter), WithLogger(kit.Logger))

	r.Report(kit.Ctx, failure("a", 500))
	r.Report(kit.Ctx, failure("a", 500))
	r.Clear(kit.Ctx, "a")

	assert.Equal(t, 1.0, kit.Counter(t, MetricEvents, metrics.L("type", string(EventRaised))))
	assert.Equal(t, 1.0, kit.Counter(t, MetricEvents, metrics.L("type", string(EventCleared))))
}

func TestTracker(t *testing.T) {
	kit := testkit.NewKit(t)
	tracker, err := NewTracker(WithMeter(kit.Meter), WithLogger(kit.Logger))
	require.NoError(t, err)
	r, _ := newReporter(t)
	r.Subscribe(tracker.Handle)

	f := failure("unableToRetrieveFileContentrun.csx", 404)
	f.Operation = "getFileContent"
	r.Report(kit.Ctx, f)
	r.Clear(kit.Ctx, f.ErrorID)
	r.Report(kit.Ctx, f)

	assert.Equal(t, 2.0, kit.Counter(t, MetricErrors,
		metrics.L(metrics.LabelOperation, "getFileContent"),
		metrics.L(metrics.LabelSeverity, string(SeverityAPIError))))
}

type fakePublisher struct {
	msgs []*nats.Msg
	err  error
}

func (p *fakePublisher) PublishMsg(msg *nats.Msg) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func TestNATSSink(t *testing.T) {
	pub := &fakePublisher{}
	sink, err := NewNATSSink(pub, "fnportal.errors")
	require.NoError(t, err)

	r, _ := newReporter(t)
	r.Subscribe(sink.Handle)
	r.Report(context.Background(), failure("unableToCreateFunction", 409))

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "fnportal.errors", pub.msgs[0].Subject)
	var e Event
	require.NoError(t, json.Unmarshal(pub.msgs[0].Data, &e))
	assert.Equal(t, EventRaised, e.Type)
	assert.Equal(t, "unableToCreateFunction", e.ErrorID)
	assert.Equal(t, "Conflict", e.StatusText)

	pub.err = errors.New("nats: connection closed")
	assert.Error(t, sink.Publish(context.Background(), e))
	sink.Handle(e)

	_, err = NewNATSSink(nil, "x")
	assert.Error(t, err)
	_, err = NewNATSSink(pub, "")
	assert.Error(t, err)
}

func TestNATSRoundTrip(t *testing.T) {
	conn := testkit.GetNATSConn(t)
	subject := "fnportal.test.errors." + testkit.NewID()

	received := make(chan Event, 1)
	unsubscribe, err := SubscribeNATS(conn, subject, func(_ context.Context, e Event) { received <- e })
	require.NoError(t, err)
	defer func() { _ = unsubscribe() }()
	require.NoError(t, conn.Flush())

	sink, err := NewNATSSink(conn, subject)
	require.NoError(t, err)
	require.NoError(t, sink.Publish(context.Background(), Event{Type: EventCleared, ErrorID: "abc"}))

	select {
	case e := <-received:
		assert.Equal(t, EventCleared, e.Type)
		assert.Equal(t, "abc", e.ErrorID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}
