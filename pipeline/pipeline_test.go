package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ceyewan/fnportal/broadcast"
	"github.com/ceyewan/fnportal/cache"
	"github.com/ceyewan/fnportal/metrics"
	"github.com/ceyewan/fnportal/retry"
	"github.com/ceyewan/fnportal/testkit"
	"github.com/ceyewan/fnportal/transport"
)

func noSleep(context.Context, time.Duration) error { return nil }

// script 按顺序返回给定结果，超出后重复最后一个
type script struct {
	mu       sync.Mutex
	outcomes []transport.Outcome
	calls    int
	requests []*transport.Request
}

func (s *script) Do(_ context.Context, req *transport.Request) transport.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.outcomes[min(s.calls, len(s.outcomes)-1)]
	s.calls++
	s.requests = append(s.requests, req)
	return out
}

func (s *script) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func status(code int, body string) transport.Outcome {
	return transport.Outcome{Status: code, Body: []byte(body)}
}

func repeat(out transport.Outcome, n int) []transport.Outcome {
	s := make([]transport.Outcome, n)
	for i := range s {
		s[i] = out
	}
	return s
}

// journal 记录错误事件与缓存写入的先后顺序
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.entries = append(j.entries, s)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type journalStore struct {
	cache.Store
	j *journal
}

func (s journalStore) Set(ctx context.Context, key string, out transport.Outcome) error {
	s.j.add("set " + key)
	return s.Store.Set(ctx, key, out)
}

type fixture struct {
	p        *Pipeline
	doer     *script
	journal  *journal
	reporter *broadcast.Reporter
	kit      *testkit.Kit
}

func newFixture(t *testing.T, outcomes ...transport.Outcome) *fixture {
	t.Helper()
	kit := testkit.NewKit(t)
	j := &journal{}

	store := journalStore{Store: &memoryStore{m: make(map[string]transport.Outcome)}, j: j}
	c, err := cache.New(nil, cache.WithStore(store))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	r, err := broadcast.NewReporter()
	require.NoError(t, err)
	r.Subscribe(func(e broadcast.Event) { j.add(string(e.Type) + " " + e.ErrorID) })

	doer := &script{outcomes: outcomes}
	p, err := New(doer, c, r,
		WithLogger(kit.Logger),
		WithMeter(kit.Meter),
		WithRetryOptions(retry.WithSleep(noSleep)))
	require.NoError(t, err)
	return &fixture{p: p, doer: doer, journal: j, reporter: r, kit: kit}
}

// memoryStore 最小的 Store 实现，供 journalStore 包装
type memoryStore struct {
	mu sync.Mutex
	m  map[string]transport.Outcome
}

func (s *memoryStore) Get(_ context.Context, key string) (transport.Outcome, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.m[key]
	return out, ok, nil
}

func (s *memoryStore) Set(_ context.Context, key string, out transport.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = out
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *memoryStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.m {
		if strings.HasPrefix(k, prefix) {
			delete(s.m, k)
		}
	}
	return nil
}

func (s *memoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = make(map[string]transport.Outcome)
	return nil
}

func (s *memoryStore) Close() error { return nil }

func getFunctions() Operation {
	return Operation{
		ID:        cache.ID("getFunctions"),
		Request:   &transport.Request{Method: http.MethodGet, URL: "https://scm.example/api/functions"},
		Cacheable: true,
		Expect:    ExpectJSON,
		ErrorID:   "unableToRetrieveFunctionsList",
		Message:   "Unable to retrieve the list of functions",
	}
}

func TestSuccessClearsBeforeCacheWrite(t *testing.T) {
	f := newFixture(t, append(repeat(status(503, ""), 10), status(200, `[{"name":"HttpTrigger1"}]`))...)
	ctx := context.Background()

	_, err := f.p.Execute(ctx, getFunctions())
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, ErrServer)
	assert.Equal(t, 10, perr.Attempts)

	res, err := f.p.Execute(ctx, getFunctions())
	require.NoError(t, err)
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, "OK", res.StatusText)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, cache.SourceComputed, res.Source)

	assert.Equal(t, []string{
		"raised unableToRetrieveFunctionsList",
		"cleared unableToRetrieveFunctionsList",
		"set getFunctions|",
	}, f.journal.list())

	res, err = f.p.Execute(ctx, getFunctions())
	require.NoError(t, err)
	assert.Equal(t, cache.SourceStore, res.Source)
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, 11, f.doer.count())
}

func TestFailureReportedOnceAcrossRetries(t *testing.T) {
	f := newFixture(t, repeat(status(503, "busy"), 11)...)

	res, err := f.p.Execute(context.Background(), getFunctions())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServer)
	require.NotNil(t, res)
	assert.Equal(t, 503, res.Status)
	assert.Equal(t, "Service Unavailable", res.StatusText)
	assert.Equal(t, "busy", string(res.Body))
	assert.Equal(t, 10, res.Attempts)
	assert.Equal(t, 10, f.doer.count())

	// 返回前已上报，且只上报一次
	assert.Equal(t, []string{"raised unableToRetrieveFunctionsList"}, f.journal.list())
	assert.True(t, f.reporter.Active("unableToRetrieveFunctionsList"))

	// 失败不缓存
	_, _ = f.p.Execute(context.Background(), getFunctions())
	assert.Equal(t, 20, f.doer.count())
	assert.Equal(t, []string{"raised unableToRetrieveFunctionsList"}, f.journal.list())
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name     string
		outcome  transport.Outcome
		kind     error
		status   int
		text     string
		attempts int
		raised   bool
	}{
		{"transport", transport.Failed(errors.New("dial tcp 10.0.0.1:443: i/o timeout")), ErrTransport, 0, "Unknown HTTP Error", 10, true},
		{"client", status(404, "missing"), ErrClient, 404, "Not Found", 1, true},
		{"redirect", status(302, ""), ErrClient, 302, "Found", 1, true},
		{"server", status(500, ""), ErrServer, 500, "Internal Server Error", 10, true},
		{"handled", transport.Outcome{Status: 401, Handled: true}, ErrHandled, 401, "Unauthorized", 1, false},
		{"parse", status(200, "<html>"), ErrParse, 200, "OK", 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.outcome)
			res, err := f.p.Execute(context.Background(), getFunctions())

			assert.ErrorIs(t, err, tt.kind)
			var perr *Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.status, perr.Status)
			assert.Equal(t, tt.text, perr.StatusText)
			assert.NotContains(t, err.Error(), "i/o timeout")

			require.NotNil(t, res)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.text, res.StatusText)
			assert.Equal(t, tt.attempts, res.Attempts)
			assert.Equal(t, tt.raised, len(f.journal.list()) > 0)
		})
	}
}

func TestParseFailureUsesDistinctErrorID(t *testing.T) {
	f := newFixture(t, status(200, "<html>"), status(200, "[]"))
	ctx := context.Background()

	_, err := f.p.Execute(ctx, getFunctions())
	require.ErrorIs(t, err, ErrParse)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "unableToRetrieveFunctionsList.parse", perr.ErrorID)
	assert.True(t, f.reporter.Active("unableToRetrieveFunctionsList.parse"))
	assert.False(t, f.reporter.Active("unableToRetrieveFunctionsList"))

	// 未缓存，第二次重新请求并清除解析错误
	res, err := f.p.Execute(ctx, getFunctions())
	require.NoError(t, err)
	assert.Equal(t, cache.SourceComputed, res.Source)
	assert.False(t, f.reporter.Active("unableToRetrieveFunctionsList.parse"))
	assert.Equal(t, 2, f.doer.count())
}

func TestFetch(t *testing.T) {
	type function struct {
		Name string `json:"name"`
	}

	f := newFixture(t, status(200, `[{"name":"HttpTrigger1"},{"name":"TimerTrigger1"}]`))
	fns, res, err := Fetch[[]function](context.Background(), f.p, getFunctions())
	require.NoError(t, err)
	assert.Equal(t, 200, res.Status)
	require.Len(t, fns, 2)
	assert.Equal(t, "TimerTrigger1", fns[1].Name)
}

func TestFetchShapeMismatch(t *testing.T) {
	type function struct {
		Name string `json:"name"`
	}

	f := newFixture(t, status(200, `{"name":"not-a-list"}`), status(200, `[]`))
	ctx := context.Background()

	_, _, err := Fetch[[]function](ctx, f.p, getFunctions())
	require.ErrorIs(t, err, ErrParse)
	assert.True(t, f.reporter.Active("unableToRetrieveFunctionsList.parse"))

	fns, res, err := Fetch[[]function](ctx, f.p, getFunctions())
	require.NoError(t, err)
	assert.Empty(t, fns)
	assert.Equal(t, cache.SourceComputed, res.Source)
	assert.False(t, f.reporter.Active("unableToRetrieveFunctionsList.parse"))
}

func TestMutationInvalidatesBeforeAndAfter(t *testing.T) {
	kit := testkit.NewKit(t)
	c, err := cache.New(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	fileID := cache.ID("getFileContent", "https://scm.example/api/vfs/run.csx")
	fill := func(body string) cache.Source {
		_, src, err := c.GetOrCompute(kit.Ctx, fileID, func(context.Context) (transport.Outcome, bool) {
			return status(200, body), true
		})
		require.NoError(t, err)
		return src
	}
	require.Equal(t, cache.SourceComputed, fill("v1"))

	var duringSource cache.Source
	doer := transport.DoerFunc(func(context.Context, *transport.Request) transport.Outcome {
		duringSource = fill("read-during-save")
		return status(204, "")
	})
	p, err := New(doer, c, nil, WithRetryOptions(retry.WithSleep(noSleep)))
	require.NoError(t, err)

	_, err = p.Execute(kit.Ctx, Operation{
		ID:          cache.ID("saveFile", fileID.Key),
		Request:     &transport.Request{Method: http.MethodPut, URL: fileID.Key, Body: []byte("v2")},
		ErrorID:     "unableToSaveFileContentrun.csx",
		Invalidates: []cache.Identity{fileID},
	})
	require.NoError(t, err)

	assert.Equal(t, cache.SourceComputed, duringSource, "entry must be gone before the request is issued")
	assert.Equal(t, cache.SourceComputed, fill("v2"), "entry read during the mutation must be gone afterwards")
}

func TestInvalidateOperationsAndAll(t *testing.T) {
	f := newFixture(t, status(200, "[]"))
	ctx := context.Background()

	_, err := f.p.Execute(ctx, getFunctions())
	require.NoError(t, err)

	_, err = f.p.Execute(ctx, Operation{
		ID:             cache.ID("createFunction", "HttpTrigger2"),
		Request:        &transport.Request{Method: http.MethodPut, URL: "https://scm.example/api/functions/HttpTrigger2"},
		InvalidatesOps: []string{"getFunctions"},
	})
	require.NoError(t, err)
	res, err := f.p.Execute(ctx, getFunctions())
	require.NoError(t, err)
	assert.Equal(t, cache.SourceComputed, res.Source)

	_, err = f.p.Execute(ctx, Operation{
		ID:             cache.ID("clearAllCachedData"),
		Call:           func(context.Context) transport.Outcome { return status(200, "") },
		InvalidatesAll: true,
	})
	require.NoError(t, err)
	res, err = f.p.Execute(ctx, getFunctions())
	require.NoError(t, err)
	assert.Equal(t, cache.SourceComputed, res.Source)
}

func TestConcurrentExecutionsShareOneCall(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	doer := transport.DoerFunc(func(context.Context, *transport.Request) transport.Outcome {
		calls.Add(1)
		<-release
		return status(200, `{"state":"Running"}`)
	})
	p, err := New(doer, nil, nil)
	require.NoError(t, err)

	op := Operation{
		ID:        cache.ID("getHostStatus"),
		Request:   &transport.Request{URL: "https://site.example/admin/host/status"},
		Cacheable: true,
		Expect:    ExpectJSON,
		Policy:    retry.Persistent(retry.HostStatusDelay),
	}

	var wg sync.WaitGroup
	results := make(chan *Result, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Execute(context.Background(), op)
			assert.NoError(t, err)
			results <- res
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	assert.Equal(t, int32(1), calls.Load())
	for res := range results {
		assert.JSONEq(t, `{"state":"Running"}`, string(res.Body))
	}
}

func TestRequestIsClonedPerAttempt(t *testing.T) {
	var seen []string
	doer := transport.DoerFunc(func(_ context.Context, req *transport.Request) transport.Outcome {
		seen = append(seen, req.Header.Get("X-Attempt"))
		req.Header.Set("X-Attempt", "mutated")
		return status(503, "")
	})
	p, err := New(doer, nil, nil, WithRetryOptions(retry.WithSleep(noSleep)))
	require.NoError(t, err)

	_, _ = p.Execute(context.Background(), Operation{
		ID:      cache.ID("getHostStatus"),
		Request: &transport.Request{URL: "https://site.example", Header: http.Header{"X-Attempt": {"original"}}},
		Policy:  retry.Policy{Name: "three", MaxAttempts: 3},
	})
	assert.Equal(t, []string{"original", "original", "original"}, seen)
}

func TestOperationValidation(t *testing.T) {
	p, err := New(transport.DoerFunc(func(context.Context, *transport.Request) transport.Outcome {
		return status(200, "")
	}), nil, nil)
	require.NoError(t, err)
	req := &transport.Request{URL: "https://x"}

	tests := []struct {
		name string
		op   Operation
	}{
		{"empty name", Operation{Request: req}},
		{"no request", Operation{ID: cache.ID("a")}},
		{"cacheable mutation", Operation{ID: cache.ID("a"), Request: req, Cacheable: true, InvalidatesAll: true}},
		{"bad policy", Operation{ID: cache.ID("a"), Request: req, Policy: retry.Policy{MaxAttempts: 1, Delay: -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := p.Execute(context.Background(), tt.op)
			assert.Error(t, err)
			assert.Nil(t, res)
		})
	}

	_, err = New(nil, nil, nil)
	assert.Error(t, err)
}

func TestCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	doer := transport.DoerFunc(func(context.Context, *transport.Request) transport.Outcome {
		<-release
		return status(200, "[]")
	})
	p, err := New(doer, nil, nil)
	require.NoError(t, err)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, err := p.Execute(ctx, getFunctions())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCanceledMutationIsNotReported(t *testing.T) {
	f := newFixture(t, transport.Failed(context.Canceled))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.p.Execute(ctx, Operation{
		ID:      cache.ID("saveFile", "https://scm.example/api/vfs/run.csx"),
		Request: &transport.Request{Method: http.MethodPut, URL: "https://scm.example/api/vfs/run.csx", Body: []byte("v2")},
		ErrorID: "unableToSaveFileContentrun.csx",
	})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.journal.list())
	assert.False(t, f.reporter.Active("unableToSaveFileContentrun.csx"))
}

func TestMetricsAndSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newFixture(t, status(404, ""))
	f.p.tracer = tp.Tracer("test")

	_, err := f.p.Execute(f.kit.Ctx, getFunctions())
	require.ErrorIs(t, err, ErrClient)

	assert.Equal(t, 1.0, f.kit.Counter(t, MetricRequests,
		metrics.L(metrics.LabelOperation, "getFunctions"),
		metrics.L(metrics.LabelResult, metrics.OutcomeError),
		metrics.L(metrics.LabelErrorKind, "client")))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "pipeline getFunctions", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}
