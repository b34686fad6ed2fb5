package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/fnportal/metrics"
	"github.com/ceyewan/fnportal/testkit"
	"github.com/ceyewan/fnportal/transport"
	"github.com/ceyewan/fnportal/xerrors"
)

func newTestCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	c, err := New(&Config{Capacity: 100}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func ok(body string) ComputeFunc {
	return func(context.Context) (transport.Outcome, bool) {
		return transport.Outcome{Status: 200, Body: []byte(body)}, true
	}
}

func TestIdentity(t *testing.T) {
	id := ID("getFileContent", "https://scm/api/vfs/a.js")
	assert.Equal(t, "getFileContent", id.Operation)
	assert.Equal(t, "getFileContent|https://scm/api/vfs/a.js", id.String())
	assert.Equal(t, ID("getSecrets", "a", "b"), Identity{Operation: "getSecrets", Key: "a|b"})
	assert.Equal(t, "", ID("getFunctions").Key)

	assert.NotEqual(t, ID("getFunctionKeys", "a|b"), ID("getFunctionKeys", "a", "b"))
	assert.NotEqual(t, ID("getFunctionKeys", `a\`, "b"), ID("getFunctionKeys", `a\|b`))
	assert.Equal(t, `getFunctionKeys|a\|b`, ID("getFunctionKeys", "a|b").String())

	assert.Error(t, Identity{}.validate())
	assert.Error(t, ID("a|b").validate())
	assert.NoError(t, ID("getFunctions").validate())
}

func TestGetOrComputeCachesSuccess(t *testing.T) {
	kit := testkit.NewKit(t)
	c := newTestCache(t, WithLogger(kit.Logger), WithMeter(kit.Meter))
	id := ID("getFunctions")

	var calls atomic.Int32
	compute := func(context.Context) (transport.Outcome, bool) {
		calls.Add(1)
		return transport.Outcome{Status: 200, Body: []byte(`[]`)}, true
	}

	out, src, err := c.GetOrCompute(kit.Ctx, id, compute)
	require.NoError(t, err)
	assert.Equal(t, SourceComputed, src)
	assert.Equal(t, `[]`, string(out.Body))

	out, src, err = c.GetOrCompute(kit.Ctx, id, compute)
	require.NoError(t, err)
	assert.Equal(t, SourceStore, src)
	assert.Equal(t, `[]`, string(out.Body))
	assert.Equal(t, int32(1), calls.Load())

	// 调用方修改返回值不影响缓存
	out.Body[0] = 'x'
	out, _, _ = c.GetOrCompute(kit.Ctx, id, compute)
	assert.Equal(t, `[]`, string(out.Body))

	assert.Equal(t, 1.0, kit.Counter(t, MetricRequests, metrics.L(metrics.LabelResult, ResultMiss)))
	assert.Equal(t, 2.0, kit.Counter(t, MetricRequests,
		metrics.L(metrics.LabelOperation, "getFunctions"),
		metrics.L(metrics.LabelResult, ResultHit)))
}

func TestGetOrComputeDoesNotStoreFailures(t *testing.T) {
	c := newTestCache(t)
	id := ID("getFunctions")

	calls := 0
	compute := func(context.Context) (transport.Outcome, bool) {
		calls++
		return transport.Outcome{Status: 503}, false
	}
	for range 3 {
		out, src, err := c.GetOrCompute(context.Background(), id, compute)
		require.NoError(t, err)
		assert.Equal(t, SourceComputed, src)
		assert.Equal(t, 503, out.Status)
	}
	assert.Equal(t, 3, calls)
}

func TestAtMostOneInFlight(t *testing.T) {
	kit := testkit.NewKit(t)
	c := newTestCache(t, WithMeter(kit.Meter))
	id := ID("getHostSecrets")

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	compute := func(context.Context) (transport.Outcome, bool) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return transport.Outcome{Status: 200, Body: []byte(`{"masterKey":"k"}`)}, true
	}

	const callers = 8
	results := make([]transport.Outcome, callers)
	sources := make([]Source, callers)
	var wg sync.WaitGroup
	run := func(i int) {
		defer wg.Done()
		out, src, err := c.GetOrCompute(kit.Ctx, id, compute)
		assert.NoError(t, err)
		results[i], sources[i] = out, src
	}

	wg.Add(1)
	go run(0)
	<-started
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go run(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, SourceComputed, sources[0])
	for i := 1; i < callers; i++ {
		assert.Equal(t, results[0].Body, results[i].Body)
		assert.Contains(t, []Source{SourceShared, SourceStore}, sources[i])
	}
}

func TestInvalidationDuringComputeDiscardsResult(t *testing.T) {
	tests := []struct {
		name       string
		invalidate func(c *Cache, id Identity) error
	}{
		{"identity", func(c *Cache, id Identity) error { return c.Invalidate(context.Background(), id) }},
		{"operation", func(c *Cache, id Identity) error { return c.InvalidateOperation(context.Background(), id.Operation) }},
		{"all", func(c *Cache, _ Identity) error { return c.InvalidateAll(context.Background()) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCache(t)
			id := ID("getFunctions")

			started := make(chan struct{})
			release := make(chan struct{})
			done := make(chan transport.Outcome)
			go func() {
				out, _, _ := c.GetOrCompute(context.Background(), id, func(context.Context) (transport.Outcome, bool) {
					close(started)
					<-release
					return transport.Outcome{Status: 200, Body: []byte("old-site")}, true
				})
				done <- out
			}()

			<-started
			require.NoError(t, tt.invalidate(c, id))
			close(release)
			assert.Equal(t, "old-site", string((<-done).Body))

			out, src, err := c.GetOrCompute(context.Background(), id, ok("new-site"))
			require.NoError(t, err)
			assert.Equal(t, SourceComputed, src)
			assert.Equal(t, "new-site", string(out.Body))
		})
	}
}

// countingStore 记录 Set 调用次数
type countingStore struct {
	Store
	sets atomic.Int32
}

func (s *countingStore) Set(ctx context.Context, key string, out transport.Outcome) error {
	s.sets.Add(1)
	return s.Store.Set(ctx, key, out)
}

func TestInvalidatedResultIsNeverWritten(t *testing.T) {
	inner, err := newStandaloneStore(100)
	require.NoError(t, err)
	store := &countingStore{Store: inner}
	c := newTestCache(t, WithStore(store))
	id := ID("getFileContent", "https://scm/api/vfs/a.js")

	out, src, err := c.GetOrCompute(context.Background(), id, func(ctx context.Context) (transport.Outcome, bool) {
		require.NoError(t, c.Invalidate(ctx, id))
		return transport.Outcome{Status: 200, Body: []byte("stale")}, true
	})
	require.NoError(t, err)
	assert.Equal(t, SourceComputed, src)
	assert.Equal(t, "stale", string(out.Body))
	assert.Zero(t, store.sets.Load())

	_, ok, err := inner.Get(context.Background(), id.String())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidateScopes(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	fileA := ID("getFileContent", "a.js")
	fileB := ID("getFileContent", "b.js")
	functions := ID("getFunctions")
	fill := func() {
		for _, id := range []Identity{fileA, fileB, functions} {
			_, _, err := c.GetOrCompute(ctx, id, ok(id.Key))
			require.NoError(t, err)
		}
	}
	source := func(id Identity) Source {
		_, src, err := c.GetOrCompute(ctx, id, ok(id.Key))
		require.NoError(t, err)
		return src
	}

	fill()
	require.NoError(t, c.Invalidate(ctx, fileA))
	assert.Equal(t, SourceComputed, source(fileA))
	assert.Equal(t, SourceStore, source(fileB))
	assert.Equal(t, SourceStore, source(functions))

	require.NoError(t, c.InvalidateOperation(ctx, "getFileContent"))
	assert.Equal(t, SourceComputed, source(fileA))
	assert.Equal(t, SourceComputed, source(fileB))
	assert.Equal(t, SourceStore, source(functions))

	require.NoError(t, c.InvalidateAll(ctx))
	assert.Equal(t, SourceComputed, source(fileA))
	assert.Equal(t, SourceComputed, source(fileB))
	assert.Equal(t, SourceComputed, source(functions))

	assert.Error(t, c.InvalidateOperation(ctx, ""))
	assert.Error(t, c.Invalidate(ctx, Identity{}))
}

func TestCallerCancelDoesNotAbortCompute(t *testing.T) {
	c := newTestCache(t)
	id := ID("getFunctions")

	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	computed := make(chan error, 1)
	go func() {
		<-release
		cancel()
	}()

	_, _, err := c.GetOrCompute(ctx, id, func(cctx context.Context) (transport.Outcome, bool) {
		close(release)
		time.Sleep(20 * time.Millisecond)
		computed <- cctx.Err()
		return transport.Outcome{Status: 200, Body: []byte("done")}, true
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, <-computed)

	require.Eventually(t, func() bool {
		_, src, err := c.GetOrCompute(context.Background(), id, ok("again"))
		return err == nil && src == SourceStore
	}, time.Second, 10*time.Millisecond)
}

type failingStore struct{ Store }

func (failingStore) Get(context.Context, string) (transport.Outcome, bool, error) {
	return transport.Outcome{}, false, errors.New("store down")
}

func (failingStore) Set(context.Context, string, transport.Outcome) error {
	return errors.New("store down")
}

func (failingStore) Close() error { return nil }

func TestStoreErrorsFallBackToCompute(t *testing.T) {
	c := newTestCache(t, WithStore(failingStore{}))
	out, src, err := c.GetOrCompute(context.Background(), ID("getFunctions"), ok("[]"))
	require.NoError(t, err)
	assert.Equal(t, SourceComputed, src)
	assert.Equal(t, "[]", string(out.Body))
}

func TestClose(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, _, err = c.GetOrCompute(context.Background(), ID("getFunctions"), ok("[]"))
	assert.ErrorIs(t, err, xerrors.ErrClosed)
	assert.ErrorIs(t, c.InvalidateAll(context.Background()), ErrClosed)
}

func TestConfig(t *testing.T) {
	_, err := New(&Config{Mode: "tiered"})
	assert.Error(t, err)

	_, err = New(&Config{Mode: ModeDistributed})
	assert.Error(t, err)

	_, err = New(&Config{Mode: ModeDistributed, Serializer: "gob"}, WithRedisConnector(nil))
	assert.Error(t, err)

	cfg := &Config{}
	cfg.setDefaults()
	assert.Equal(t, ModeStandalone, cfg.Mode)
	assert.Equal(t, 10000, cfg.Capacity)
}

func TestSourceString(t *testing.T) {
	assert.Equal(t, "computed", SourceComputed.String())
	assert.Equal(t, "store", SourceStore.String())
	assert.Equal(t, "shared", SourceShared.String())
}
