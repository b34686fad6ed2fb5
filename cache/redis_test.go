package cache

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/fnportal/cache/serializer"
	"github.com/ceyewan/fnportal/testkit"
	"github.com/ceyewan/fnportal/transport"
)

func TestRedisStore(t *testing.T) {
	client := testkit.GetRedisClient(t)
	ctx := testkit.NewContext(t, 10*time.Second)

	for _, name := range []string{"json", "msgpack"} {
		t.Run(name, func(t *testing.T) {
			s, err := serializer.New(name)
			require.NoError(t, err)
			prefix := "fnportal:test:" + testkit.NewID() + ":"
			store := newRedisStore(client, prefix, s)
			t.Cleanup(func() { _ = store.Clear(context.Background()) })

			out := transport.Outcome{
				Status: 200,
				Body:   []byte{0x00, 0xff, '{', '}'},
				Header: http.Header{"Content-Type": {"application/json"}},
			}
			require.NoError(t, store.Set(ctx, ID("getFile", "a*b").String(), out))
			require.NoError(t, store.Set(ctx, ID("getFile", "c").String(), out))
			require.NoError(t, store.Set(ctx, ID("getFunctions").String(), out))

			got, found, err := store.Get(ctx, ID("getFile", "a*b").String())
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, out.Body, got.Body)
			assert.Equal(t, "application/json", got.Header.Get("Content-Type"))

			require.NoError(t, store.DeletePrefix(ctx, operationPrefix("getFile")))
			_, found, _ = store.Get(ctx, ID("getFile", "c").String())
			assert.False(t, found)
			_, found, _ = store.Get(ctx, ID("getFunctions").String())
			assert.True(t, found)

			require.NoError(t, store.Clear(ctx))
			_, found, _ = store.Get(ctx, ID("getFunctions").String())
			assert.False(t, found)
		})
	}
}

func TestDistributedCache(t *testing.T) {
	conn := testkit.GetRedisConnector(t)
	ctx := testkit.NewContext(t, 10*time.Second)

	c, err := New(&Config{
		Mode:       ModeDistributed,
		Prefix:     "fnportal:test:" + testkit.NewID() + ":",
		Serializer: "msgpack",
	}, WithRedisConnector(conn))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.InvalidateAll(context.Background())
		_ = c.Close()
	})

	_, src, err := c.GetOrCompute(ctx, ID("getRuntimeConfig"), ok(`{"v":"~1"}`))
	require.NoError(t, err)
	assert.Equal(t, SourceComputed, src)

	out, src, err := c.GetOrCompute(ctx, ID("getRuntimeConfig"), ok("unused"))
	require.NoError(t, err)
	assert.Equal(t, SourceStore, src)
	assert.Equal(t, `{"v":"~1"}`, string(out.Body))
}

func TestInvalidatorPropagates(t *testing.T) {
	client := testkit.GetRedisClient(t)
	ctx := testkit.NewContext(t, 10*time.Second)
	channel := "fnportal:test:invalidate:" + testkit.NewID()

	a := newTestCache(t)
	b := newTestCache(t)
	invA := NewInvalidator(a, client, channel)
	invB := NewInvalidator(b, client, channel)
	t.Cleanup(func() {
		_ = invA.Close()
		_ = invB.Close()
	})
	go func() { _ = invA.Start(ctx) }()
	go func() { _ = invB.Start(ctx) }()
	<-invA.Ready()
	<-invB.Ready()

	id := ID("getFileContent", "run.csx")
	_, _, err := b.GetOrCompute(ctx, id, ok("v1"))
	require.NoError(t, err)
	_, _, err = a.GetOrCompute(ctx, id, ok("v1"))
	require.NoError(t, err)

	require.NoError(t, a.Invalidate(ctx, id))

	require.Eventually(t, func() bool {
		_, found, _ := b.store.Get(ctx, id.String())
		return !found
	}, 2*time.Second, 20*time.Millisecond)

	// 远端失效不会被再次转发回来
	_, _, err = a.GetOrCompute(ctx, id, ok("v2"))
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	_, found, _ := a.store.Get(ctx, id.String())
	assert.True(t, found)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `p:a\*b\?\[c\]\\`, escapeGlob(`p:a*b?[c]\`))
}
