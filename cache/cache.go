// Package cache 提供请求管线的结果缓存。
//
// 缓存以 Identity（操作名 + 子键）为键保存已完成的成功结果，没有 TTL，
// 条目只在显式失效时消失：单个身份、整个操作或全部条目。
//
// 同一身份同一时刻至多一次计算在进行，并发调用者等待并共享同一个结果。
// 每次失效都会推进对应的代数，失效之前开始的计算即使晚于失效完成也不会写入，
// 因此切换站点等全量重置之后不会残留旧数据。
//
// 基本使用：
//
//	c, _ := cache.New(&cache.Config{Mode: cache.ModeStandalone}, cache.WithLogger(logger))
//	out, src, err := c.GetOrCompute(ctx, cache.ID("getFunctions"), func(ctx context.Context) (transport.Outcome, bool) {
//		out := client.Do(ctx, req)
//		return out, out.OK()
//	})
//
// 分布式模式：
//
//	c, _ := cache.New(&cache.Config{Mode: cache.ModeDistributed, Serializer: "msgpack"},
//		cache.WithRedisConnector(redisConn))
//	inv := cache.NewInvalidator(c, redisConn.GetClient(), "fnportal:cache:invalidate")
//	go inv.Start(ctx)
package cache

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/ceyewan/fnportal/cache/serializer"
	"github.com/ceyewan/fnportal/clog"
	"github.com/ceyewan/fnportal/metrics"
	"github.com/ceyewan/fnportal/transport"
	"github.com/ceyewan/fnportal/xerrors"
)

// 指标
const (
	MetricRequests      = "cache_requests_total"
	MetricInvalidations = "cache_invalidations_total"
)

// result 标签值
const (
	ResultHit    = "hit"
	ResultMiss   = "miss"
	ResultShared = "shared"
)

// 失效范围
const (
	ScopeIdentity  = "identity"
	ScopeOperation = "operation"
	ScopeAll       = "all"
)

// ErrClosed 缓存已关闭
var ErrClosed = xerrors.Wrap(xerrors.ErrClosed, "cache")

// ComputeFunc 计算一个结果，store 为 true 时写入缓存
type ComputeFunc func(ctx context.Context) (out transport.Outcome, store bool)

// generation 身份在某一时刻的代数，任一分量变化都说明期间发生过失效
type generation struct {
	epoch, op, id uint64
}

func (g generation) String() string {
	return strconv.FormatUint(g.epoch, 10) + "." + strconv.FormatUint(g.op, 10) + "." + strconv.FormatUint(g.id, 10)
}

// publisher 把本地失效广播给其他实例
type publisher interface {
	publish(ctx context.Context, msg invalidation) error
}

// Cache 结果缓存，可并发使用
type Cache struct {
	store  Store
	group  singleflight.Group
	logger clog.Logger

	requests      metrics.Counter
	invalidations metrics.Counter

	mu     sync.Mutex
	epoch  uint64
	ops    map[string]uint64
	ids    map[Identity]uint64
	peer   publisher
	closed bool
}

// New 根据配置创建缓存
func New(cfg *Config, opts ...Option) (*Cache, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, o := range opts {
		o(&opt)
	}

	store := opt.store
	if store == nil {
		var err error
		if store, err = newStore(cfg, opt); err != nil {
			return nil, err
		}
	}

	requests, err := opt.meter.Counter(MetricRequests, "Result cache lookups by outcome.")
	if err != nil {
		return nil, xerrors.Wrap(err, "cache: create requests counter")
	}
	invalidations, err := opt.meter.Counter(MetricInvalidations, "Result cache invalidations by scope.")
	if err != nil {
		return nil, xerrors.Wrap(err, "cache: create invalidations counter")
	}

	opt.logger.Info("result cache created", clog.String("mode", cfg.Mode))

	return &Cache{
		store:         store,
		logger:        opt.logger,
		requests:      requests,
		invalidations: invalidations,
		ops:           make(map[string]uint64),
		ids:           make(map[Identity]uint64),
	}, nil
}

func newStore(cfg *Config, opt options) (Store, error) {
	if cfg.Mode == ModeStandalone {
		return newStandaloneStore(cfg.Capacity)
	}
	if opt.redisConn == nil {
		return nil, xerrors.Invalidf("cache: distributed mode requires a redis connector")
	}
	s, err := serializer.New(cfg.Serializer)
	if err != nil {
		return nil, err
	}
	return newRedisStore(opt.redisConn.GetClient(), cfg.Prefix, s), nil
}

// GetOrCompute 返回 id 对应的结果：命中则直接返回，否则执行 compute。
//
// 同一身份的并发调用只执行一次 compute，其余调用者得到 SourceShared。
// compute 在脱离调用方取消的 context 中运行，调用方取消只结束自己的等待。
// 只有 compute 返回 store 为 true，且期间该身份未被失效时，结果才会写入。
func (c *Cache) GetOrCompute(ctx context.Context, id Identity, compute ComputeFunc) (transport.Outcome, Source, error) {
	if err := id.validate(); err != nil {
		return transport.Failed(err), SourceComputed, err
	}
	gen, err := c.generation(id)
	if err != nil {
		return transport.Failed(err), SourceComputed, err
	}

	key := id.String()
	if out, ok := c.lookup(ctx, key); ok {
		c.record(ctx, id, ResultHit)
		return out, SourceStore, nil
	}

	var leader, hit atomic.Bool
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key+"@"+gen.String(), func() (any, error) {
		leader.Store(true)
		// 等待期间前一次计算可能已经写入
		if out, ok := c.lookup(detached, key); ok {
			hit.Store(true)
			return out, nil
		}
		out, store := compute(detached)
		if store {
			c.write(detached, id, gen, out)
		}
		return out, nil
	})

	select {
	case res := <-ch:
		out := res.Val.(transport.Outcome)
		switch {
		case !leader.Load():
			c.record(ctx, id, ResultShared)
			return out, SourceShared, nil
		case hit.Load():
			c.record(ctx, id, ResultHit)
			return out, SourceStore, nil
		default:
			c.record(ctx, id, ResultMiss)
			return out, SourceComputed, nil
		}
	case <-ctx.Done():
		return transport.Failed(ctx.Err()), SourceComputed, ctx.Err()
	}
}

func (c *Cache) lookup(ctx context.Context, key string) (transport.Outcome, bool) {
	out, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "cache lookup failed", clog.String("key", key), clog.Error(err))
		return transport.Outcome{}, false
	}
	return out, ok
}

// write 写入前后各核对一次代数。写入前的核对让已经失效的结果不会被其他读者看到，
// 写入后的核对兜住 Set 期间发生的失效：失效总是先推进代数再删除存储，
// 两种交错顺序下都不会留下过期条目。
func (c *Cache) write(ctx context.Context, id Identity, gen generation, out transport.Outcome) {
	key := id.String()
	if now, err := c.generation(id); err != nil || now != gen {
		c.logger.DebugContext(ctx, "discarding result computed before invalidation", clog.String("key", key))
		return
	}
	if err := c.store.Set(ctx, key, out); err != nil {
		c.logger.WarnContext(ctx, "cache write failed", clog.String("key", key), clog.Error(err))
		return
	}
	now, err := c.generation(id)
	if err != nil || now == gen {
		return
	}
	c.logger.DebugContext(ctx, "discarding result computed before invalidation", clog.String("key", key))
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.WarnContext(ctx, "cache delete failed", clog.String("key", key), clog.Error(err))
	}
}

func (c *Cache) generation(id Identity) (generation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return generation{}, ErrClosed
	}
	return generation{epoch: c.epoch, op: c.ops[id.Operation], id: c.ids[id]}, nil
}

func (c *Cache) record(ctx context.Context, id Identity, result string) {
	c.requests.Inc(ctx, metrics.L(metrics.LabelOperation, id.Operation), metrics.L(metrics.LabelResult, result))
}

// Invalidate 删除单个身份的条目
func (c *Cache) Invalidate(ctx context.Context, id Identity) error {
	if err := id.validate(); err != nil {
		return err
	}
	return c.apply(ctx, invalidation{Scope: ScopeIdentity, Operation: id.Operation, Key: id.Key}, true)
}

// InvalidateOperation 删除某个操作的全部条目
func (c *Cache) InvalidateOperation(ctx context.Context, operation string) error {
	if err := (Identity{Operation: operation}).validate(); err != nil {
		return err
	}
	return c.apply(ctx, invalidation{Scope: ScopeOperation, Operation: operation}, true)
}

// InvalidateAll 删除全部条目，切换站点时调用
func (c *Cache) InvalidateAll(ctx context.Context) error {
	return c.apply(ctx, invalidation{Scope: ScopeAll}, true)
}

// apply 推进代数并删除存储中的条目，broadcast 为 true 时通知其他实例
func (c *Cache) apply(ctx context.Context, msg invalidation, broadcast bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	switch msg.Scope {
	case ScopeIdentity:
		c.ids[Identity{Operation: msg.Operation, Key: msg.Key}]++
	case ScopeOperation:
		c.ops[msg.Operation]++
	case ScopeAll:
		c.epoch++
		c.ops = make(map[string]uint64)
		c.ids = make(map[Identity]uint64)
	default:
		c.mu.Unlock()
		return xerrors.Invalidf("cache: unknown invalidation scope %q", msg.Scope)
	}
	peer := c.peer
	c.mu.Unlock()

	var err error
	switch msg.Scope {
	case ScopeIdentity:
		err = c.store.Delete(ctx, Identity{Operation: msg.Operation, Key: msg.Key}.String())
	case ScopeOperation:
		err = c.store.DeletePrefix(ctx, operationPrefix(msg.Operation))
	case ScopeAll:
		err = c.store.Clear(ctx)
	}
	c.invalidations.Inc(ctx, metrics.L("scope", msg.Scope))
	c.logger.DebugContext(ctx, "cache invalidated",
		clog.String("scope", msg.Scope),
		clog.Operation(msg.Operation),
		clog.String("key", msg.Key))
	if err != nil {
		return xerrors.Wrapf(err, "cache: invalidate %s", msg.Scope)
	}

	if broadcast && peer != nil {
		if perr := peer.publish(ctx, msg); perr != nil {
			c.logger.WarnContext(ctx, "publish invalidation failed", clog.Error(perr))
		}
	}
	return nil
}

func (c *Cache) attach(p publisher) {
	c.mu.Lock()
	c.peer = p
	c.mu.Unlock()
}

// Close 关闭缓存，之后的调用返回 ErrClosed
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.store.Close()
}
