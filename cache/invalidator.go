package cache

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/fnportal/clog"
	"github.com/ceyewan/fnportal/trace"
	"github.com/ceyewan/fnportal/xerrors"
)

// invalidation 跨实例传递的失效消息
type invalidation struct {
	Instance  string            `json:"instance"`
	Scope     string            `json:"scope"`
	Operation string            `json:"operation,omitempty"`
	Key       string            `json:"key,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// Invalidator 通过 Redis Pub/Sub 在多个实例之间同步失效。
//
// 本地每次失效都会发布一条消息，其他实例收到后对自己的缓存执行同样的失效
// （只推进代数并删除本地条目，不再转发）。自己发出的消息按实例 ID 忽略。
type Invalidator struct {
	cache    *Cache
	client   *redis.Client
	channel  string
	instance string
	span     trace.Channel
	logger   clog.Logger

	ready     chan struct{}
	readyOnce sync.Once

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

// NewInvalidator 创建失效同步器并挂到 c 上，之后 c 的失效会发布到 channel
func NewInvalidator(c *Cache, client *redis.Client, channel string) *Invalidator {
	inv := &Invalidator{
		cache:    c,
		client:   client,
		channel:  channel,
		instance: uuid.NewString(),
		span:     trace.Channel{System: trace.SystemRedis, Destination: channel},
		logger:   c.logger.WithNamespace("invalidator"),
		ready:    make(chan struct{}),
	}
	c.attach(inv)
	return inv
}

// Ready 订阅确认后关闭
func (inv *Invalidator) Ready() <-chan struct{} {
	return inv.ready
}

// Start 订阅频道并处理失效消息，阻塞直到 ctx 取消或 Close
func (inv *Invalidator) Start(ctx context.Context) error {
	subCtx, cancel := context.WithCancel(ctx)
	inv.mu.Lock()
	if inv.closed {
		inv.mu.Unlock()
		cancel()
		return ErrClosed
	}
	inv.cancel = cancel
	inv.mu.Unlock()
	defer cancel()

	pubsub := inv.client.Subscribe(subCtx, inv.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(subCtx); err != nil {
		if subCtx.Err() != nil {
			return nil
		}
		return xerrors.Wrapf(err, "subscribe %s", inv.channel)
	}
	inv.readyOnce.Do(func() { close(inv.ready) })
	inv.logger.Info("invalidation listener started", clog.String("channel", inv.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			inv.handle(subCtx, msg.Payload)
		}
	}
}

func (inv *Invalidator) handle(ctx context.Context, payload string) {
	var msg invalidation
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		inv.logger.WarnContext(ctx, "malformed invalidation message", clog.Error(err))
		return
	}
	if msg.Instance == inv.instance {
		return
	}

	spanCtx, span := trace.StartProcess(ctx, inv.span, msg.Headers)
	defer span.End()

	if err := inv.cache.apply(spanCtx, msg, false); err != nil {
		trace.MarkSpanError(span, err)
		inv.logger.WarnContext(spanCtx, "apply remote invalidation failed",
			clog.String("scope", msg.Scope),
			clog.Error(err))
	}
}

func (inv *Invalidator) publish(ctx context.Context, msg invalidation) error {
	spanCtx, span, headers := trace.StartPublish(ctx, inv.span)
	defer span.End()

	msg.Instance = inv.instance
	msg.Headers = headers
	data, err := json.Marshal(msg)
	if err != nil {
		trace.MarkSpanError(span, err)
		return xerrors.Wrap(err, "encode invalidation")
	}
	if err := inv.client.Publish(spanCtx, inv.channel, data).Err(); err != nil {
		trace.MarkSpanError(span, err)
		return xerrors.Wrapf(err, "publish %s", inv.channel)
	}
	return nil
}

// Close 停止监听并从缓存上卸下
func (inv *Invalidator) Close() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.closed {
		return nil
	}
	inv.closed = true
	if inv.cancel != nil {
		inv.cancel()
	}
	inv.cache.attach(nil)
	return nil
}
