package cache

import (
	"github.com/ceyewan/fnportal/clog"
	"github.com/ceyewan/fnportal/connector"
	"github.com/ceyewan/fnportal/metrics"
)

// Option 缓存组件选项函数
type Option func(*options)

type options struct {
	logger    clog.Logger
	meter     metrics.Meter
	redisConn connector.RedisConnector
	store     Store
}

// WithLogger 注入日志记录器
// 组件内部会自动追加 Namespace: logger.WithNamespace("cache")
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("cache")
		}
	}
}

// WithMeter 注入指标 Meter
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithRedisConnector 注入 Redis 连接器 (仅用于分布式模式)
func WithRedisConnector(conn connector.RedisConnector) Option {
	return func(o *options) {
		o.redisConn = conn
	}
}

// WithStore 直接指定存储实现，忽略 Mode
func WithStore(s Store) Option {
	return func(o *options) {
		o.store = s
	}
}
