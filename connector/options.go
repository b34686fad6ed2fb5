package connector

import (
	"github.com/ceyewan/fnportal/clog"
	"github.com/ceyewan/fnportal/metrics"
)

// Option 配置连接器
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
}

// WithLogger 连接器日志写入 logger 的 connector 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("connector")
		}
	}
}

// WithMeter 记录 connector_connect_attempts_total{connector,outcome}
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}
