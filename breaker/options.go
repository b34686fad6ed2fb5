package breaker

import (
	"github.com/ceyewan/fnportal/clog"
	"github.com/ceyewan/fnportal/metrics"
)

// Option 配置 Breaker
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
}

// WithLogger 状态变更与拒绝写入 logger 的 breaker 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("breaker")
		}
	}
}

// WithMeter 记录 breaker_state_changes_total 与 breaker_rejects_total
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) { o.meter = meter }
}
