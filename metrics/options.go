package metrics

import (
	"github.com/ceyewan/fnportal/clog"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Option 配置 Meter 实例的选项函数
type Option func(*options)

type options struct {
	logger clog.Logger
	reader sdkmetric.Reader
}

// WithLogger 注入日志记录器，自动添加 "metrics" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("metrics")
		}
	}
}

// WithReader 使用额外的 Reader 采集指标，测试中配合 sdkmetric.NewManualReader 读取数据
func WithReader(reader sdkmetric.Reader) Option {
	return func(o *options) {
		o.reader = reader
	}
}
