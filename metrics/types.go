// Package metrics 为 fnportal 提供统一的指标收集能力。
// 基于 OpenTelemetry 构建，Prometheus 暴露，接口只有 Counter、Gauge、Histogram 三种。
//
// 快速开始：
//
//	meter, err := metrics.New(&metrics.Config{
//	    Enabled:     true,
//	    ServiceName: "portalctl",
//	    Port:        9090,
//	})
//	if err != nil {
//	    return err
//	}
//	defer meter.Shutdown(ctx)
//
//	requests, _ := meter.Counter("pipeline_requests_total", "pipeline executions")
//	requests.Inc(ctx, metrics.L("operation", "getFunctions"), metrics.L("outcome", "success"))
//
// 组件在未注入 Meter 时使用 Discard()，所有记录都是空操作。
package metrics

import "context"

// Counter 只增不减的累计值
type Counter interface {
	// Inc 增加 1
	Inc(ctx context.Context, labels ...Label)
	// Add 增加给定值，负数会被忽略
	Add(ctx context.Context, val float64, labels ...Label)
}

// Gauge 可任意增减的瞬时值
type Gauge interface {
	Set(ctx context.Context, val float64, labels ...Label)
	Inc(ctx context.Context, labels ...Label)
	Dec(ctx context.Context, labels ...Label)
}

// Histogram 记录值的分布，例如请求耗时
type Histogram interface {
	Record(ctx context.Context, val float64, labels ...Label)
}

// Meter 指标创建工厂，创建的指标可并发使用
type Meter interface {
	Counter(name string, desc string, opts ...MetricOption) (Counter, error)
	Gauge(name string, desc string, opts ...MetricOption) (Gauge, error)
	Histogram(name string, desc string, opts ...MetricOption) (Histogram, error)

	// Shutdown 刷新指标并关闭 Prometheus HTTP 服务
	Shutdown(ctx context.Context) error
}

// MetricOption 指标配置选项
type MetricOption func(*MetricOptions)

// MetricOptions 指标选项
type MetricOptions struct {
	Unit    string
	Buckets []float64
}

// WithUnit 设置指标的单位，例如 "s"、"By"
func WithUnit(unit string) MetricOption {
	return func(o *MetricOptions) {
		o.Unit = unit
	}
}

// WithBuckets 设置直方图的桶边界
func WithBuckets(buckets []float64) MetricOption {
	return func(o *MetricOptions) {
		o.Buckets = buckets
	}
}
