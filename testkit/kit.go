// Package testkit 提供各组件测试共用的依赖：Logger、Meter、Context 与唯一 ID。
package testkit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/ceyewan/fnportal/clog"
	"github.com/ceyewan/fnportal/metrics"
)

// Kit 包含通用的测试依赖
type Kit struct {
	Ctx    context.Context
	Logger clog.Logger
	Meter  metrics.Meter

	reader *sdkmetric.ManualReader
}

// NewKit 返回一个包含默认依赖的测试工具包，Meter 可通过 Counter 读取
func NewKit(t *testing.T) *Kit {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	meter, err := metrics.New(metrics.NewDevDefaultConfig("test"), metrics.WithReader(reader))
	if err != nil {
		t.Fatalf("create test meter: %v", err)
	}
	t.Cleanup(func() { _ = meter.Shutdown(context.Background()) })

	return &Kit{
		Ctx:    context.Background(),
		Logger: NewLogger(),
		Meter:  meter,
		reader: reader,
	}
}

// NewLogger 返回一个用于测试的 logger，只输出 warn 以上
func NewLogger() clog.Logger {
	logger, err := clog.New(&clog.Config{Level: "warn", Format: "console", Output: "stderr"})
	if err != nil {
		return clog.Discard()
	}
	return logger
}

// NewContext 返回一个带有超时的测试上下文，取消函数已注册到 t.Cleanup
func NewContext(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// NewID 返回一个唯一的测试 ID (UUID v4 前 8 位)
// 用于生成唯一的 Key 前缀或 Subject，避免测试间数据冲突
func NewID() string {
	return uuid.New().String()[0:8]
}

// Counter 汇总名为 name 的计数器中匹配全部标签的数据点之和
func (k *Kit) Counter(t *testing.T, name string, labels ...metrics.Label) float64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := k.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	var total float64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[float64])
			if !ok {
				continue
			}
		points:
			for _, dp := range sum.DataPoints {
				for _, l := range labels {
					v, ok := dp.Attributes.Value(attribute.Key(l.Key))
					if !ok || v.AsString() != l.Value {
						continue points
					}
				}
				total += dp.Value
			}
		}
	}
	return total
}
