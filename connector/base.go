package connector

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ceyewan/fnportal/clog"
	"github.com/ceyewan/fnportal/metrics"
)

const metricConnectAttempts = "connector_connect_attempts_total"

// base 两种连接器共用的状态：名称、健康标记、关闭标记与连接计数
type base struct {
	kind     string
	name     string
	logger   clog.Logger
	attempts metrics.Counter
	healthy  atomic.Bool

	mu     sync.RWMutex
	closed bool
}

func (b *base) init(kind, name string, opts []Option) {
	o := &options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	attempts, err := o.meter.Counter(metricConnectAttempts, "Connection attempts by connector and outcome.")
	if err != nil {
		attempts, _ = metrics.Discard().Counter(metricConnectAttempts, "")
	}
	b.kind = kind
	b.name = name
	b.logger = o.logger.With(clog.String("connector", kind), clog.String("name", name))
	b.attempts = attempts
}

func (b *base) Name() string { return b.name }

func (b *base) IsHealthy() bool { return b.healthy.Load() }

// connected 记录一次建连结果
func (b *base) connected(ctx context.Context, target string, err error) {
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
	}
	b.attempts.Inc(ctx, metrics.L("connector", b.kind), metrics.L(metrics.LabelOutcome, outcome))
	if err != nil {
		b.logger.ErrorContext(ctx, "connect failed", clog.String("target", target), clog.Error(err))
		return
	}
	b.healthy.Store(true)
	b.logger.InfoContext(ctx, "connected", clog.String("target", target))
}

// checked 记录一次健康检查结果并原样返回 err
func (b *base) checked(err error) error {
	b.healthy.Store(err == nil)
	if err != nil {
		b.logger.Warn("health check failed", clog.Error(err))
	}
	return err
}
