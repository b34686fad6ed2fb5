package broadcast

import (
	"context"

	"github.com/ceyewan/fnportal/clog"
	"github.com/ceyewan/fnportal/metrics"
	"github.com/ceyewan/fnportal/xerrors"
)

// MetricErrors 按操作与级别统计的错误次数
const MetricErrors = "broadcast_errors_total"

// Tracker 把错误事件记入遥测：每次 raised 写一条结构化日志并计数
type Tracker struct {
	logger clog.Logger
	errors metrics.Counter
}

// NewTracker 创建 Tracker，用 Reporter.Subscribe(tracker.Handle) 挂载
func NewTracker(opts ...Option) (*Tracker, error) {
	opt := applyOptions(opts)
	counter, err := opt.meter.Counter(MetricErrors, "Errors surfaced to the user by operation and severity.")
	if err != nil {
		return nil, xerrors.Wrap(err, "broadcast: create errors counter")
	}
	return &Tracker{logger: opt.logger.WithNamespace("tracker"), errors: counter}, nil
}

// Handle 处理一个事件
func (t *Tracker) Handle(e Event) {
	ctx := context.Background()
	switch e.Type {
	case EventRaised:
		t.errors.Inc(ctx,
			metrics.L(metrics.LabelOperation, e.Operation),
			metrics.L(metrics.LabelSeverity, string(e.Severity)))
		t.logger.Warn(e.Message,
			clog.ErrorID(e.ErrorID),
			clog.Operation(e.Operation),
			clog.String("severity", string(e.Severity)),
			clog.Status(e.Status),
			clog.String("status_text", e.StatusText))
	case EventCleared:
		t.logger.Info("error cleared", clog.ErrorID(e.ErrorID))
	}
}
