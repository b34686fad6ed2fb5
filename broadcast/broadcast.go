// Package broadcast 维护界面可见的错误状态，并把状态变化通知给订阅者。
//
// 每个错误 ID 只有两种状态：活跃与非活跃。Report 把它置为活跃并发出 raised 事件，
// 已活跃时不再重复发出；Clear 把它置为非活跃并发出 cleared 事件，本就非活跃时什么也不做。
// 所以每次状态转换恰好对应一条通知。
//
// 事件按状态转换的真实顺序串行分发，订阅者不会看到乱序的 raised/cleared。
//
//	r, _ := broadcast.NewReporter(broadcast.WithLogger(logger))
//	unsubscribe := r.Subscribe(func(e broadcast.Event) {
//		fmt.Println(e.Type, e.ErrorID, e.Message)
//	})
//	defer unsubscribe()
package broadcast

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ceyewan/fnportal/clog"
	"github.com/ceyewan/fnportal/metrics"
	"github.com/ceyewan/fnportal/transport"
	"github.com/ceyewan/fnportal/xerrors"
)

// MetricEvents 状态转换次数
const MetricEvents = "broadcast_events_total"

// Severity 错误级别
type Severity string

const (
	SeverityFatal        Severity = "Fatal"
	SeverityAPIError     Severity = "ApiError"
	SeverityRuntimeError Severity = "RuntimeError"
)

// EventType 事件类型
type EventType string

const (
	EventRaised  EventType = "raised"
	EventCleared EventType = "cleared"
)

// Failure 一次需要展示给用户的失败
type Failure struct {
	ErrorID   string
	Message   string
	Severity  Severity
	Operation string
	Outcome   transport.Outcome
}

// Event 状态转换通知
type Event struct {
	Type       EventType `json:"type"`
	ErrorID    string    `json:"errorId"`
	Message    string    `json:"message,omitempty"`
	Severity   Severity  `json:"severity,omitempty"`
	Operation  string    `json:"operation,omitempty"`
	Status     int       `json:"status,omitempty"`
	StatusText string    `json:"statusText,omitempty"`
	Time       time.Time `json:"time"`
}

// Option 选项
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
	now    func() time.Time
}

// WithLogger 设置 Logger，自动添加 "broadcast" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("broadcast")
		}
	}
}

// WithMeter 设置 Meter
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithClock 替换事件时间来源
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []Option) options {
	opt := options{logger: clog.Discard(), meter: metrics.Discard(), now: time.Now}
	for _, o := range opts {
		o(&opt)
	}
	return opt
}

// Reporter 错误状态表与事件分发
type Reporter struct {
	logger clog.Logger
	events metrics.Counter
	now    func() time.Time

	// dispatch 保证事件按状态转换的顺序送达，订阅者内部不能同步回调 Report/Clear
	dispatch sync.Mutex

	mu     sync.Mutex
	active map[string]Event
	subs   map[uint64]func(Event)
	nextID uint64
}

// NewReporter 创建 Reporter
func NewReporter(opts ...Option) (*Reporter, error) {
	opt := applyOptions(opts)
	events, err := opt.meter.Counter(MetricEvents, "Error state transitions by type.")
	if err != nil {
		return nil, xerrors.Wrap(err, "broadcast: create events counter")
	}
	return &Reporter{
		logger: opt.logger,
		events: events,
		now:    opt.now,
		active: make(map[string]Event),
		subs:   make(map[uint64]func(Event)),
	}, nil
}

// Report 将 f.ErrorID 置为活跃并通知订阅者，返回是否发生了状态转换。
// 已被上游处理的失败与已活跃的错误不会产生通知。
func (r *Reporter) Report(ctx context.Context, f Failure) bool {
	if f.ErrorID == "" || f.Outcome.Handled {
		return false
	}
	if f.Severity == "" {
		f.Severity = SeverityAPIError
	}

	r.dispatch.Lock()
	defer r.dispatch.Unlock()

	r.mu.Lock()
	if _, ok := r.active[f.ErrorID]; ok {
		r.mu.Unlock()
		return false
	}
	e := Event{
		Type:       EventRaised,
		ErrorID:    f.ErrorID,
		Message:    f.Message,
		Severity:   f.Severity,
		Operation:  f.Operation,
		Status:     f.Outcome.Status,
		StatusText: f.Outcome.StatusText(),
		Time:       r.now(),
	}
	r.active[f.ErrorID] = e
	subs := r.snapshot()
	r.mu.Unlock()

	r.events.Inc(ctx, metrics.L("type", string(EventRaised)), metrics.L(metrics.LabelSeverity, string(e.Severity)))
	r.logger.DebugContext(ctx, "error raised",
		clog.ErrorID(e.ErrorID),
		clog.String("severity", string(e.Severity)),
		clog.Status(e.Status))
	for _, fn := range subs {
		fn(e)
	}
	return true
}

// Clear 将 errorID 置为非活跃并通知订阅者，返回是否发生了状态转换
func (r *Reporter) Clear(ctx context.Context, errorID string) bool {
	if errorID == "" {
		return false
	}

	r.dispatch.Lock()
	defer r.dispatch.Unlock()

	r.mu.Lock()
	raised, ok := r.active[errorID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.active, errorID)
	e := Event{Type: EventCleared, ErrorID: errorID, Operation: raised.Operation, Time: r.now()}
	subs := r.snapshot()
	r.mu.Unlock()

	r.events.Inc(ctx, metrics.L("type", string(EventCleared)), metrics.L(metrics.LabelSeverity, string(raised.Severity)))
	r.logger.DebugContext(ctx, "error cleared", clog.ErrorID(errorID))
	for _, fn := range subs {
		fn(e)
	}
	return true
}

// Active 返回 errorID 是否处于活跃状态
func (r *Reporter) Active(errorID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[errorID]
	return ok
}

// ActiveErrors 返回当前全部活跃错误，按 ErrorID 排序
func (r *Reporter) ActiveErrors() []Event {
	r.mu.Lock()
	out := make([]Event, 0, len(r.active))
	for _, e := range r.active {
		out = append(out, e)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ErrorID < out[j].ErrorID })
	return out
}

// Subscribe 注册订阅者，返回的函数用于取消订阅
func (r *Reporter) Subscribe(fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

// snapshot 按注册顺序返回订阅者，调用方需持有 mu
func (r *Reporter) snapshot() []func(Event) {
	ids := make([]uint64, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]func(Event), len(ids))
	for i, id := range ids {
		out[i] = r.subs[id]
	}
	return out
}
