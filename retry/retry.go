package retry

import (
	"context"
	"time"

	"github.com/ceyewan/fnportal/clog"
	"github.com/ceyewan/fnportal/transport"
)

// Call 产生一次尝试的结果，attempt 从 1 开始
type Call func(ctx context.Context, attempt int) transport.Outcome

// SleepFunc 等待 d，ctx 取消时提前返回错误
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option 重试选项
type Option func(*options)

type options struct {
	logger clog.Logger
	sleep  SleepFunc
	now    func() time.Time
}

// WithLogger 设置 Logger，自动添加 "retry" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("retry")
		}
	}
}

// WithSleep 替换等待函数，测试中用来跳过真实的间隔
func WithSleep(sleep SleepFunc) Option {
	return func(o *options) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do 按 policy 反复执行 call，返回最后一次结果与实际尝试次数。
//
// 策略决定停止时返回的就是最后一次失败，不做任何包装。
// 重试途中被熔断器拒绝时返回此前最后一次真实到达上游的结果。
// 等待期间 ctx 被取消也会结束循环，同样返回最后一次结果。
func Do(ctx context.Context, policy Policy, call Call, opts ...Option) (transport.Outcome, int) {
	opt := options{logger: clog.Discard(), sleep: contextSleep, now: time.Now}
	for _, o := range opts {
		o(&opt)
	}
	if err := policy.Validate(); err != nil {
		return transport.Failed(err), 0
	}

	start := opt.now()
	var prev transport.Outcome
	for attempt := 1; ; attempt++ {
		out := call(ctx, attempt)
		if out.Rejected() && attempt > 1 {
			// 拒绝的请求没有发出，不计入尝试次数
			opt.logger.DebugContext(ctx, "retry stopped",
				clog.String("policy", policy.Name),
				clog.Int("attempts", attempt-1),
				clog.Status(prev.Status),
				clog.String("reason", ReasonRejected))
			return prev, attempt - 1
		}
		prev = out

		d := policy.ShouldRetry(out, attempt, opt.now().Sub(start))
		if !d.Retry {
			if !out.OK() {
				opt.logger.DebugContext(ctx, "retry stopped",
					clog.String("policy", policy.Name),
					clog.Int("attempts", attempt),
					clog.Status(out.Status),
					clog.String("reason", d.Reason))
			}
			return out, attempt
		}

		opt.logger.DebugContext(ctx, "retrying",
			clog.String("policy", policy.Name),
			clog.Attempt(attempt),
			clog.Status(out.Status),
			clog.Duration("after", d.After))

		if err := opt.sleep(ctx, d.After); err != nil {
			return out, attempt
		}
	}
}
