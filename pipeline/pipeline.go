// Package pipeline 把重试、结果缓存与错误广播组合成一条请求管线。
//
// 一次 Execute 的状态变化：
//
//	Idle -> InFlight -> Succeeded
//	                 -> Retrying -> InFlight ...
//	                 -> Failed
//
// 成功时先清除该操作的错误 ID，再写入缓存；失败时先上报错误（上游已处理的除外），
// 再把结果返回给调用方。解析失败是独立的终止状态，使用单独的错误 ID，既不重试也不缓存。
// 写操作在发出请求前后各执行一次声明的失效。
//
//	p, _ := pipeline.New(client, resultCache, reporter, pipeline.WithLogger(logger))
//	fns, _, err := pipeline.Fetch[[]FunctionInfo](ctx, p, pipeline.Operation{
//		ID:        cache.ID("getFunctions"),
//		Request:   &transport.Request{Method: http.MethodGet, URL: scm + "/api/functions"},
//		Cacheable: true,
//		ErrorID:   "unableToRetrieveFunctionsList",
//	})
package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/fnportal/broadcast"
	"github.com/ceyewan/fnportal/cache"
	"github.com/ceyewan/fnportal/clog"
	"github.com/ceyewan/fnportal/metrics"
	"github.com/ceyewan/fnportal/retry"
	"github.com/ceyewan/fnportal/trace"
	"github.com/ceyewan/fnportal/transport"
	"github.com/ceyewan/fnportal/xerrors"
)

// 指标
const (
	MetricRequests        = "pipeline_requests_total"
	MetricDurationSeconds = "pipeline_request_duration_seconds"
)

// span 属性
const (
	attrOperation = "fnportal.operation"
	attrAttempts  = "fnportal.attempts"
	attrSource    = "fnportal.cache.source"
	attrStatus    = "http.response.status_code"
)

// Result 调用结果，失败时同样完整可用
type Result struct {
	Status     int
	StatusText string
	Body       []byte
	Header     http.Header
	// Attempts 本次调用实际发出的尝试次数，命中缓存或共享他人计算时为 0
	Attempts int
	Source   cache.Source
}

// Decode 将响应体按 JSON 解码到 v
func (r *Result) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Option 管线选项
type Option func(*options)

type options struct {
	logger    clog.Logger
	meter     metrics.Meter
	tracer    oteltrace.Tracer
	policy    retry.Policy
	retryOpts []retry.Option
}

// WithLogger 设置 Logger，自动添加 "pipeline" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("pipeline")
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

// WithTracer 替换 tracer，默认使用全局 TracerProvider
func WithTracer(tracer oteltrace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithDefaultPolicy 设置未指定策略的操作使用的重试策略（默认：Transient(1s)）
func WithDefaultPolicy(p retry.Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithRetryOptions 传给每次 retry.Do 的选项，测试中用来跳过等待
func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *options) {
		o.retryOpts = append(o.retryOpts, opts...)
	}
}

// Pipeline 请求管线，可并发使用
type Pipeline struct {
	doer     transport.Doer
	cache    *cache.Cache
	reporter *broadcast.Reporter

	logger    clog.Logger
	tracer    oteltrace.Tracer
	policy    retry.Policy
	retryOpts []retry.Option

	requests metrics.Counter
	duration metrics.Histogram
}

// New 创建管线。c 为 nil 时使用进程内缓存，r 为 nil 时创建新的 Reporter。
func New(doer transport.Doer, c *cache.Cache, r *broadcast.Reporter, opts ...Option) (*Pipeline, error) {
	if doer == nil {
		return nil, xerrors.Invalidf("pipeline: doer is nil")
	}

	opt := options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		tracer: otel.Tracer("fnportal/pipeline"),
		policy: retry.Transient(retry.DefaultDelay),
	}
	for _, o := range opts {
		o(&opt)
	}
	if err := opt.policy.Validate(); err != nil {
		return nil, err
	}

	var err error
	if c == nil {
		if c, err = cache.New(nil, cache.WithLogger(opt.logger), cache.WithMeter(opt.meter)); err != nil {
			return nil, err
		}
	}
	if r == nil {
		if r, err = broadcast.NewReporter(broadcast.WithLogger(opt.logger), broadcast.WithMeter(opt.meter)); err != nil {
			return nil, err
		}
	}

	requests, err := opt.meter.Counter(MetricRequests, "Pipeline executions by operation and result.")
	if err != nil {
		return nil, xerrors.Wrap(err, "pipeline: create requests counter")
	}
	duration, err := opt.meter.Histogram(MetricDurationSeconds, "Pipeline execution duration in seconds, retries included.",
		metrics.WithUnit("s"))
	if err != nil {
		return nil, xerrors.Wrap(err, "pipeline: create duration histogram")
	}

	return &Pipeline{
		doer:      doer,
		cache:     c,
		reporter:  r,
		logger:    opt.logger,
		tracer:    opt.tracer,
		policy:    opt.policy,
		retryOpts: append([]retry.Option{retry.WithLogger(opt.logger)}, opt.retryOpts...),
		requests:  requests,
		duration:  duration,
	}, nil
}

// Cache 返回管线使用的缓存
func (p *Pipeline) Cache() *cache.Cache { return p.cache }

// Reporter 返回管线使用的错误广播
func (p *Pipeline) Reporter() *broadcast.Reporter { return p.reporter }

// Doer 返回底层执行器，供 Operation.Call 在发出请求前后做额外处理
func (p *Pipeline) Doer() transport.Doer { return p.doer }

// Execute 执行一次调用。
//
// 返回的 *Result 总是非 nil（参数错误与调用方取消除外）；失败时 error 为 *Error，
// 可以用 errors.Is 判断 ErrTransport、ErrClient、ErrServer、ErrParse、ErrHandled。
func (p *Pipeline) Execute(ctx context.Context, op Operation) (*Result, error) {
	res, _, err := p.execute(ctx, op)
	return res, err
}

func (p *Pipeline) execute(ctx context.Context, op Operation) (*Result, Operation, error) {
	op, err := p.prepare(op)
	if err != nil {
		return nil, op, err
	}

	ctx, span := p.tracer.Start(ctx, "pipeline "+op.ID.Operation,
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(attribute.String(attrOperation, op.ID.Operation)))
	defer span.End()
	start := time.Now()

	if op.mutates() {
		p.invalidate(ctx, op)
	}

	var attempts int
	run := func(ctx context.Context) (transport.Outcome, bool) {
		out, n := retry.Do(ctx, op.Policy, p.attempt(op), p.retryOpts...)
		attempts = n
		return out, p.settle(ctx, op, out) && op.Cacheable
	}

	var (
		out transport.Outcome
		src = cache.SourceComputed
	)
	if op.Cacheable {
		out, src, err = p.cache.GetOrCompute(ctx, op.ID, run)
		if err != nil {
			trace.MarkSpanError(span, err)
			return nil, op, xerrors.Wrapf(err, "pipeline: %s", op.ID.Operation)
		}
	} else {
		out, _ = run(ctx)
	}

	if op.mutates() {
		p.invalidate(ctx, op)
	}

	if !op.Cacheable && !out.OK() && ctx.Err() != nil {
		trace.MarkSpanError(span, ctx.Err())
		return nil, op, xerrors.Wrapf(ctx.Err(), "pipeline: %s", op.ID.Operation)
	}

	res := &Result{
		Status:     out.Status,
		StatusText: out.StatusText(),
		Body:       out.Body,
		Header:     out.Header,
		Source:     src,
	}
	if src == cache.SourceComputed {
		res.Attempts = attempts
	}

	kind := kindOf(op, out)
	p.observe(ctx, op, kind, time.Since(start))
	span.SetAttributes(
		attribute.Int(attrStatus, res.Status),
		attribute.Int(attrAttempts, res.Attempts),
		attribute.String(attrSource, src.String()))
	if kind == nil {
		return res, op, nil
	}

	perr := newError(kind, op, out, res.Attempts)
	res.Status, res.StatusText = perr.Status, perr.StatusText
	trace.MarkSpanError(span, perr)
	return res, op, perr
}

// attempt 每次尝试使用独立的请求副本
func (p *Pipeline) attempt(op Operation) retry.Call {
	return func(ctx context.Context, n int) transport.Outcome {
		if op.Call != nil {
			return op.Call(ctx)
		}
		return p.doer.Do(ctx, op.Request.Clone())
	}
}

// settle 在结果交给缓存与调用方之前更新错误状态，返回结果是否可以缓存
func (p *Pipeline) settle(ctx context.Context, op Operation, out transport.Outcome) bool {
	switch kind := kindOf(op, out); kind {
	case nil:
		p.reporter.Clear(ctx, op.ErrorID)
		p.reporter.Clear(ctx, op.ParseErrorID)
		return true
	case ErrParse:
		p.reporter.Clear(ctx, op.ErrorID)
		p.reportParse(ctx, op, out)
		return false
	case ErrHandled:
		p.logger.DebugContext(ctx, "failure handled upstream",
			clog.Operation(op.ID.Operation),
			clog.Status(out.Status))
		return false
	default:
		// 调用方取消不是上游故障
		if ctx.Err() != nil {
			p.logger.DebugContext(ctx, "operation canceled by caller",
				clog.Operation(op.ID.Operation),
				clog.Error(ctx.Err()))
			return false
		}
		p.reporter.Report(ctx, broadcast.Failure{
			ErrorID:   op.ErrorID,
			Message:   op.message(out),
			Severity:  op.Severity,
			Operation: op.ID.Operation,
			Outcome:   out,
		})
		fields := []clog.Field{
			clog.Operation(op.ID.Operation),
			clog.ErrorID(op.ErrorID),
			clog.Status(out.Status),
		}
		if out.Err != nil {
			fields = append(fields, clog.Error(out.Err))
		}
		p.logger.WarnContext(ctx, "operation failed", fields...)
		return false
	}
}

func (p *Pipeline) reportParse(ctx context.Context, op Operation, out transport.Outcome) {
	p.reporter.Report(ctx, broadcast.Failure{
		ErrorID:   op.ParseErrorID,
		Message:   op.parseMessage(),
		Severity:  op.Severity,
		Operation: op.ID.Operation,
		Outcome:   out,
	})
	p.logger.WarnContext(ctx, "response could not be parsed",
		clog.Operation(op.ID.Operation),
		clog.ErrorID(op.ParseErrorID),
		clog.Int("bytes", len(out.Body)))
}

func (p *Pipeline) invalidate(ctx context.Context, op Operation) {
	var errs []error
	if op.InvalidatesAll {
		errs = append(errs, p.cache.InvalidateAll(ctx))
	}
	for _, name := range op.InvalidatesOps {
		errs = append(errs, p.cache.InvalidateOperation(ctx, name))
	}
	for _, id := range op.Invalidates {
		errs = append(errs, p.cache.Invalidate(ctx, id))
	}
	if err := xerrors.Combine(errs...); err != nil {
		p.logger.WarnContext(ctx, "invalidation failed",
			clog.Operation(op.ID.Operation),
			clog.Error(err))
	}
}

func (p *Pipeline) observe(ctx context.Context, op Operation, kind error, d time.Duration) {
	result := metrics.OutcomeSuccess
	if kind != nil {
		result = metrics.OutcomeError
	}
	p.requests.Inc(ctx,
		metrics.L(metrics.LabelOperation, op.ID.Operation),
		metrics.L(metrics.LabelResult, result),
		metrics.L(metrics.LabelErrorKind, errorKindLabel(kind)))
	p.duration.Record(ctx, d.Seconds(), metrics.L(metrics.LabelOperation, op.ID.Operation))
}
