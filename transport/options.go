package transport

import (
	"net/http"

	"github.com/ceyewan/fnportal/breaker"
	"github.com/ceyewan/fnportal/clog"
	"github.com/ceyewan/fnportal/metrics"
)

// Option 客户端选项
type Option func(*options)

type options struct {
	logger      clog.Logger
	meter       metrics.Meter
	breaker     breaker.Breaker
	httpClient  *http.Client
	middlewares []Middleware
}

// WithLogger 设置 Logger，自动添加 "transport" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("transport")
		}
	}
}

// WithMeter 记录出站请求的 RED 指标
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithBreaker 以目标 host 为 key 启用熔断
func WithBreaker(b breaker.Breaker) Option {
	return func(o *options) {
		o.breaker = b
	}
}

// WithHTTPClient 替换底层 http.Client，测试中用于注入 httptest 的客户端
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithMiddleware 追加拦截器，先追加的位于外层
func WithMiddleware(mws ...Middleware) Option {
	return func(o *options) {
		o.middlewares = append(o.middlewares, mws...)
	}
}
