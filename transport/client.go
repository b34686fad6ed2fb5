package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ceyewan/fnportal/breaker"
	"github.com/ceyewan/fnportal/clog"
	"github.com/ceyewan/fnportal/metrics"
	"github.com/ceyewan/fnportal/trace"
	"github.com/ceyewan/fnportal/xerrors"
)

// errServerStatus 让熔断器把 5xx 计为失败，不会离开本包
var errServerStatus = errors.New("transport: server error status")

// Client 基于 net/http 的 Doer 实现
type Client struct {
	cfg      *Config
	http     *http.Client
	logger   clog.Logger
	breaker  breaker.Breaker
	metrics  *metrics.HTTPClientMetrics
	limiters sync.Map // host -> *rate.Limiter
	chain    Doer
}

// New 创建 HTTP 客户端
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, o := range opts {
		o(&opt)
	}

	m, err := metrics.NewHTTPClientMetrics(opt.meter)
	if err != nil {
		return nil, xerrors.Wrap(err, "transport: create metrics")
	}

	hc := opt.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		cfg:     cfg,
		http:    hc,
		logger:  opt.logger,
		breaker: opt.breaker,
		metrics: m,
	}
	c.chain = Chain(DoerFunc(c.do), opt.middlewares...)
	return c, nil
}

// Do 实现 Doer
func (c *Client) Do(ctx context.Context, req *Request) Outcome {
	if req == nil {
		return Failed(xerrors.Wrap(xerrors.ErrInvalidInput, "transport: request is nil"))
	}
	return c.chain.Do(ctx, req)
}

func (c *Client) do(ctx context.Context, req *Request) Outcome {
	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" {
		return Failed(xerrors.Wrapf(xerrors.ErrInvalidInput, "transport: invalid url %q", req.URL))
	}
	host := u.Host

	if l := c.limiter(host); l != nil {
		if err := l.Wait(ctx); err != nil {
			return Failed(xerrors.Wrap(err, "transport: rate limit wait"))
		}
	}

	if c.breaker == nil {
		return c.roundTrip(ctx, req, host)
	}

	var out Outcome
	ran := false
	err = c.breaker.Execute(ctx, host, func() error {
		ran = true
		out = c.roundTrip(ctx, req, host)
		if out.TransportFailure() {
			return out.Err
		}
		if out.Status >= 500 {
			return errServerStatus
		}
		return nil
	})
	if !ran {
		c.logger.WarnContext(ctx, "request rejected by breaker", clog.String("host", host), clog.Error(err))
		return Failed(err)
	}
	return out
}

func (c *Client) roundTrip(ctx context.Context, req *Request, host string) Outcome {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return Failed(xerrors.Wrap(err, "transport: build request"))
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	if hreq.Header.Get(c.cfg.RequestIDHeader) == "" {
		hreq.Header.Set(c.cfg.RequestIDHeader, uuid.NewString())
	}
	trace.InjectHTTP(ctx, hreq.Header)

	start := time.Now()
	resp, err := c.http.Do(hreq)
	if err != nil {
		c.metrics.Observe(ctx, method, host, 0, time.Since(start))
		c.logger.DebugContext(ctx, "request failed",
			clog.String("method", method),
			clog.String("host", host),
			clog.Error(err))
		return Failed(err)
	}
	defer resp.Body.Close()

	// 多读一个字节用来判断是否超限，截断的响应体不能当作成功结果
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
	elapsed := time.Since(start)
	if err == nil && int64(len(data)) > c.cfg.MaxBodyBytes {
		err = ErrBodyTooLarge
	}
	if err != nil {
		c.metrics.Observe(ctx, method, host, 0, elapsed)
		c.logger.WarnContext(ctx, "read response body failed",
			clog.String("method", method),
			clog.String("host", host),
			clog.Status(resp.StatusCode),
			clog.Error(err))
		// 状态行已经收到，保留状态码以便调用方区分
		return Outcome{
			Status: resp.StatusCode,
			Header: resp.Header,
			Err:    xerrors.Wrapf(err, "transport: read body (limit %d bytes)", c.cfg.MaxBodyBytes),
		}
	}
	c.metrics.Observe(ctx, method, host, resp.StatusCode, elapsed)

	c.logger.DebugContext(ctx, "request completed",
		clog.String("method", method),
		clog.String("host", host),
		clog.Status(resp.StatusCode),
		clog.Duration("duration", elapsed))

	return Outcome{Status: resp.StatusCode, Body: data, Header: resp.Header}
}

func (c *Client) limiter(host string) *rate.Limiter {
	if c.cfg.RateLimit <= 0 {
		return nil
	}
	if v, ok := c.limiters.Load(host); ok {
		return v.(*rate.Limiter)
	}
	v, _ := c.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(c.cfg.RateLimit), c.cfg.Burst))
	return v.(*rate.Limiter)
}
