// Package transport 定义请求管线与 HTTP 之间的边界。
//
// 管线只看到 Request 和 Outcome：一次调用要么得到状态码与响应体，
// 要么以状态 0 表示传输层失败。Doer 是唯一的执行入口，
// 上游拦截器（如认证刷新）以 Middleware 的形式包在 Doer 外面，
// 并可以把 Outcome 标记为 Handled，表示失败已经有人处理。
//
//	client, _ := transport.New(&transport.Config{Timeout: 30 * time.Second},
//		transport.WithLogger(logger),
//		transport.WithMiddleware(transport.HandledBy(transport.StatusIs(401), onUnauthorized)),
//	)
//	out := client.Do(ctx, &transport.Request{Method: http.MethodGet, URL: scmURL + "/api/functions"})
package transport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ceyewan/fnportal/breaker"
	"github.com/ceyewan/fnportal/xerrors"
)

// ErrBodyTooLarge 响应体超过 Config.MaxBodyBytes
var ErrBodyTooLarge = xerrors.New("response body too large")

// Request 一次出站请求的全部输入
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Clone 返回深拷贝，重试的每次尝试都使用独立的副本
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := &Request{Method: r.Method, URL: r.URL, Header: r.Header.Clone()}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return c
}

// Outcome 一次调用的结果。
//
// Status 为 0 表示请求没有拿到任何响应（连接失败、超时、熔断等），此时 Err 非空。
// Status 非 0 而 Err 非空表示收到了状态行但读取响应体失败，同样按传输层失败处理。
// Handled 表示上游拦截器已经处理了这次失败，重试与错误广播都应跳过。
type Outcome struct {
	Status  int
	Body    []byte
	Header  http.Header
	Handled bool
	Err     error
}

// OK 是否为成功结果：无传输错误且状态码为 2xx
func (o Outcome) OK() bool {
	return o.Err == nil && o.Status >= 200 && o.Status < 300
}

// TransportFailure 是否为传输层失败
func (o Outcome) TransportFailure() bool {
	return o.Err != nil || o.Status == 0
}

// Rejected 请求被熔断器拒绝，没有发往上游
func (o Outcome) Rejected() bool {
	return xerrors.Is(o.Err, breaker.ErrOpenState)
}

// Terminal 重试也不会改变的失败：熔断拒绝或响应体超过上限
func (o Outcome) Terminal() bool {
	return o.Rejected() || xerrors.Is(o.Err, ErrBodyTooLarge)
}

// Retryable 失败是否值得重试：传输层失败或 5xx，且未被上游处理
func (o Outcome) Retryable() bool {
	if o.OK() || o.Handled || o.Terminal() {
		return false
	}
	return o.TransportFailure() || o.Status >= 500
}

// StatusText 返回状态码对应的文本
func (o Outcome) StatusText() string {
	return StatusText(o.Status)
}

// JSON 将响应体解码到 v
func (o Outcome) JSON(v any) error {
	if len(o.Body) == 0 {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "transport: empty body")
	}
	return json.Unmarshal(o.Body, v)
}

// Failed 构造一个传输层失败的结果
func Failed(err error) Outcome {
	return Outcome{Err: err}
}

// Doer 执行一次请求，失败不以 error 返回而是编码在 Outcome 中
type Doer interface {
	Do(ctx context.Context, req *Request) Outcome
}

// DoerFunc 函数适配器
type DoerFunc func(ctx context.Context, req *Request) Outcome

// Do 实现 Doer
func (f DoerFunc) Do(ctx context.Context, req *Request) Outcome {
	return f(ctx, req)
}

// Middleware 包装 Doer
type Middleware func(next Doer) Doer

// Chain 按声明顺序包装，第一个 Middleware 位于最外层
func Chain(d Doer, mws ...Middleware) Doer {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			d = mws[i](d)
		}
	}
	return d
}

// StatusIs 匹配给定状态码的谓词
func StatusIs(codes ...int) func(Outcome) bool {
	return func(o Outcome) bool {
		for _, c := range codes {
			if o.Err == nil && o.Status == c {
				return true
			}
		}
		return false
	}
}

// HandledBy 返回一个拦截器：结果满足 match 时调用 handle 并把结果标记为 Handled。
// handle 可以为 nil，只做标记。
func HandledBy(match func(Outcome) bool, handle func(ctx context.Context, req *Request, out Outcome)) Middleware {
	return func(next Doer) Doer {
		return DoerFunc(func(ctx context.Context, req *Request) Outcome {
			out := next.Do(ctx, req)
			if out.OK() || match == nil || !match(out) {
				return out
			}
			if handle != nil {
				handle(ctx, req, out)
			}
			out.Handled = true
			return out
		})
	}
}
