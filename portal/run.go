package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/ceyewan/fnportal/cache"
	"github.com/ceyewan/fnportal/pipeline"
	"github.com/ceyewan/fnportal/transport"
	"github.com/ceyewan/fnportal/xerrors"
)

var routeParam = regexp.MustCompile(`\{([^}]+)\}`)

// RunFunction 通过 admin API 以 {"input": content} 调用函数
func (c *Client) RunFunction(ctx context.Context, fi FunctionInfo, content string) (RunResult, error) {
	site, _ := c.state()
	if err := c.requireSite(ctx, "main_site_url", site.MainSiteURL); err != nil {
		return RunResult{}, err
	}
	body, err := json.Marshal(map[string]string{"input": content})
	if err != nil {
		return RunResult{}, xerrors.Wrap(err, "portal: encode input")
	}
	u := site.MainSiteURL + "/admin/functions/" + url.PathEscape(strings.ToLower(fi.Name))
	return c.run(ctx, fi, c.request(SurfaceAdmin, http.MethodPost, u, body, ""))
}

// RunHTTPFunction 直接请求 HTTP 触发函数。
// 路由模板中的 {name} 或 {name:constraint} 由同名查询参数替换，其余参数拼接为查询串。
func (c *Client) RunHTTPFunction(ctx context.Context, fi FunctionInfo, rawURL string, model HTTPRunModel) (RunResult, error) {
	if rawURL == "" {
		return RunResult{}, xerrors.Invalidf("portal: function url is empty")
	}
	method := strings.ToUpper(model.Method)
	if method == "" {
		method = http.MethodPost
	}

	req := c.request(SurfaceAdmin, method, BuildRunURL(rawURL, model.QueryStringParams), nil, "")
	for _, h := range model.Headers {
		req.Header.Add(h.Name, h.Value)
	}
	switch method {
	case http.MethodGet, http.MethodDelete, http.MethodHead:
	default:
		req.Body = []byte(model.Body)
	}
	return c.run(ctx, fi, req)
}

// BuildRunURL 用参数填充路由模板，原有查询串被丢弃
func BuildRunURL(rawURL string, params []NameValue) string {
	u := rawURL
	if parts := strings.Split(rawURL, "?"); len(parts) == 2 {
		u = parts[0]
	}

	used := make(map[string]bool)
	for _, m := range routeParam.FindAllString(rawURL, -1) {
		name := strings.Trim(strings.SplitN(m, ":", 2)[0], "{}")
		used[name] = true
		for _, p := range params {
			if p.Name == name {
				u = strings.Replace(u, m, p.Value, 1)
				break
			}
		}
	}

	sep := "?"
	for _, p := range params {
		if used[p.Name] {
			continue
		}
		u += sep + p.Name + "=" + p.Value
		sep = "&"
	}
	return u
}

// run 单次调用，不缓存也不上报错误，结果总是映射为 RunResult
func (c *Client) run(ctx context.Context, fi FunctionInfo, req *transport.Request) (RunResult, error) {
	doer := c.p.Doer()
	var raw transport.Outcome
	_, err := c.p.Execute(ctx, pipeline.Operation{
		ID: cache.ID(OpRunFunction, fi.Name),
		Call: func(ctx context.Context) transport.Outcome {
			raw = doer.Do(ctx, req.Clone())
			return raw
		},
		Policy: c.presets.SingleAttempt,
	})
	var perr *pipeline.Error
	if err != nil && !xerrors.As(err, &perr) {
		// 参数错误或调用方取消，没有可映射的结果
		return RunResult{}, err
	}
	return MapRunResult(raw, c.EasyAuthEnabled(), fi.Name), nil
}

// MapRunResult 把一次调用的结果映射为 RunResult。
//
// 成功时返回状态与响应体。失败时：站点开启认证一律映射为 401 并给出固定说明；
// 收到 200 但读取失败映射为 502；传输层失败为状态 0；其余保留状态码，内容为空。
func MapRunResult(out transport.Outcome, easyAuth bool, functionName string) RunResult {
	switch {
	case out.OK():
		return RunResult{StatusCode: out.Status, StatusText: out.StatusText(), Content: string(out.Body)}
	case easyAuth:
		return RunResult{StatusCode: http.StatusUnauthorized, StatusText: transport.StatusText(http.StatusUnauthorized), Content: msgAuthEnabled}
	case out.Status == http.StatusOK && out.Err != nil:
		return RunResult{
			StatusCode: http.StatusBadGateway,
			StatusText: transport.StatusText(http.StatusBadGateway),
			Content:    fmt.Sprintf(msgErrorRunningFmt, functionName),
		}
	case out.TransportFailure():
		return RunResult{StatusCode: 0, StatusText: transport.StatusText(0)}
	default:
		return RunResult{StatusCode: out.Status, StatusText: out.StatusText()}
	}
}
