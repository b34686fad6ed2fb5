package pipeline

import (
	"context"
	"encoding/json"

	"github.com/ceyewan/fnportal/clog"
	"github.com/ceyewan/fnportal/transport"
)

// Fetch 执行 op 并把响应体解码为 T。
//
// 响应体是合法 JSON 但与 T 的形状不符时同样视为解析失败：
// 上报解析错误 ID，并删除可能已经写入的缓存条目。
func Fetch[T any](ctx context.Context, p *Pipeline, op Operation) (T, *Result, error) {
	var v T
	op.Expect = ExpectJSON
	res, op, err := p.execute(ctx, op)
	if err != nil {
		return v, res, err
	}
	if derr := json.Unmarshal(res.Body, &v); derr != nil {
		out := transport.Outcome{Status: res.Status, Body: res.Body, Header: res.Header}
		if op.Cacheable {
			if ierr := p.cache.Invalidate(ctx, op.ID); ierr != nil {
				p.logger.WarnContext(ctx, "drop unparsable entry failed", clog.Error(ierr))
			}
		}
		p.reportParse(ctx, op, out)
		var zero T
		return zero, res, newError(ErrParse, op, out, res.Attempts)
	}
	return v, res, nil
}
