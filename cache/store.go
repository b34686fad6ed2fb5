package cache

import (
	"context"
	"net/http"

	"github.com/ceyewan/fnportal/transport"
)

// Store 已完成结果的存储。
// 实现只保存成功且需要缓存的 Outcome，Get 返回的 Outcome 由调用方独占，修改它不影响存储。
type Store interface {
	Get(ctx context.Context, key string) (transport.Outcome, bool, error)
	Set(ctx context.Context, key string, out transport.Outcome) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix 删除以 prefix 开头的全部键
	DeletePrefix(ctx context.Context, prefix string) error
	Clear(ctx context.Context) error
	Close() error
}

// entry 存储层的条目形态，只保留成功结果需要的字段
type entry struct {
	Status int                 `json:"status" msgpack:"status"`
	Body   []byte              `json:"body,omitempty" msgpack:"body,omitempty"`
	Header map[string][]string `json:"header,omitempty" msgpack:"header,omitempty"`
}

func newEntry(out transport.Outcome) entry {
	e := entry{Status: out.Status}
	if out.Body != nil {
		e.Body = append([]byte(nil), out.Body...)
	}
	if out.Header != nil {
		e.Header = out.Header.Clone()
	}
	return e
}

func (e entry) outcome() transport.Outcome {
	out := transport.Outcome{Status: e.Status}
	if e.Body != nil {
		out.Body = append([]byte(nil), e.Body...)
	}
	if e.Header != nil {
		out.Header = http.Header(e.Header).Clone()
	}
	return out
}
