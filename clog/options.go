package clog

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
)

// ContextField 从 Context 取值写入日志：ctx.Value(Key) 输出为 FieldName
type ContextField struct {
	Key       any
	FieldName string
}

// Option 配置 Logger
type Option func(*options)

type options struct {
	namespace     []string
	contextFields []ContextField
	buffer        *bytes.Buffer
}

// WithNamespace 追加命名空间，多级之间以 "." 连接，如 portalctl.pipeline
func WithNamespace(parts ...string) Option {
	return func(o *options) { o.namespace = append(o.namespace, parts...) }
}

// WithContextField 注册一个 Context 字段
func WithContextField(key any, fieldName string) Option {
	return func(o *options) {
		o.contextFields = append(o.contextFields, ContextField{Key: key, FieldName: fieldName})
	}
}

// WithStandardContext 提取 trace_id、request_id 与 site
func WithStandardContext() Option {
	return func(o *options) {
		for _, k := range []string{"trace_id", "request_id", "site"} {
			o.contextFields = append(o.contextFields, ContextField{Key: k, FieldName: k})
		}
	}
}

func applyOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// child 复制一份，命名空间切片不与父 Logger 共享
func (o *options) child(parts ...string) *options {
	c := *o
	c.namespace = append(append(make([]string, 0, len(o.namespace)+len(parts)), o.namespace...), parts...)
	return &c
}

// decorate 追加 Context 字段与命名空间
func (o *options) decorate(ctx context.Context, attrs []slog.Attr) []slog.Attr {
	if ctx != nil {
		for _, cf := range o.contextFields {
			if v := ctx.Value(cf.Key); v != nil {
				attrs = append(attrs, slog.Any(cf.FieldName, v))
			}
		}
	}
	if len(o.namespace) > 0 {
		attrs = append(attrs, slog.String(NamespaceKey, strings.Join(o.namespace, ".")))
	}
	return attrs
}
