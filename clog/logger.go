// Package clog 是 fnportal 各组件共用的结构化日志，底层为 log/slog。
//
// 组件只依赖 Logger 接口，构造时通过 WithLogger 注入并用 WithNamespace 派生
// 自己的子 Logger（cache、retry、pipeline ...），未注入时使用 Discard。
// 管线相关的日志统一使用 Operation、ErrorID、Status、Attempt 四个字段。
//
//	logger, _ := clog.New(&clog.Config{Level: "info", Format: "json"},
//	    clog.WithNamespace("portalctl"),
//	    clog.WithStandardContext(),
//	)
//	logger.Warn("attempt failed", clog.Operation("getFunctions"), clog.Status(503))
package clog

import (
	"context"
	"fmt"
)

// NamespaceKey 命名空间在输出中的字段名
const NamespaceKey = "namespace"

// Logger 结构化日志接口。*Context 变体会附带配置的 Context 字段。
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// Fatal 写出后退出进程
	Fatal(msg string, fields ...Field)

	DebugContext(ctx context.Context, msg string, fields ...Field)
	InfoContext(ctx context.Context, msg string, fields ...Field)
	WarnContext(ctx context.Context, msg string, fields ...Field)
	ErrorContext(ctx context.Context, msg string, fields ...Field)
	FatalContext(ctx context.Context, msg string, fields ...Field)

	// With 返回带固定字段的子 Logger
	With(fields ...Field) Logger
	// WithNamespace 在当前命名空间后追加，如 portalctl -> portalctl.cache
	WithNamespace(parts ...string) Logger

	// SetLevel 运行时调整级别，对同一 New 派生出的所有 Logger 生效
	SetLevel(level Level) error
	// Flush 输出到文件时执行 fsync
	Flush()
}

// New 按配置创建 Logger，cfg 为 nil 时使用开发环境默认配置
func New(cfg *Config, opts ...Option) (Logger, error) {
	if cfg == nil {
		cfg = NewDevDefaultConfig("fnportal")
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := applyOptions(opts)
	h, err := newHandler(cfg, o)
	if err != nil {
		return nil, err
	}
	return &logger{h: h, opts: o}, nil
}

// Must 同 New，出错时 panic
func Must(cfg *Config, opts ...Option) Logger {
	l, err := New(cfg, opts...)
	if err != nil {
		panic(fmt.Sprintf("clog: %v", err))
	}
	return l
}
