package clog

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"
)

type logger struct {
	h     *handler
	opts  *options
	attrs []slog.Attr
}

func (l *logger) Debug(msg string, fields ...Field) { l.log(context.Background(), DebugLevel, msg, fields) }
func (l *logger) Info(msg string, fields ...Field)  { l.log(context.Background(), InfoLevel, msg, fields) }
func (l *logger) Warn(msg string, fields ...Field)  { l.log(context.Background(), WarnLevel, msg, fields) }
func (l *logger) Error(msg string, fields ...Field) { l.log(context.Background(), ErrorLevel, msg, fields) }
func (l *logger) Fatal(msg string, fields ...Field) { l.log(context.Background(), FatalLevel, msg, fields) }

func (l *logger) DebugContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, DebugLevel, msg, fields)
}

func (l *logger) InfoContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, InfoLevel, msg, fields)
}

func (l *logger) WarnContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, WarnLevel, msg, fields)
}

func (l *logger) ErrorContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, ErrorLevel, msg, fields)
}

func (l *logger) FatalContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, FatalLevel, msg, fields)
}

func (l *logger) With(fields ...Field) Logger {
	attrs := make([]slog.Attr, 0, len(l.attrs)+len(fields))
	attrs = append(attrs, l.attrs...)
	attrs = appendFields(attrs, fields)
	return &logger{h: l.h, opts: l.opts, attrs: attrs}
}

func (l *logger) WithNamespace(parts ...string) Logger {
	return &logger{h: l.h, opts: l.opts.child(parts...), attrs: l.attrs}
}

func (l *logger) SetLevel(level Level) error {
	l.h.level.Set(slog.Level(level))
	return nil
}

func (l *logger) Flush() {
	if l.h.file != nil {
		_ = l.h.file.Sync()
	}
}

// log 的调用深度固定为 runtime.Callers -> log -> 级别方法 -> 调用方
func (l *logger) log(ctx context.Context, level Level, msg string, fields []Field) {
	if !l.h.Enabled(ctx, slog.Level(level)) {
		return
	}

	attrs := make([]slog.Attr, 0, len(l.attrs)+len(fields)+len(l.opts.contextFields)+1)
	attrs = append(attrs, l.attrs...)
	attrs = appendFields(attrs, fields)
	attrs = l.opts.decorate(ctx, attrs)

	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), slog.Level(level), msg, pcs[0])
	r.AddAttrs(attrs...)
	_ = l.h.Handle(ctx, r)

	if level >= FatalLevel {
		l.Flush()
		os.Exit(1)
	}
}

// appendFields 丢弃空字段，如 Error(nil)
func appendFields(dst []slog.Attr, fields []Field) []slog.Attr {
	for _, f := range fields {
		if f.Key != "" {
			dst = append(dst, f)
		}
	}
	return dst
}
