package clog

import (
	"log/slog"
	"time"
)

// Field 是 slog.Attr 的类型别名，构造字段不额外分配
type Field = slog.Attr

// 各组件共用的字段名，保证同一含义在日志中只有一种写法
const (
	KeyOperation = "operation"
	KeyErrorID   = "error_id"
	KeyStatus    = "status"
	KeyAttempt   = "attempt"
)

func String(k, v string) Field { return slog.String(k, v) }

func Int(k string, v int) Field { return slog.Int(k, v) }

func Float64(k string, v float64) Field { return slog.Float64(k, v) }

func Bool(k string, v bool) Field { return slog.Bool(k, v) }

func Duration(k string, v time.Duration) Field { return slog.Duration(k, v) }

func Any(k string, v any) Field { return slog.Any(k, v) }

// Operation 逻辑调用名，如 getFunctions
func Operation(name string) Field { return slog.String(KeyOperation, name) }

// ErrorID 界面错误 ID
func ErrorID(id string) Field { return slog.String(KeyErrorID, id) }

// Status HTTP 状态码，0 表示传输层失败
func Status(code int) Field { return slog.Int(KeyStatus, code) }

// Attempt 第几次尝试，从 1 开始
func Attempt(n int) Field { return slog.Int(KeyAttempt, n) }

// Error 只输出错误消息：err_msg="..."。err 为 nil 时返回空字段，handler 会丢弃它。
func Error(err error) Field {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("err_msg", err.Error())
}

// ErrorWithCode 带错误码的错误字段，输出为分组：error={msg="...", code="..."}
//
//	logger.Warn("decrypt host keys failed", clog.ErrorWithCode(err, "unableToDecryptKeys"))
func ErrorWithCode(err error, code string) Field {
	if err == nil {
		return slog.Group("error", slog.String("code", code))
	}
	return slog.Group("error",
		slog.String("msg", err.Error()),
		slog.String("code", code),
	)
}
