// Package xerrors 是 fnportal 的错误约定。
//
// 组件返回的错误用 Wrap/Wrapf 补充上下文，分类只靠下面四个哨兵，
// 调用方用 Is 判断，不解析错误字符串。
package xerrors

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput 参数或配置非法
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound 资源不存在
	ErrNotFound = errors.New("not found")
	// ErrUnavailable 依赖不可用：Redis、NATS 或熔断打开
	ErrUnavailable = errors.New("unavailable")
	// ErrClosed 组件已关闭
	ErrClosed = errors.New("closed")
)

var (
	New    = errors.New
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Wrap 返回 "msg: err"，err 为 nil 时返回 nil
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrapped{msg: msg, err: err}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapped{msg: fmt.Sprintf(format, args...), err: err}
}

// Invalidf 以 ErrInvalidInput 为原因构造错误，消息形如 "invalid input: ..."
func Invalidf(format string, args ...any) error {
	return &wrapped{msg: fmt.Sprintf(format, args...), err: ErrInvalidInput, causeFirst: true}
}

type wrapped struct {
	msg        string
	err        error
	causeFirst bool
}

func (w *wrapped) Error() string {
	if w.causeFirst {
		return w.err.Error() + ": " + w.msg
	}
	return w.msg + ": " + w.err.Error()
}

func (w *wrapped) Unwrap() error { return w.err }

// Combine 合并错误并忽略 nil。全部为 nil 时返回 nil，只剩一个时原样返回。
func Combine(errs ...error) error {
	var first error
	n := 0
	for _, err := range errs {
		if err == nil {
			continue
		}
		if n == 0 {
			first = err
		}
		n++
	}
	switch n {
	case 0:
		return nil
	case 1:
		return first
	}
	return errors.Join(errs...)
}
