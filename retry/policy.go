// Package retry 提供一个通用的重试装饰器。
//
// 一个 Policy 由三部分参数化：停止谓词、最大尝试次数、固定间隔。
// 门户里的几种重试策略都是同一个 Policy 的不同配置：
//
//   - Transient：传输失败或 5xx 时重试，4xx 立即停止
//   - Conflict：创建试用资源时使用，400（已存在）与 403（未登录）立即停止
//   - ReadOnlyConflict：读取试用资源时使用，403 立即停止
//   - Persistent：探测宿主状态，除 Handled 外一律重试
//   - None：只尝试一次
//
// 已被上游处理（Handled）的失败与熔断拒绝、响应体超限在任何策略下都不会重试。
package retry

import (
	"time"

	"github.com/ceyewan/fnportal/transport"
	"github.com/ceyewan/fnportal/xerrors"
)

// DefaultMaxAttempts 默认最大尝试次数（包含第一次）
const DefaultMaxAttempts = 10

// 门户使用的固定重试间隔
const (
	DefaultDelay    = 1000 * time.Millisecond
	KeyFetchDelay   = 400 * time.Millisecond
	HostStatusDelay = 2000 * time.Millisecond
)

// StopFunc 返回 true 表示该失败不应再重试
type StopFunc func(o transport.Outcome) bool

// Policy 重试策略
type Policy struct {
	// Name 用于日志与指标
	Name string

	// MaxAttempts 最大尝试次数，包含第一次
	MaxAttempts int

	// Delay 两次尝试之间的固定间隔
	Delay time.Duration

	// MaxElapsed 自第一次尝试起的总时长上限，0 表示不限制
	MaxElapsed time.Duration

	// Stop 策略特有的停止条件，nil 表示任何失败都可重试
	Stop StopFunc
}

// Decision 一次失败后的决定
type Decision struct {
	Retry bool
	After time.Duration
	// Reason 停止原因，仅 Retry 为 false 时有意义
	Reason string
}

// 停止原因
const (
	ReasonSucceeded = "succeeded"
	ReasonHandled   = "handled"
	ReasonExhausted = "exhausted"
	ReasonElapsed   = "elapsed"
	ReasonStopped   = "not_retryable"
	ReasonRejected  = "rejected"
)

// Validate 校验策略
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return xerrors.Invalidf("retry: policy %q max attempts must be at least 1", p.Name)
	}
	if p.Delay < 0 || p.MaxElapsed < 0 {
		return xerrors.Invalidf("retry: policy %q delays must not be negative", p.Name)
	}
	return nil
}

// ShouldRetry 在第 attempt 次尝试（从 1 开始）得到 o 之后决定是否继续。
// elapsed 为自第一次尝试开始经过的时间。
func (p Policy) ShouldRetry(o transport.Outcome, attempt int, elapsed time.Duration) Decision {
	switch {
	case o.OK():
		return Decision{Reason: ReasonSucceeded}
	case o.Handled:
		return Decision{Reason: ReasonHandled}
	case o.Rejected():
		return Decision{Reason: ReasonRejected}
	case o.Terminal():
		return Decision{Reason: ReasonStopped}
	case attempt >= p.MaxAttempts:
		return Decision{Reason: ReasonExhausted}
	case p.Stop != nil && p.Stop(o):
		return Decision{Reason: ReasonStopped}
	case p.MaxElapsed > 0 && elapsed+p.Delay > p.MaxElapsed:
		return Decision{Reason: ReasonElapsed}
	}
	return Decision{Retry: true, After: p.Delay}
}

// stopOnClientError 有响应且状态码小于 500 时停止
func stopOnClientError(o transport.Outcome) bool {
	return !o.TransportFailure() && o.Status < 500
}

func stopOnStatus(codes ...int) StopFunc {
	match := transport.StatusIs(codes...)
	return func(o transport.Outcome) bool {
		return match(o) || stopOnClientError(o)
	}
}

// Transient 传输失败与 5xx 重试
func Transient(delay time.Duration) Policy {
	return Policy{Name: "transient", MaxAttempts: DefaultMaxAttempts, Delay: delay, Stop: stopOnClientError}
}

// Conflict 创建类请求：400、403 立即停止，其余同 Transient
func Conflict(delay time.Duration) Policy {
	return Policy{Name: "conflict", MaxAttempts: DefaultMaxAttempts, Delay: delay, Stop: stopOnStatus(400, 403)}
}

// ReadOnlyConflict 只读请求：403 立即停止，其余同 Transient
func ReadOnlyConflict(delay time.Duration) Policy {
	return Policy{Name: "read_only_conflict", MaxAttempts: DefaultMaxAttempts, Delay: delay, Stop: stopOnStatus(403)}
}

// Persistent 除 Handled 外所有失败都重试，直到次数耗尽
func Persistent(delay time.Duration) Policy {
	return Policy{Name: "persistent", MaxAttempts: DefaultMaxAttempts, Delay: delay}
}

// None 只尝试一次
func None() Policy {
	return Policy{Name: "none", MaxAttempts: 1}
}
