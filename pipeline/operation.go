package pipeline

import (
	"context"
	"fmt"

	"github.com/ceyewan/fnportal/broadcast"
	"github.com/ceyewan/fnportal/cache"
	"github.com/ceyewan/fnportal/retry"
	"github.com/ceyewan/fnportal/transport"
	"github.com/ceyewan/fnportal/xerrors"
)

// Expect 对响应体的要求
type Expect int

const (
	// ExpectAny 不检查响应体
	ExpectAny Expect = iota
	// ExpectJSON 响应体必须是合法 JSON，否则视为解析失败
	ExpectJSON
)

// parseSuffix 默认解析错误 ID 的后缀
const parseSuffix = ".parse"

// Operation 描述一次逻辑调用
type Operation struct {
	// ID 缓存身份，也是日志、指标与 span 中的操作名
	ID cache.Identity

	// Request 经由管线的 Doer 发出；与 Call 二选一
	Request *transport.Request
	// Call 自定义调用，优先于 Request
	Call func(ctx context.Context) transport.Outcome

	// Policy 重试策略，零值表示使用管线默认策略
	Policy retry.Policy

	// Cacheable 成功结果写入缓存
	Cacheable bool
	Expect    Expect

	// ErrorID 失败时上报、成功时清除的错误 ID，为空则不参与错误广播
	ErrorID string
	// ParseErrorID 解析失败使用的错误 ID（默认：ErrorID + ".parse"）
	ParseErrorID string
	Message      string
	ParseMessage string
	Severity     broadcast.Severity

	// 写操作声明的失效范围，调用前后各执行一次
	Invalidates    []cache.Identity
	InvalidatesOps []string
	InvalidatesAll bool
}

func (op Operation) mutates() bool {
	return len(op.Invalidates) > 0 || len(op.InvalidatesOps) > 0 || op.InvalidatesAll
}

func (op Operation) message(out transport.Outcome) string {
	if op.Message != "" {
		return op.Message
	}
	return fmt.Sprintf("%s failed: %d %s", op.ID.Operation, out.Status, out.StatusText())
}

func (op Operation) parseMessage() string {
	if op.ParseMessage != "" {
		return op.ParseMessage
	}
	return fmt.Sprintf("%s returned a response that could not be parsed", op.ID.Operation)
}

func (p *Pipeline) prepare(op Operation) (Operation, error) {
	if op.ID.Operation == "" {
		return op, xerrors.Invalidf("pipeline: operation name is empty")
	}
	if op.Call == nil && op.Request == nil {
		return op, xerrors.Invalidf("pipeline: %s has neither request nor call", op.ID.Operation)
	}
	if op.Cacheable && op.mutates() {
		return op, xerrors.Invalidf("pipeline: %s cannot be both cacheable and mutating", op.ID.Operation)
	}
	if op.Policy.MaxAttempts == 0 {
		op.Policy = p.policy
	}
	if err := op.Policy.Validate(); err != nil {
		return op, err
	}
	if op.ErrorID != "" && op.ParseErrorID == "" {
		op.ParseErrorID = op.ErrorID + parseSuffix
	}
	if op.Severity == "" {
		op.Severity = broadcast.SeverityAPIError
	}
	return op, nil
}
