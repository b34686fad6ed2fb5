package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/ceyewan/fnportal/transport"
	"github.com/ceyewan/fnportal/xerrors"
)

// 失败分类，用 errors.Is 判断
var (
	ErrTransport = xerrors.New("transport failure")
	ErrClient    = xerrors.New("client error")
	ErrServer    = xerrors.New("server error")
	ErrParse     = xerrors.New("parse failure")
	ErrHandled   = xerrors.New("already handled")
)

// Error 管线的终止失败。底层传输错误不会透出，只保留状态与分类。
type Error struct {
	Kind       error
	Operation  string
	ErrorID    string
	Status     int
	StatusText string
	Attempts   int
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline: %s: %v: %d %s", e.Operation, e.Kind, e.Status, e.StatusText)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// kindOf 对结果分类，成功返回 nil
func kindOf(op Operation, out transport.Outcome) error {
	switch {
	case out.Handled:
		return ErrHandled
	case out.OK():
		if op.Expect == ExpectJSON && !json.Valid(out.Body) {
			return ErrParse
		}
		return nil
	case out.TransportFailure():
		return ErrTransport
	case out.Status >= 500:
		return ErrServer
	default:
		return ErrClient
	}
}

func newError(kind error, op Operation, out transport.Outcome, attempts int) *Error {
	e := &Error{
		Kind:       kind,
		Operation:  op.ID.Operation,
		ErrorID:    op.ErrorID,
		Status:     out.Status,
		StatusText: out.StatusText(),
		Attempts:   attempts,
	}
	if out.TransportFailure() {
		e.Status = 0
		e.StatusText = transport.StatusText(0)
	}
	if kind == ErrParse {
		e.ErrorID = op.ParseErrorID
	}
	return e
}

// errorKindLabel 指标标签值
func errorKindLabel(kind error) string {
	switch kind {
	case nil:
		return "none"
	case ErrTransport:
		return "transport"
	case ErrClient:
		return "client"
	case ErrServer:
		return "server"
	case ErrParse:
		return "parse"
	case ErrHandled:
		return "handled"
	default:
		return "unknown"
	}
}
