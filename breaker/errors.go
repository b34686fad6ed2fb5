package breaker

import "github.com/ceyewan/fnportal/xerrors"

var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.Wrap(xerrors.ErrInvalidInput, "breaker: config is nil")

	// ErrInvalidRatio 失败率阈值不在 [0, 1]
	ErrInvalidRatio = xerrors.Wrap(xerrors.ErrInvalidInput, "breaker: failure ratio must be in [0, 1]")

	// ErrKeyEmpty 熔断键为空
	ErrKeyEmpty = xerrors.Wrap(xerrors.ErrInvalidInput, "breaker: key is empty")

	// ErrOpenState 熔断器处于打开状态
	ErrOpenState = xerrors.Wrap(xerrors.ErrUnavailable, "breaker: circuit breaker is open")
)
