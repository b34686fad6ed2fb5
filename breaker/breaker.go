// Package breaker 提供按 key 隔离的熔断器，transport.Client 以目标 host 为 key 保护三个后端。
//
// 熔断打开期间请求直接失败，不占用重试预算之外的网络资源；Timeout 之后进入半开状态，
// 放行 MaxRequests 个探测请求。
//
//	brk, _ := breaker.New(&breaker.Config{
//		Timeout:         30 * time.Second,
//		FailureRatio:    0.6,
//		MinimumRequests: 10,
//	}, breaker.WithLogger(logger))
//
//	err := brk.Execute(ctx, "scm.contoso.net", func() error {
//		return doRequest()
//	})
package breaker

import (
	"context"
	"time"

	"github.com/ceyewan/fnportal/clog"
)

// Breaker 熔断器核心接口
type Breaker interface {
	// Execute 执行受熔断保护的函数，fn 返回非 nil 错误计为一次失败。
	// 熔断打开时返回 ErrOpenState，fn 不会被调用。
	Execute(ctx context.Context, key string, fn func() error) error

	// State 获取指定键的熔断器状态，未使用过的 key 视为闭合
	State(key string) (State, error)
}

// State 熔断器状态
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// MaxRequests 半开状态下允许通过的最大请求数（默认：1）
	MaxRequests uint32 `json:"max_requests" yaml:"max_requests" mapstructure:"max_requests"`

	// Interval 闭合状态下的统计周期（默认：0，不清空统计）
	Interval time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`

	// Timeout 打开状态持续时间（默认：60s）
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// FailureRatio 失败率阈值（默认：0.6）
	FailureRatio float64 `json:"failure_ratio" yaml:"failure_ratio" mapstructure:"failure_ratio"`

	// MinimumRequests 触发熔断的最小请求数（默认：10）
	MinimumRequests uint32 `json:"minimum_requests" yaml:"minimum_requests" mapstructure:"minimum_requests"`
}

func (c *Config) setDefaults() {
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.FailureRatio == 0 {
		c.FailureRatio = 0.6
	}
	if c.MinimumRequests == 0 {
		c.MinimumRequests = 10
	}
}

func (c *Config) validate() error {
	if c.FailureRatio < 0 || c.FailureRatio > 1 {
		return ErrInvalidRatio
	}
	return nil
}

// New 创建熔断器实例
func New(cfg *Config, opts ...Option) (Breaker, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := options{logger: clog.Discard()}
	for _, o := range opts {
		o(&opt)
	}

	return newBreaker(cfg, opt)
}
