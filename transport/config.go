package transport

import (
	"time"

	"github.com/ceyewan/fnportal/xerrors"
)

// DefaultRequestIDHeader 出站请求 ID 头
const DefaultRequestIDHeader = "x-ms-client-request-id"

// Config HTTP 客户端配置
type Config struct {
	// Timeout 单次尝试的超时（默认：30s）
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// RateLimit 每个 host 每秒允许的请求数，0 表示不限流
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit" mapstructure:"rate_limit"`

	// Burst 令牌桶容量（默认：与 RateLimit 取整后相同，至少 1）
	Burst int `json:"burst" yaml:"burst" mapstructure:"burst"`

	// MaxBodyBytes 响应体读取上限（默认：16MiB）
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes" mapstructure:"max_body_bytes"`

	// RequestIDHeader 请求 ID 头名，调用方已设置时不覆盖
	RequestIDHeader string `json:"request_id_header" yaml:"request_id_header" mapstructure:"request_id_header"`
}

func (c *Config) setDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RateLimit > 0 && c.Burst == 0 {
		c.Burst = max(int(c.RateLimit), 1)
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 16 << 20
	}
	if c.RequestIDHeader == "" {
		c.RequestIDHeader = DefaultRequestIDHeader
	}
}

func (c *Config) validate() error {
	if c.Timeout < 0 {
		return xerrors.Invalidf("transport: timeout must not be negative")
	}
	if c.RateLimit < 0 || c.Burst < 0 {
		return xerrors.Invalidf("transport: rate limit and burst must not be negative")
	}
	if c.MaxBodyBytes < 0 {
		return xerrors.Invalidf("transport: max body bytes must not be negative")
	}
	return nil
}
