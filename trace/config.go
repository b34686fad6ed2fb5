package trace

import "github.com/ceyewan/fnportal/xerrors"

// Config 链路追踪配置。Endpoint 为空时只在进程内生成 TraceID，不导出。
type Config struct {
	ServiceName string `mapstructure:"service_name"`
	// Endpoint OTLP gRPC 地址，如 localhost:4317
	Endpoint string `mapstructure:"endpoint"`
	// Sampler 根 Span 采样率，0 按 1 处理
	Sampler float64 `mapstructure:"sampler"`
	// Batcher batch|simple，simple 同步导出，调试时使用
	Batcher  string `mapstructure:"batcher"`
	Insecure bool   `mapstructure:"insecure"`
}

func (c *Config) setDefaults() {
	if c.Sampler == 0 {
		c.Sampler = 1
	}
	if c.Batcher == "" {
		c.Batcher = "batch"
	}
}

func (c *Config) validate() error {
	switch {
	case c.ServiceName == "":
		return xerrors.Invalidf("trace service_name is required")
	case c.Sampler < 0 || c.Sampler > 1:
		return xerrors.Invalidf("trace sampler %v, want [0, 1]", c.Sampler)
	case c.Batcher != "batch" && c.Batcher != "simple":
		return xerrors.Invalidf("trace batcher %q, want batch or simple", c.Batcher)
	}
	return nil
}
