package metrics

// Config 指标系统配置
//
// 典型配置（YAML）：
//
//	metrics:
//	  enabled: true
//	  service_name: "portalctl"
//	  version: "v0.1.0"
//	  port: 9090
//	  path: "/metrics"
type Config struct {
	// Enabled 为 false 时 New 返回 noop Meter
	Enabled bool `mapstructure:"enabled"`

	// ServiceName 作为 OTel Resource 的 service.name
	ServiceName string `mapstructure:"service_name"`

	// Version 作为 OTel Resource 的 service.version
	Version string `mapstructure:"version"`

	// Port 大于 0 时启动 Prometheus HTTP 服务
	Port int `mapstructure:"port"`

	// Path 指标暴露路径，默认 "/metrics"
	Path string `mapstructure:"path"`
}

// NewDevDefaultConfig 开发环境默认配置：启用采集，不监听端口
func NewDevDefaultConfig(serviceName string) *Config {
	return &Config{
		Enabled:     true,
		ServiceName: serviceName,
		Version:     "dev",
		Path:        "/metrics",
	}
}

func (c *Config) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "fnportal"
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
}
