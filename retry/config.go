package retry

import (
	"time"

	"github.com/ceyewan/fnportal/xerrors"
)

// Config 重试参数，命令行从配置文件读取
type Config struct {
	// MaxAttempts 最大尝试次数（默认：10）
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`

	// Delay 普通请求的重试间隔（默认：1s）
	Delay time.Duration `json:"delay" yaml:"delay" mapstructure:"delay"`

	// KeyDelay 读取密钥的重试间隔（默认：400ms）
	KeyDelay time.Duration `json:"key_delay" yaml:"key_delay" mapstructure:"key_delay"`

	// HostStatusDelay 探测宿主状态的重试间隔（默认：2s）
	HostStatusDelay time.Duration `json:"host_status_delay" yaml:"host_status_delay" mapstructure:"host_status_delay"`
}

func (c *Config) setDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Delay == 0 {
		c.Delay = DefaultDelay
	}
	if c.KeyDelay == 0 {
		c.KeyDelay = KeyFetchDelay
	}
	if c.HostStatusDelay == 0 {
		c.HostStatusDelay = HostStatusDelay
	}
}

func (c *Config) validate() error {
	if c.MaxAttempts < 1 {
		return xerrors.Invalidf("retry: max attempts must be at least 1")
	}
	if c.Delay < 0 || c.KeyDelay < 0 || c.HostStatusDelay < 0 {
		return xerrors.Invalidf("retry: delays must not be negative")
	}
	return nil
}

// Presets 门户各类调用使用的策略集合
type Presets struct {
	Default       Policy
	KeyFetch      Policy
	HostStatus    Policy
	CreateTrial   Policy
	ReadTrial     Policy
	SingleAttempt Policy
}

// NewPresets 按配置生成策略集合，cfg 为 nil 时使用默认值
func NewPresets(cfg *Config) (Presets, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return Presets{}, err
	}

	withMax := func(p Policy) Policy {
		p.MaxAttempts = cfg.MaxAttempts
		return p
	}
	return Presets{
		Default:       withMax(Transient(cfg.Delay)),
		KeyFetch:      withMax(Transient(cfg.KeyDelay)),
		HostStatus:    withMax(Persistent(cfg.HostStatusDelay)),
		CreateTrial:   withMax(Conflict(cfg.Delay)),
		ReadTrial:     withMax(ReadOnlyConflict(cfg.Delay)),
		SingleAttempt: None(),
	}, nil
}
