// Package config 基于 Viper 加载 fnportal 的配置。
//
// 优先级从高到低：环境变量、.env、<name>.<env>.yaml、<name>.yaml、Defaults。
// 环境变量带 EnvPrefix 前缀，key 中的 "." 换成 "_"，如 FNPORTAL_PORTAL_SESSION_TOKEN。
//
//	loader, _ := config.New(&config.Config{Name: "portalctl", Defaults: defaults})
//	if err := loader.Load(ctx); err != nil {
//		return err
//	}
//	var cfg AppConfig
//	err := loader.Unmarshal(&cfg)
package config

import (
	"context"
	"strings"
	"time"

	"github.com/ceyewan/fnportal/clog"
)

// Loader 配置加载器
type Loader interface {
	Load(ctx context.Context) error
	Get(key string) any
	// Unmarshal 按 mapstructure 标签解码全部配置
	Unmarshal(v any) error
	UnmarshalKey(key string, v any) error
	// Watch 在配置文件改动导致 key 的值变化时发送事件，ctx 取消后关闭通道。
	// 只有 Config.Watch 为 true 且找到了配置文件时才会有事件。
	Watch(ctx context.Context, key string) (<-chan Event, error)
}

// Event 一次配置变更
type Event struct {
	Key       string
	Value     any
	OldValue  any
	Timestamp time.Time
}

// Config 加载器自身的配置
type Config struct {
	// Name 配置文件名，不含扩展名，默认 portalctl
	Name string
	// Paths 搜索目录，默认 . 与 ./config
	Paths    []string
	FileType string
	// EnvPrefix 环境变量前缀，默认 FNPORTAL
	EnvPrefix string
	// Defaults 默认值。仅由环境变量提供的 key 也需要在这里出现，否则 Unmarshal 看不到。
	Defaults map[string]any
	// Watch 监听配置文件变化
	Watch bool
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "portalctl"
	}
	if c.Paths == nil {
		c.Paths = []string{".", "./config"}
	}
	if c.FileType == "" {
		c.FileType = "yaml"
	}
	if c.EnvPrefix == "" {
		c.EnvPrefix = "FNPORTAL"
	}
	c.EnvPrefix = strings.ToUpper(c.EnvPrefix)
}

// Option 配置 Loader
type Option func(*options)

type options struct {
	logger clog.Logger
}

// WithLogger 加载过程写入 logger 的 config 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("config")
		}
	}
}

// New 创建加载器，cfg 为 nil 时全部使用默认值
func New(cfg *Config, opts ...Option) (Loader, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()

	o := &options{logger: clog.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	return newLoader(cfg, o.logger), nil
}
