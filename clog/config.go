package clog

import (
	"log/slog"
	"strings"

	"github.com/ceyewan/fnportal/xerrors"
)

// Config 日志配置
type Config struct {
	// Level debug|info|warn|error|fatal，默认 info
	Level string `json:"level" yaml:"level" mapstructure:"level"`
	// Format json|console，默认 console
	Format string `json:"format" yaml:"format" mapstructure:"format"`
	// Output stdout|stderr|文件路径，默认 stdout
	Output string `json:"output" yaml:"output" mapstructure:"output"`
	// AddSource 输出 caller=file:line
	AddSource bool `json:"addSource" yaml:"addSource" mapstructure:"add_source"`
	// SourceRoot caller 路径按此前缀裁剪
	SourceRoot string `json:"sourceRoot" yaml:"sourceRoot" mapstructure:"source_root"`
}

// NewDevDefaultConfig debug 级别、console 格式，带调用位置
func NewDevDefaultConfig(sourceRoot string) *Config {
	return &Config{Level: "debug", Format: "console", Output: "stdout", AddSource: true, SourceRoot: sourceRoot}
}

// NewProdDefaultConfig info 级别、json 格式
func NewProdDefaultConfig() *Config {
	return &Config{Level: "info", Format: "json", Output: "stdout"}
}

func (c *Config) setDefaults() {
	if c.Level == "" {
		c.Level = InfoLevel.String()
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.Output == "" {
		c.Output = "stdout"
	}
}

func (c *Config) validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Format) {
	case "json", "console":
		return nil
	default:
		return xerrors.Invalidf("log format %q, want json or console", c.Format)
	}
}

// Level 日志级别，数值与 slog 对齐，Fatal 高于 Error
type Level int

const (
	DebugLevel Level = Level(slog.LevelDebug)
	InfoLevel  Level = Level(slog.LevelInfo)
	WarnLevel  Level = Level(slog.LevelWarn)
	ErrorLevel Level = Level(slog.LevelError)
	FatalLevel Level = Level(slog.LevelError + 4)
)

var levelNames = map[Level]string{
	DebugLevel: "debug",
	InfoLevel:  "info",
	WarnLevel:  "warn",
	ErrorLevel: "error",
	FatalLevel: "fatal",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return slog.Level(l).String()
}

// ParseLevel 不区分大小写；无法识别时返回 InfoLevel 与 ErrInvalidInput
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for l, n := range levelNames {
		if n == name {
			return l, nil
		}
	}
	return InfoLevel, xerrors.Invalidf("log level %q", s)
}

// label 输出中使用的大写级别名
func label(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < slog.LevelWarn:
		return "INFO"
	case l < slog.LevelError:
		return "WARN"
	case l < slog.Level(FatalLevel):
		return "ERROR"
	default:
		return "FATAL"
	}
}
