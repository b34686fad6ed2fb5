package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ceyewan/fnportal/clog"
	"github.com/ceyewan/fnportal/xerrors"
)

const watchBuffer = 8

type watcher struct {
	ch   chan Event
	last any
}

type loader struct {
	v      *viper.Viper
	cfg    *Config
	logger clog.Logger

	mu       sync.Mutex
	watchers map[string][]*watcher
}

func newLoader(cfg *Config, logger clog.Logger) *loader {
	return &loader{
		v:        viper.New(),
		cfg:      cfg,
		logger:   logger,
		watchers: make(map[string][]*watcher),
	}
}

func (l *loader) Load(ctx context.Context) error {
	l.v.SetConfigName(l.cfg.Name)
	l.v.SetConfigType(l.cfg.FileType)
	for _, p := range l.cfg.Paths {
		l.v.AddConfigPath(p)
	}
	for k, val := range l.cfg.Defaults {
		l.v.SetDefault(k, val)
	}
	l.v.SetEnvPrefix(l.cfg.EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	l.loadDotEnv()

	found, err := l.read(l.v.ReadInConfig)
	if err != nil {
		return xerrors.Wrapf(err, "read config %s", l.cfg.Name)
	}
	if found {
		l.logger.InfoContext(ctx, "config file loaded", clog.String("file", l.v.ConfigFileUsed()))
	} else {
		l.logger.DebugContext(ctx, "no config file, using defaults and environment", clog.String("name", l.cfg.Name))
	}
	if err := l.mergeEnvironment(); err != nil {
		return err
	}

	if l.cfg.Watch && found {
		l.v.OnConfigChange(func(fsnotify.Event) {
			if err := l.mergeEnvironment(); err != nil {
				l.logger.Warn("reload environment config failed", clog.Error(err))
			}
			l.notify()
		})
		l.v.WatchConfig()
	}
	return nil
}

// read 配置文件不存在不算错误
func (l *loader) read(fn func() error) (bool, error) {
	err := fn()
	if err == nil {
		return true, nil
	}
	var notFound viper.ConfigFileNotFoundError
	if xerrors.As(err, &notFound) {
		return false, nil
	}
	return false, err
}

// loadDotEnv godotenv.Load 不覆盖已存在的环境变量
func (l *loader) loadDotEnv() {
	files := []string{".env"}
	for _, p := range l.cfg.Paths {
		files = append(files, filepath.Join(p, ".env"))
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			l.logger.Warn("load .env failed", clog.String("file", f), clog.Error(err))
		}
	}
}

// mergeEnvironment <PREFIX>_ENV=prod 时合并 <name>.prod.yaml
func (l *loader) mergeEnvironment() error {
	env := os.Getenv(l.cfg.EnvPrefix + "_ENV")
	if env == "" {
		return nil
	}
	name := l.cfg.Name + "." + env
	l.v.SetConfigName(name)
	defer l.v.SetConfigName(l.cfg.Name)

	found, err := l.read(l.v.MergeInConfig)
	if err != nil {
		return xerrors.Wrapf(err, "merge config %s", name)
	}
	if found {
		l.logger.Info("environment config merged", clog.String("env", env))
	}
	return nil
}

func (l *loader) Get(key string) any { return l.v.Get(key) }

func (l *loader) Unmarshal(v any) error { return l.v.Unmarshal(v) }

func (l *loader) UnmarshalKey(key string, v any) error { return l.v.UnmarshalKey(key, v) }

func (l *loader) Watch(ctx context.Context, key string) (<-chan Event, error) {
	if key == "" {
		return nil, xerrors.Invalidf("watch key is empty")
	}
	w := &watcher{ch: make(chan Event, watchBuffer), last: l.v.Get(key)}

	l.mu.Lock()
	l.watchers[key] = append(l.watchers[key], w)
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.unwatch(key, w)
	}()
	return w.ch, nil
}

// unwatch 持锁关闭通道，notify 不会向已关闭的通道发送
func (l *loader) unwatch(key string, w *watcher) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ws := l.watchers[key]
	for i, x := range ws {
		if x == w {
			ws = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(ws) == 0 {
		delete(l.watchers, key)
	} else {
		l.watchers[key] = ws
	}
	close(w.ch)
}

func (l *loader) notify() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, ws := range l.watchers {
		val := l.v.Get(key)
		for _, w := range ws {
			if reflect.DeepEqual(w.last, val) {
				continue
			}
			ev := Event{Key: key, Value: val, OldValue: w.last, Timestamp: now}
			w.last = val
			select {
			case w.ch <- ev:
			default:
				l.logger.Warn("config watcher is full, event dropped", clog.String("key", key))
			}
		}
	}
}
