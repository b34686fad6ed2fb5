package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ceyewan/fnportal/breaker"
	"github.com/ceyewan/fnportal/broadcast"
	"github.com/ceyewan/fnportal/cache"
	"github.com/ceyewan/fnportal/clog"
	"github.com/ceyewan/fnportal/config"
	"github.com/ceyewan/fnportal/connector"
	"github.com/ceyewan/fnportal/metrics"
	"github.com/ceyewan/fnportal/pipeline"
	"github.com/ceyewan/fnportal/portal"
	"github.com/ceyewan/fnportal/retry"
	"github.com/ceyewan/fnportal/trace"
	"github.com/ceyewan/fnportal/transport"
	"github.com/ceyewan/fnportal/xerrors"
)

const serviceName = "portalctl"

// AppConfig portalctl 的完整配置，对应配置文件的顶层结构
type AppConfig struct {
	Log       clog.Config           `mapstructure:"log"`
	Metrics   metrics.Config        `mapstructure:"metrics"`
	Trace     trace.Config          `mapstructure:"trace"`
	Transport transport.Config      `mapstructure:"transport"`
	Breaker   breaker.Config        `mapstructure:"breaker"`
	Retry     retry.Config          `mapstructure:"retry"`
	Cache     cache.Config          `mapstructure:"cache"`
	Redis     connector.RedisConfig `mapstructure:"redis"`
	NATS      connector.NATSConfig  `mapstructure:"nats"`
	Events    EventsConfig          `mapstructure:"events"`
	Portal    portal.Config         `mapstructure:"portal"`
}

// EventsConfig 错误事件的进程外出口
type EventsConfig struct {
	// Subject NATS 主题，配置了 nats.url 时生效
	Subject string `mapstructure:"subject"`
}

// defaultValues 让仅由环境变量提供的 key 也能被 Unmarshal 看到
func defaultValues() map[string]any {
	return map[string]any{
		"log.level":                 "info",
		"log.format":                "console",
		"log.output":                "stderr",
		"metrics.enabled":           false,
		"metrics.service_name":      serviceName,
		"metrics.port":              0,
		"trace.service_name":        serviceName,
		"trace.endpoint":            "",
		"trace.sampler":             1.0,
		"trace.batcher":             "batch",
		"trace.insecure":            true,
		"cache.mode":                cache.ModeStandalone,
		"redis.addr":                "",
		"nats.url":                  "",
		"events.subject":            "fnportal.errors",
		"portal.service_host":       portal.DefaultServiceHost,
		"portal.site.name":          "",
		"portal.site.scm_url":       "",
		"portal.site.main_site_url": "",
		"portal.session.token":      "",
		"portal.session.scm_creds":  "",
		"portal.session.master_key": "",
	}
}

// loadConfig 读取配置文件、.env 与 FNPORTAL_ 前缀的环境变量。
// path 为空时在当前目录与 ./config 下查找 portalctl.yaml；watch 为 true 时监听文件变化。
func loadConfig(ctx context.Context, path string, watch bool) (*AppConfig, config.Loader, error) {
	cfg := &config.Config{
		Name:      serviceName,
		EnvPrefix: "FNPORTAL",
		Defaults:  defaultValues(),
		Watch:     watch,
	}
	if path != "" {
		ext := filepath.Ext(path)
		cfg.Name = strings.TrimSuffix(filepath.Base(path), ext)
		cfg.Paths = []string{filepath.Dir(path)}
		if ext != "" {
			cfg.FileType = strings.TrimPrefix(ext, ".")
		}
	}

	loader, err := config.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := loader.Load(ctx); err != nil {
		return nil, nil, err
	}
	var app AppConfig
	if err := loader.Unmarshal(&app); err != nil {
		return nil, nil, xerrors.Wrap(err, "unmarshal config")
	}
	return &app, loader, nil
}

// app 按配置装配好的组件
type app struct {
	cfg      *AppConfig
	logger   clog.Logger
	meter    metrics.Meter
	reporter *broadcast.Reporter
	client   *portal.Client
	nats     connector.NATSConnector

	connections []connection

	// closers 按装配的逆序执行
	closers []func(context.Context) error
}

// newApp 装配 日志 → 指标 → 追踪 → 熔断/传输 → 缓存 → 错误广播 → 管线 → 门户客户端
func newApp(ctx context.Context, cfg *AppConfig) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if a.logger, err = clog.New(&cfg.Log, clog.WithNamespace(serviceName)); err != nil {
		return nil, xerrors.Wrap(err, "create logger")
	}
	a.onClose(func(context.Context) error { a.logger.Flush(); return nil })

	if a.meter, err = metrics.New(&cfg.Metrics, metrics.WithLogger(a.logger)); err != nil {
		return nil, xerrors.Wrap(err, "create meter")
	}
	a.onClose(a.meter.Shutdown)

	shutdownTrace, err := trace.Init(ctx, &cfg.Trace)
	if err != nil {
		return nil, xerrors.Wrap(err, "init trace")
	}
	a.onClose(shutdownTrace)

	brk, err := breaker.New(&cfg.Breaker, breaker.WithLogger(a.logger), breaker.WithMeter(a.meter))
	if err != nil {
		return nil, xerrors.Wrap(err, "create breaker")
	}
	doer, err := transport.New(&cfg.Transport,
		transport.WithLogger(a.logger),
		transport.WithMeter(a.meter),
		transport.WithBreaker(brk),
	)
	if err != nil {
		return nil, xerrors.Wrap(err, "create transport")
	}

	results, err := a.newCache(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if a.reporter, err = a.newReporter(ctx, cfg); err != nil {
		return nil, err
	}

	presets, err := retry.NewPresets(&cfg.Retry)
	if err != nil {
		return nil, err
	}
	p, err := pipeline.New(doer, results, a.reporter,
		pipeline.WithLogger(a.logger),
		pipeline.WithMeter(a.meter),
		pipeline.WithDefaultPolicy(presets.Default),
		pipeline.WithRetryOptions(retry.WithLogger(a.logger)),
	)
	if err != nil {
		return nil, xerrors.Wrap(err, "create pipeline")
	}

	if a.client, err = portal.New(&cfg.Portal, p, portal.WithLogger(a.logger), portal.WithPresets(presets)); err != nil {
		return nil, xerrors.Wrap(err, "create portal client")
	}
	return a, nil
}

// newCache distributed 模式下连接 Redis 并启动跨实例失效同步
func (a *app) newCache(ctx context.Context, cfg *AppConfig) (*cache.Cache, error) {
	opts := []cache.Option{cache.WithLogger(a.logger), cache.WithMeter(a.meter)}

	var redisConn connector.RedisConnector
	if cfg.Cache.Mode == cache.ModeDistributed {
		var err error
		redisConn, err = connector.NewRedis(&cfg.Redis, connector.WithLogger(a.logger), connector.WithMeter(a.meter))
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return redisConn.Close() })
		a.connections = append(a.connections, connection{role: "cache", conn: redisConn})
		if err := redisConn.Connect(ctx); err != nil {
			return nil, err
		}
		opts = append(opts, cache.WithRedisConnector(redisConn))
	}

	c, err := cache.New(&cfg.Cache, opts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "create cache")
	}
	a.onClose(func(context.Context) error { return c.Close() })

	if redisConn == nil {
		return c, nil
	}
	inv := cache.NewInvalidator(c, redisConn.GetClient(), cfg.Cache.Channel)
	a.onClose(func(context.Context) error { return inv.Close() })
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if err := inv.Start(context.Background()); err != nil {
			a.logger.Error("invalidation listener stopped", clog.Error(err))
		}
	}()
	select {
	case <-inv.Ready():
		return c, nil
	case <-stopped:
		return nil, xerrors.Wrap(xerrors.ErrUnavailable, "cache invalidation listener")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// newReporter 错误事件总是记入遥测，配置了 NATS 时同时发布出去
func (a *app) newReporter(ctx context.Context, cfg *AppConfig) (*broadcast.Reporter, error) {
	bopts := []broadcast.Option{broadcast.WithLogger(a.logger), broadcast.WithMeter(a.meter)}
	r, err := broadcast.NewReporter(bopts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "create reporter")
	}
	tracker, err := broadcast.NewTracker(bopts...)
	if err != nil {
		return nil, err
	}
	a.onClose(unsubscribe(r.Subscribe(tracker.Handle)))

	if cfg.NATS.URL == "" {
		return r, nil
	}
	a.nats, err = connector.NewNATS(&cfg.NATS, connector.WithLogger(a.logger), connector.WithMeter(a.meter))
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return a.nats.Close() })
	a.connections = append(a.connections, connection{role: "events", conn: a.nats})
	if err := a.nats.Connect(ctx); err != nil {
		return nil, err
	}
	sink, err := broadcast.NewNATSSink(a.nats.GetClient(), cfg.Events.Subject, bopts...)
	if err != nil {
		return nil, err
	}
	a.onClose(unsubscribe(r.Subscribe(sink.Handle)))
	return r, nil
}

// connection 装配过程中建立的外部连接及其用途
type connection struct {
	role string
	conn connector.Connector
}

// connectionStatus status 命令的一行输出
type connectionStatus struct {
	Role    string `json:"role"`
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// checkConnections 逐个探测外部连接
func (a *app) checkConnections(ctx context.Context) []connectionStatus {
	rows := make([]connectionStatus, 0, len(a.connections))
	for _, c := range a.connections {
		row := connectionStatus{Role: c.role, Name: c.conn.Name()}
		if err := c.conn.HealthCheck(ctx); err != nil {
			row.Error = err.Error()
		}
		row.Healthy = c.conn.IsHealthy()
		rows = append(rows, row)
	}
	return rows
}

// followLogLevel 配置文件中的 log.level 改变时调整日志级别，直到 ctx 取消
func (a *app) followLogLevel(ctx context.Context, loader config.Loader) error {
	events, err := loader.Watch(ctx, "log.level")
	if err != nil {
		return err
	}
	go func() {
		for ev := range events {
			level, err := clog.ParseLevel(fmt.Sprint(ev.Value))
			if err != nil {
				a.logger.Warn("ignore log level change", clog.Error(err))
				continue
			}
			_ = a.logger.SetLevel(level)
			a.logger.Info("log level changed", clog.String("level", level.String()))
		}
	}()
	return nil
}

func unsubscribe(fn func()) func(context.Context) error {
	return func(context.Context) error { fn(); return nil }
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close 逆序释放所有组件，返回合并后的错误
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return xerrors.Combine(errs...)
}
