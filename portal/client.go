// Package portal 在请求管线之上实现函数应用管理客户端。
//
// 每个方法对应一次逻辑调用：按目标端点构造请求头，选择重试策略，声明缓存身份、
// 错误 ID 与写操作的失效范围，然后交给 pipeline 执行。
//
//	c, _ := portal.New(&portal.Config{Site: site, Session: session}, p, portal.WithLogger(logger))
//	fns, err := c.ListFunctions(ctx)
package portal

import (
	"context"
	"strings"
	"sync"

	"github.com/ceyewan/fnportal/clog"
	"github.com/ceyewan/fnportal/pipeline"
	"github.com/ceyewan/fnportal/retry"
	"github.com/ceyewan/fnportal/transport"
	"github.com/ceyewan/fnportal/xerrors"
)

// Option 客户端选项
type Option func(*options)

type options struct {
	logger  clog.Logger
	presets *retry.Presets
}

// WithLogger 设置 Logger，自动添加 "portal" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("portal")
		}
	}
}

// WithPresets 替换重试策略集合（默认：retry.NewPresets(nil)）
func WithPresets(p retry.Presets) Option {
	return func(o *options) {
		o.presets = &p
	}
}

// Client 函数应用管理客户端，可并发使用
type Client struct {
	p       *pipeline.Pipeline
	presets retry.Presets
	logger  clog.Logger

	serviceHost      string
	trialURL         string
	extensionVersion string

	mu       sync.RWMutex
	site     Site
	session  Session
	easyAuth bool
	multiKey bool
}

// New 创建客户端
func New(cfg *Config, p *pipeline.Pipeline, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, xerrors.Invalidf("portal: pipeline is nil")
	}

	opt := options{logger: clog.Discard()}
	for _, o := range opts {
		o(&opt)
	}
	presets := opt.presets
	if presets == nil {
		defaults, err := retry.NewPresets(nil)
		if err != nil {
			return nil, err
		}
		presets = &defaults
	}

	return &Client{
		p:                p,
		presets:          *presets,
		logger:           opt.logger,
		serviceHost:      cfg.ServiceHost,
		trialURL:         cfg.TrialURL,
		extensionVersion: cfg.ExtensionVersion,
		site:             cfg.Site,
		session:          cfg.Session,
		multiKey:         true,
	}, nil
}

// Pipeline 返回底层管线
func (c *Client) Pipeline() *pipeline.Pipeline { return c.p }

// Site 返回当前站点
func (c *Client) Site() Site {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.site
}

// Session 返回当前凭据的副本
func (c *Client) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// SetToken 替换 ARM 访问令牌，通常由认证刷新拦截器调用
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.session.Token = token
	c.mu.Unlock()
}

// SetEasyAuth 根据站点的认证配置更新状态。
// 认证开启且未放行匿名请求（unauthenticatedAction != 1）时，admin API 不可从门户访问。
func (c *Client) SetEasyAuth(enabled bool, unauthenticatedAction int) {
	c.mu.Lock()
	c.easyAuth = enabled && unauthenticatedAction != 1
	c.mu.Unlock()
}

// EasyAuthEnabled 站点是否开启了认证
func (c *Client) EasyAuthEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.easyAuth
}

// MultiKeySupported 宿主是否支持多密钥 API，探测到 404 后为 false
func (c *Client) MultiKeySupported() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.multiKey
}

// SwitchSite 切换到另一个函数应用。身份空间随站点一起更换，所以清空全部缓存。
func (c *Client) SwitchSite(ctx context.Context, site Site, session Session) error {
	if err := site.validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.site = site
	c.session = session
	c.easyAuth = false
	c.multiKey = true
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "site switched", clog.String("site", site.Name))
	return c.p.Cache().InvalidateAll(ctx)
}

// ClearAllCachedData 清空全部缓存
func (c *Client) ClearAllCachedData(ctx context.Context) error {
	return c.p.Cache().InvalidateAll(ctx)
}

// FileName 返回 VFS href 的最后一段，如 https://app.scm/api/vfs/site/wwwroot/f/run.csx 返回 run.csx
func FileName(href string) string {
	if i := strings.LastIndexByte(href, '/'); i >= 0 {
		return href[i+1:]
	}
	return href
}

// state 一次调用使用的站点与凭据快照
func (c *Client) state() (Site, Session) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.site, c.session
}

func (c *Client) request(surface Surface, method, url string, body []byte, contentType string) *transport.Request {
	_, session := c.state()
	return &transport.Request{
		Method: method,
		URL:    url,
		Header: Headers(surface, session, contentType),
		Body:   body,
	}
}

func (c *Client) requireSite(ctx context.Context, field, value string) error {
	if value == "" {
		c.logger.WarnContext(ctx, "site is not configured", clog.String("field", field))
		return xerrors.Invalidf("portal: site %s is not configured", field)
	}
	return nil
}
