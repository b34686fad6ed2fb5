package portal

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ceyewan/fnportal/broadcast"
	"github.com/ceyewan/fnportal/cache"
	"github.com/ceyewan/fnportal/clog"
	"github.com/ceyewan/fnportal/pipeline"
)

// GetHostErrors 读取宿主启动错误。
// 宿主可能仍在启动，所以对任何失败都按固定间隔重试到上限。
// 站点开启认证或尚未取得主密钥时返回空。
func (c *Client) GetHostErrors(ctx context.Context) ([]string, error) {
	site, session := c.state()
	if c.EasyAuthEnabled() || session.MasterKey == "" {
		return nil, nil
	}
	if err := c.requireSite(ctx, "main_site_url", site.MainSiteURL); err != nil {
		return nil, err
	}
	st, _, err := pipeline.Fetch[hostStatus](ctx, c.p, pipeline.Operation{
		ID:       cache.ID(OpGetHostErrors),
		Request:  c.request(SurfaceAdmin, http.MethodGet, site.MainSiteURL+"/admin/host/status", nil, ""),
		Policy:   c.presets.HostStatus,
		ErrorID:  ErrIDFunctionRuntimeIsUnableToStart,
		Message:  "The function runtime is unable to start.",
		Severity: broadcast.SeverityRuntimeError,
	})
	if err != nil {
		return nil, err
	}
	return st.Errors, nil
}

// GetHostID 读取宿主 ID，任何失败都返回空字符串
func (c *Client) GetHostID(ctx context.Context) string {
	site, session := c.state()
	if c.EasyAuthEnabled() || session.MasterKey == "" || site.MainSiteURL == "" {
		return ""
	}
	st, _, err := pipeline.Fetch[hostStatus](ctx, c.p, pipeline.Operation{
		ID:        cache.ID(OpGetHostID),
		Request:   c.request(SurfaceAdmin, http.MethodGet, site.MainSiteURL+"/admin/host/status", nil, ""),
		Policy:    c.presets.SingleAttempt,
		Cacheable: true,
	})
	if err != nil {
		c.logger.DebugContext(ctx, "host id unavailable", clog.Error(err))
		return ""
	}
	return st.ID
}

// GetFunctionErrors 读取函数的加载错误，任何失败都返回 nil
func (c *Client) GetFunctionErrors(ctx context.Context, fi FunctionInfo) []string {
	site, _ := c.state()
	if c.EasyAuthEnabled() || site.MainSiteURL == "" {
		return nil
	}
	st, _, err := pipeline.Fetch[hostStatus](ctx, c.p, pipeline.Operation{
		ID:      cache.ID(OpGetFunctionErrors, fi.Name),
		Request: c.request(SurfaceAdmin, http.MethodGet, site.MainSiteURL+"/admin/functions/"+url.PathEscape(fi.Name)+"/status", nil, ""),
		Policy:  c.presets.Default,
	})
	if err != nil {
		c.logger.DebugContext(ctx, "function status unavailable",
			clog.String("function", fi.Name),
			clog.Error(err))
		return nil
	}
	if st.Errors == nil {
		return []string{}
	}
	return st.Errors
}
