package portal

import (
	"context"
	"net/http"

	"github.com/ceyewan/fnportal/cache"
	"github.com/ceyewan/fnportal/clog"
	"github.com/ceyewan/fnportal/pipeline"
	"github.com/ceyewan/fnportal/xerrors"
)

const proxiesFile = "proxies.json"

func (c *Client) proxiesHref(ctx context.Context) (string, error) {
	site, _ := c.state()
	if err := c.requireSite(ctx, "scm_url", site.ScmURL); err != nil {
		return "", err
	}
	return site.ScmURL + "/api/vfs/site/wwwroot/" + proxiesFile, nil
}

// GetAPIProxies 读取站点的 proxies.json。
// 文件不存在或读取失败都按没有代理处理，返回空对象且不上报错误。
func (c *Client) GetAPIProxies(ctx context.Context) (map[string]any, error) {
	href, err := c.proxiesHref(ctx)
	if err != nil {
		return nil, err
	}
	proxies, _, err := pipeline.Fetch[map[string]any](ctx, c.p, pipeline.Operation{
		ID:        cache.ID(OpGetAPIProxies, href),
		Request:   c.request(SurfaceSCM, http.MethodGet, href, nil, ""),
		Policy:    c.presets.SingleAttempt,
		Cacheable: true,
	})
	var perr *pipeline.Error
	if xerrors.As(err, &perr) {
		c.logger.DebugContext(ctx, "no api proxies", clog.Status(perr.Status), clog.Error(err))
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	if proxies == nil {
		proxies = map[string]any{}
	}
	return proxies, nil
}

// SaveAPIProxy 覆盖 proxies.json，content 为完整的 JSON 文本
func (c *Client) SaveAPIProxy(ctx context.Context, content string) error {
	href, err := c.proxiesHref(ctx)
	if err != nil {
		return err
	}
	if content == "" {
		return xerrors.Invalidf("portal: proxies content is empty")
	}
	_, err = c.p.Execute(ctx, pipeline.Operation{
		ID:          cache.ID(OpSaveAPIProxy, href),
		Request:     ifMatchAny(c.request(SurfaceSCM, http.MethodPut, href, []byte(content), "")),
		Policy:      c.presets.SingleAttempt,
		ErrorID:     ErrIDUnableToSaveFileContent + proxiesFile,
		Message:     "Unable to save " + proxiesFile + ".",
		Invalidates: []cache.Identity{cache.ID(OpGetAPIProxies, href), fileContentID(href)},
	})
	return err
}
