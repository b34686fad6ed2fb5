package portal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/ceyewan/fnportal/cache"
	"github.com/ceyewan/fnportal/pipeline"
	"github.com/ceyewan/fnportal/xerrors"
)

func (c *Client) trialResourceURL(provider string) string {
	u := c.trialURL + "/api/resource?appServiceName=Function"
	if provider != "" {
		u += "&provider=" + url.QueryEscape(provider)
	}
	return u
}

// GetTrialResource 读取当前用户的试用资源。403 表示没有登录凭据，不再重试。
func (c *Client) GetTrialResource(ctx context.Context, provider string) (UIResource, error) {
	res, _, err := pipeline.Fetch[UIResource](ctx, c.p, pipeline.Operation{
		ID:      cache.ID(OpGetTrialResource, provider),
		Request: c.request(SurfaceTrial, http.MethodGet, c.trialResourceURL(provider), nil, ""),
		Policy:  c.presets.ReadTrial,
	})
	return res, err
}

// CreateTrialResource 为模板创建试用资源。
// 400 表示用户已经有一个资源，403 表示没有登录凭据，两者都不再重试。
func (c *Client) CreateTrialResource(ctx context.Context, templateID, language, provider, functionName string) (UIResource, error) {
	if templateID == "" {
		return nil, xerrors.Invalidf("portal: template id is empty")
	}
	u := c.trialResourceURL(provider) +
		"&templateId=" + url.QueryEscape(templateID) +
		"&functionName=" + url.QueryEscape(functionName)
	body, err := json.Marshal(TrialTemplate{Name: templateID, AppService: "Function", Language: language})
	if err != nil {
		return nil, xerrors.Wrap(err, "portal: encode trial template")
	}
	res, _, err := pipeline.Fetch[UIResource](ctx, c.p, pipeline.Operation{
		ID:      cache.ID(OpCreateTrial, templateID, functionName),
		Request: c.request(SurfaceTrial, http.MethodPost, u, body, ""),
		Policy:  c.presets.CreateTrial,
	})
	return res, err
}
