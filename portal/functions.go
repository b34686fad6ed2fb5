package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ceyewan/fnportal/broadcast"
	"github.com/ceyewan/fnportal/cache"
	"github.com/ceyewan/fnportal/pipeline"
	"github.com/ceyewan/fnportal/xerrors"
)

// ListFunctions 列出站点上的全部函数。
// Kudu 偶尔返回带注释的 JSON，此时上报 deserializingKudusFunctionList。
func (c *Client) ListFunctions(ctx context.Context) ([]FunctionInfo, error) {
	site, _ := c.state()
	if err := c.requireSite(ctx, "scm_url", site.ScmURL); err != nil {
		return nil, err
	}
	fns, _, err := pipeline.Fetch[[]FunctionInfo](ctx, c.p, pipeline.Operation{
		ID:           cache.ID(OpGetFunctions),
		Request:      c.request(SurfaceSCM, http.MethodGet, site.ScmURL+"/api/functions", nil, ""),
		Policy:       c.presets.Default,
		Cacheable:    true,
		ErrorID:      ErrIDUnableToRetrieveFunctionsList,
		Message:      "Unable to retrieve the list of functions from the SCM site.",
		ParseErrorID: ErrIDDeserializingKudusFunctionList,
		ParseMessage: "The list of functions returned by the SCM site could not be parsed.",
		Severity:     broadcast.SeverityFatal,
	})
	return fns, err
}

// GetFunction 读取单个函数
func (c *Client) GetFunction(ctx context.Context, fi FunctionInfo) (*FunctionInfo, error) {
	if fi.Href == "" {
		return nil, xerrors.Invalidf("portal: function %q has no href", fi.Name)
	}
	out, _, err := pipeline.Fetch[FunctionInfo](ctx, c.p, pipeline.Operation{
		ID:        cache.ID(OpGetFunction, fi.Href),
		Request:   c.request(SurfaceSCM, http.MethodGet, fi.Href, nil, ""),
		Policy:    c.presets.SingleAttempt,
		Cacheable: true,
		ErrorID:   ErrIDUnableToRetrieveFunction + fi.Name,
		Message:   fmt.Sprintf("Unable to retrieve function %s.", fi.Name),
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateFunction 创建函数。templateID 为空或 "Empty" 时创建空函数。
func (c *Client) CreateFunction(ctx context.Context, name, templateID string) (*FunctionInfo, error) {
	site, _ := c.state()
	if err := c.requireSite(ctx, "scm_url", site.ScmURL); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, xerrors.Invalidf("portal: function name is empty")
	}

	var body any = map[string]any{"config": map[string]any{}}
	if templateID != "" {
		var tid *string
		if templateID != "Empty" {
			tid = &templateID
		}
		body = struct {
			Name            string  `json:"name"`
			TemplateID      *string `json:"templateId"`
			ContainerScmURL string  `json:"containerScmUrl"`
		}{name, tid, site.ScmURL}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, xerrors.Wrap(err, "portal: encode function")
	}

	out, _, err := pipeline.Fetch[FunctionInfo](ctx, c.p, pipeline.Operation{
		ID:             cache.ID(OpCreateFunction, name),
		Request:        c.request(SurfaceSCM, http.MethodPut, site.ScmURL+"/api/functions/"+url.PathEscape(name), payload, ""),
		Policy:         c.presets.SingleAttempt,
		ErrorID:        ErrIDUnableToCreateFunction + name,
		Message:        fmt.Sprintf("Unable to create function %s.", name),
		InvalidatesOps: []string{OpGetFunctions},
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveFunction 更新函数配置
func (c *Client) SaveFunction(ctx context.Context, fi FunctionInfo, config FunctionConfig) (*FunctionInfo, error) {
	if fi.Href == "" {
		return nil, xerrors.Invalidf("portal: function %q has no href", fi.Name)
	}
	payload, err := json.Marshal(map[string]any{"config": config})
	if err != nil {
		return nil, xerrors.Wrap(err, "portal: encode function config")
	}
	out, _, err := pipeline.Fetch[FunctionInfo](ctx, c.p, pipeline.Operation{
		ID:             cache.ID(OpSaveFunction, fi.Href),
		Request:        c.request(SurfaceSCM, http.MethodPut, fi.Href, payload, ""),
		Policy:         c.presets.SingleAttempt,
		ErrorID:        ErrIDUnableToUpdateFunction + fi.Name,
		Message:        fmt.Sprintf("Unable to update function %s.", fi.Name),
		Invalidates:    functionCacheIDs(fi),
		InvalidatesOps: []string{OpGetFunctions},
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateFunction 以完整的 FunctionInfo 覆盖函数描述
func (c *Client) UpdateFunction(ctx context.Context, fi FunctionInfo) (*FunctionInfo, error) {
	if fi.Href == "" {
		return nil, xerrors.Invalidf("portal: function %q has no href", fi.Name)
	}
	payload, err := json.Marshal(fi)
	if err != nil {
		return nil, xerrors.Wrap(err, "portal: encode function")
	}
	out, _, err := pipeline.Fetch[FunctionInfo](ctx, c.p, pipeline.Operation{
		ID:             cache.ID(OpUpdateFunction, fi.Href),
		Request:        c.request(SurfaceSCM, http.MethodPut, fi.Href, payload, ""),
		Policy:         c.presets.SingleAttempt,
		ErrorID:        ErrIDUnableToUpdateFunction + fi.Name,
		Message:        fmt.Sprintf("Unable to update function %s.", fi.Name),
		Invalidates:    functionCacheIDs(fi),
		InvalidatesOps: []string{OpGetFunctions},
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// functionCacheIDs 与一个函数相关的全部缓存身份
func functionCacheIDs(fi FunctionInfo) []cache.Identity {
	ids := []cache.Identity{cache.ID(OpGetFunction, fi.Href)}
	if fi.SecretsFileHref != "" {
		ids = append(ids, cache.ID(OpGetSecrets, fi.SecretsFileHref), fileContentID(fi.SecretsFileHref))
	}
	for _, href := range []string{fi.ScriptHref, fi.ConfigHref} {
		if href != "" {
			ids = append(ids, fileContentID(href))
		}
	}
	if fi.ScriptRootPathHref != "" {
		ids = append(ids, cache.ID(OpGetVfsObjects, fi.ScriptRootPathHref))
	}
	return ids
}

// DeleteFunction 删除函数，成功与否都会清空全部缓存
func (c *Client) DeleteFunction(ctx context.Context, fi FunctionInfo) error {
	if fi.Href == "" {
		return xerrors.Invalidf("portal: function %q has no href", fi.Name)
	}
	_, err := c.p.Execute(ctx, pipeline.Operation{
		ID:             cache.ID(OpDeleteFunction, fi.Href),
		Request:        c.request(SurfaceSCM, http.MethodDelete, fi.Href, nil, ""),
		Policy:         c.presets.SingleAttempt,
		ErrorID:        ErrIDUnableToDeleteFunction + fi.Name,
		Message:        fmt.Sprintf("Unable to delete function %s.", fi.Name),
		InvalidatesAll: true,
	})
	return err
}

// GetHostJSON 读取 host.json
func (c *Client) GetHostJSON(ctx context.Context) (map[string]any, error) {
	site, _ := c.state()
	if err := c.requireSite(ctx, "scm_url", site.ScmURL); err != nil {
		return nil, err
	}
	cfg, _, err := pipeline.Fetch[map[string]any](ctx, c.p, pipeline.Operation{
		ID:        cache.ID(OpGetHostJSON),
		Request:   c.request(SurfaceSCM, http.MethodGet, site.ScmURL+"/api/functions/config", nil, ""),
		Policy:    c.presets.SingleAttempt,
		Cacheable: true,
		ErrorID:   ErrIDUnableToRetrieveRuntimeConfig,
		Message:   "Unable to retrieve the runtime configuration.",
	})
	return cfg, err
}

// GetSecrets 读取函数的密钥文件
func (c *Client) GetSecrets(ctx context.Context, fi FunctionInfo) (map[string]any, error) {
	if fi.SecretsFileHref == "" {
		return nil, xerrors.Invalidf("portal: function %q has no secrets file", fi.Name)
	}
	secrets, _, err := pipeline.Fetch[map[string]any](ctx, c.p, pipeline.Operation{
		ID:        cache.ID(OpGetSecrets, fi.SecretsFileHref),
		Request:   c.request(SurfaceSCM, http.MethodGet, fi.SecretsFileHref, nil, ""),
		Policy:    c.presets.SingleAttempt,
		Cacheable: true,
		ErrorID:   ErrIDUnableToRetrieveSecretsFile + fi.Name,
		Message:   fmt.Sprintf("Unable to retrieve the secrets file for function %s.", fi.Name),
	})
	return secrets, err
}

// SetSecrets 写回函数的密钥文件，并使 GetSecrets 的缓存失效
func (c *Client) SetSecrets(ctx context.Context, fi FunctionInfo, secrets map[string]any) error {
	href := fi.SecretsFileHref
	if href == "" {
		return xerrors.Invalidf("portal: function %q has no secrets file", fi.Name)
	}
	payload, err := json.Marshal(secrets)
	if err != nil {
		return xerrors.Wrap(err, "portal: encode secrets")
	}
	name := FileName(href)
	_, err = c.p.Execute(ctx, pipeline.Operation{
		ID:          cache.ID(OpSetSecrets, href),
		Request:     ifMatchAny(c.request(SurfaceSCM, http.MethodPut, href, payload, ContentTypeText)),
		Policy:      c.presets.Default,
		ErrorID:     ErrIDUnableToSaveFileContent + name,
		Message:     fmt.Sprintf("Unable to save %s.", name),
		Invalidates: []cache.Identity{cache.ID(OpGetSecrets, href), fileContentID(href)},
	})
	return err
}

// GetTemplates 读取门户后端的函数模板
func (c *Client) GetTemplates(ctx context.Context) ([]json.RawMessage, error) {
	u := c.serviceHost + "api/templates?runtime=" + url.QueryEscape(c.extensionVersion)
	templates, _, err := pipeline.Fetch[[]json.RawMessage](ctx, c.p, pipeline.Operation{
		ID:        cache.ID(OpGetTemplates, c.extensionVersion),
		Request:   c.request(SurfacePortal, http.MethodGet, u, nil, ""),
		Policy:    c.presets.Default,
		Cacheable: true,
	})
	return templates, err
}

// GetLatestRuntime 读取最新的运行时版本
func (c *Client) GetLatestRuntime(ctx context.Context) (string, error) {
	v, _, err := pipeline.Fetch[string](ctx, c.p, pipeline.Operation{
		ID:      cache.ID(OpGetLatestRuntime),
		Request: c.request(SurfacePortal, http.MethodGet, c.serviceHost+"api/latestruntime", nil, ""),
		Policy:  c.presets.Default,
	})
	return v, err
}
