package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ceyewan/fnportal/broadcast"
	"github.com/ceyewan/fnportal/cache"
	"github.com/ceyewan/fnportal/clog"
	"github.com/ceyewan/fnportal/pipeline"
	"github.com/ceyewan/fnportal/transport"
	"github.com/ceyewan/fnportal/xerrors"
)

const cryptographicException = "System.Security.Cryptography.CryptographicException"

type masterKeyResponse struct {
	MasterKey string `json:"masterKey"`
}

// GetMasterKey 从 SCM 站点读取主密钥并保存到当前会话。
// 站点无法解密密钥文件时额外上报 unableToDecryptKeys。
func (c *Client) GetMasterKey(ctx context.Context) (string, error) {
	site, _ := c.state()
	if err := c.requireSite(ctx, "scm_url", site.ScmURL); err != nil {
		return "", err
	}
	req := c.request(SurfaceSCM, http.MethodGet, site.ScmURL+"/api/functions/admin/masterkey", nil, "")
	doer, reporter := c.p.Doer(), c.p.Reporter()

	key, _, err := pipeline.Fetch[masterKeyResponse](ctx, c.p, pipeline.Operation{
		ID: cache.ID(OpGetMasterKey),
		Call: func(ctx context.Context) transport.Outcome {
			out := doer.Do(ctx, req.Clone())
			if !out.OK() && !out.Handled && isCryptographicFailure(out) {
				reporter.Report(ctx, broadcast.Failure{
					ErrorID:   ErrIDUnableToDecryptKeys,
					Message:   "The function runtime is unable to decrypt its keys.",
					Severity:  broadcast.SeverityFatal,
					Operation: OpGetMasterKey,
					Outcome:   out,
				})
			}
			return out
		},
		Policy:   c.presets.SingleAttempt,
		ErrorID:  ErrIDUnableToRetrieveRuntimeKey,
		Message:  "Unable to retrieve the runtime key.",
		Severity: broadcast.SeverityFatal,
	})
	if err != nil {
		return "", err
	}
	reporter.Clear(ctx, ErrIDUnableToDecryptKeys)
	c.setMasterKey(key.MasterKey)
	return key.MasterKey, nil
}

func isCryptographicFailure(out transport.Outcome) bool {
	var e webAPIException
	if err := json.Unmarshal(out.Body, &e); err != nil {
		return false
	}
	return e.ExceptionType == cryptographicException
}

func (c *Client) setMasterKey(key string) {
	c.mu.Lock()
	c.session.MasterKey = key
	c.mu.Unlock()
}

// legacyMasterKey 旧版运行时把主密钥放在 secrets/host.json 中
func (c *Client) legacyMasterKey(ctx context.Context) (string, error) {
	site, _ := c.state()
	key, _, err := pipeline.Fetch[masterKeyResponse](ctx, c.p, pipeline.Operation{
		ID:      cache.ID(OpGetLegacyMaster),
		Request: c.request(SurfaceSCM, http.MethodGet, site.ScmURL+"/api/vfs/data/functions/secrets/host.json", nil, ""),
		Policy:  c.presets.SingleAttempt,
	})
	if err != nil {
		return "", err
	}
	c.setMasterKey(key.MasterKey)
	return key.MasterKey, nil
}

func emptyKeys() FunctionKeys {
	return FunctionKeys{Keys: []FunctionKey{}, Links: []Link{}}
}

// GetHostKeys 读取宿主密钥，列表首位是当前会话的主密钥。
//
// 站点开启认证时返回空列表。宿主不支持多密钥 API（404）时不上报错误，
// 改为从旧位置读取主密钥，同样返回空列表。
func (c *Client) GetHostKeys(ctx context.Context) (FunctionKeys, error) {
	if c.EasyAuthEnabled() {
		return emptyKeys(), nil
	}
	site, _ := c.state()
	if err := c.requireSite(ctx, "main_site_url", site.MainSiteURL); err != nil {
		return FunctionKeys{}, err
	}
	req := c.request(SurfaceAdmin, http.MethodGet, site.MainSiteURL+"/admin/host/keys", nil, "")
	doer := c.p.Doer()

	keys, res, err := pipeline.Fetch[FunctionKeys](ctx, c.p, pipeline.Operation{
		ID: cache.ID(OpGetHostKeys),
		Call: func(ctx context.Context) transport.Outcome {
			out := doer.Do(ctx, req.Clone())
			if out.Err == nil && out.Status == http.StatusNotFound {
				out.Handled = true
			}
			return out
		},
		Policy:    c.presets.KeyFetch,
		Cacheable: true,
		ErrorID:   ErrIDUnableToRetrieveRuntimeKey,
		Message:   "Unable to retrieve the runtime key.",
		Severity:  broadcast.SeverityFatal,
	})
	if xerrors.Is(err, pipeline.ErrHandled) && res != nil && res.Status == http.StatusNotFound {
		c.mu.Lock()
		c.multiKey = false
		c.mu.Unlock()
		c.logger.InfoContext(ctx, "host does not support multiple keys, falling back to legacy secrets")
		if _, lerr := c.legacyMasterKey(ctx); lerr != nil {
			c.logger.WarnContext(ctx, "legacy master key lookup failed", clog.Error(lerr))
		}
		return emptyKeys(), nil
	}
	if err != nil {
		return FunctionKeys{}, err
	}

	c.mu.Lock()
	c.multiKey = true
	master := c.session.MasterKey
	c.mu.Unlock()
	if keys.Keys != nil {
		keys.Keys = append([]FunctionKey{{Name: MasterKeyName, Value: master}}, keys.Keys...)
	}
	return keys, nil
}

// GetFunctionKeys 读取函数密钥
func (c *Client) GetFunctionKeys(ctx context.Context, fi FunctionInfo) (FunctionKeys, error) {
	site, _ := c.state()
	if err := c.requireSite(ctx, "main_site_url", site.MainSiteURL); err != nil {
		return FunctionKeys{}, err
	}
	keys, _, err := pipeline.Fetch[FunctionKeys](ctx, c.p, pipeline.Operation{
		ID:        cache.ID(OpGetFunctionKeys, fi.Name),
		Request:   c.request(SurfaceAdmin, http.MethodGet, site.MainSiteURL+"/admin/functions/"+url.PathEscape(fi.Name)+"/keys", nil, ""),
		Policy:    c.presets.Default,
		Cacheable: true,
		ErrorID:   ErrIDUnableToRetrieveFunctionKeys + fi.Name,
		Message:   fmt.Sprintf("Unable to retrieve the keys of function %s.", fi.Name),
		Severity:  broadcast.SeverityRuntimeError,
	})
	return keys, err
}

// keyTarget 密钥所属的 URL 与错误 ID 后缀，fi 为 nil 表示宿主密钥
func (c *Client) keyTarget(fi *FunctionInfo, keyName string) (u, scope string) {
	site, _ := c.state()
	if fi == nil {
		return site.MainSiteURL + "/admin/host/keys/" + url.PathEscape(keyName), "host"
	}
	return site.MainSiteURL + "/admin/functions/" + url.PathEscape(fi.Name) + "/keys/" + url.PathEscape(keyName), fi.Name
}

// keyMutation 写密钥的公共部分：失效两类密钥列表，运行时错误级别
func keyMutation(op pipeline.Operation) pipeline.Operation {
	op.InvalidatesOps = []string{OpGetFunctionKeys, OpGetHostKeys}
	op.Severity = broadcast.SeverityRuntimeError
	return op
}

// CreateKey 创建密钥。keyValue 为空时由运行时生成。
func (c *Client) CreateKey(ctx context.Context, keyName, keyValue string, fi *FunctionInfo) (FunctionKey, error) {
	if keyName == "" {
		return FunctionKey{}, xerrors.Invalidf("portal: key name is empty")
	}
	if err := c.requireSite(ctx, "main_site_url", c.Site().MainSiteURL); err != nil {
		return FunctionKey{}, err
	}
	u, scope := c.keyTarget(fi, keyName)

	req := c.request(SurfaceAdmin, http.MethodPost, u, nil, "")
	if keyValue != "" {
		body, err := json.Marshal(FunctionKey{Name: keyName, Value: keyValue})
		if err != nil {
			return FunctionKey{}, xerrors.Wrap(err, "portal: encode key")
		}
		req.Method, req.Body = http.MethodPut, body
	}

	key, _, err := pipeline.Fetch[FunctionKey](ctx, c.p, keyMutation(pipeline.Operation{
		ID:      cache.ID(OpCreateKey, scope, keyName),
		Request: req,
		Policy:  c.presets.Default,
		ErrorID: ErrIDUnableToCreateFunctionKey + scope + keyName,
		Message: fmt.Sprintf("Unable to create key %s for %s.", keyName, scope),
	}))
	return key, err
}

// DeleteKey 删除密钥
func (c *Client) DeleteKey(ctx context.Context, keyName string, fi *FunctionInfo) error {
	if keyName == "" {
		return xerrors.Invalidf("portal: key name is empty")
	}
	if err := c.requireSite(ctx, "main_site_url", c.Site().MainSiteURL); err != nil {
		return err
	}
	u, scope := c.keyTarget(fi, keyName)
	_, err := c.p.Execute(ctx, keyMutation(pipeline.Operation{
		ID:      cache.ID(OpDeleteKey, scope, keyName),
		Request: c.request(SurfaceAdmin, http.MethodDelete, u, nil, ""),
		Policy:  c.presets.Default,
		ErrorID: ErrIDUnableToDeleteFunctionKey + scope + keyName,
		Message: fmt.Sprintf("Unable to delete key %s of %s.", keyName, scope),
	}))
	return err
}

// RenewKey 重新生成密钥。续期宿主主密钥时同时更新当前会话。
func (c *Client) RenewKey(ctx context.Context, keyName string, fi *FunctionInfo) (FunctionKey, error) {
	if keyName == "" {
		return FunctionKey{}, xerrors.Invalidf("portal: key name is empty")
	}
	if err := c.requireSite(ctx, "main_site_url", c.Site().MainSiteURL); err != nil {
		return FunctionKey{}, err
	}
	u, scope := c.keyTarget(fi, keyName)
	key, _, err := pipeline.Fetch[FunctionKey](ctx, c.p, keyMutation(pipeline.Operation{
		ID:      cache.ID(OpRenewKey, scope, keyName),
		Request: c.request(SurfaceAdmin, http.MethodPost, u, nil, ""),
		Policy:  c.presets.Default,
		ErrorID: ErrIDUnableToRenewFunctionKey + scope + keyName,
		Message: fmt.Sprintf("Unable to renew key %s of %s.", keyName, scope),
	}))
	if err != nil {
		return FunctionKey{}, err
	}
	if fi == nil && keyName == MasterKeyName {
		c.setMasterKey(key.Value)
	}
	return key, nil
}
