package portal

import (
	"net/http"
)

// Surface 请求的目标端点，决定附加哪些凭据头
type Surface int

const (
	// SurfaceSCM 站点管理（Kudu）API
	SurfaceSCM Surface = iota
	// SurfaceAdmin 运行中函数应用的 admin API
	SurfaceAdmin
	// SurfacePortal 门户后端
	SurfacePortal
	// SurfaceTrial 试用服务
	SurfaceTrial
)

func (s Surface) String() string {
	switch s {
	case SurfaceSCM:
		return "scm"
	case SurfaceAdmin:
		return "admin"
	case SurfacePortal:
		return "portal"
	case SurfaceTrial:
		return "trial"
	default:
		return "unknown"
	}
}

const (
	// ContentTypeJSON 默认的 Content-Type
	ContentTypeJSON = "application/json"
	// ContentTypeText 保存与删除文件时使用的 Content-Type
	ContentTypeText = "plain/text"

	acceptAll = "application/json,*/*"
)

// Session 调用凭据，显式传入，客户端不从环境中读取任何凭据
type Session struct {
	// Token ARM 访问令牌
	Token string `json:"token" yaml:"token" mapstructure:"token"`

	// ScmCreds base64 编码的 SCM 基本认证凭据
	ScmCreds string `json:"scm_creds" yaml:"scm_creds" mapstructure:"scm_creds"`

	// MasterKey 函数应用主密钥，访问 admin API 使用
	MasterKey string `json:"master_key" yaml:"master_key" mapstructure:"master_key"`

	// TrialToken 试用服务令牌
	TrialToken string `json:"trial_token" yaml:"trial_token" mapstructure:"trial_token"`

	// TryMode 试用模式下 SCM 请求不携带 Bearer 令牌
	TryMode bool `json:"try_mode" yaml:"try_mode" mapstructure:"try_mode"`
}

// Headers 构造访问 surface 的请求头，contentType 为空时使用 application/json
func Headers(surface Surface, s Session, contentType string) http.Header {
	if contentType == "" {
		contentType = ContentTypeJSON
	}
	h := make(http.Header)
	h.Set("Content-Type", contentType)
	h.Set("Accept", acceptAll)

	switch surface {
	case SurfaceSCM:
		// Bearer 与 Basic 可以同时出现
		if !s.TryMode && s.Token != "" {
			h.Add("Authorization", "Bearer "+s.Token)
		}
		if s.ScmCreds != "" {
			h.Add("Authorization", "Basic "+s.ScmCreds)
		}
	case SurfaceAdmin:
		h.Set("x-functions-key", s.MasterKey)
	case SurfacePortal:
		if s.Token != "" {
			h.Set("client-token", s.Token)
			h.Set("portal-token", s.Token)
		}
	case SurfaceTrial:
		if s.TrialToken != "" {
			h.Set("Authorization", "Bearer "+s.TrialToken)
		} else {
			h.Set("ms-x-user-agent", "Functions/")
		}
	}
	return h
}
