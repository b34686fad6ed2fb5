package portal

import (
	"net/url"

	"github.com/ceyewan/fnportal/xerrors"
)

const (
	// DefaultServiceHost 门户后端地址
	DefaultServiceHost = "https://functions.azure.com/"
	// DefaultTrialURL 试用服务地址
	DefaultTrialURL = "https://tryappservice.azure.com"
)

// Site 当前管理的函数应用
type Site struct {
	// Name 站点名
	Name string `json:"name" yaml:"name" mapstructure:"name"`

	// ScmURL 站点管理（Kudu）地址，如 https://app.scm.azurewebsites.net
	ScmURL string `json:"scm_url" yaml:"scm_url" mapstructure:"scm_url"`

	// MainSiteURL 运行中的函数应用地址，如 https://app.azurewebsites.net
	MainSiteURL string `json:"main_site_url" yaml:"main_site_url" mapstructure:"main_site_url"`
}

func (s Site) validate() error {
	for name, raw := range map[string]string{"scm_url": s.ScmURL, "main_site_url": s.MainSiteURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return xerrors.Invalidf("portal: %s %q is not an absolute url", name, raw)
		}
	}
	return nil
}

// Config 门户客户端配置
type Config struct {
	Site Site `json:"site" yaml:"site" mapstructure:"site"`

	// Session 调用凭据
	Session Session `json:"session" yaml:"session" mapstructure:"session"`

	// ServiceHost 门户后端地址，以 "/" 结尾（默认：https://functions.azure.com/）
	ServiceHost string `json:"service_host" yaml:"service_host" mapstructure:"service_host"`

	// TrialURL 试用服务地址（默认：https://tryappservice.azure.com）
	TrialURL string `json:"trial_url" yaml:"trial_url" mapstructure:"trial_url"`

	// ExtensionVersion 请求模板时携带的运行时版本（默认：latest）
	ExtensionVersion string `json:"extension_version" yaml:"extension_version" mapstructure:"extension_version"`
}

func (c *Config) setDefaults() {
	if c.ServiceHost == "" {
		c.ServiceHost = DefaultServiceHost
	}
	if c.ServiceHost[len(c.ServiceHost)-1] != '/' {
		c.ServiceHost += "/"
	}
	if c.TrialURL == "" {
		c.TrialURL = DefaultTrialURL
	}
	if c.ExtensionVersion == "" {
		c.ExtensionVersion = "latest"
	}
}

func (c *Config) validate() error {
	return c.Site.validate()
}
