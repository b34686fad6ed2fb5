package portal

import (
	"time"
)

// FunctionInfo Kudu 返回的函数描述
type FunctionInfo struct {
	Name               string          `json:"name"`
	Href               string          `json:"href,omitempty"`
	ScriptHref         string          `json:"script_href,omitempty"`
	ScriptRootPathHref string          `json:"script_root_path_href,omitempty"`
	ConfigHref         string          `json:"config_href,omitempty"`
	SecretsFileHref    string          `json:"secrets_file_href,omitempty"`
	TemplateID         string          `json:"template_id,omitempty"`
	TestData           string          `json:"test_data,omitempty"`
	Config             *FunctionConfig `json:"config,omitempty"`
}

// FunctionConfig function.json 的内容
type FunctionConfig struct {
	Bindings []Binding `json:"bindings,omitempty"`
	Disabled bool      `json:"disabled,omitempty"`
}

// Binding 函数绑定
type Binding struct {
	Name        string `json:"name,omitempty"`
	Type        string `json:"type"`
	Direction   string `json:"direction,omitempty"`
	WebHookType string `json:"webHookType,omitempty"`
	AuthLevel   string `json:"authLevel,omitempty"`
}

// httpTrigger 返回 HTTP 触发器绑定，没有时返回 nil
func (fi FunctionInfo) httpTrigger() *Binding {
	if fi.Config == nil {
		return nil
	}
	for i := range fi.Config.Bindings {
		if fi.Config.Bindings[i].Type == "httpTrigger" {
			return &fi.Config.Bindings[i]
		}
	}
	return nil
}

// VfsObject Kudu 虚拟文件系统中的文件或目录
type VfsObject struct {
	Name   string    `json:"name"`
	Size   int64     `json:"size"`
	Mtime  time.Time `json:"mtime"`
	Crtime time.Time `json:"crtime"`
	Mime   string    `json:"mime"`
	Href   string    `json:"href"`
	Path   string    `json:"path"`
}

// FunctionKey 函数或宿主的访问密钥
type FunctionKey struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Link admin API 返回的关联链接
type Link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// FunctionKeys 密钥列表
type FunctionKeys struct {
	Keys  []FunctionKey `json:"keys"`
	Links []Link        `json:"links"`
}

// MasterKeyName 宿主主密钥在密钥列表中的名字
const MasterKeyName = "_master"

// hostStatus admin/host/status 的响应
type hostStatus struct {
	ID     string   `json:"id"`
	Errors []string `json:"errors"`
}

// webAPIException Kudu 以 JSON 返回的异常
type webAPIException struct {
	Message       string `json:"Message"`
	ExceptionType string `json:"ExceptionType"`
}

// NameValue 请求头或查询参数
type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HTTPRunModel 从门户调用 HTTP 触发函数的参数
type HTTPRunModel struct {
	Method            string      `json:"method"`
	Body              string      `json:"body"`
	Headers           []NameValue `json:"headers"`
	QueryStringParams []NameValue `json:"queryStringParams"`
}

// RunResult 一次函数调用的结果，调用本身不会失败
type RunResult struct {
	StatusCode int    `json:"statusCode"`
	StatusText string `json:"statusText"`
	Content    string `json:"content"`
}

// TrialTemplate 创建试用资源时提交的模板
type TrialTemplate struct {
	Name       string `json:"name"`
	AppService string `json:"appService"`
	Language   string `json:"language"`
	GithubRepo string `json:"githubRepo"`
}

// UIResource 试用服务返回的资源描述，字段随服务版本变化
type UIResource map[string]any
