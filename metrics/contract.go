package metrics

import "strconv"

// 各组件共用的标签名
const (
	LabelOperation   = "operation"
	LabelResult      = "result"
	LabelMethod      = "method"
	LabelHost        = "host"
	LabelStatusClass = "status_class"
	LabelOutcome     = "outcome"
	LabelErrorID     = "error_id"
	LabelSeverity    = "severity"
	LabelErrorKind   = "error_kind"
)

// 结果
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// HTTPStatusClass 返回 HTTP 状态类标签值：1xx/2xx/3xx/4xx/5xx，状态 0 视为 transport
func HTTPStatusClass(status int) string {
	if status == 0 {
		return "transport"
	}
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

// HTTPOutcome 将 HTTP 状态码映射为 success/error
func HTTPOutcome(status int) string {
	if status >= 200 && status < 300 {
		return OutcomeSuccess
	}
	return OutcomeError
}
