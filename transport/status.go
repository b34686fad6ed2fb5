package transport

var statusText = map[int]string{
	0: "Unknown HTTP Error",

	100: "Continue",
	101: "Switching Protocols",
	102: "Processing",

	200: "OK",
	201: "Created",
	202: "Accepted",
	203: "Non-Authoritative Information",
	204: "No Content",
	205: "Reset Content",
	206: "Partial Content",

	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	305: "Use Proxy",
	306: "(Unused)",
	307: "Temporary Redirect",

	400: "Bad Request",
	401: "Unauthorized",
	402: "Payment Required",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	407: "Proxy Authentication Required",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	411: "Length Required",
	412: "Precondition Failed",
	413: "Request Entity Too Large",
	414: "Request-URI Too Long",
	415: "Unsupported Media Type",
	416: "Requested Range Not Satisfiable",
	417: "Expectation Failed",

	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
}

var statusClassText = map[int]string{
	100: "Informational",
	200: "Success",
	300: "Redirection",
	400: "Client Error",
	500: "Server Error",
}

// StatusText 返回状态码的可读文本。
// 表中没有的状态码按 code/100*100 回退到类别文本，仍未命中时返回 "Unknown Status Code"。
// 这里刻意不用 net/http.StatusText：门户展示的文本与其不同（如 306、413、414）。
func StatusText(code int) string {
	if text, ok := statusText[code]; ok {
		return text
	}
	if text, ok := statusClassText[code/100*100]; ok && code > 0 {
		return text
	}
	return "Unknown Status Code"
}
