package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ceyewan/fnportal/xerrors"
)

const (
	MetricHTTPClientRequestTotal    = "http_client_requests_total"
	MetricHTTPClientDurationSeconds = "http_client_request_duration_seconds"
)

var defaultHTTPDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// HTTPClientMetrics 出站 HTTP 请求的 RED 指标集，每次传输尝试记录一次
type HTTPClientMetrics struct {
	requestTotal Counter
	duration     Histogram
}

// NewHTTPClientMetrics 创建出站 HTTP 指标
func NewHTTPClientMetrics(m Meter) (*HTTPClientMetrics, error) {
	if m == nil {
		return nil, xerrors.Invalidf("meter is nil")
	}

	counter, err := m.Counter(MetricHTTPClientRequestTotal, "Total number of outbound HTTP requests.")
	if err != nil {
		return nil, xerrors.Wrap(err, "create http client counter")
	}
	duration, err := m.Histogram(MetricHTTPClientDurationSeconds, "Outbound HTTP request duration in seconds.",
		WithUnit("s"), WithBuckets(defaultHTTPDurationBuckets))
	if err != nil {
		return nil, xerrors.Wrap(err, "create http client duration histogram")
	}

	return &HTTPClientMetrics{requestTotal: counter, duration: duration}, nil
}

// Observe 记录一次请求；status 为 0 表示传输层失败
func (m *HTTPClientMetrics) Observe(ctx context.Context, method, host string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	safeMethod := strings.ToUpper(strings.TrimSpace(method))
	if safeMethod == "" {
		safeMethod = http.MethodGet
	}
	if host == "" {
		host = "unknown"
	}

	labels := []Label{
		L(LabelMethod, safeMethod),
		L(LabelHost, host),
		L(LabelStatusClass, HTTPStatusClass(status)),
		L(LabelOutcome, HTTPOutcome(status)),
	}
	m.requestTotal.Inc(ctx, labels...)
	m.duration.Record(ctx, duration.Seconds(), labels...)
}
