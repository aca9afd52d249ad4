package metrics

import (
	"strconv"
	"time"

	"github.com/beego/beego/v2/server/web/context"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpReqTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	httpReqDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_ms",
			Help:    "HTTP request duration in ms",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		},
		[]string{"path", "method"},
	)
)

// HTTPMetricsFilter 记录请求开始时间
func HTTPMetricsFilter(ctx *context.Context) {
	ctx.Input.SetData("_metrics_start", time.Now())
}

// HTTPMetricsAfter 响应完成后记录耗时与状态码；path 使用路由模板避免高基数
func HTTPMetricsAfter(ctx *context.Context) {
	start, _ := ctx.Input.GetData("_metrics_start").(time.Time)
	if start.IsZero() {
		return
	}
	path, _ := ctx.Input.GetData("RouterPattern").(string)
	if path == "" {
		path = ctx.Input.URL()
	}
	method := ctx.Input.Method()
	httpReqDuration.WithLabelValues(path, method).Observe(float64(time.Since(start).Milliseconds()))
	httpReqTotal.WithLabelValues(path, method, strconv.Itoa(ctx.ResponseWriter.Status)).Inc()
}
