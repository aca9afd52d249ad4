package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var drawTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "color_draw_results_total",
		Help: "Drawn numbers by track, number and color",
	},
	[]string{"track", "number", "color"},
)

// RecordDraw 记录开奖号码分布，用于公平性监控
func RecordDraw(track string, number int, color string) {
	drawTotal.WithLabelValues(track, strconv.Itoa(number), color).Inc()
}
