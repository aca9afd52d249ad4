package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	betTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "color_bet_requests_total",
			Help: "Total bet requests by result, reason and kind",
		},
		[]string{"result", "reason", "kind"},
	)

	betDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "color_bet_request_duration_ms",
			Help:    "Bet request duration in milliseconds",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		},
		[]string{"result", "kind"},
	)

	betStake = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "color_bet_stake_total",
			Help: "Accepted stake in minor units by track and kind",
		},
		[]string{"track", "kind"},
	)
)

// RecordBet result 为 "success" 或 "fail"；reason 为失败分类（closed/funds/validation/...）
func RecordBet(result, reason, kind string, started time.Time) {
	res := result
	if res != "success" {
		res = "fail"
	}
	if reason == "" {
		reason = "none"
	}
	k := strings.ToLower(kind)
	betTotal.WithLabelValues(res, reason, k).Inc()
	betDuration.WithLabelValues(res, k).Observe(float64(time.Since(started).Milliseconds()))
}

// AddStake 累计已接受下注额
func AddStake(track, kind string, stake int64) {
	betStake.WithLabelValues(track, strings.ToLower(kind)).Add(float64(stake))
}
