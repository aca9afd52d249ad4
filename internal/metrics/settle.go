package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	settleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "color_settlements_total",
			Help: "Settlement attempts by track and result (success/fail/already_settled)",
		},
		[]string{"track", "result"},
	)

	settleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "color_settlement_duration_ms",
			Help:    "Settlement transaction duration in milliseconds",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		},
		[]string{"track"},
	)

	settledBets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "color_settled_bets_total",
			Help: "Settled bets by track and outcome",
		},
		[]string{"track", "outcome"},
	)

	payoutTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "color_payout_total",
			Help: "Paid out amount in minor units by track",
		},
		[]string{"track"},
	)
)

func RecordSettle(track, result string, started time.Time) {
	settleTotal.WithLabelValues(track, result).Inc()
	settleDuration.WithLabelValues(track).Observe(float64(time.Since(started).Milliseconds()))
}

func AddSettled(track string, won, lost int, payout int64) {
	settledBets.WithLabelValues(track, "won").Add(float64(won))
	settledBets.WithLabelValues(track, "lost").Add(float64(lost))
	payoutTotal.WithLabelValues(track).Add(float64(payout))
}
