package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	roundTransitionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "color_round_transitions_total",
			Help: "Round state transitions by track, event and result",
		},
		[]string{"track", "event", "result"},
	)

	roundTransitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "color_round_transition_duration_ms",
			Help:    "Round transition duration in milliseconds",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		},
		[]string{"track", "event"},
	)

	roundsFlagged = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "color_rounds_flagged",
			Help: "Rounds waiting for operator intervention",
		},
		[]string{"track"},
	)

	settleRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "color_settle_retries_total",
			Help: "Settlement pipeline retries by track and stage",
		},
		[]string{"track", "stage"},
	)
)

// RecordTransition event: open/lock/draw/settle/archive
func RecordTransition(track, event string, err error, started time.Time) {
	res := "success"
	if err != nil {
		res = "fail"
	}
	roundTransitionTotal.WithLabelValues(track, event, res).Inc()
	roundTransitionDuration.WithLabelValues(track, event).Observe(float64(time.Since(started).Milliseconds()))
}

func SetFlagged(track string, n int) { roundsFlagged.WithLabelValues(track).Set(float64(n)) }

func IncSettleRetry(track, stage string) { settleRetries.WithLabelValues(track, stage).Inc() }
