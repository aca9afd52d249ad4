package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var outboxTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "color_outbox_publish_total",
		Help: "Outbox publish attempts by publisher, topic and result",
	},
	[]string{"publisher", "topic", "result"},
)

func RecordOutbox(publisher, topic string, err error) {
	res := "success"
	if err != nil {
		res = "fail"
	}
	outboxTotal.WithLabelValues(publisher, topic, res).Inc()
}
