package synchronizer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "messenger",
		Subsystem: "sync",
		Name:      "operations_total",
		Help:      "Synchronizer remote operations by kind and result.",
	}, []string{"op", "result"})

	staleResponses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "messenger",
		Subsystem: "sync",
		Name:      "stale_responses_total",
		Help:      "Fetch responses discarded because a newer fetch or bind was issued.",
	})
)

func observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	operations.WithLabelValues(op, result).Inc()
}
