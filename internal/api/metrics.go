package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "messenger",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Requests sent to the messaging API by method, route and status.",
	}, []string{"method", "route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "messenger",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "Latency of messaging API requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func observeRequest(method, route, status string, start time.Time) {
	requestsTotal.WithLabelValues(method, route, status).Inc()
	requestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
}
