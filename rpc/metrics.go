package rpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ferrytest",
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "Number of requests dispatched by test endpoints",
	}, []string{"method"})

	requestErrorsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ferrytest",
		Subsystem: "rpc",
		Name:      "request_errors_total",
		Help:      "Number of requests answered with an error",
	}, []string{"method"})

	openConnectionsMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ferrytest",
		Subsystem: "rpc",
		Name:      "open_connections",
		Help:      "Currently open connections across test endpoints",
	})
)
