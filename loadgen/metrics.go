package loadgen

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	iterationsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ferrytest",
		Subsystem: "loadgen",
		Name:      "iterations_total",
		Help:      "Iterations executed by load-generating agents.",
	}, []string{"agent"})

	transientErrorsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ferrytest",
		Subsystem: "loadgen",
		Name:      "transient_errors_total",
		Help:      "Transport errors tolerated by load-generating agents.",
	}, []string{"agent"})
)
