package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dqengine_queries_total",
			Help: "Total number of DuckDB statements executed",
		},
		[]string{"kind"},
	)
	queryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dqengine_query_errors_total",
			Help: "Total number of DuckDB statements that failed",
		},
		[]string{"kind"},
	)
	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dqengine_query_duration_seconds",
			Help:    "DuckDB statement latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)
