package rpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ServerHandled counts handled calls by method and status code.
	ServerHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragpipe",
			Subsystem: "rpc_server",
			Name:      "handled_total",
			Help:      "Total number of RPCs handled by the server",
		},
		[]string{"method", "code"},
	)

	// ServerDuration tracks handler latency.
	ServerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragpipe",
			Subsystem: "rpc_server",
			Name:      "handling_seconds",
			Help:      "Duration of RPC handling in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// ClientRetries counts retried client attempts.
	ClientRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragpipe",
			Subsystem: "rpc_client",
			Name:      "retries_total",
			Help:      "Total number of retried RPC attempts",
		},
		[]string{"method"},
	)

	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ragpipe",
			Subsystem: "rpc_client",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per remote service",
		},
		[]string{"service"},
	)
)
