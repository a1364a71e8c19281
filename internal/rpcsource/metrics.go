package rpcsource

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_rpc_requests_total",
			Help: "Total number of RPC requests by method.",
		},
		[]string{"method"},
	)

	rpcErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_rpc_errors_total",
			Help: "Total number of RPC errors by method and type.",
		},
		[]string{"method", "error_type"},
	)

	rpcDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainwatch_rpc_request_duration_seconds",
			Help:    "Duration of RPC requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	rpcRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_rpc_retries_total",
			Help: "Total number of RPC retry attempts by operation.",
		},
		[]string{"operation"},
	)

	rpcSplitRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_rpc_log_range_splits_total",
			Help: "Total number of times a log fetch was split because the node returned too many results.",
		},
		[]string{"address"},
	)
)

func rpcMethodInc(method string) {
	rpcRequests.WithLabelValues(method).Inc()
}

func rpcMethodDuration(method string, duration time.Duration) {
	rpcDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func rpcMethodError(method, errorType string) {
	rpcErrors.WithLabelValues(method, errorType).Inc()
}

func rpcRetryInc(operation string) {
	rpcRetries.WithLabelValues(operation).Inc()
}

func rpcSplitRetryInc(address string) {
	rpcSplitRetries.WithLabelValues(address).Inc()
}
