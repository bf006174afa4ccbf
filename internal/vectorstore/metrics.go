package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("ragpipe.vectorstore")

var (
	// OperationDuration tracks store call latency.
	// Labels: backend (chromem, qdrant), operation (add, search, count, reset)
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragpipe",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	// OperationErrors counts failed store calls.
	OperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragpipe",
			Subsystem: "vectorstore",
			Name:      "operation_errors_total",
			Help:      "Total number of failed vector store operations",
		},
		[]string{"backend", "operation"},
	)

	// DocumentsAdded counts documents written.
	DocumentsAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragpipe",
			Subsystem: "vectorstore",
			Name:      "documents_added_total",
			Help:      "Total number of documents added to the vector store",
		},
		[]string{"backend"},
	)
)

// observe records one operation. Call it deferred with a pointer to the
// named error result.
func observe(backend, operation string, start time.Time, err *error) {
	OperationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
	if *err != nil {
		OperationErrors.WithLabelValues(backend, operation).Inc()
	}
}
