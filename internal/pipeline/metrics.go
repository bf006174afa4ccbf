package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"

	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

var tracer = otel.Tracer("ragpipe.pipeline")

var (
	// StageDuration tracks per-stage latency.
	// Labels: stage (embedding, retrieval, generation), mode (local, remote)
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragpipe",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stage calls in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 150},
		},
		[]string{"stage", "mode"},
	)

	// StageErrors counts failed stage calls by error kind.
	StageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragpipe",
			Subsystem: "pipeline",
			Name:      "stage_errors_total",
			Help:      "Total number of failed pipeline stage calls",
		},
		[]string{"stage", "mode", "kind"},
	)

	// DocumentsIngested counts chunks written by ingestion.
	DocumentsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragpipe",
			Subsystem: "pipeline",
			Name:      "documents_ingested_total",
			Help:      "Total number of chunks ingested",
		},
		[]string{"mode"},
	)
)

func observeStage(stage rag.Stage, mode rag.Mode, start time.Time, err error) {
	StageDuration.WithLabelValues(string(stage), string(mode)).Observe(time.Since(start).Seconds())
	if err != nil {
		StageErrors.WithLabelValues(string(stage), string(mode), rag.KindOf(err).String()).Inc()
	}
}
