package coordinator

import (
	"time"

	"github.com/gloam-network/gloam/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// pipelineMetrics counts operation outcomes and confirmation polls. A nil
// registerer yields working but unregistered collectors, so instrumentation
// never becomes a hard dependency of the pipeline.
type pipelineMetrics struct {
	operations  *prometheus.CounterVec
	submitPolls prometheus.Counter
	opSeconds   *prometheus.HistogramVec
}

func newPipelineMetrics(reg prometheus.Registerer) *pipelineMetrics {
	factory := promauto.With(reg)
	return &pipelineMetrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gloam_operations_total",
			Help: "Operations run through the lifecycle pipeline by kind and outcome.",
		}, []string{"kind", "outcome"}),
		submitPolls: factory.NewCounter(prometheus.CounterOpts{
			Name: "gloam_submission_polls_total",
			Help: "Confirmation polls issued against the indexer.",
		}),
		opSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gloam_operation_duration_seconds",
			Help:    "Wall time of lifecycle operations by kind.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"kind"}),
	}
}

func (m *pipelineMetrics) pollObserved() {
	if m == nil {
		return
	}
	m.submitPolls.Inc()
}

func (m *pipelineMetrics) operationObserved(
	kind types.OperationKind, outcome string, elapsed time.Duration,
) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(string(kind), outcome).Inc()
	m.opSeconds.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}
