package serving

import "github.com/prometheus/client_golang/prometheus"

var (
	predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricingd",
			Subsystem: "serving",
			Name:      "predictions_total",
			Help:      "Total predictions served",
		},
		[]string{"mode"},
	)

	droppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricingd",
			Subsystem: "serving",
			Name:      "dropped_total",
			Help:      "Queued prediction requests dropped by policy",
		},
		[]string{"reason"},
	)

	swapsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pricingd",
			Subsystem: "serving",
			Name:      "model_swaps_total",
			Help:      "Successful active-artifact swaps",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pricingd",
			Subsystem: "serving",
			Name:      "queue_depth",
			Help:      "Current async prediction queue depth",
		},
	)
)

func init() {
	prometheus.MustRegister(predictionsTotal, droppedTotal, swapsTotal, queueDepth)
}
