package evaluate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments an evaluation pass.
type Metrics struct {
	// Shapes counts evaluated shapes.
	// Labels: category, status (ok|error)
	Shapes *prometheus.CounterVec

	// Keypoints counts keypoints by outcome.
	// Labels: category, kind (truth|predicted|fp|fn)
	Keypoints *prometheus.CounterVec

	// GeodesicDuration measures per-shape matching time in seconds,
	// dominated by graph construction and shortest paths.
	GeodesicDuration prometheus.Histogram

	// CategoryScore is the latest aggregated score per category.
	CategoryScore *prometheus.GaugeVec
}

// NewMetrics creates the evaluation metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Shapes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keypoint_eval_shapes_total",
			Help: "Shapes evaluated, by category and status",
		}, []string{"category", "status"}),
		Keypoints: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keypoint_eval_keypoints_total",
			Help: "Keypoints seen during evaluation, by category and outcome",
		}, []string{"category", "kind"}),
		GeodesicDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "keypoint_eval_geodesic_seconds",
			Help:    "Per-shape geodesic matching latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
		CategoryScore: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "keypoint_eval_category_score",
			Help: "Aggregated keypoint score per category",
		}, []string{"category"}),
	}
}
