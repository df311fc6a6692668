package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CapturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jot_captures_total",
			Help: "Captures appended to the ingress log",
		},
		[]string{"source"},
	)

	ClassificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jot_classifications_total",
			Help: "Classification attempts by result status and failure kind",
		},
		[]string{"status", "failure"},
	)

	ClassifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jot_classify_duration_seconds",
			Help:    "Wall-clock time of one classification attempt",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)

	ClassifyConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jot_classify_confidence",
			Help:    "Confidence reported for classified captures",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.9, 1.0},
		},
	)

	RoutesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jot_routes_total",
			Help: "Routing decisions by destination",
		},
		[]string{"destination"},
	)

	BatchItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jot_batch_items_total",
			Help: "Items handled by batch processing runs",
		},
		[]string{"outcome"},
	)

	BreakerOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jot_classifier_breaker_open",
			Help: "1 while the classifier circuit breaker rejects calls",
		},
	)
)

var once sync.Once

// Init registers every collector with the default registry. Safe to call more
// than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(CapturesTotal)
		prometheus.MustRegister(ClassificationsTotal)
		prometheus.MustRegister(ClassifyDuration)
		prometheus.MustRegister(ClassifyConfidence)
		prometheus.MustRegister(RoutesTotal)
		prometheus.MustRegister(BatchItemsTotal)
		prometheus.MustRegister(BreakerOpen)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}
