package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DetectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cartae_detection_duration_seconds",
			Help:    "Connection detection duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"mode"},
	)

	DetectionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartae_detection_total",
			Help: "Total number of detection runs",
		},
		[]string{"mode", "status"},
	)

	ConnectionsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cartae_connections_returned",
			Help:    "Number of connections returned per detection",
			Buckets: []float64{0, 1, 2, 5, 10, 20},
		},
	)

	ConnectionStrength = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cartae_connection_strength",
			Help:    "Strength of returned connections",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartae_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartae_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	ItemsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartae_items_ingested_total",
			Help: "Total items ingested",
		},
		[]string{"status"},
	)

	VectorStoreErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cartae_vector_store_errors_total",
			Help: "Total vector store failures",
		},
	)
)

func Init() {
	prometheus.MustRegister(DetectionDuration)
	prometheus.MustRegister(DetectionTotal)
	prometheus.MustRegister(ConnectionsReturned)
	prometheus.MustRegister(ConnectionStrength)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(ItemsIngested)
	prometheus.MustRegister(VectorStoreErrors)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
