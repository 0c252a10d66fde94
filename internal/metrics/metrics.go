// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EmbedRequestsTotal counts embedding calls by function and outcome.
	EmbedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quackformers_embed_requests_total",
			Help: "Total number of embedding calls",
		},
		[]string{"function", "status"},
	)

	// EmbedDuration measures whole-call embedding latency.
	EmbedDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quackformers_embed_duration_seconds",
			Help:    "Duration of embedding calls in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"function"},
	)

	// EmbeddedTextsTotal counts texts that produced a vector.
	EmbeddedTextsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quackformers_embedded_texts_total",
			Help: "Total number of texts embedded",
		},
		[]string{"function"},
	)

	// ModelLoadDuration records how long each variant took to build and warm.
	ModelLoadDuration = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quackformers_model_load_seconds",
			Help: "Time spent loading and warming a model variant",
		},
		[]string{"variant"},
	)

	// ModelReady is 1 once a variant has warmed successfully.
	ModelReady = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quackformers_model_ready",
			Help: "Whether a model variant is loaded and warm",
		},
		[]string{"variant"},
	)

	// CacheLookupsTotal counts embedding cache lookups by result.
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quackformers_cache_lookups_total",
			Help: "Embedding cache lookups",
		},
		[]string{"result"},
	)

	// HTTPRequestsTotal counts API requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quackformers_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures API response time.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quackformers_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// ETLRecordsTotal counts ingested records by outcome.
	ETLRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quackformers_etl_records_total",
			Help: "Records processed by the ingestion pipeline",
		},
		[]string{"status"},
	)
)
