package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docchat"

// Embedding metrics.
var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"model"},
	)

	EmbeddingTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_tokens_total",
			Help:      "Total embedding tokens consumed",
		},
		[]string{"model"},
	)
)

// Chat generation metrics.
var (
	ChatStreamsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_streams_total",
			Help:      "Chat completion streams by outcome",
		},
		[]string{"model", "status"},
	)

	ChatTimeToFirstChunk = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_time_to_first_chunk_seconds",
			Help:      "Latency between opening a chat stream and its first text chunk",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
		[]string{"model"},
	)
)

// Pipeline metrics.
var (
	IngestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Document ingestions by terminal status",
		},
		[]string{"status"},
	)

	IngestionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingestion_duration_seconds",
			Help:      "Time from ingestion start to terminal status",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)

	IngestedPassages = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingested_passages",
			Help:      "Passages written per successful ingestion",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	AnswersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Answer streams by outcome",
		},
		[]string{"outcome"},
	)

	RetrievedPassages = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieved_passages",
			Help:      "Passages retrieved per question",
			Buckets:   []float64{0, 1, 2, 3, 4, 6, 8, 12, 16},
		},
	)
)

var registerOnce sync.Once

// Register registers every collector with reg. Must be called once from main.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			EmbeddingRequestsTotal,
			EmbeddingRequestDuration,
			EmbeddingTokensTotal,
			ChatStreamsTotal,
			ChatTimeToFirstChunk,
			IngestionsTotal,
			IngestionDuration,
			IngestedPassages,
			AnswersTotal,
			RetrievedPassages,
			httpRequestDuration,
			httpRequestsTotal,
		)
	})
}
