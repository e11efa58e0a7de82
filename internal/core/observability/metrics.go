// Package observability holds the process-wide Prometheus collectors and
// the helpers components record through.
package observability

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var serviceLabel atomic.Value

func init() {
	serviceLabel.Store("geolayers")
	for _, c := range all() {
		_ = prometheus.DefaultRegisterer.Register(c)
	}
}

func SetService(s string) {
	if s == "" {
		s = "geolayers"
	}
	serviceLabel.Store(s)
}

func getService() string {
	if s, ok := serviceLabel.Load().(string); ok && s != "" {
		return s
	}
	return "geolayers"
}

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status", "service"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status", "service"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geolayers_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Derived-view cache lookups by outcome and tier.",
		},
		[]string{"outcome", "tier"},
	)

	cacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis operations by op and status.",
		},
		[]string{"op", "status"},
	)

	redisOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of Redis operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"op"},
	)

	ingestRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_runs_total",
			Help: "Ingestion attempts by outcome (ready or the failing error kind).",
		},
		[]string{"outcome"},
	)

	ingestStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_step_duration_seconds",
			Help:    "Duration of each ingestion step.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		},
		[]string{"step"},
	)

	ingestCoordinates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_coordinates_total",
			Help: "Coordinate pairs seen by successful ingestion runs.",
		},
	)

	ingestDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_dropped_coordinates_total",
			Help: "Coordinates left out of bounds because they fell outside WGS84.",
		},
	)

	jobAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_attempts_total",
			Help: "Job attempts by outcome (ok, retry, exhausted).",
		},
		[]string{"outcome"},
	)

	jobQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_queue_depth",
			Help: "Layers waiting in the in-process queue.",
		},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)

	reaped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reaper_marked_total",
			Help: "Layers the reaper moved from processing to error.",
		},
	)
)

func all() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, buildInfo,
		cacheResults, cacheOps, redisOpDuration,
		ingestRuns, ingestStepDuration, ingestCoordinates, ingestDropped,
		jobAttempts, jobQueueDepth, kafkaConsumerErrors, reaped,
	}
}

// Init additionally registers every collector with reg, typically a
// metrics.Provider registry. Collectors already present are skipped.
func Init(reg prometheus.Registerer, enabled bool) {
	if reg == nil || !enabled {
		return
	}
	for _, c := range all() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	s := getService()
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st, s).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st, s).Observe(durationSeconds)
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	cacheOps.WithLabelValues(op, status).Inc()
	redisOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

func AddCacheHits(tier string, n int) {
	if n > 0 {
		cacheResults.WithLabelValues("hit", tier).Add(float64(n))
	}
}

func AddCacheMisses(tier string, n int) {
	if n > 0 {
		cacheResults.WithLabelValues("miss", tier).Add(float64(n))
	}
}

func ObserveIngestStep(step string, durationSeconds float64) {
	ingestStepDuration.WithLabelValues(step).Observe(durationSeconds)
}

func IncIngestRun(outcome string) {
	ingestRuns.WithLabelValues(outcome).Inc()
}

func AddIngestCoordinates(total, dropped int) {
	ingestCoordinates.Add(float64(total))
	ingestDropped.Add(float64(dropped))
}

func IncJobAttempt(outcome string) {
	jobAttempts.WithLabelValues(outcome).Inc()
}

func SetJobQueueDepth(n int) {
	jobQueueDepth.Set(float64(n))
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func AddReaped(n int) {
	reaped.Add(float64(n))
}
