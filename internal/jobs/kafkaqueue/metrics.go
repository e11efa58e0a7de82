package kafkaqueue

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metricSet struct {
	msgs     *prometheus.CounterVec
	proc     prometheus.Histogram
	lagGauge prometheus.Gauge
}

func newMetricSet(r prometheus.Registerer) *metricSet {
	m := &metricSet{
		msgs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_jobs_msgs_total",
				Help: "Count of ingest job messages by result.",
			},
			[]string{"result"},
		),
		proc: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_jobs_processing_seconds",
				Help:    "Time from receiving a job message to marking it, retries included.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
			},
		),
		lagGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_jobs_lag_seconds",
				Help: "Approximate lag: now - message.timestamp.",
			},
		),
	}
	if r != nil {
		r.MustRegister(m.msgs, m.proc, m.lagGauge)
	}
	return m
}
