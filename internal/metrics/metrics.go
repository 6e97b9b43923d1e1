// Package metrics holds the Prometheus collectors for the server loops.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kgrag"

type Metrics struct {
	registry *prometheus.Registry

	queries       *prometheus.CounterVec
	queryDuration prometheus.Histogram
	queryErrors   *prometheus.CounterVec
	polls         *prometheus.CounterVec
	polledItems   prometheus.Counter
	ingestBatches *prometheus.CounterVec
	decodeErrors  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Query requests answered, by outcome.",
		}, []string{"outcome"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Time spent producing an answer.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		queryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_errors_total",
			Help:      "Failed query requests, by error kind.",
		}, []string{"kind"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_polls_total",
			Help:      "Source queue polls, by outcome.",
		}, []string{"outcome"}),
		polledItems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_messages_total",
			Help:      "Messages received from the source queue.",
		}),
		ingestBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_batches_total",
			Help:      "Ingest batches handed to the knowledge graph, by outcome.",
		}, []string{"outcome"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Messages skipped or rejected because their body did not decode.",
		}, []string{"loop"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.queries, m.queryDuration, m.queryErrors, m.polls, m.polledItems, m.ingestBatches, m.decodeErrors,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) QueryAnswered(success bool, seconds float64) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(outcome(success)).Inc()
	m.queryDuration.Observe(seconds)
}

// QueryFailed counts a failure response by the kind of its error.
func (m *Metrics) QueryFailed(kind string) {
	if m == nil {
		return
	}
	m.queryErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) Polled(err error, n int) {
	if m == nil {
		return
	}
	if err != nil {
		m.polls.WithLabelValues("error").Inc()
		return
	}
	if n == 0 {
		m.polls.WithLabelValues("empty").Inc()
		return
	}
	m.polls.WithLabelValues("ok").Inc()
	m.polledItems.Add(float64(n))
}

func (m *Metrics) IngestBatch(success bool) {
	if m == nil {
		return
	}
	m.ingestBatches.WithLabelValues(outcome(success)).Inc()
}

func (m *Metrics) DecodeError(loop string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(loop).Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
