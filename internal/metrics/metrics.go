// Package metrics exposes parse pipeline counters on a private Prometheus
// registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinytelemetry/rutrace/internal/ingest"
	"github.com/tinytelemetry/rutrace/internal/model"
)

const namespace = "rutrace"

// Registry holds every collector the service reports.
type Registry struct {
	reg *prometheus.Registry

	Runs          *prometheus.CounterVec
	Lines         prometheus.Counter
	Messages      *prometheus.CounterVec
	Errors        *prometheus.CounterVec
	CarrierEvents *prometheus.CounterVec
	Uploads       *prometheus.CounterVec
	RunDuration   prometheus.Histogram
	RPCLatency    prometheus.Histogram
	QueueDepth    prometheus.Gauge
}

// NewRegistry creates the collectors and registers them, together with the
// Go runtime and process collectors, on a fresh registry.
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.Runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "parse_runs_total",
		Help:      "Parse runs finished, by final status",
	}, []string{"status"})
	r.Lines = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trace_lines_total",
		Help:      "Non-blank trace lines read by parse runs",
	})
	r.Messages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_total",
		Help:      "Reconstructed NETCONF messages, by message type",
	}, []string{"kind"})
	r.Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "error_events_total",
		Help:      "Protocol errors and faults, by error type",
	}, []string{"kind"})
	r.CarrierEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "carrier_events_total",
		Help:      "Carrier events, by event type",
	}, []string{"kind"})
	r.Uploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "intake_files_total",
		Help:      "Files offered for intake, by outcome",
	}, []string{"outcome"})
	r.RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "parse_run_duration_seconds",
		Help:      "Wall time of parse runs including storage",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	})
	r.RPCLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "rpc_latency_seconds",
		Help:      "Request to reply latency observed in parsed traces",
		Buckets:   prometheus.DefBuckets,
	})
	r.QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "parse_queue_depth",
		Help:      "Parse jobs waiting for a worker",
	})

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.Runs, r.Lines, r.Messages, r.Errors, r.CarrierEvents, r.Uploads,
		r.RunDuration, r.RPCLatency, r.QueueDepth,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ObserveRun records the outcome of one parse run.
func (r *Registry) ObserveRun(status model.ParseStatus, counts model.Counts, elapsed time.Duration) {
	r.Runs.WithLabelValues(string(status)).Inc()
	r.Lines.Add(float64(counts.Lines))
	r.RunDuration.Observe(elapsed.Seconds())
}

// Wrap returns a sink that counts records on their way to next.
func (r *Registry) Wrap(next ingest.RecordSink) ingest.RecordSink {
	return &observingSink{next: next, reg: r}
}

type observingSink struct {
	next ingest.RecordSink
	reg  *Registry
}

func (s *observingSink) AddMessages(msgs []model.Message) error {
	if err := s.next.AddMessages(msgs); err != nil {
		return err
	}
	for _, m := range msgs {
		s.reg.Messages.WithLabelValues(string(m.Kind)).Inc()
		// Each latency is mirrored on the request and its reply; count it once.
		if m.Kind == model.KindRequest && m.LatencyMS != nil {
			s.reg.RPCLatency.Observe(*m.LatencyMS / 1000)
		}
	}
	return nil
}

func (s *observingSink) AddErrors(errs []model.ErrorEvent) error {
	if err := s.next.AddErrors(errs); err != nil {
		return err
	}
	for _, e := range errs {
		s.reg.Errors.WithLabelValues(string(e.Kind)).Inc()
	}
	return nil
}

func (s *observingSink) AddCarrierEvents(events []model.CarrierEvent) error {
	if err := s.next.AddCarrierEvents(events); err != nil {
		return err
	}
	for _, c := range events {
		s.reg.CarrierEvents.WithLabelValues(string(c.Kind)).Inc()
	}
	return nil
}
