package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess      = "success"
	OutcomeHandlerError = "handler_error"
	OutcomeFailure      = "failure"
	OutcomeShutdown     = "shutdown"
)

// Metrics tracks invocation and local server statistics. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	mu sync.RWMutex

	invocations map[string]uint64
	submissions map[string]uint64
	queueDepth  int

	invocationsTotal   *prometheus.CounterVec
	invocationDuration prometheus.Histogram
	queueDepthGauge    prometheus.Gauge
	submissionsTotal   *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

// Snapshot is a point-in-time copy of the in-process counters.
type Snapshot struct {
	Invocations map[string]uint64 `json:"invocations"`
	Submissions map[string]uint64 `json:"submissions"`
	QueueDepth  int               `json:"queue_depth"`
	CollectedAt time.Time         `json:"collected_at"`
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "funcflow",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// New creates the collectors. A nil registerer falls back to the default one.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		invocations:      make(map[string]uint64),
		submissions:      make(map[string]uint64),
		registerer:       registerer,
		invocationsTotal: newCounterVec("", "invocations_total", "Total number of invocations handled, by outcome", []string{"outcome"}),
		invocationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "funcflow",
			Name:      "invocation_duration_seconds",
			Help:      "Time spent inside the handler per invocation",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		queueDepthGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "funcflow",
			Subsystem: "local",
			Name:      "queue_depth",
			Help:      "Submissions waiting for a runtime poll on the local server",
		}),
		submissionsTotal: newCounterVec("local", "submissions_total", "Total number of submissions resolved by the local server, by outcome", []string{"outcome"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.invocationsTotal,
		m.invocationDuration,
		m.queueDepthGauge,
		m.submissionsTotal,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// ObserveInvocation records one handled invocation.
func (m *Metrics) ObserveInvocation(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.invocations[outcome]++
	m.invocationsTotal.WithLabelValues(outcome).Inc()
	m.invocationDuration.Observe(d.Seconds())
}

// RecordSubmission records how a local server submission was resolved.
func (m *Metrics) RecordSubmission(outcome string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.submissions[outcome]++
	m.submissionsTotal.WithLabelValues(outcome).Inc()
}

// SetQueueDepth publishes the number of queued submissions.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queueDepth = n
	m.queueDepthGauge.Set(float64(n))
}

// Snapshot returns a copy of the in-process counters.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		Invocations: make(map[string]uint64),
		Submissions: make(map[string]uint64),
		CollectedAt: time.Now(),
	}
	if m == nil {
		return snap
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for k, v := range m.invocations {
		snap.Invocations[k] = v
	}
	for k, v := range m.submissions {
		snap.Submissions[k] = v
	}
	snap.QueueDepth = m.queueDepth
	return snap
}

// Handler exposes the registry in the Prometheus text format. When gatherer is
// nil the default gatherer is used.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
