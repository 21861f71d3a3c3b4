// Package metrics exposes Prometheus collectors for Parabox endpoints.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "parabox"

// Call outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFail    = "fail"
	OutcomeError   = "error"
)

// Metrics holds the collectors of one endpoint.
type Metrics struct {
	mu sync.Mutex

	calls            *prometheus.CounterVec
	callDuration     *prometheus.HistogramVec
	inbound          *prometheus.CounterVec
	dropped          prometheus.Counter
	retryEntries     *prometheus.GaugeVec
	retryReplays     *prometheus.CounterVec
	stateTransitions *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// New creates the collectors. They are not registered until Register is called.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer: registerer,
		calls:      newCounterVec("calls_total", "Outbound commands and requests by outcome", []string{"kind", "type", "outcome"}),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "Time from sending a call to its result",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 3, 6, 10},
			},
			[]string{"kind", "type"},
		),
		inbound: newCounterVec("inbound_total", "Inbound envelopes by kind", []string{"kind"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_dropped_total",
			Help:      "Inbound frames that failed to decode",
		}),
		retryEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "retry_queue_entries",
				Help:      "Entries waiting in a retry queue",
			},
			[]string{"queue"},
		),
		retryReplays:     newCounterVec("retry_replays_total", "Retry queue replays by outcome", []string{"queue", "outcome"}),
		stateTransitions: newCounterVec("state_transitions_total", "Lifecycle transitions by target state", []string{"state"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
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
		m.calls,
		m.callDuration,
		m.inbound,
		m.dropped,
		m.retryEntries,
		m.retryReplays,
		m.stateTransitions,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := errors.AsType[prometheus.AlreadyRegisteredError](err); !ok {
				return err
			}
		}
	}

	m.registered = true

	return nil
}

// RegisterPending exposes the number of pending calls through fn.
func (m *Metrics) RegisterPending(fn func() float64) error {
	if m == nil {
		return nil
	}

	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_calls",
		Help:      "Calls awaiting an acknowledgement",
	}, fn)

	if err := m.registerer.Register(g); err != nil {
		if _, ok := errors.AsType[prometheus.AlreadyRegisteredError](err); !ok {
			return err
		}
	}

	return nil
}

// ObserveCall records the outcome and latency of an outbound call.
func (m *Metrics) ObserveCall(kind, typ, outcome string, d time.Duration) {
	if m == nil {
		return
	}

	m.calls.WithLabelValues(kind, typ, outcome).Inc()
	m.callDuration.WithLabelValues(kind, typ).Observe(d.Seconds())
}

// Inbound counts a decoded inbound envelope.
func (m *Metrics) Inbound(kind string) {
	if m == nil {
		return
	}

	m.inbound.WithLabelValues(kind).Inc()
}

// Dropped counts a frame that could not be decoded.
func (m *Metrics) Dropped() {
	if m == nil {
		return
	}

	m.dropped.Inc()
}

// SetRetryEntries sets the size of a retry queue.
func (m *Metrics) SetRetryEntries(queue string, n int) {
	if m == nil {
		return
	}

	m.retryEntries.WithLabelValues(queue).Set(float64(n))
}

// RetryReplayed counts one replayed retry entry.
func (m *Metrics) RetryReplayed(queue, outcome string) {
	if m == nil {
		return
	}

	m.retryReplays.WithLabelValues(queue, outcome).Inc()
}

// StateTransition counts a lifecycle transition into state.
func (m *Metrics) StateTransition(state string) {
	if m == nil {
		return
	}

	m.stateTransitions.WithLabelValues(state).Inc()
}
