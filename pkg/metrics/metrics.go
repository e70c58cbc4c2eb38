// Package metrics holds the Prometheus collectors for matchmaking and signaling.
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lingmeet"

// Match paths
const (
	PathPoll   = "poll"
	PathInvite = "invite"
	PathPush   = "push"
)

// Delivery paths
const (
	ViaPush = "push"
	ViaPoll = "poll"
)

type Metrics struct {
	matches          *prometheus.CounterVec
	signalsPublished *prometheus.CounterVec
	signalsApplied   *prometheus.CounterVec
	signalsDuplicate *prometheus.CounterVec
	signalsDropped   *prometheus.CounterVec
	storeErrors      *prometheus.CounterVec
	sessionState     *prometheus.GaugeVec
	waitingSwept     prometheus.Counter
}

// New creates the collectors and registers them on reg when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "matches_total",
			Help: "Pairings entered, by how the partner was found.",
		}, []string{"path"}),
		signalsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_published_total",
			Help: "Signals written to the store.",
		}, []string{"type"}),
		signalsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_applied_total",
			Help: "Signals applied to local connection state.",
		}, []string{"type", "via"}),
		signalsDuplicate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_duplicate_total",
			Help: "Signals skipped because their id was already consumed.",
		}, []string{"via"}),
		signalsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_dropped_total",
			Help: "Signals discarded as malformed or unexpected.",
		}, []string{"reason"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "store_errors_total",
			Help: "Store operations that failed and were skipped.",
		}, []string{"op"}),
		sessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "session_state",
			Help: "1 for the current session state, 0 otherwise.",
		}, []string{"state"}),
		waitingSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "waiting_swept_total",
			Help: "Stale waiting entries removed by the sweeper.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.matches, m.signalsPublished, m.signalsApplied, m.signalsDuplicate,
			m.signalsDropped, m.storeErrors, m.sessionState, m.waitingSwept)
	}
	return m
}

func (m *Metrics) Match(path string) {
	if m != nil {
		m.matches.WithLabelValues(path).Inc()
	}
}

func (m *Metrics) SignalPublished(typ string) {
	if m != nil {
		m.signalsPublished.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) SignalApplied(typ, via string) {
	if m != nil {
		m.signalsApplied.WithLabelValues(typ, via).Inc()
	}
}

func (m *Metrics) SignalDuplicate(via string) {
	if m != nil {
		m.signalsDuplicate.WithLabelValues(via).Inc()
	}
}

func (m *Metrics) SignalDropped(reason string) {
	if m != nil {
		m.signalsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) StoreError(op string) {
	if m != nil {
		m.storeErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) WaitingSwept(n int64) {
	if m != nil && n > 0 {
		m.waitingSwept.Add(float64(n))
	}
}

// SetState marks state as current and clears the others in states.
func (m *Metrics) SetState(state string, states []string) {
	if m == nil {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		m.sessionState.WithLabelValues(s).Set(v)
	}
}
