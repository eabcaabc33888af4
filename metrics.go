package harness

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts flow and bridge activity. The trace log stays the
// operator-facing diagnostic surface; these counters exist so a long-lived
// harness deployment can be watched from the outside.
type Metrics struct {
	flowsStarted   *prometheus.CounterVec
	flowsFinished  *prometheus.CounterVec
	bridgeAccepted prometheus.Counter
	bridgeRejected prometheus.Counter
	upserts        *prometheus.CounterVec
}

// NewMetrics creates and registers the harness metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		flowsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oauth_harness",
			Name:      "flows_started_total",
			Help:      "Callback flows that passed the processing guard.",
		}, []string{"provider"}),
		flowsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oauth_harness",
			Name:      "flows_finished_total",
			Help:      "Callback flows that reached a terminal state.",
		}, []string{"provider", "status"}),
		bridgeAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oauth_harness",
			Name:      "bridge_messages_accepted_total",
			Help:      "Cross-window messages accepted by the bridge.",
		}),
		bridgeRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oauth_harness",
			Name:      "bridge_messages_rejected_total",
			Help:      "Cross-window messages rejected by the origin filter.",
		}),
		upserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oauth_harness",
			Name:      "credential_upserts_total",
			Help:      "Credential bundles persisted.",
		}, []string{"provider"}),
	}

	reg.MustRegister(m.flowsStarted, m.flowsFinished, m.bridgeAccepted, m.bridgeRejected, m.upserts)
	return m
}
