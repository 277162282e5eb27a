package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters and gauges for scheduling and chat flows.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	transitions   *prometheus.CounterVec
	reschedules   *prometheus.CounterVec
	refunds       prometheus.Counter
	chatMessages  *prometheus.CounterVec
	subscriptions prometheus.Gauge
	sweepDuration prometheus.Histogram
}

// New registers the collectors with reg (the default registerer when nil).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telecare",
			Subsystem: "scheduling",
			Name:      "transitions_total",
			Help:      "Appointment state machine transitions by event and outcome",
		}, []string{"event", "outcome"}),
		reschedules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telecare",
			Subsystem: "scheduling",
			Name:      "reschedule_resolutions_total",
			Help:      "Reschedule proposals by resolution",
		}, []string{"outcome"}),
		refunds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telecare",
			Subsystem: "payments",
			Name:      "refunds_triggered_total",
			Help:      "Full refunds triggered by cancellations",
		}),
		chatMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telecare",
			Subsystem: "chat",
			Name:      "messages_total",
			Help:      "Chat messages persisted by sender role",
		}, []string{"role"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "telecare",
			Subsystem: "chat",
			Name:      "subscriptions",
			Help:      "Live chat room subscriptions",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "telecare",
			Subsystem: "worker",
			Name:      "reschedule_sweep_seconds",
			Help:      "Duration of the reschedule expiry sweep",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.reschedules, m.refunds, m.chatMessages, m.subscriptions, m.sweepDuration)
	return m
}

func (m *Metrics) ObserveTransition(event string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	m.transitions.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) ObserveReschedule(outcome string) {
	if m == nil {
		return
	}
	m.reschedules.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRefund() {
	if m == nil {
		return
	}
	m.refunds.Inc()
}

func (m *Metrics) ObserveChatMessage(role string) {
	if m == nil {
		return
	}
	m.chatMessages.WithLabelValues(role).Inc()
}

func (m *Metrics) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.subscriptions.Inc()
}

func (m *Metrics) SubscriptionClosed() {
	if m == nil {
		return
	}
	m.subscriptions.Dec()
}

func (m *Metrics) ObserveSweep(seconds float64) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(seconds)
}
