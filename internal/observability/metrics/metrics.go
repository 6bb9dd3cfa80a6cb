package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the checkout flow.
type BookingMetrics struct {
	checkoutStarted   *prometheus.CounterVec
	authorizations    *prometheus.CounterVec
	commits           *prometheus.CounterVec
	incidents         prometheus.Counter
	velocityBlocked   prometheus.Counter
	processorLatency  *prometheus.HistogramVec
	webhookEventTotal *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		checkoutStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salon",
			Subsystem: "checkout",
			Name:      "started_total",
			Help:      "Checkout requests by outcome",
		}, []string{"outcome"}),
		authorizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salon",
			Subsystem: "payments",
			Name:      "authorizations_total",
			Help:      "Payment intents created, by payment choice and status",
		}, []string{"choice", "status"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salon",
			Subsystem: "bookings",
			Name:      "commits_total",
			Help:      "Appointment commits by source and outcome",
		}, []string{"source", "outcome"}),
		incidents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "salon",
			Subsystem: "bookings",
			Name:      "reconciliation_incidents_total",
			Help:      "Payments confirmed by the processor that failed to commit",
		}),
		velocityBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "salon",
			Subsystem: "payments",
			Name:      "velocity_blocked_total",
			Help:      "Authorization attempts rejected by the per-email velocity limit",
		}),
		processorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "salon",
			Subsystem: "payments",
			Name:      "processor_latency_seconds",
			Help:      "Latency of payment processor calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		webhookEventTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salon",
			Subsystem: "payments",
			Name:      "webhook_events_total",
			Help:      "Processor webhook events by type and status",
		}, []string{"event_type", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.checkoutStarted,
		m.authorizations,
		m.commits,
		m.incidents,
		m.velocityBlocked,
		m.processorLatency,
		m.webhookEventTotal,
	)
	return m
}

// ObserveCheckout counts a create-payment-intent request. outcome is one of
// ok, invalid, not_found, velocity, declined, error.
func (m *BookingMetrics) ObserveCheckout(outcome string) {
	if m == nil {
		return
	}
	m.checkoutStarted.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveAuthorization(choice, status string) {
	if m == nil {
		return
	}
	m.authorizations.WithLabelValues(choice, status).Inc()
}

func (m *BookingMetrics) ObserveCommit(source, outcome string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(source, outcome).Inc()
}

func (m *BookingMetrics) ObserveIncident() {
	if m == nil {
		return
	}
	m.incidents.Inc()
}

func (m *BookingMetrics) ObserveVelocityBlocked() {
	if m == nil {
		return
	}
	m.velocityBlocked.Inc()
}

func (m *BookingMetrics) ObserveProcessorLatency(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.processorLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *BookingMetrics) ObserveWebhookEvent(eventType, status string) {
	if m == nil {
		return
	}
	m.webhookEventTotal.WithLabelValues(eventType, status).Inc()
}
