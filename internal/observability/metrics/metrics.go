package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for checkout, payment webhooks
// and the post-confirmation workers.
type BookingMetrics struct {
	webhookTotal     *prometheus.CounterVec
	webhookLatency   *prometheus.HistogramVec
	checkoutTotal    *prometheus.CounterVec
	remindersTotal   *prometheus.CounterVec
	followUpFailures *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vetcare",
			Subsystem: "payments",
			Name:      "webhook_total",
			Help:      "Payment webhook deliveries by event and outcome",
		}, []string{"event", "outcome"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vetcare",
			Subsystem: "payments",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of payment webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event"}),
		checkoutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vetcare",
			Subsystem: "payments",
			Name:      "checkout_total",
			Help:      "Checkout session attempts by result",
		}, []string{"result"}),
		remindersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vetcare",
			Subsystem: "reminders",
			Name:      "dispatch_total",
			Help:      "Reminder dispatch attempts by result",
		}, []string{"result"}),
		followUpFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vetcare",
			Subsystem: "followup",
			Name:      "failures_total",
			Help:      "Post-confirmation follow-up step failures",
		}, []string{"step"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhookTotal, m.webhookLatency, m.checkoutTotal, m.remindersTotal, m.followUpFailures)
	return m
}

func (m *BookingMetrics) ObserveWebhook(event, outcome string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(event, outcome).Inc()
}

func (m *BookingMetrics) ObserveWebhookLatency(event string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(event).Observe(seconds)
}

func (m *BookingMetrics) ObserveCheckout(result string) {
	if m == nil {
		return
	}
	m.checkoutTotal.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveReminder(result string) {
	if m == nil {
		return
	}
	m.remindersTotal.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveFollowUpFailure(step string) {
	if m == nil {
		return
	}
	m.followUpFailures.WithLabelValues(step).Inc()
}
