package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics exposes counters/histograms for the ingestion pipeline.
// A nil *WebhookMetrics is valid and records nothing.
type WebhookMetrics struct {
	webhookTotal   *prometheus.CounterVec
	inboundTotal   *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
	mediaTotal     *prometheus.CounterVec
	relayTotal     *prometheus.CounterVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whatsapp",
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook deliveries by classified kind and outcome",
		}, []string{"kind", "outcome"}),
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whatsapp",
			Subsystem: "inbox",
			Name:      "inbound_messages_total",
			Help:      "Inbound messages by content kind and outcome",
		}, []string{"content", "outcome"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "whatsapp",
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		mediaTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whatsapp",
			Subsystem: "inbox",
			Name:      "media_downloads_total",
			Help:      "Media downloads by outcome",
		}, []string{"outcome"}),
		relayTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whatsapp",
			Subsystem: "webhook",
			Name:      "relay_total",
			Help:      "Raw payload relays by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhookTotal, m.inboundTotal, m.webhookLatency, m.mediaTotal, m.relayTotal)
	return m
}

func (m *WebhookMetrics) ObserveWebhook(kind, outcome string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *WebhookMetrics) ObserveInbound(content, outcome string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(content, outcome).Inc()
}

func (m *WebhookMetrics) ObserveLatency(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(kind).Observe(seconds)
}

func (m *WebhookMetrics) ObserveMedia(outcome string) {
	if m == nil {
		return
	}
	m.mediaTotal.WithLabelValues(outcome).Inc()
}

func (m *WebhookMetrics) ObserveRelay(outcome string) {
	if m == nil {
		return
	}
	m.relayTotal.WithLabelValues(outcome).Inc()
}
