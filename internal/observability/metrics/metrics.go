package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "cmms_bot"

// BotMetrics exposes counters and histograms for the conversation engine,
// its collaborators and the channel adapters.
type BotMetrics struct {
	messagesTotal    *prometheus.CounterVec
	dispatchTotal    *prometheus.CounterVec
	triggersTotal    *prometheus.CounterVec
	recordLatency    *prometheus.HistogramVec
	storeErrorsTotal *prometheus.CounterVec
	sessionsExpired  prometheus.Counter
	notifyTotal      *prometheus.CounterVec
	webhookLatency   *prometheus.HistogramVec
}

func NewBotMetrics(reg prometheus.Registerer) *BotMetrics {
	m := &BotMetrics{
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages handled by the conversation engine",
		}, []string{"channel", "intent"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Dispatch decisions and their result",
		}, []string{"mode", "result"}),
		triggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_triggers_total",
			Help:      "Workflow trigger attempts",
		}, []string{"workflow", "status"}),
		recordLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "record_client_latency_seconds",
			Help:      "Latency of maintenance backend calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		storeErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_store_errors_total",
			Help:      "Session store failures by operation",
		}, []string{"op"}),
		sessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Idle sessions reset by the reaper",
		}),
		notifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sends_total",
			Help:      "Out-of-band notifications by service",
		}, []string{"service", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_latency_seconds",
			Help:      "Latency of inbound channel webhooks",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.messagesTotal,
		m.dispatchTotal,
		m.triggersTotal,
		m.recordLatency,
		m.storeErrorsTotal,
		m.sessionsExpired,
		m.notifyTotal,
		m.webhookLatency,
	)
	return m
}

func (m *BotMetrics) ObserveMessage(channel, intent string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(channel, intent).Inc()
}

func (m *BotMetrics) ObserveDispatch(mode, result string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(mode, result).Inc()
}

func (m *BotMetrics) ObserveWorkflowTrigger(workflowID, status string) {
	if m == nil {
		return
	}
	m.triggersTotal.WithLabelValues(workflowID, status).Inc()
}

func (m *BotMetrics) ObserveRecordCall(operation, status string, seconds float64) {
	if m == nil {
		return
	}
	m.recordLatency.WithLabelValues(operation, status).Observe(seconds)
}

func (m *BotMetrics) ObserveSessionStoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrorsTotal.WithLabelValues(op).Inc()
}

func (m *BotMetrics) ObserveSessionsExpired(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.sessionsExpired.Add(float64(count))
}

func (m *BotMetrics) ObserveNotification(service string, ok bool) {
	if m == nil {
		return
	}
	status := "delivered"
	if !ok {
		status = "failed"
	}
	m.notifyTotal.WithLabelValues(service, status).Inc()
}

func (m *BotMetrics) ObserveWebhookLatency(channel string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(channel).Observe(seconds)
}
