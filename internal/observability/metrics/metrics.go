package metrics

import "github.com/prometheus/client_golang/prometheus"

// RelayMetrics exposes counters/histograms for the lead-relay pipeline.
type RelayMetrics struct {
	inboundTotal       *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	scorerLatency      prometheus.Histogram
	archiveEntries     prometheus.Gauge
	archiveFailures    prometheus.Counter
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadrelay",
			Subsystem: "relay",
			Name:      "inbound_total",
			Help:      "Total inbound messages by processing status",
		}, []string{"status"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadrelay",
			Subsystem: "dispatch",
			Name:      "notifications_total",
			Help:      "Total per-recipient notification attempts by channel and status",
		}, []string{"channel", "status"}),
		scorerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "leadrelay",
			Subsystem: "scoring",
			Name:      "latency_seconds",
			Help:      "Latency of lead scoring calls",
			Buckets:   prometheus.DefBuckets,
		}),
		archiveEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "leadrelay",
			Subsystem: "archive",
			Name:      "entries",
			Help:      "Current number of entries held in the conversation archive",
		}),
		archiveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "leadrelay",
			Subsystem: "archive",
			Name:      "append_failures_total",
			Help:      "Total archive appends that failed to persist",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.notificationsTotal, m.scorerLatency, m.archiveEntries, m.archiveFailures)
	return m
}

func (m *RelayMetrics) ObserveInbound(status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(status).Inc()
}

func (m *RelayMetrics) ObserveNotification(channel, status string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(channel, status).Inc()
}

func (m *RelayMetrics) ObserveScorerLatency(seconds float64) {
	if m == nil {
		return
	}
	m.scorerLatency.Observe(seconds)
}

func (m *RelayMetrics) SetArchiveEntries(n int) {
	if m == nil {
		return
	}
	m.archiveEntries.Set(float64(n))
}

func (m *RelayMetrics) ObserveArchiveFailure() {
	if m == nil {
		return
	}
	m.archiveFailures.Inc()
}
