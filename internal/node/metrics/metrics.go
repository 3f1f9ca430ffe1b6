package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the node's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	DocumentsWritten *prometheus.CounterVec // docsync_documents_written_total{outcome}
	Requests         *prometheus.CounterVec // docsync_requests_total{route,status}
	Replicated       *prometheus.CounterVec // docsync_replication_sent_total{neighbor,status}
	ConnectAttempts  *prometheus.CounterVec // docsync_connect_attempts_total{neighbor,result}
	NeighborState    *prometheus.GaugeVec   // docsync_neighbor_state{neighbor}
	PassDuration     prometheus.Histogram   // docsync_reconcile_pass_seconds
}

// New registers the collectors on reg (the default registerer when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		DocumentsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docsync_documents_written_total",
			Help: "Incoming documents by outcome (created, present, failed, ignored)",
		}, []string{"outcome"}),

		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docsync_requests_total",
			Help: "Dispatched requests by routing id and reply status",
		}, []string{"route", "status"}),

		Replicated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docsync_replication_sent_total",
			Help: "Documents sent to neighbors by reply status",
		}, []string{"neighbor", "status"}),

		ConnectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docsync_connect_attempts_total",
			Help: "Connection attempts to neighbors by result",
		}, []string{"neighbor", "result"}),

		NeighborState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docsync_neighbor_state",
			Help: "Replication state per neighbor (0 unknown, 1 connecting, 2 connected, 3 synced, 4 disconnected)",
		}, []string{"neighbor"}),

		PassDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docsync_reconcile_pass_seconds",
			Help:    "Duration of one neighbor connect-and-replicate attempt",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) DocumentWritten(outcome string) {
	if m == nil {
		return
	}
	m.DocumentsWritten.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RequestHandled(route, status string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, status).Inc()
}

func (m *Metrics) DocumentSent(neighbor, status string) {
	if m == nil {
		return
	}
	m.Replicated.WithLabelValues(neighbor, status).Inc()
}

func (m *Metrics) ConnectAttempt(neighbor, result string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(neighbor, result).Inc()
}

func (m *Metrics) SetNeighborState(neighbor string, state int) {
	if m == nil {
		return
	}
	m.NeighborState.WithLabelValues(neighbor).Set(float64(state))
}

func (m *Metrics) ObservePass(seconds float64) {
	if m == nil {
		return
	}
	m.PassDuration.Observe(seconds)
}
