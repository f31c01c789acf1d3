package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TradesRecorded counts ledger appends by side
	TradesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memestream_trades_recorded_total",
			Help: "The total number of trades appended to the ledger",
		},
		[]string{"side"},
	)

	// TradesRejected counts rejected submissions by error kind
	TradesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memestream_trades_rejected_total",
			Help: "The total number of trade submissions rejected",
		},
		[]string{"kind"},
	)

	// OracleCallSeconds tracks chain oracle latency
	OracleCallSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memestream_oracle_call_seconds",
			Help:    "Time taken by chain oracle calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"}, // ok, not_found, error
	)

	// WebsocketClients tracks connected broadcast clients
	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "memestream_websocket_clients",
		Help: "The number of websocket clients currently connected",
	})

	// EventsPublished counts broadcast events by name and sink
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memestream_events_published_total",
			Help: "The total number of events published",
		},
		[]string{"event", "sink"},
	)

	// HTTPRequests counts API requests by route and status
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memestream_http_requests_total",
			Help: "The total number of HTTP requests",
		},
		[]string{"route", "status"},
	)
)

// RecordTrade records an accepted trade
func RecordTrade(side string) {
	TradesRecorded.WithLabelValues(side).Inc()
}

// RecordRejection records a rejected trade submission
func RecordRejection(kind string) {
	TradesRejected.WithLabelValues(kind).Inc()
}

// RecordOracleCall records the duration of a chain oracle call
func RecordOracleCall(method, status string, seconds float64) {
	OracleCallSeconds.WithLabelValues(method, status).Observe(seconds)
}

// RecordPublish records a published event
func RecordPublish(event, sink string) {
	EventsPublished.WithLabelValues(event, sink).Inc()
}

// RecordHTTPRequest records a served request
func RecordHTTPRequest(route string, status int) {
	HTTPRequests.WithLabelValues(route, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	}
	return "2xx"
}
