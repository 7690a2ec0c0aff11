package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyroom_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studyroom_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Room metrics
	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studyroom_rooms_active",
			Help: "Rooms currently held in memory",
		},
	)

	ParticipantsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studyroom_participants_active",
			Help: "Participants currently present in any room",
		},
	)

	HostElections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studyroom_host_elections_total",
			Help: "Times the host role moved to another participant",
		},
	)

	// Transport metrics
	WebsocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studyroom_websocket_connections",
			Help: "Open websocket connections",
		},
	)

	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyroom_messages_dropped_total",
			Help: "Outbound frames dropped before reaching a connection",
		},
		[]string{"reason"}, // "buffer_full" or "closed"
	)

	InboundRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyroom_inbound_rejected_total",
			Help: "Inbound events rejected with an error frame",
		},
		[]string{"code"},
	)

	// Signaling metrics
	SignalsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyroom_signals_relayed_total",
			Help: "Signaling envelopes delivered to their target",
		},
		[]string{"type"},
	)

	SignalsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyroom_signals_dropped_total",
			Help: "Signaling envelopes dropped because the target was absent",
		},
		[]string{"type"},
	)

	// Broadcast metrics
	Broadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyroom_broadcasts_total",
			Help: "Room broadcasts by channel",
		},
		[]string{"channel"},
	)

	PersistFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyroom_persist_failures_total",
			Help: "Collaboration state writes that failed or were shed",
		},
		[]string{"channel"},
	)

	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studyroom_store_latency_seconds",
			Help:    "Document store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"op"},
	)
)
