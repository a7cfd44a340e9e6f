package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the session sync core and the relay server.
//
// Naming convention: namespace_subsystem_name
// - namespace: konnekt_session
// - subsystem: sync, session, peers, transport, relay, rate_limit
//
// Gauges track current state, counters cumulative events, histograms
// latency distributions.

var (
	// SyncEventsBroadcast counts events the host sequenced and broadcast.
	SyncEventsBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "konnekt_session",
		Subsystem: "sync",
		Name:      "events_broadcast_total",
		Help:      "Total events sequenced and broadcast by the host",
	})

	// SyncEventsApplied counts events applied to the local domain in order.
	SyncEventsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "konnekt_session",
		Subsystem: "sync",
		Name:      "events_applied_total",
		Help:      "Total events applied to the local domain",
	})

	// SyncEventsBuffered tracks the current out-of-order buffer size.
	SyncEventsBuffered = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "konnekt_session",
		Subsystem: "sync",
		Name:      "events_buffered",
		Help:      "Events currently buffered waiting for gap repair",
	})

	// SyncGapRequests counts emitted RequestMissingEvents messages.
	SyncGapRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "konnekt_session",
		Subsystem: "sync",
		Name:      "gap_requests_total",
		Help:      "Total missing-event requests sent",
	})

	// SyncFullSyncs counts full snapshot exchanges served or requested.
	SyncFullSyncs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "konnekt_session",
		Subsystem: "sync",
		Name:      "full_syncs_total",
		Help:      "Total full sync responses built",
	})

	// ConnectedPeers tracks peers currently known to the registry.
	ConnectedPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "konnekt_session",
		Subsystem: "peers",
		Name:      "connected",
		Help:      "Peers currently connected (not timed out)",
	})

	// LobbyParticipants tracks the local view of lobby membership.
	LobbyParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "konnekt_session",
		Subsystem: "session",
		Name:      "participants_count",
		Help:      "Participants in the lobby as seen by this peer",
	}, []string{"lobby_id"})

	// TickDuration tracks time spent in one session loop tick.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "konnekt_session",
		Subsystem: "session",
		Name:      "tick_duration_seconds",
		Help:      "Time spent processing one session loop tick",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
	})

	// CommandsForwarded counts guest commands sent to the host.
	CommandsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "konnekt_session",
		Subsystem: "session",
		Name:      "commands_forwarded_total",
		Help:      "Total local commands forwarded to the host",
	})

	// TransportSendErrors counts failed sends; gap repair recovers them.
	TransportSendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "konnekt_session",
		Subsystem: "transport",
		Name:      "send_errors_total",
		Help:      "Total transport send failures",
	})

	// RelayRooms tracks active relay sessions.
	RelayRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "konnekt_session",
		Subsystem: "relay",
		Name:      "rooms_active",
		Help:      "Active relay sessions",
	})

	// RelayConnections tracks open relay WebSocket connections.
	RelayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "konnekt_session",
		Subsystem: "relay",
		Name:      "connections_active",
		Help:      "Open relay WebSocket connections",
	})

	// RelayFrames counts frames forwarded between peers.
	RelayFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "konnekt_session",
		Subsystem: "relay",
		Name:      "frames_total",
		Help:      "Frames forwarded by the relay",
	}, []string{"direction"})

	// RateLimitExceeded counts joins rejected by the relay rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "konnekt_session",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Requests rejected by the rate limiter",
	}, []string{"endpoint"})
)
