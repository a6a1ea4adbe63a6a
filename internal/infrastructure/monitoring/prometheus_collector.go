package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	eventsTotal       *prometheus.CounterVec
	outboundDropped   prometheus.Counter
	inboundLimited    prometheus.Counter

	roomPresence    prometheus.Gauge
	activeRooms     prometheus.Gauge
	activeVideos    prometheus.Gauge
	activeScreens   prometheus.Gauge
	screenBlocked   prometheus.Counter
	messagesSent    prometheus.Counter
	storeOpDuration *prometheus.HistogramVec
	storeOpErrors   *prometheus.CounterVec
}

// NewPrometheusCollector registers the coordinator metrics with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatty_connections_active",
			Help: "Number of open WebSocket connections",
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatty_connections_total",
			Help: "Total number of WebSocket connections accepted",
		}),

		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatty_events_total",
			Help: "Client events dispatched, by event name",
		}, []string{"event"}),

		outboundDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatty_outbound_dropped_total",
			Help: "Server events dropped because a client send queue was full",
		}),

		inboundLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatty_inbound_rate_limited_total",
			Help: "Client events dropped by the per-connection rate limiter",
		}),

		roomPresence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatty_room_presence",
			Help: "Connections currently joined to a channel room",
		}),

		activeRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatty_broadcast_rooms",
			Help: "Rooms with at least one active broadcast",
		}),

		activeVideos: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatty_active_video_sessions",
			Help: "Announced camera broadcasts",
		}),

		activeScreens: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatty_active_screen_shares",
			Help: "Occupied screen-share slots",
		}),

		screenBlocked: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatty_screenshare_blocked_total",
			Help: "Screen-share announces rejected because the slot was taken",
		}),

		messagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatty_messages_total",
			Help: "Chat messages appended to channel logs",
		}),

		storeOpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatty_store_operation_duration_seconds",
			Help:    "Document store round trip duration",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"collection", "op"}),

		storeOpErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatty_store_operation_errors_total",
			Help: "Failed document store round trips",
		}, []string{"collection", "op"}),
	}
}

func (p *PrometheusCollector) RecordConnectionOpened() {
	p.connectionsActive.Inc()
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) RecordConnectionClosed() {
	p.connectionsActive.Dec()
}

func (p *PrometheusCollector) RecordEvent(event string) {
	p.eventsTotal.WithLabelValues(event).Inc()
}

func (p *PrometheusCollector) RecordOutboundDropped() {
	p.outboundDropped.Inc()
}

func (p *PrometheusCollector) RecordInboundLimited() {
	p.inboundLimited.Inc()
}

func (p *PrometheusCollector) RecordRoomJoined() {
	p.roomPresence.Inc()
}

func (p *PrometheusCollector) RecordRoomLeft() {
	p.roomPresence.Dec()
}

func (p *PrometheusCollector) RecordScreenShareBlocked() {
	p.screenBlocked.Inc()
}

func (p *PrometheusCollector) RecordMessage() {
	p.messagesSent.Inc()
}

// SetBroadcastStats publishes the relay's current state.
func (p *PrometheusCollector) SetBroadcastStats(rooms, videos, screens int) {
	p.activeRooms.Set(float64(rooms))
	p.activeVideos.Set(float64(videos))
	p.activeScreens.Set(float64(screens))
}

// ObserveStoreOperation matches the repositories.Observer signature.
func (p *PrometheusCollector) ObserveStoreOperation(collection, op string, took time.Duration, err error) {
	p.storeOpDuration.WithLabelValues(collection, op).Observe(took.Seconds())
	if err != nil {
		p.storeOpErrors.WithLabelValues(collection, op).Inc()
	}
}
