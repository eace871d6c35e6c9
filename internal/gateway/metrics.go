package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the session counters. A nil *Metrics records nothing.
type Metrics struct {
	frames        *prometheus.CounterVec
	decodeErrors  prometheus.Counter
	sequenceGaps  prometheus.Counter
	heartbeats    prometheus.Counter
	missedAcks    prometheus.Counter
	reconnects    *prometheus.CounterVec
	handlerErrors prometheus.Counter
	sequence      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "discord_bot",
			Subsystem: "gateway",
			Name:      "frames_total",
			Help:      "Inbound gateway frames by opcode.",
		}, []string{"op"}),
		decodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "discord_bot",
			Subsystem: "gateway",
			Name:      "decode_errors_total",
			Help:      "Inbound frames dropped because they could not be decoded.",
		}),
		sequenceGaps: f.NewCounter(prometheus.CounterOpts{
			Namespace: "discord_bot",
			Subsystem: "gateway",
			Name:      "sequence_gaps_total",
			Help:      "Dispatches whose sequence did not follow the previous one.",
		}),
		heartbeats: f.NewCounter(prometheus.CounterOpts{
			Namespace: "discord_bot",
			Subsystem: "gateway",
			Name:      "heartbeats_sent_total",
			Help:      "Heartbeat commands sent.",
		}),
		missedAcks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "discord_bot",
			Subsystem: "gateway",
			Name:      "heartbeat_acks_missed_total",
			Help:      "Heartbeat intervals that elapsed without an ack.",
		}),
		reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "discord_bot",
			Subsystem: "gateway",
			Name:      "reconnects_total",
			Help:      "Transport re-opens by kind (resume or identify).",
		}, []string{"kind"}),
		handlerErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "discord_bot",
			Subsystem: "gateway",
			Name:      "handler_errors_total",
			Help:      "Dispatch handler failures.",
		}),
		sequence: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "discord_bot",
			Subsystem: "gateway",
			Name:      "sequence",
			Help:      "Last processed dispatch sequence.",
		}),
	}
}

func (m *Metrics) frame(op string) {
	if m != nil {
		m.frames.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) decodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) sequenceGap() {
	if m != nil {
		m.sequenceGaps.Inc()
	}
}

func (m *Metrics) heartbeat() {
	if m != nil {
		m.heartbeats.Inc()
	}
}

func (m *Metrics) missedAck() {
	if m != nil {
		m.missedAcks.Inc()
	}
}

func (m *Metrics) reconnect(kind string) {
	if m != nil {
		m.reconnects.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) handlerError() {
	if m != nil {
		m.handlerErrors.Inc()
	}
}

func (m *Metrics) setSequence(seq int64) {
	if m != nil {
		m.sequence.Set(float64(seq))
	}
}
