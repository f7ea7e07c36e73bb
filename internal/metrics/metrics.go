// Package metrics exposes Prometheus instruments for the transcription engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "brainstorm_transcribe"

type Metrics struct {
	SessionsActive    prometheus.Gauge
	SessionStarts     *prometheus.CounterVec
	SessionStops      *prometheus.CounterVec
	ChunksAccepted    prometheus.Counter
	ChunksDropped     *prometheus.CounterVec
	PartialsEmitted   prometheus.Counter
	PartialsDeduped   prometheus.Counter
	FinalsPersisted   prometheus.Counter
	PersistErrors     *prometheus.CounterVec
	EventsMuted       prometheus.Counter
	ProviderErrors    *prometheus.CounterVec
	StopLatency       prometheus.Histogram
	ProviderHandshake *prometheus.HistogramVec
	SinkDeliveries    *prometheus.CounterVec
	RoomMembers       prometheus.Gauge
}

// New registers all instruments on reg. Pass prometheus.NewRegistry() in
// tests to avoid clashing with the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live transcription sessions",
		}),
		SessionStarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_starts_total",
			Help:      "Start requests by outcome (created, reused, replaced, failed)",
		}, []string{"provider", "outcome"}),
		SessionStops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_stops_total",
			Help:      "Completed session teardowns by reason",
		}, []string{"reason"}),
		ChunksAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_accepted_total",
			Help:      "Audio chunks handed to an engine",
		}),
		ChunksDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_dropped_total",
			Help:      "Audio chunks dropped before reaching an engine",
		}, []string{"reason"}),
		PartialsEmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partials_emitted_total",
			Help:      "Partial hypotheses forwarded to rooms",
		}),
		PartialsDeduped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partials_deduplicated_total",
			Help:      "Partial hypotheses suppressed because the text did not change",
		}),
		FinalsPersisted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finals_persisted_total",
			Help:      "Final transcripts persisted and broadcast",
		}),
		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Transcript persistence failures",
		}, []string{"kind"}),
		EventsMuted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_muted_total",
			Help:      "Transcript events suppressed while narration playback was active",
		}),
		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider failures by taxonomy code",
		}, []string{"provider", "code"}),
		StopLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stop_latency_seconds",
			Help:      "Time from stop request to session removal",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 1.5, 2, 5},
		}),
		ProviderHandshake: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_handshake_seconds",
			Help:      "Latency of opening a provider stream",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"provider"}),
		SinkDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_deliveries_total",
			Help:      "Room events delivered to secondary sinks by outcome",
		}, []string{"sink", "outcome"}),
		RoomMembers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "room_members",
			Help:      "Websocket connections joined to a room",
		}),
	}
}

func (m *Metrics) RecordStart(provider, outcome string) {
	m.SessionStarts.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) RecordStop(reason string, latencySeconds float64) {
	m.SessionStops.WithLabelValues(reason).Inc()
	m.StopLatency.Observe(latencySeconds)
}

func (m *Metrics) RecordChunkDropped(reason string) {
	m.ChunksDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordPersistError(kind string) {
	m.PersistErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordProviderError(provider, code string) {
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) ObserveHandshake(provider string, seconds float64) {
	m.ProviderHandshake.WithLabelValues(provider).Observe(seconds)
}

// RecordSinkDelivery is safe on a nil receiver so sinks can run without
// metrics in tests.
func (m *Metrics) RecordSinkDelivery(sink, outcome string) {
	if m == nil {
		return
	}
	m.SinkDeliveries.WithLabelValues(sink, outcome).Inc()
}
