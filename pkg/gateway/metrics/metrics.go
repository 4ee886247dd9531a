// Package metrics exposes Prometheus metrics for the call bridge.
//
// All Record methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// Live session metrics
	LiveSessionsActive  prometheus.Gauge
	LiveSessionsTotal   *prometheus.CounterVec
	LiveSessionDuration prometheus.Histogram
	LiveAudioBytesTotal *prometheus.CounterVec
	LiveDroppedFrames   *prometheus.CounterVec

	// Client-visible errors by code
	ErrorsTotal *prometheus.CounterVec

	// Recording tokens and uploads
	TokensIssuedTotal  prometheus.Counter
	TokensSweptTotal   prometheus.Counter
	TokensHeld         prometheus.GaugeFunc
	UploadsTotal       *prometheus.CounterVec
	UploadBytesTotal   prometheus.Counter
	RateLimitHitsTotal prometheus.Counter
}

// New creates Metrics. tokensHeld, when non-nil, is sampled on every scrape.
func New(namespace string, tokensHeld func() int) *Metrics {
	if namespace == "" {
		namespace = "vai_live"
	}
	if tokensHeld == nil {
		tokensHeld = func() int { return 0 }
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		LiveSessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions_active",
			Help:      "Number of open client connections",
		}),
		LiveSessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_sessions_total",
			Help:      "Finished client connections by teardown reason",
		}, []string{"reason"}),
		LiveSessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "live_session_duration_seconds",
			Help:      "Client connection duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		LiveAudioBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_audio_bytes_total",
			Help:      "Audio bytes relayed, by direction",
		}, []string{"direction"}),
		LiveDroppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_dropped_frames_total",
			Help:      "Outbound frames not delivered to the client",
		}, []string{"cause"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors reported to clients, by code",
		}, []string{"code"}),
		TokensIssuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recording_tokens_issued_total",
			Help:      "Recording tokens minted",
		}),
		TokensSweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recording_tokens_swept_total",
			Help:      "Expired recording tokens removed by the sweeper",
		}),
		TokensHeld: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recording_tokens_held",
			Help:      "Recording tokens currently in memory",
		}, func() float64 { return float64(tokensHeld()) }),
		UploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recording_uploads_total",
			Help:      "Recording upload attempts by HTTP status",
		}, []string{"status"}),
		UploadBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recording_upload_bytes_total",
			Help:      "Bytes of recordings persisted",
		}),
		RateLimitHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_audio_rate_limit_hits_total",
			Help:      "Client audio chunks dropped by the inbound budget",
		}),
	}

	m.registry.MustRegister(
		m.LiveSessionsActive,
		m.LiveSessionsTotal,
		m.LiveSessionDuration,
		m.LiveAudioBytesTotal,
		m.LiveDroppedFrames,
		m.ErrorsTotal,
		m.TokensIssuedTotal,
		m.TokensSweptTotal,
		m.TokensHeld,
		m.UploadsTotal,
		m.UploadBytesTotal,
		m.RateLimitHitsTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordLiveSessionStart() {
	if m == nil {
		return
	}
	m.LiveSessionsActive.Inc()
	m.TokensIssuedTotal.Inc()
}

func (m *Metrics) RecordLiveSessionEnd(reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.LiveSessionsActive.Dec()
	m.LiveSessionsTotal.WithLabelValues(reason).Inc()
	m.LiveSessionDuration.Observe(duration.Seconds())
}

// RecordLiveAudio counts audio bytes; direction is "in" or "out".
func (m *Metrics) RecordLiveAudio(direction string, bytes int) {
	if m == nil || bytes <= 0 {
		return
	}
	m.LiveAudioBytesTotal.WithLabelValues(direction).Add(float64(bytes))
}

func (m *Metrics) RecordDroppedFrame(cause string) {
	if m == nil {
		return
	}
	m.LiveDroppedFrames.WithLabelValues(cause).Inc()
}

func (m *Metrics) RecordError(code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(code).Inc()
}

func (m *Metrics) RecordRateLimitHit() {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.Inc()
}

func (m *Metrics) RecordTokensSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TokensSweptTotal.Add(float64(n))
}

func (m *Metrics) RecordUpload(status int, bytes int64) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(statusLabel(status)).Inc()
	if bytes > 0 {
		m.UploadBytesTotal.Add(float64(bytes))
	}
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 200 && status < 300:
		return "2xx"
	default:
		return "other"
	}
}
