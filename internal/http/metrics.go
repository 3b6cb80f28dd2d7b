package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records session telemetry on its own registry and implements core.MetricsRecorder.
type Metrics struct {
	registry *prometheus.Registry

	CommandsTotal            *prometheus.CounterVec
	DeviceEventsTotal        *prometheus.CounterVec
	ErrorsTotal              *prometheus.CounterVec
	PlayRetriesTotal         prometheus.Counter
	DeviceReady              prometheus.Gauge
	RecommendationPollsTotal *prometheus.CounterVec
	RateLimitedTotal         prometheus.Counter
	RequestDuration          *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunechat_commands_total",
				Help: "Total number of playback commands by outcome",
			},
			[]string{"command", "status"},
		),
		DeviceEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunechat_device_events_total",
				Help: "Total number of events reported by the playback device",
			},
			[]string{"event"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunechat_errors_total",
				Help: "Total number of surfaced errors",
			},
			[]string{"kind"},
		),
		PlayRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tunechat_play_retries_total",
				Help: "Total number of play requests retried while the device was not ready",
			},
		),
		DeviceReady: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tunechat_device_ready",
				Help: "Whether the playback device is ready (1) or not (0)",
			},
		),
		RecommendationPollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunechat_recommendation_polls_total",
				Help: "Total number of recommendation polls by outcome",
			},
			[]string{"status"},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tunechat_rate_limited_total",
				Help: "Total number of API requests rejected by the command limiter",
			},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tunechat_http_request_duration_seconds",
				Help:    "Time spent serving control API requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.CommandsTotal,
		m.DeviceEventsTotal,
		m.ErrorsTotal,
		m.PlayRetriesTotal,
		m.DeviceReady,
		m.RecommendationPollsTotal,
		m.RateLimitedTotal,
		m.RequestDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordCommand(command, status string) {
	m.CommandsTotal.WithLabelValues(command, status).Inc()
}

func (m *Metrics) RecordDeviceEvent(event string) {
	m.DeviceEventsTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordError(kind string) {
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordPlayRetry() {
	m.PlayRetriesTotal.Inc()
}

func (m *Metrics) SetDeviceReady(ready bool) {
	if ready {
		m.DeviceReady.Set(1)
		return
	}
	m.DeviceReady.Set(0)
}

func (m *Metrics) RecordRecommendationPoll(status string) {
	m.RecommendationPollsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) recordRateLimited() {
	m.RateLimitedTotal.Inc()
}
