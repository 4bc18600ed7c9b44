package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wechaty",
			Subsystem: "puppet",
			Name:      "state_transitions_total",
			Help:      "Lifecycle state transitions.",
		},
		[]string{"from", "to"},
	)
	watchdogResets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wechaty",
			Subsystem: "watchdog",
			Name:      "resets_total",
			Help:      "Watchdog expiries.",
		},
		[]string{"watchdog"},
	)
	recoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wechaty",
			Subsystem: "puppet",
			Name:      "recoveries_total",
			Help:      "Recovery attempts by tier and outcome.",
		},
		[]string{"tier", "success"},
	)
	transportEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wechaty",
			Subsystem: "bridge",
			Name:      "events_total",
			Help:      "Events received from the transport.",
		},
		[]string{"event"},
	)
	uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wechaty",
			Subsystem: "media",
			Name:      "uploads_total",
			Help:      "Media uploads by media type and outcome.",
		},
		[]string{"media_type", "outcome"},
	)
	uploadBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wechaty",
			Subsystem: "media",
			Name:      "upload_bytes",
			Help:      "Size of uploaded payloads.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{"media_type"},
	)
	uploadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wechaty",
			Subsystem: "media",
			Name:      "upload_duration_seconds",
			Help:      "Upload duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"media_type", "outcome"},
	)
	cookieSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wechaty",
			Subsystem: "session",
			Name:      "cookie_saves_total",
			Help:      "Session cookie jar writes.",
		},
		[]string{"success"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wechaty",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wechaty",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			stateTransitions, watchdogResets, recoveries, transportEvents,
			uploads, uploadBytes, uploadDuration, cookieSaves,
			httpRequests, httpDuration,
		)
	})
}

func RecordStateTransition(from, to string) {
	RegisterMetrics()
	stateTransitions.WithLabelValues(from, to).Inc()
}

func RecordWatchdogReset(name string) {
	RegisterMetrics()
	watchdogResets.WithLabelValues(name).Inc()
}

func RecordRecovery(tier string, success bool) {
	RegisterMetrics()
	recoveries.WithLabelValues(tier, strconv.FormatBool(success)).Inc()
}

func RecordTransportEvent(event string) {
	RegisterMetrics()
	transportEvents.WithLabelValues(event).Inc()
}

func RecordUpload(mediaType, outcome string, size int64, duration time.Duration) {
	RegisterMetrics()
	uploads.WithLabelValues(mediaType, outcome).Inc()
	uploadDuration.WithLabelValues(mediaType, outcome).Observe(duration.Seconds())
	if outcome == "ok" {
		uploadBytes.WithLabelValues(mediaType).Observe(float64(size))
	}
}

func RecordCookieSave(success bool) {
	RegisterMetrics()
	cookieSaves.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
