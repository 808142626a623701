package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MeKo-Tech/qrlens/internal/pipeline"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrlens_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qrlens_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Decode metrics. source is image, pdf or frames; outcome is decoded,
	// empty or error.
	scanRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrlens_scan_requests_total",
			Help: "Total number of scan requests",
		},
		[]string{"source", "outcome"},
	)

	scanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qrlens_scan_duration_seconds",
			Help:    "Time spent decoding one image or frame",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"source"},
	)

	decodeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrlens_decode_failures_total",
			Help: "Frames and images that yielded no symbol, by failure kind",
		},
		[]string{"source", "kind"},
	)

	correctedErrors = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qrlens_corrected_errors",
			Help:    "Codeword errors corrected per decoded symbol",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrlens_result_cache_lookups_total",
			Help: "Upload result cache lookups",
		},
		[]string{"result"}, // hit, miss
	)

	rateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qrlens_rate_limit_hits_total",
			Help: "Total number of rate limited requests",
		},
	)

	uploadSizeBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qrlens_upload_size_bytes",
			Help:    "Size of uploaded files in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024},
		},
		[]string{"type"},
	)

	// WebSocket metrics
	websocketSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qrlens_websocket_active_sessions",
			Help: "Number of open frame streaming sessions",
		},
	)

	websocketFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrlens_websocket_frames_total",
			Help: "Frames received over websocket sessions",
		},
		[]string{"status"}, // accepted, dropped, throttled, invalid
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrlens_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // sent, received
	)
)

// frameObserver feeds scanner outcomes into the frame metrics.
type frameObserver struct{}

func (frameObserver) ObserveDecode(kind string, elapsed time.Duration, corrected int) {
	scanDuration.WithLabelValues("frames").Observe(elapsed.Seconds())
	if kind == "" {
		scanRequestsTotal.WithLabelValues("frames", "decoded").Inc()
		correctedErrors.Observe(float64(corrected))
		return
	}
	scanRequestsTotal.WithLabelValues("frames", "empty").Inc()
	decodeFailuresTotal.WithLabelValues("frames", kind).Inc()
}

func (frameObserver) ObserveDrop() {
	websocketFramesTotal.WithLabelValues("dropped").Inc()
}

// observeScan records the outcome of one scanned image.
func observeScan(source string, res *pipeline.ImageResult, elapsed time.Duration) {
	scanDuration.WithLabelValues(source).Observe(elapsed.Seconds())
	if !res.Found() {
		scanRequestsTotal.WithLabelValues(source, "empty").Inc()
		if res != nil && res.Reason != "" {
			decodeFailuresTotal.WithLabelValues(source, res.Reason).Inc()
		}
		return
	}
	scanRequestsTotal.WithLabelValues(source, "decoded").Inc()
	for _, sym := range res.Symbols {
		correctedErrors.Observe(float64(sym.CorrectedErrors))
	}
}
