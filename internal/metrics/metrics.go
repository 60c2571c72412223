package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	DownloadEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "delta",
			Name:      "download_events_total",
			Help:      "Count of download events processed by the reconciler.",
		},
		[]string{"type"},
	)

	DownloadsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "delta",
			Name:      "downloads_finished_total",
			Help:      "Downloads that reached a terminal state.",
		},
		[]string{"state"},
	)

	BytesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "delta",
			Name:      "bytes_received_total",
			Help:      "Body bytes accepted by download sinks.",
		},
	)

	TransportErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "delta",
			Name:      "transport_errors_total",
			Help:      "Errors raised by the HTTP transport.",
		},
		[]string{"stage"},
	)

	ResponseLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "delta",
			Name:      "response_latency_seconds",
			Help:      "Time from request submission to response headers.",
		},
		[]string{"code"},
	)

	ActiveDownloads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "delta",
			Name:      "active_downloads",
			Help:      "Number of downloads currently running.",
		},
	)
)

// Register registers the collectors into the default registry.
func Register() {
	prometheus.MustRegister(DownloadEvents, DownloadsFinished, BytesReceived, TransportErrors, ResponseLatency, ActiveDownloads)
}
