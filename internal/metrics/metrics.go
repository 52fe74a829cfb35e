// Package metrics exposes Prometheus counters and histograms for probes,
// downloads and served bytes.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lvcoi/tubeform/internal/downloader"
	"github.com/lvcoi/tubeform/internal/media"
)

const namespace = "tubeform"

// Metrics implements downloader.Observer and records web-side counters.
type Metrics struct {
	registry *prometheus.Registry

	probesTotal      *prometheus.CounterVec
	probeSeconds     *prometheus.HistogramVec
	downloadsTotal   *prometheus.CounterVec
	downloadSeconds  *prometheus.HistogramVec
	artifactBytes    *prometheus.HistogramVec
	fallbacksTotal   prometheus.Counter
	bytesServedTotal prometheus.Counter
	inProgress       prometheus.Gauge
}

var _ downloader.Observer = (*Metrics)(nil)

// New creates the metrics on a private registry, including Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Metadata fetches by extractor and outcome.",
		},
		[]string{"extractor", "status", "category"},
	)
	m.probeSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Metadata fetch duration.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"extractor"},
	)
	m.downloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Downloads by artifact kind and outcome.",
		},
		[]string{"kind", "status", "category"},
	)
	m.downloadSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Download duration including post-processing.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"kind"},
	)
	m.artifactBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "artifact_size_bytes",
			Help:      "Size of produced artifacts.",
			Buckets: []float64{
				1 << 20,   // 1MB
				10 << 20,  // 10MB
				100 << 20, // 100MB
				500 << 20, // 500MB
				1 << 30,   // 1GB
				4 << 30,   // 4GB
			},
		},
		[]string{"kind"},
	)
	m.fallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fallback_retries_total",
		Help:      "Downloads retried with the fallback format selector.",
	})
	m.bytesServedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "served_bytes_total",
		Help:      "Bytes streamed back to browsers.",
	})
	m.inProgress = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "downloads_in_progress",
		Help:      "Downloads currently running.",
	})

	m.registry.MustRegister(
		m.probesTotal,
		m.probeSeconds,
		m.downloadsTotal,
		m.downloadSeconds,
		m.artifactBytes,
		m.fallbacksTotal,
		m.bytesServedTotal,
		m.inProgress,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveProbe(extractor string, elapsed time.Duration, err error) {
	status, category := outcome(err)
	m.probesTotal.WithLabelValues(extractor, status, category).Inc()
	m.probeSeconds.WithLabelValues(extractor).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveDownload(kind media.Kind, elapsed time.Duration, size int64, err error) {
	status, category := outcome(err)
	m.downloadsTotal.WithLabelValues(string(kind), status, category).Inc()
	m.downloadSeconds.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	if err == nil && size > 0 {
		m.artifactBytes.WithLabelValues(string(kind)).Observe(float64(size))
	}
}

func (m *Metrics) ObserveFallback() {
	m.fallbacksTotal.Inc()
}

// AddServedBytes counts bytes written to a client.
func (m *Metrics) AddServedBytes(n int64) {
	if n > 0 {
		m.bytesServedTotal.Add(float64(n))
	}
}

// DownloadStarted and DownloadFinished track concurrent downloads.
func (m *Metrics) DownloadStarted()  { m.inProgress.Inc() }
func (m *Metrics) DownloadFinished() { m.inProgress.Dec() }

func outcome(err error) (status, category string) {
	switch {
	case err == nil:
		return "success", ""
	case errors.Is(err, context.Canceled):
		return "canceled", ""
	default:
		return "error", string(downloader.CategoryOf(err))
	}
}
