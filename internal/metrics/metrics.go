package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GenerationMetrics tracks batches and individual image requests
var GenerationMetrics = struct {
	Requests  *prometheus.CounterVec
	Latency   *prometheus.HistogramVec
	Batches   *prometheus.CounterVec
	InFlight  prometheus.Gauge
	QuotaSync *prometheus.CounterVec
}{
	Requests: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stickerstudio_generation_requests_total",
			Help: "Image generation requests, split by model and outcome",
		},
		[]string{"model", "status"},
	),
	Latency: promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stickerstudio_generation_duration_seconds",
			Help:    "Time taken by a single image generation request",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"model"},
	),
	Batches: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stickerstudio_generation_batches_total",
			Help: "Generation batches, split by outcome of the admission check",
		},
		[]string{"result"},
	),
	InFlight: promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stickerstudio_generation_in_flight",
			Help: "Generation requests currently awaiting a response",
		},
	),
	QuotaSync: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stickerstudio_quota_sync_total",
			Help: "Remote quota reconciliation attempts, split by outcome",
		},
		[]string{"result"},
	),
}

func RecordGeneration(model, status string, took time.Duration) {
	GenerationMetrics.Requests.WithLabelValues(model, status).Inc()
	GenerationMetrics.Latency.WithLabelValues(model).Observe(took.Seconds())
}

func RecordBatch(result string) {
	GenerationMetrics.Batches.WithLabelValues(result).Inc()
}

func RecordQuotaSync(result string) {
	GenerationMetrics.QuotaSync.WithLabelValues(result).Inc()
}

// ExportMetrics tracks pack archives, upscales and editor exports
var ExportMetrics = struct {
	Archives     *prometheus.CounterVec
	ArchiveFiles *prometheus.CounterVec
	Upscales     *prometheus.CounterVec
	Renders      *prometheus.CounterVec
	RenderTime   prometheus.Histogram
}{
	Archives: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stickerstudio_pack_archives_total",
			Help: "Pack archives produced, split by outcome",
		},
		[]string{"result"},
	),
	ArchiveFiles: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stickerstudio_pack_archive_files_total",
			Help: "Sticker images considered for pack archives, split by fetched or skipped",
		},
		[]string{"result"},
	),
	Upscales: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stickerstudio_upscales_total",
			Help: "Upscale operations, split by outcome",
		},
		[]string{"result"},
	),
	Renders: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stickerstudio_editor_exports_total",
			Help: "Editor canvas exports, split by format",
		},
		[]string{"format"},
	),
	RenderTime: promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stickerstudio_editor_export_duration_seconds",
			Help:    "Time taken to flatten and encode an editor canvas",
			Buckets: prometheus.DefBuckets,
		},
	),
}

func RecordArchive(result string, fetched, skipped int) {
	ExportMetrics.Archives.WithLabelValues(result).Inc()
	ExportMetrics.ArchiveFiles.WithLabelValues("fetched").Add(float64(fetched))
	ExportMetrics.ArchiveFiles.WithLabelValues("skipped").Add(float64(skipped))
}

func RecordUpscale(result string) {
	ExportMetrics.Upscales.WithLabelValues(result).Inc()
}

func RecordRender(format string, took time.Duration) {
	ExportMetrics.Renders.WithLabelValues(format).Inc()
	ExportMetrics.RenderTime.Observe(took.Seconds())
}

// StoreMetrics mirrors collection sizes after every commit
var StoreMetrics = struct {
	Stickers prometheus.Gauge
	Packs    prometheus.Gauge
	Used     prometheus.Gauge
}{
	Stickers: promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stickerstudio_stickers",
		Help: "Stickers in the collection",
	}),
	Packs: promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stickerstudio_packs",
		Help: "Sticker packs",
	}),
	Used: promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stickerstudio_generations_used",
		Help: "Generations used by the current user",
	}),
}

func UpdateStoreSizes(stickers, packs, used int) {
	StoreMetrics.Stickers.Set(float64(stickers))
	StoreMetrics.Packs.Set(float64(packs))
	StoreMetrics.Used.Set(float64(used))
}
