// Package metrics exports engine measurements as Prometheus collectors.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/surge-downloader/surgemirror/internal/engine/types"
)

const namespace = "surgemirror"

// Recorder holds the engine collectors. It satisfies download.Observer.
type Recorder struct {
	Chunks          *prometheus.CounterVec
	Bytes           *prometheus.CounterVec
	ChunkDuration   *prometheus.HistogramVec
	Concurrency     prometheus.Gauge
	ChunkSize       prometheus.Gauge
	CongestionScore prometheus.Gauge
	Failovers       *prometheus.CounterVec
	Downloads       *prometheus.CounterVec
	DownloadTime    prometheus.Histogram
	CacheLookups    *prometheus.CounterVec
}

// NewRecorder builds unregistered collectors
func NewRecorder() *Recorder {
	return &Recorder{
		Chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Chunk requests by source and result.",
		}, []string{"source", "result"}),
		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Bytes written to destinations, by source.",
		}, []string{"source"}),
		ChunkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_duration_seconds",
			Help:      "Wall time of successful chunk requests.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"source"}),
		Concurrency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "concurrency",
			Help:      "Most recent adaptive concurrency.",
		}),
		ChunkSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chunk_size_bytes",
			Help:      "Most recent adaptive chunk size.",
		}),
		CongestionScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "congestion_score",
			Help:      "Congestion score (0-1) at the last parameter change.",
		}),
		Failovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failovers_total",
			Help:      "URLs abandoned, by source and error kind.",
		}, []string{"source", "kind"}),
		Downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Finished downloads by result.",
		}, []string{"result"}),
		DownloadTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Duration of successful downloads.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Download cache lookups by result.",
		}, []string{"result"}),
	}
}

func (r *Recorder) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.Chunks, r.Bytes, r.ChunkDuration, r.Concurrency, r.ChunkSize,
		r.CongestionScore, r.Failovers, r.Downloads, r.DownloadTime, r.CacheLookups,
	}
}

// Register adds every collector to reg. Collectors already registered are skipped.
func (r *Recorder) Register(reg prometheus.Registerer) error {
	for _, c := range r.collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func (r *Recorder) ObserveChunk(source string, o types.ChunkOutcome) {
	result := "success"
	if !o.Success {
		result = o.ErrorKind.String()
	}
	r.Chunks.WithLabelValues(source, result).Inc()
	if o.BytesWritten > 0 {
		r.Bytes.WithLabelValues(source).Add(float64(o.BytesWritten))
	}
	if o.Success {
		r.ChunkDuration.WithLabelValues(source).Observe(o.Duration.Seconds())
	}
}

func (r *Recorder) ObserveParams(p types.AdaptiveParams, congestion float64) {
	r.Concurrency.Set(float64(p.Concurrency))
	r.ChunkSize.Set(float64(p.ChunkSize))
	r.CongestionScore.Set(congestion)
}

func (r *Recorder) ObserveFailover(source string, kind types.ErrorKind) {
	r.Failovers.WithLabelValues(source, kind.String()).Inc()
}

func (r *Recorder) ObserveDownload(res *types.DownloadResult, err error) {
	if err != nil {
		r.Downloads.WithLabelValues(types.KindOf(err).String()).Inc()
		return
	}
	r.Downloads.WithLabelValues("success").Inc()
	if res != nil && !res.FromCache {
		r.DownloadTime.Observe(res.Duration.Seconds())
	}
}

// ObserveCache counts a cache lookup
func (r *Recorder) ObserveCache(hit bool) {
	if hit {
		r.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	r.CacheLookups.WithLabelValues("miss").Inc()
}
