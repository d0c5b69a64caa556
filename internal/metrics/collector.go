// Package metrics exposes Prometheus instrumentation for the voice pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voicetwin"

// Collector 指标收集器。nil 的 *Collector 可以安全调用，所有方法都是空操作。
type Collector struct {
	gatherer prometheus.Gatherer
	factory  promauto.Factory

	pipelineRequests *prometheus.CounterVec
	transcripts      *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	sessionsEvicted  prometheus.Counter
}

// New registers the collector's metrics on reg. Pass prometheus.NewRegistry()
// in tests to keep registrations isolated.
func New(reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		gatherer: reg,
		factory:  factory,
		pipelineRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_requests_total",
				Help:      "Voice pipeline executions by outcome and failing stage",
			},
			[]string{"outcome", "stage"},
		),
		transcripts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transcripts_total",
				Help:      "Transcription results by degradation kind",
			},
			[]string{"degradation"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each pipeline stage",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		sessionsEvicted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_evicted_total",
				Help:      "Sessions dropped by the LRU bound or idle expiry",
			},
		),
	}
}

// ObservePipeline counts one finished pipeline execution. stage is empty on success.
func (c *Collector) ObservePipeline(outcome, stage string) {
	if c == nil {
		return
	}
	c.pipelineRequests.WithLabelValues(outcome, stage).Inc()
}

// ObserveTranscript counts one transcription result.
func (c *Collector) ObserveTranscript(degradation string) {
	if c == nil {
		return
	}
	c.transcripts.WithLabelValues(degradation).Inc()
}

// ObserveStage records how long a stage took.
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// SessionEvicted counts one evicted session.
func (c *Collector) SessionEvicted() {
	if c == nil {
		return
	}
	c.sessionsEvicted.Inc()
}

// TrackSessions exposes fn as the live session gauge. Call it once per Collector.
func (c *Collector) TrackSessions(fn func() int) {
	if c == nil || fn == nil {
		return
	}
	c.factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently held in memory",
		},
		func() float64 { return float64(fn()) },
	)
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
