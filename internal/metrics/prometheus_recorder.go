package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once          sync.Once
	stageDuration *prom.HistogramVec
	runDuration   prom.Histogram
	stageResults  *prom.CounterVec
	runOutcome    *prom.CounterVec
	cacheHits     prom.Counter
	cacheMisses   prom.Counter
	fetchDuration *prom.HistogramVec
	fetchResults  *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics
// (idempotent). A nil registerer uses the default registry, which is what the
// daemon's /metrics endpoint serves.
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "docpress",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"})
		pr.runDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "docpress",
			Name:      "run_duration_seconds",
			Help:      "Total pipeline run duration",
			Buckets:   prom.DefBuckets,
		})
		pr.stageResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docpress",
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"})
		pr.runOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docpress",
			Name:      "run_outcomes_total",
			Help:      "Pipeline run outcomes by final status",
		}, []string{"outcome"})
		pr.cacheHits = prom.NewCounter(prom.CounterOpts{
			Namespace: "docpress",
			Name:      "dependency_cache_hits_total",
			Help:      "Staging runs satisfied entirely from the dependency cache",
		})
		pr.cacheMisses = prom.NewCounter(prom.CounterOpts{
			Namespace: "docpress",
			Name:      "dependency_cache_misses_total",
			Help:      "Staging runs that had to fetch at least one dependency",
		})
		pr.fetchDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "docpress",
			Name:      "dependency_fetch_duration_seconds",
			Help:      "Duration of individual dependency fetch operations",
			Buckets:   prom.DefBuckets,
		}, []string{"dependency", "result"})
		pr.fetchResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docpress",
			Name:      "dependency_fetch_results_total",
			Help:      "Dependency fetch results by success/failure",
		}, []string{"result"})
		reg.MustRegister(pr.stageDuration, pr.runDuration, pr.stageResults, pr.runOutcome, pr.cacheHits, pr.cacheMisses, pr.fetchDuration, pr.fetchResults)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil || p.runDuration == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil || p.stageResults == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) IncRunOutcome(outcome OutcomeLabel) {
	if p == nil || p.runOutcome == nil {
		return
	}
	p.runOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncCacheHit() {
	if p == nil || p.cacheHits == nil {
		return
	}
	p.cacheHits.Inc()
}

func (p *PrometheusRecorder) IncCacheMiss() {
	if p == nil || p.cacheMisses == nil {
		return
	}
	p.cacheMisses.Inc()
}

func (p *PrometheusRecorder) ObserveFetchDuration(dependency string, d time.Duration, success bool) {
	if p == nil || p.fetchDuration == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.fetchDuration.WithLabelValues(dependency, res).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncFetchResult(success bool) {
	if p == nil || p.fetchResults == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.fetchResults.WithLabelValues(res).Inc()
}
