// Package metrics provides Prometheus-compatible metrics collection for
// scrape throughput, dedup efficiency, and session pool utilization.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leadscraper"

// Collector holds every metric the server and pipeline report against.
type Collector struct {
	ScrapesStarted   prometheus.Counter
	ScrapesCompleted prometheus.Counter
	ScrapesFailed    prometheus.Counter

	CardsExtracted   prometheus.Counter
	DuplicatesSkipped prometheus.Counter
	ScrapeDuration   prometheus.Histogram

	ActiveSessions prometheus.Gauge
	PoolInUse      prometheus.Gauge
	PoolWaiting    prometheus.Gauge

	DedupEfficiency prometheus.Gauge
	CursorHits      *prometheus.CounterVec // kind: exact|fuzzy|miss

	SelectorFailures *prometheus.CounterVec // field name

	mu                sync.RWMutex
	totalCards        int64
	totalDuplicates   int64
}

// New builds and registers a Collector. Callers should keep one per process.
func New() *Collector {
	c := &Collector{
		ScrapesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "scrapes_started_total", Help: "Scrapes started",
		}),
		ScrapesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "scrapes_completed_total", Help: "Scrapes completed successfully",
		}),
		ScrapesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "scrapes_failed_total", Help: "Scrapes that ended in failure",
		}),
		CardsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cards_extracted_total", Help: "Business cards successfully extracted",
		}),
		DuplicatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "duplicates_skipped_total", Help: "Cards skipped by the dedup layer",
		}),
		ScrapeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "scrape_duration_seconds", Help: "End-to-end scrape duration",
			Buckets: []float64{5, 10, 30, 60, 120, 300, 600, 1200},
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_sessions", Help: "Browser sessions currently open in the pool",
		}),
		PoolInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_in_use", Help: "Session pool slots in use",
		}),
		PoolWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_waiting", Help: "Callers blocked waiting for a pool slot",
		}),
		DedupEfficiency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "dedup_efficiency", Help: "duplicates / (new + duplicates), rolling",
		}),
		CursorHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cursor_resolutions_total", Help: "Cursor lookups by resolution kind",
		}, []string{"kind"}),
		SelectorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "selector_failures_total", Help: "Field extractions that fell through every selector",
		}, []string{"field"}),
	}
	prometheus.MustRegister(
		c.ScrapesStarted, c.ScrapesCompleted, c.ScrapesFailed,
		c.CardsExtracted, c.DuplicatesSkipped, c.ScrapeDuration,
		c.ActiveSessions, c.PoolInUse, c.PoolWaiting,
		c.DedupEfficiency, c.CursorHits, c.SelectorFailures,
	)
	return c
}

// RecordCard records one extracted card and recomputes dedup efficiency.
func (c *Collector) RecordCard(duplicate bool) {
	c.mu.Lock()
	if duplicate {
		c.totalDuplicates++
	} else {
		c.totalCards++
	}
	total := c.totalCards + c.totalDuplicates
	dup := c.totalDuplicates
	c.mu.Unlock()

	if duplicate {
		c.DuplicatesSkipped.Inc()
	} else {
		c.CardsExtracted.Inc()
	}
	if total > 0 {
		c.DedupEfficiency.Set(float64(dup) / float64(total))
	}
}

// ObserveScrapeDuration records d as a completed scrape's wall time.
func (c *Collector) ObserveScrapeDuration(d time.Duration) {
	c.ScrapeDuration.Observe(d.Seconds())
}

// Handler returns the http.Handler to mount at /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.Handler()
}
