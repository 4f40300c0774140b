// Package metrics exposes Prometheus metrics for the cache and poller.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts IsCached lookups that found a usable entry.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datadock_cache_hits_total",
		Help: "Cache lookups that found both the file and its metadata record",
	})

	// CacheMisses counts IsCached lookups that found nothing usable.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datadock_cache_misses_total",
		Help: "Cache lookups that missed (no file, no record, or out of sync)",
	})

	// Downloads counts download attempts by outcome.
	Downloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datadock_downloads_total",
		Help: "File downloads by outcome",
	}, []string{"outcome"})

	// DedupRowsRemoved counts duplicate rows stripped from parquet files.
	DedupRowsRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datadock_dedup_rows_removed_total",
		Help: "Duplicate rows removed from cached parquet files",
	})

	// StalenessChecks counts poller update checks by result.
	StalenessChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datadock_staleness_checks_total",
		Help: "Remote version checks by result (fresh, stale, error)",
	}, []string{"result"})

	// CachedFiles reports the number of files currently tracked.
	CachedFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "datadock_cached_files",
		Help: "Files currently present in the disk cache",
	})
)
