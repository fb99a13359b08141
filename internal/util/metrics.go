package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReconcileCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_cycles_total",
		Help: "Total number of completed reconciliation cycles",
	})

	ReconcileCyclesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_cycles_failed_total",
		Help: "Total number of failed reconciliation cycles",
	}, []string{"reason"})

	ItemsResolvedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "items_resolved_total",
		Help: "Total number of line items priced by the resolver",
	})

	ItemsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "items_skipped_total",
		Help: "Total number of line items skipped during a cycle",
	}, []string{"reason"})

	ItemsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "items_deleted_total",
		Help: "Total number of line items removed from the ledger",
	})

	LedgerWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_writes_total",
		Help: "Total number of item-level ledger writes",
	})

	LedgerWritesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_writes_skipped_total",
		Help: "Total number of ledger writes skipped because values were unchanged",
	})

	DriftWarningsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drift_warnings_total",
		Help: "Total number of drift warnings by kind",
	}, []string{"kind"})

	LedgerRecalcLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_recalc_latency_seconds",
		Help:    "Latency of ledger aggregate recalculation",
		Buckets: prometheus.DefBuckets,
	})

	CatalogLookupsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_lookups_failed_total",
		Help: "Total number of failed catalog product lookups",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
