package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Resolution metrics
	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkresolver_resolutions_total",
			Help: "Total number of short code resolutions by outcome",
		},
		[]string{"outcome"}, // "redirect", "not_found", "rejected", "error"
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkresolver_cache_lookups_total",
			Help: "Read-through cache lookups by result",
		},
		[]string{"result"}, // "hit", "miss", "error"
	)

	// Visit recorder metrics
	VisitIncrements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkresolver_visit_increments_total",
			Help: "Asynchronous visit count increments by result",
		},
		[]string{"result"}, // "ok", "failed", "dropped"
	)

	VisitQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "linkresolver_visit_queue_depth",
			Help: "Number of pending visit increments",
		},
	)

	// Link management metrics
	LinksCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkresolver_links_created_total",
			Help: "Total number of created links",
		},
		[]string{"kind"}, // "generated", "alias"
	)

	CodeCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linkresolver_code_collisions_total",
			Help: "Generated codes rejected by the store's uniqueness constraint",
		},
	)

	// Request metrics
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkresolver_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route", "status"},
	)
)
