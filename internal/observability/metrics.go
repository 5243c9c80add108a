package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "mubitt_dispatch", Name: "matches_total", Help: "Trips successfully matched to a driver"})
	MatchLatency  = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "mubitt_dispatch", Name: "match_latency_seconds", Help: "Time from match start to driver acceptance"})
	MatchFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "mubitt_dispatch", Name: "match_failures_total", Help: "Matches that exhausted all candidates"})

	OffersIssued   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "mubitt_dispatch", Name: "offers_issued_total", Help: "Match offers issued to drivers"})
	OffersRejected = promauto.NewCounter(prometheus.CounterOpts{Namespace: "mubitt_dispatch", Name: "offers_rejected_total", Help: "Match offers rejected by drivers"})
	OffersExpired  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "mubitt_dispatch", Name: "offers_expired_total", Help: "Match offers that timed out"})

	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "mubitt_dispatch", Name: "drivers_online", Help: "Drivers currently online"})

	TripTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "mubitt_dispatch", Name: "trip_transitions_total", Help: "Trip state transitions applied"},
		[]string{"to"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "mubitt_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mubitt_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
