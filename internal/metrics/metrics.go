// Package metrics exposes Prometheus instrumentation for the core engines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetryAttempts counts retried transient upstream failures.
	RetryAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lasthop",
		Name:      "retry_attempts_total",
		Help:      "Transient upstream failures that triggered a retry.",
	})

	// LastfmErrors counts Last.fm calls that failed after retries.
	LastfmErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lasthop",
		Name:      "lastfm_errors_total",
		Help:      "Last.fm API calls that exhausted retries or failed outright.",
	})

	// DayFetchFailures counts anniversary days dropped from an aggregation run.
	DayFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lasthop",
		Name:      "day_fetch_failures_total",
		Help:      "Per-day history fetches that failed and were omitted.",
	})

	// SearchCache counts search-cache outcomes by result
	// (hit, miss, expired, no_date, integrity_error).
	SearchCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lasthop",
		Name:      "search_cache_total",
		Help:      "Spotify search cache lookups by outcome.",
	}, []string{"outcome"})

	// PlaylistTracks observes how many tracks each built playlist received.
	PlaylistTracks = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "lasthop",
		Name:      "playlist_tracks",
		Help:      "Tracks written per assembled playlist.",
		Buckets:   prometheus.LinearBuckets(0, 20, 8),
	})

	// AuthorizationFailures counts playlist writes rejected for lack of consent.
	AuthorizationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lasthop",
		Name:      "spotify_authorization_failures_total",
		Help:      "Spotify playlist operations rejected with 401/403.",
	})

	// Users tracks the number of known listener profiles.
	Users = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lasthop",
		Name:      "users",
		Help:      "Listener profiles in the document store.",
	})

	// DaysVisited counts stats recomputes across all listeners.
	DaysVisited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lasthop",
		Name:      "days_visited_total",
		Help:      "Live stats recomputes (cache misses) across all listeners.",
	})
)
