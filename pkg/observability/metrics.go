package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Access metrics
	AccessChecksTotal   *prometheus.CounterVec
	AccessCheckDuration *prometheus.HistogramVec

	// Cache metrics
	ResolutionCacheTotal    *prometheus.CounterVec
	CacheInvalidationsTotal *prometheus.CounterVec
	SharedCacheErrorsTotal  prometheus.Counter

	// Data metrics
	MembershipMutationsTotal *prometheus.CounterVec
	RoleMutationsTotal       *prometheus.CounterVec
	OrphansPurgedTotal       *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics. A nil registry
// creates unregistered collectors, which is what tests usually want.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		AccessChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "og_access_checks_total",
				Help: "Total number of group access decisions",
			},
			[]string{"result", "rule"},
		),
		AccessCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "og_access_check_duration_seconds",
				Help:    "Group access decision duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
			},
			[]string{"operation"},
		),
		ResolutionCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "og_resolution_cache_total",
				Help: "Resolution cache lookups by alteration pass and result",
			},
			[]string{"pass", "result"},
		),
		CacheInvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "og_cache_invalidations_total",
				Help: "Cache invalidations by triggering event",
			},
			[]string{"reason"},
		),
		SharedCacheErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "og_shared_cache_errors_total",
				Help: "Errors talking to the shared snapshot cache",
			},
		),
		MembershipMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "og_membership_mutations_total",
				Help: "Membership saves and deletes",
			},
			[]string{"op"},
		),
		RoleMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "og_role_mutations_total",
				Help: "Role saves and deletes",
			},
			[]string{"op"},
		),
		OrphansPurgedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "og_orphans_purged_total",
				Help: "Rows removed by the orphan purge job",
			},
			[]string{"kind"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.AccessChecksTotal,
			m.AccessCheckDuration,
			m.ResolutionCacheTotal,
			m.CacheInvalidationsTotal,
			m.SharedCacheErrorsTotal,
			m.MembershipMutationsTotal,
			m.RoleMutationsTotal,
			m.OrphansPurgedTotal,
		)
	}

	return m
}

// Handler returns the Prometheus scrape handler for registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
