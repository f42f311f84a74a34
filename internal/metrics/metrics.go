package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RateRequestsTotal       prometheus.Counter
	ConversionRequestsTotal prometheus.Counter
	HistoricalRequestsTotal prometheus.Counter

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// New registers all collectors against reg. Tests pass a private registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RateRequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rate_requests_total",
			Help: "Total number of latest rate requests",
		}),
		ConversionRequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "conversion_requests_total",
			Help: "Total number of currency conversion requests",
		}),
		HistoricalRequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "historical_requests_total",
			Help: "Total number of historical rate requests",
		}),
		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rate_cache_hits_total",
			Help: "Total number of rate cache hits",
		}),
		CacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rate_cache_misses_total",
			Help: "Total number of rate cache misses",
		}),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"path", "method", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
	}
}
