package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTP метрики
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"method", "path"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests in flight",
		},
	)

	// Купоны
	CouponIssuanceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_issuance_total",
			Help: "Issuance attempts by result",
		},
		[]string{"result"},
	)
	CouponRedemptionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_redemption_total",
			Help: "Redemption attempts by result",
		},
		[]string{"result"},
	)
	CouponCodeCollisionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coupon_code_collisions_total",
			Help: "Generated redemption codes that were already taken",
		},
	)
	CouponOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coupon_operation_duration_seconds",
			Help:    "Duration of coupon operations in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"op"},
	)
	CouponEventsPublishFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coupon_events_publish_failures_total",
			Help: "Voucher events that could not be published",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(HTTPRequestsInFlight)

	prometheus.MustRegister(CouponIssuanceTotal)
	prometheus.MustRegister(CouponRedemptionTotal)
	prometheus.MustRegister(CouponCodeCollisionsTotal)
	prometheus.MustRegister(CouponOperationDuration)
	prometheus.MustRegister(CouponEventsPublishFailuresTotal)
}
