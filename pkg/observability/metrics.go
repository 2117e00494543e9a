package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts requests by method, route, and status class.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saascore_http_requests_total",
		Help: "Total HTTP requests processed.",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration observes request latency per route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "saascore_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// RBACDenials counts authorization denials by role and the first
	// denied action.
	RBACDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saascore_rbac_denials_total",
		Help: "Requests rejected by role-based access control.",
	}, []string{"role", "action"})

	// QuotaRejections counts operations rejected by tier quota limits.
	QuotaRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saascore_quota_rejections_total",
		Help: "Operations rejected because a tenant quota was exhausted.",
	}, []string{"resource"})

	// CouponRedemptions counts redemption attempts by outcome
	// (redeemed, not_found, not_redeemable, tenant_not_found).
	CouponRedemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saascore_coupon_redemptions_total",
		Help: "Coupon redemption attempts by outcome.",
	}, []string{"outcome"})

	// TenantCacheHits and TenantCacheMisses track the Redis tenant cache.
	TenantCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saascore_tenant_cache_hits_total",
		Help: "Tenant cache lookups served from Redis.",
	})
	TenantCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saascore_tenant_cache_misses_total",
		Help: "Tenant cache lookups that fell through to Postgres.",
	})

	// NotificationsFanned counts notifications written by fan-out sends.
	NotificationsFanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saascore_notifications_sent_total",
		Help: "Notifications persisted for recipients.",
	})
)

// MetricsMiddleware records request counts and latency. Route should be the
// mux route template so cardinality stays bounded.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		mw := &metricsWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(mw, r)

		route := routeTemplate(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(mw.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type metricsWriter struct {
	http.ResponseWriter
	status int
}

func (w *metricsWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}
