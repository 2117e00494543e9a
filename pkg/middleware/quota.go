package middleware

import (
	"net/http"

	"github.com/SylTi/saascore/pkg/httputil"
	"github.com/SylTi/saascore/pkg/observability"
	"github.com/SylTi/saascore/pkg/tenants"
)

// QuotaGate runs quota pre-flight checks before increment-causing routes.
// The checks are advisory; the database constraints behind the actual insert
// remain the authoritative guard against races.
type QuotaGate struct {
	tenants *tenants.PostgresService
}

// NewQuotaGate creates a QuotaGate.
func NewQuotaGate(service *tenants.PostgresService) *QuotaGate {
	return &QuotaGate{tenants: service}
}

// check loads the tenant and applies one quota check, translating a quota
// error into the QuotaExceeded payload.
func (g *QuotaGate) check(checkFn func(r *http.Request, tenant *tenants.Tenant) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)
			if authCtx == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			tx := TxFromContext(r.Context())
			if tx == nil {
				httputil.WriteInternalError(w)
				return
			}

			tenant, err := g.tenants.GetTenant(r.Context(), tx, authCtx.TenantID)
			if err != nil {
				httputil.WriteNotFound(w, "tenant not found")
				return
			}

			if err := checkFn(r, tenant); err != nil {
				if tenants.IsQuotaExceeded(err) {
					quotaErr := err.(*tenants.QuotaExceededError)
					observability.QuotaRejections.WithLabelValues(quotaErr.Resource).Inc()
					httputil.WriteQuotaExceeded(w, quotaErr.Error())
					return
				}
				httputil.WriteInternalError(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireMemberCapacity blocks the request when adding one member would
// exceed the members limit.
func (g *QuotaGate) RequireMemberCapacity() func(http.Handler) http.Handler {
	return g.check(func(r *http.Request, tenant *tenants.Tenant) error {
		return g.tenants.CheckMemberQuota(r.Context(), tenant)
	})
}

// RequireInvitationCapacity blocks the request when one more pending
// invitation would exceed the limit.
func (g *QuotaGate) RequireInvitationCapacity() func(http.Handler) http.Handler {
	return g.check(func(r *http.Request, tenant *tenants.Tenant) error {
		return g.tenants.CheckInvitationQuota(r.Context(), tenant)
	})
}
