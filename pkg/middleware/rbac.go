package middleware

import (
	"net/http"

	"github.com/SylTi/saascore/pkg/audit"
	"github.com/SylTi/saascore/pkg/httputil"
	"github.com/SylTi/saascore/pkg/observability"
	"github.com/SylTi/saascore/pkg/rbac"
)

// RBACMiddleware enforces role permissions on routes. Denials are audited
// when the action is sensitive and counted in metrics.
type RBACMiddleware struct {
	engine   *rbac.Engine
	recorder *audit.Recorder
}

// NewRBACMiddleware creates an RBACMiddleware. recorder may be nil to skip
// audit recording.
func NewRBACMiddleware(engine *rbac.Engine, recorder *audit.Recorder) *RBACMiddleware {
	return &RBACMiddleware{engine: engine, recorder: recorder}
}

// RequireActions gates a route on the caller's role allowing every listed
// action. The 403 payload lists the denied actions in the order they were
// required here, so clients can show which capabilities are missing.
func (m *RBACMiddleware) RequireActions(actions ...rbac.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)
			if authCtx == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			denied := m.engine.DeniedActions(authCtx.Role, actions)
			if len(denied) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			deniedStrings := make([]string, len(denied))
			for i, action := range denied {
				deniedStrings[i] = string(action)
				observability.RBACDenials.WithLabelValues(string(authCtx.Role), string(action)).Inc()
				if m.recorder != nil {
					m.recorder.RecordAction(r.Context(), authCtx.UserID, authCtx.TenantID,
						action, audit.StatusDenied, "insufficient role")
				}
			}
			httputil.WriteRbacDenied(w, deniedStrings)
		})
	}
}

// RequireOwnershipOrActions is RequireActions with the ownership bypass: the
// tenant owner passes for bypass-eligible actions regardless of role.
// ownerID must come from the tenant record, resolved by an earlier stage.
func (m *RBACMiddleware) RequireOwnershipOrActions(ownerIDFrom func(r *http.Request) int64, actions ...rbac.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)
			if authCtx == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			octx := rbac.OwnershipContext{OwnerID: ownerIDFrom(r), UserID: authCtx.UserID}
			var deniedStrings []string
			for _, action := range actions {
				if !m.engine.CanWithOwnership(octx, authCtx.Role, action) {
					deniedStrings = append(deniedStrings, string(action))
					observability.RBACDenials.WithLabelValues(string(authCtx.Role), string(action)).Inc()
				}
			}
			if len(deniedStrings) > 0 {
				httputil.WriteRbacDenied(w, deniedStrings)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
