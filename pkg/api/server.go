package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/SylTi/saascore/pkg/async"
	"github.com/SylTi/saascore/pkg/audit"
	"github.com/SylTi/saascore/pkg/billing"
	"github.com/SylTi/saascore/pkg/cache"
	"github.com/SylTi/saascore/pkg/dbcontext"
	"github.com/SylTi/saascore/pkg/middleware"
	"github.com/SylTi/saascore/pkg/notifications"
	"github.com/SylTi/saascore/pkg/observability"
	"github.com/SylTi/saascore/pkg/rbac"
	"github.com/SylTi/saascore/pkg/tenants"
)

// Dependencies carries everything the server needs. TenantCache and Limiter
// are optional; a nil value disables the Redis layer they provide.
type Dependencies struct {
	Logger        *slog.Logger
	Runner        *dbcontext.Runner
	Tenants       *tenants.PostgresService
	TenantCache   *cache.TenantCache
	Coupons       *billing.CouponService
	Tiers         *billing.TierService
	Notifications *notifications.Store
	Audit         *audit.Recorder
	Engine        *rbac.Engine
	Limiter       *middleware.RateLimiter
}

// Server is the HTTP API server.
type Server struct {
	router        *mux.Router
	logger        *slog.Logger
	runner        *dbcontext.Runner
	tenants       *tenants.PostgresService
	tenantCache   *cache.TenantCache
	coupons       *billing.CouponService
	tiers         *billing.TierService
	notifications *notifications.Store
	audit         *audit.Recorder
	engine        *rbac.Engine
	rbacMw        *middleware.RBACMiddleware
	quota         *middleware.QuotaGate
	limiter       *middleware.RateLimiter
}

// NewServer creates the server and registers all routes.
func NewServer(deps Dependencies) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		logger:        deps.Logger,
		runner:        deps.Runner,
		tenants:       deps.Tenants,
		tenantCache:   deps.TenantCache,
		coupons:       deps.Coupons,
		tiers:         deps.Tiers,
		notifications: deps.Notifications,
		audit:         deps.Audit,
		engine:        deps.Engine,
		rbacMw:        middleware.NewRBACMiddleware(deps.Engine, deps.Audit),
		quota:         middleware.NewQuotaGate(deps.Tenants),
		limiter:       deps.Limiter,
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(mux.MiddlewareFunc(observability.MetricsMiddleware))

	authn := middleware.NewAuthenticator(s.runner)

	// Provisioning surface, no tenant scope.
	s.router.HandleFunc("/v1/tenants", s.createTenant).Methods("POST")
	s.router.HandleFunc("/v1/coupons", s.createCoupon).Methods("POST")

	// Invitation acceptance is authenticated but crosses tenants: the caller
	// is not yet a member of the inviting tenant.
	s.router.Handle("/v1/invitations/accept",
		authn.Handler(http.HandlerFunc(s.acceptInvitation))).Methods("POST")

	// Tenant-scoped surface.
	t := s.router.PathPrefix("/v1/tenants/{tenantId:[0-9]+}").Subrouter()
	t.Use(
		mux.MiddlewareFunc(authn.Handler),
		mux.MiddlewareFunc(middleware.RequireTenant),
		mux.MiddlewareFunc(middleware.TenantTransaction(s.runner, s.logger)),
	)

	require := s.rbacMw.RequireActions
	ownerOr := func(actions ...rbac.Action) func(http.Handler) http.Handler {
		return s.rbacMw.RequireOwnershipOrActions(s.tenantOwnerID, actions...)
	}

	t.Handle("", require(rbac.ActionTenantRead)(http.HandlerFunc(s.getTenant))).Methods("GET")
	t.Handle("", ownerOr(rbac.ActionTenantUpdate)(http.HandlerFunc(s.updateTenant))).Methods("PUT")
	t.Handle("", require(rbac.ActionTenantDelete)(http.HandlerFunc(s.deleteTenant))).Methods("DELETE")
	t.Handle("/quotas", require(rbac.ActionTenantRead)(http.HandlerFunc(s.getQuotas))).Methods("GET")

	t.Handle("/members", require(rbac.ActionMemberList)(http.HandlerFunc(s.listMembers))).Methods("GET")
	t.Handle("/members/{userId:[0-9]+}", require(rbac.ActionMemberRemove)(http.HandlerFunc(s.removeMember))).Methods("DELETE")
	t.Handle("/members/{userId:[0-9]+}/role", require(rbac.ActionMemberUpdateRole)(http.HandlerFunc(s.updateMemberRole))).Methods("PUT")

	t.Handle("/invitations",
		ownerOr(rbac.ActionMemberInvite)(s.quota.RequireInvitationCapacity()(http.HandlerFunc(s.createInvitation)))).Methods("POST")
	t.Handle("/invitations", require(rbac.ActionMemberList)(http.HandlerFunc(s.listInvitations))).Methods("GET")
	t.Handle("/invitations/{invitationId:[0-9]+}", require(rbac.ActionInvitationCancel)(http.HandlerFunc(s.revokeInvitation))).Methods("DELETE")

	redeem := http.Handler(http.HandlerFunc(s.redeemCoupon))
	if s.limiter != nil {
		redeem = s.limiter.PerUser(redeem)
	}
	t.Handle("/coupons/redeem", require(rbac.ActionCouponRedeem)(redeem)).Methods("POST")
	t.Handle("/discounts/validate", require(rbac.ActionBillingView)(http.HandlerFunc(s.validateDiscount))).Methods("POST")

	t.Handle("/subscription", require(rbac.ActionSubscriptionView)(http.HandlerFunc(s.getSubscription))).Methods("GET")
	t.Handle("/subscription", require(rbac.ActionSubscriptionUpgrade)(http.HandlerFunc(s.upsertSubscription))).Methods("PUT")
	t.Handle("/subscription", require(rbac.ActionSubscriptionCancel)(http.HandlerFunc(s.cancelSubscription))).Methods("DELETE")

	t.Handle("/notifications", require(rbac.ActionNotificationRead)(http.HandlerFunc(s.listNotifications))).Methods("GET")
	t.Handle("/notifications/unread-count", require(rbac.ActionNotificationRead)(http.HandlerFunc(s.unreadCount))).Methods("GET")
	t.Handle("/notifications/{notificationId:[0-9]+}/read", require(rbac.ActionNotificationRead)(http.HandlerFunc(s.markNotificationRead))).Methods("POST")
	t.Handle("/notifications/read-all", require(rbac.ActionNotificationRead)(http.HandlerFunc(s.markAllNotificationsRead))).Methods("POST")

	t.Handle("/audit", require(rbac.ActionTenantUpdate)(http.HandlerFunc(s.listAuditEvents))).Methods("GET")
}

// recordAudit writes a success audit record off the request path. The audit
// recorder opens its own system-context transaction, so there is no reason to
// hold the response for it.
func (s *Server) recordAudit(userID, tenantID int64, action rbac.Action) {
	async.SafeGo(s.logger, 5*time.Second, "audit", func(ctx context.Context) error {
		s.audit.RecordAction(ctx, userID, tenantID, action, audit.StatusSuccess, "")
		return nil
	})
}

// tenantOwnerID resolves the owner for ownership-bypass checks. Runs on the
// request transaction; a lookup failure resolves to no owner, which simply
// disables the bypass for this request.
func (s *Server) tenantOwnerID(r *http.Request) int64 {
	authCtx := middleware.GetAuthContext(r)
	tx := middleware.TxFromContext(r.Context())
	if authCtx == nil || tx == nil {
		return 0
	}
	tenant, err := s.getTenantRecord(r, authCtx.TenantID)
	if err != nil {
		return 0
	}
	return tenant.OwnerUserID
}

// getTenantRecord reads a tenant through the cache when configured.
func (s *Server) getTenantRecord(r *http.Request, id int64) (*tenants.Tenant, error) {
	tx := middleware.TxFromContext(r.Context())
	if s.tenantCache != nil {
		return s.tenantCache.GetTenant(r.Context(), tx, id)
	}
	return s.tenants.GetTenant(r.Context(), tx, id)
}

func (s *Server) invalidateTenant(r *http.Request, id int64) {
	if s.tenantCache != nil {
		s.tenantCache.Invalidate(r.Context(), id)
	}
}
