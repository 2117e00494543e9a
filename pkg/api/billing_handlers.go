package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/SylTi/saascore/pkg/billing"
	"github.com/SylTi/saascore/pkg/httputil"
	"github.com/SylTi/saascore/pkg/middleware"
	"github.com/SylTi/saascore/pkg/observability"
	"github.com/SylTi/saascore/pkg/rbac"
	"github.com/SylTi/saascore/pkg/tenants"
)

type createCouponRequest struct {
	Code              string     `json:"code"`
	CreditAmountCents int64      `json:"credit_amount_cents"`
	Currency          string     `json:"currency"`
	ExpiresAt         *time.Time `json:"expires_at"`
}

func (s *Server) createCoupon(w http.ResponseWriter, r *http.Request) {
	var req createCouponRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Code, "code") ||
		!httputil.RequirePositive(w, req.CreditAmountCents, "credit_amount_cents") {
		return
	}

	coupon := &billing.Coupon{
		Code:              req.Code,
		CreditAmountCents: req.CreditAmountCents,
		Currency:          req.Currency,
		IsActive:          true,
		ExpiresAt:         req.ExpiresAt,
	}
	err := s.runner.WithSystemContext(r.Context(), func(tx *sql.Tx) error {
		return s.coupons.CreateCoupon(r.Context(), tx, coupon)
	})
	if err != nil {
		s.logger.Error("coupon creation failed", "error", err)
		httputil.WriteConflict(w, "coupon could not be created")
		return
	}

	httputil.WriteCreated(w, coupon)
}

type redeemCouponRequest struct {
	Code string `json:"code"`
}

func (s *Server) redeemCoupon(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	tx := middleware.TxFromContext(r.Context())

	var req redeemCouponRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Code, "code") {
		return
	}

	result, err := s.coupons.RedeemCouponForTenant(r.Context(), req.Code, authCtx.TenantID, authCtx.UserID, tx)
	if err != nil {
		s.logger.Error("coupon redemption failed",
			"tenant_id", authCtx.TenantID,
			"user_id", authCtx.UserID,
			"error", err,
		)
		httputil.WriteInternalError(w)
		return
	}

	if !result.Success {
		observability.CouponRedemptions.WithLabelValues("rejected").Inc()
		httputil.WriteRedemptionError(w, result.Message)
		return
	}
	observability.CouponRedemptions.WithLabelValues("redeemed").Inc()
	s.invalidateTenant(r, authCtx.TenantID)

	// Fan the credit out to every member, in the redemption transaction.
	if members, err := s.tenants.ListMembers(r.Context(), tx, authCtx.TenantID); err == nil {
		ids := make([]int64, len(members))
		for i, m := range members {
			ids[i] = m.UserID
		}
		if sent, err := s.notifications.SendBatch(r.Context(), tx, authCtx.TenantID, ids,
			"billing", "Account credited",
			"A coupon was redeemed and the account balance was updated."); err == nil {
			observability.NotificationsFanned.Add(float64(len(sent)))
		}
	}

	httputil.WriteSuccess(w, result)
}

type validateDiscountRequest struct {
	Code        string `json:"code"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

func (s *Server) validateDiscount(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	tx := middleware.TxFromContext(r.Context())

	var req validateDiscountRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Code, "code") ||
		!httputil.RequirePositive(w, req.AmountCents, "amount_cents") ||
		!httputil.RequireNonEmpty(w, req.Currency, "currency") {
		return
	}

	result, err := s.coupons.ValidateDiscountCode(r.Context(), tx, req.Code, authCtx.UserID, req.AmountCents, req.Currency)
	if err != nil {
		s.logger.Error("discount validation failed", "tenant_id", authCtx.TenantID, "error", err)
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, result)
}

func (s *Server) getSubscription(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)

	tier, err := s.tiers.TierForTenant(r.Context(), authCtx.TenantID)
	if err != nil {
		s.logger.Error("tier lookup failed", "tenant_id", authCtx.TenantID, "error", err)
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, tier)
}

type upsertSubscriptionRequest struct {
	PlanTier         string               `json:"plan_tier"`
	TierLevel        int                  `json:"tier_level"`
	CurrentPeriodEnd *time.Time           `json:"current_period_end"`
	Features         tenants.TierFeatures `json:"features"`
}

func (s *Server) upsertSubscription(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	tx := middleware.TxFromContext(r.Context())

	var req upsertSubscriptionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.PlanTier, "plan_tier") {
		return
	}

	sub := &billing.Subscription{
		TenantID:         authCtx.TenantID,
		PlanTier:         req.PlanTier,
		TierLevel:        req.TierLevel,
		CurrentPeriodEnd: req.CurrentPeriodEnd,
	}
	if err := s.tiers.UpsertSubscription(r.Context(), tx, sub, req.Features); err != nil {
		s.logger.Error("subscription upsert failed", "tenant_id", authCtx.TenantID, "error", err)
		httputil.WriteInternalError(w)
		return
	}

	s.invalidateTenant(r, authCtx.TenantID)
	httputil.WriteSuccess(w, sub)
}

func (s *Server) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	tx := middleware.TxFromContext(r.Context())

	if err := s.tiers.CancelSubscription(r.Context(), tx, authCtx.TenantID); err != nil {
		httputil.WriteNotFound(w, "no active subscription")
		return
	}

	s.invalidateTenant(r, authCtx.TenantID)
	s.recordAudit(authCtx.UserID, authCtx.TenantID, rbac.ActionSubscriptionCancel)
	httputil.WriteNoContent(w)
}
