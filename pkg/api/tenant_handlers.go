package api

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/SylTi/saascore/pkg/httputil"
	"github.com/SylTi/saascore/pkg/middleware"
	"github.com/SylTi/saascore/pkg/rbac"
	"github.com/SylTi/saascore/pkg/tenants"
)

type createTenantRequest struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	OwnerUserID int64  `json:"owner_user_id"`
	PlanTier    string `json:"plan_tier"`
	Currency    string `json:"currency"`
	MaxMembers  *int   `json:"max_members"`
}

func (s *Server) createTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Slug, "slug") ||
		!httputil.RequireNonEmpty(w, req.Name, "name") ||
		!httputil.RequirePositive(w, req.OwnerUserID, "owner_user_id") {
		return
	}

	tenant := &tenants.Tenant{
		Slug:            req.Slug,
		Name:            req.Name,
		OwnerUserID:     req.OwnerUserID,
		PlanTier:        req.PlanTier,
		BalanceCurrency: req.Currency,
		MaxMembers:      req.MaxMembers,
	}

	err := s.runner.WithSystemContext(r.Context(), func(tx *sql.Tx) error {
		return s.tenants.CreateTenant(r.Context(), tx, tenant)
	})
	if err != nil {
		s.logger.Error("tenant creation failed", "slug", req.Slug, "error", err)
		httputil.WriteConflict(w, "tenant could not be created")
		return
	}

	httputil.WriteCreated(w, tenant)
}

func (s *Server) getTenant(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)

	tenant, err := s.getTenantRecord(r, authCtx.TenantID)
	if err != nil {
		if errors.Is(err, tenants.ErrTenantNotFound) {
			httputil.WriteNotFound(w, "tenant not found")
			return
		}
		s.logger.Error("tenant lookup failed", "tenant_id", authCtx.TenantID, "error", err)
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, tenant)
}

type updateTenantRequest struct {
	Name   string                    `json:"name"`
	Quotas *tenants.QuotaUpdateInput `json:"quotas"`
}

func (s *Server) updateTenant(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	tx := middleware.TxFromContext(r.Context())

	var req updateTenantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	tenant, err := s.tenants.GetTenant(r.Context(), tx, authCtx.TenantID)
	if err != nil {
		httputil.WriteNotFound(w, "tenant not found")
		return
	}

	if req.Name != "" {
		tenant.Name = req.Name
	}
	if req.Quotas != nil {
		tenants.ApplyQuotaUpdates(tenant, *req.Quotas)
	}

	if err := s.tenants.UpdateTenant(r.Context(), tx, tenant); err != nil {
		s.logger.Error("tenant update failed", "tenant_id", tenant.ID, "error", err)
		httputil.WriteInternalError(w)
		return
	}

	s.invalidateTenant(r, tenant.ID)
	httputil.WriteSuccess(w, tenant)
}

func (s *Server) deleteTenant(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	tx := middleware.TxFromContext(r.Context())

	if err := s.tenants.DeleteTenant(r.Context(), tx, authCtx.TenantID); err != nil {
		if errors.Is(err, tenants.ErrTenantNotFound) {
			httputil.WriteNotFound(w, "tenant not found")
			return
		}
		s.logger.Error("tenant delete failed", "tenant_id", authCtx.TenantID, "error", err)
		httputil.WriteInternalError(w)
		return
	}

	s.invalidateTenant(r, authCtx.TenantID)
	s.recordAudit(authCtx.UserID, authCtx.TenantID, rbac.ActionTenantDelete)
	httputil.WriteNoContent(w)
}

func (s *Server) getQuotas(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)

	tenant, err := s.getTenantRecord(r, authCtx.TenantID)
	if err != nil {
		httputil.WriteNotFound(w, "tenant not found")
		return
	}

	snapshot, err := s.tenants.Snapshot(r.Context(), tenant, authCtx.UserID)
	if err != nil {
		s.logger.Error("quota snapshot failed", "tenant_id", tenant.ID, "error", err)
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, snapshot)
}
