package api

import (
	"net/http"
	"strings"

	"github.com/SylTi/saascore/pkg/httputil"
	"github.com/SylTi/saascore/pkg/middleware"
	"github.com/SylTi/saascore/pkg/notifications"
	"github.com/SylTi/saascore/pkg/rbac"
	"github.com/SylTi/saascore/pkg/tenants"
)

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	tx := middleware.TxFromContext(r.Context())

	members, err := s.tenants.ListMembers(r.Context(), tx, authCtx.TenantID)
	if err != nil {
		s.logger.Error("member list failed", "tenant_id", authCtx.TenantID, "error", err)
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, members)
}

func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	tx := middleware.TxFromContext(r.Context())

	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}

	if err := s.tenants.RemoveMember(r.Context(), tx, authCtx.TenantID, userID); err != nil {
		if strings.Contains(err.Error(), "owner") {
			httputil.WriteConflict(w, "the tenant owner cannot be removed")
			return
		}
		httputil.WriteNotFound(w, "member not found")
		return
	}

	s.recordAudit(authCtx.UserID, authCtx.TenantID, rbac.ActionMemberRemove)
	httputil.WriteNoContent(w)
}

type updateRoleRequest struct {
	Role rbac.Role `json:"role"`
}

func (s *Server) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	tx := middleware.TxFromContext(r.Context())

	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}

	var req updateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !req.Role.Valid() {
		httputil.WriteBadRequest(w, "invalid role")
		return
	}

	if err := s.tenants.UpdateMemberRole(r.Context(), tx, authCtx.TenantID, userID, req.Role); err != nil {
		httputil.WriteNotFound(w, "member not found")
		return
	}

	s.recordAudit(authCtx.UserID, authCtx.TenantID, rbac.ActionMemberUpdateRole)
	httputil.WriteNoContent(w)
}

type createInvitationRequest struct {
	Email string    `json:"email"`
	Role  rbac.Role `json:"role"`
}

func (s *Server) createInvitation(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	tx := middleware.TxFromContext(r.Context())

	var req createInvitationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") {
		return
	}
	if req.Role == "" {
		req.Role = rbac.RoleMember
	}
	if !req.Role.Valid() || req.Role == rbac.RoleOwner {
		httputil.WriteBadRequest(w, "invalid invitation role")
		return
	}

	inv := &tenants.TenantInvitation{
		TenantID:  authCtx.TenantID,
		Email:     req.Email,
		Role:      req.Role,
		InvitedBy: authCtx.UserID,
	}
	if err := s.tenants.CreateInvitation(r.Context(), tx, inv); err != nil {
		s.logger.Error("invitation creation failed", "tenant_id", authCtx.TenantID, "error", err)
		httputil.WriteInternalError(w)
		return
	}

	// Tell the owner someone was invited, in the same transaction so the
	// notification disappears with a rollback.
	if tenant, err := s.tenants.GetTenant(r.Context(), tx, authCtx.TenantID); err == nil && tenant.OwnerUserID != authCtx.UserID {
		_ = s.notifications.Send(r.Context(), tx, &notifications.Notification{
			TenantID:    authCtx.TenantID,
			RecipientID: tenant.OwnerUserID,
			Kind:        "membership",
			Title:       "New invitation",
			Body:        "An invitation was sent to " + req.Email,
		})
	}

	httputil.WriteCreated(w, inv)
}

func (s *Server) listInvitations(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	tx := middleware.TxFromContext(r.Context())

	invitations, err := s.tenants.ListInvitations(r.Context(), tx, authCtx.TenantID)
	if err != nil {
		s.logger.Error("invitation list failed", "tenant_id", authCtx.TenantID, "error", err)
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, invitations)
}

func (s *Server) revokeInvitation(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	tx := middleware.TxFromContext(r.Context())

	invitationID, ok := httputil.ParsePathInt64OrError(w, r, "invitationId")
	if !ok {
		return
	}

	if err := s.tenants.RevokeInvitation(r.Context(), tx, authCtx.TenantID, invitationID); err != nil {
		httputil.WriteNotFound(w, "invitation not found")
		return
	}

	httputil.WriteNoContent(w)
}

type acceptInvitationRequest struct {
	Token string `json:"token"`
}

// acceptInvitation joins the caller to the inviting tenant. It runs outside
// the tenant-scoped chain: the caller's token belongs to another tenant, or
// to no tenant route at all, until the join lands.
func (s *Server) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)

	var req acceptInvitationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Token, "token") {
		return
	}

	if err := s.tenants.AcceptInvitation(r.Context(), req.Token, authCtx.UserID); err != nil {
		switch {
		case strings.Contains(err.Error(), "expired"):
			httputil.WriteConflict(w, "invitation has expired")
		case strings.Contains(err.Error(), "accepted"):
			httputil.WriteConflict(w, "invitation was already accepted")
		default:
			httputil.WriteNotFound(w, "invitation not found")
		}
		return
	}

	httputil.WriteNoContent(w)
}
