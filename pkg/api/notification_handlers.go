package api

import (
	"errors"
	"net/http"

	"github.com/SylTi/saascore/pkg/httputil"
	"github.com/SylTi/saascore/pkg/middleware"
	"github.com/SylTi/saascore/pkg/notifications"
)

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	tx := middleware.TxFromContext(r.Context())

	unreadOnly, _ := httputil.ParseQueryBool(r, "unreadOnly", false)
	beforeID, _ := httputil.ParseQueryInt64(r, "beforeId", 0)
	limit, _ := httputil.ParseQueryInt(r, "limit", 0)
	opts := notifications.ListOptions{
		UnreadOnly: unreadOnly,
		BeforeID:   beforeID,
		Limit:      limit,
	}

	list, err := s.notifications.ListForRecipient(r.Context(), tx, authCtx.TenantID, authCtx.UserID, opts)
	if err != nil {
		s.logger.Error("notification list failed", "tenant_id", authCtx.TenantID, "error", err)
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, list)
}

func (s *Server) unreadCount(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	tx := middleware.TxFromContext(r.Context())

	count, err := s.notifications.CountUnread(r.Context(), tx, authCtx.TenantID, authCtx.UserID)
	if err != nil {
		s.logger.Error("unread count failed", "tenant_id", authCtx.TenantID, "error", err)
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, map[string]int{"unread": count})
}

func (s *Server) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	tx := middleware.TxFromContext(r.Context())

	id, ok := httputil.ParsePathInt64OrError(w, r, "notificationId")
	if !ok {
		return
	}

	err := s.notifications.MarkAsRead(r.Context(), tx, authCtx.TenantID, authCtx.UserID, id)
	if err != nil {
		if errors.Is(err, notifications.ErrNotificationNotFound) {
			httputil.WriteNotFound(w, "notification not found")
			return
		}
		s.logger.Error("mark read failed", "tenant_id", authCtx.TenantID, "notification_id", id, "error", err)
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteNoContent(w)
}

func (s *Server) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	tx := middleware.TxFromContext(r.Context())

	updated, err := s.notifications.MarkAllAsRead(r.Context(), tx, authCtx.TenantID, authCtx.UserID)
	if err != nil {
		s.logger.Error("mark all read failed", "tenant_id", authCtx.TenantID, "error", err)
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, map[string]int64{"updated": updated})
}
