package api

import (
	"net/http"

	"github.com/SylTi/saascore/pkg/httputil"
	"github.com/SylTi/saascore/pkg/middleware"
)

func (s *Server) listAuditEvents(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	tx := middleware.TxFromContext(r.Context())

	limit, _ := httputil.ParseQueryInt(r, "limit", 0)
	events, err := s.audit.ListForTenant(r.Context(), tx, authCtx.TenantID, limit)
	if err != nil {
		s.logger.Error("audit list failed", "tenant_id", authCtx.TenantID, "error", err)
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, events)
}
