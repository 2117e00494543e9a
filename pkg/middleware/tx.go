package middleware

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SylTi/saascore/pkg/dbcontext"
	"github.com/SylTi/saascore/pkg/httputil"
)

// errHandlerFailed forces a rollback when the handler reported a 5xx.
var errHandlerFailed = fmt.Errorf("handler reported server error")

// TenantTransaction opens an RLS-bound tenant-context transaction around the
// handler and exposes it via TxFromContext. The transaction commits when the
// handler finishes below 500 and rolls back otherwise, so every write a
// handler makes rides the same bound transaction and RLS stays in force as
// the second line of defense behind the RBAC check.
func TenantTransaction(runner *dbcontext.Runner, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)
			if authCtx == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			err := runner.WithTenantContext(r.Context(), authCtx.TenantID, authCtx.UserID, func(tx *sql.Tx) error {
				next.ServeHTTP(sw, r.WithContext(WithTx(r.Context(), tx)))
				if sw.status >= http.StatusInternalServerError {
					return errHandlerFailed
				}
				return nil
			})
			if err != nil && err != errHandlerFailed {
				logger.Error("tenant transaction failed",
					"tenant_id", authCtx.TenantID,
					"user_id", authCtx.UserID,
					"error", err,
				)
				if !sw.wrote {
					httputil.WriteInternalError(w)
				}
			}
		})
	}
}

// WithTx returns a context carrying the request transaction.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// TxFromContext returns the request's RLS-bound transaction, or nil when the
// handler runs outside TenantTransaction.
func TxFromContext(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey).(*sql.Tx)
	return tx
}

type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.wrote = true
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wrote = true
	return sw.ResponseWriter.Write(b)
}
