package middleware

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/SylTi/saascore/pkg/dbcontext"
	"github.com/SylTi/saascore/pkg/httputil"
	"github.com/SylTi/saascore/pkg/rbac"
)

type contextKey string

const (
	authKey contextKey = "auth"
	txKey   contextKey = "tx"
)

// AuthContext is the authenticated identity for a request: the user, the
// tenant the token is scoped to, and the user's role in that tenant.
type AuthContext struct {
	UserID   int64
	TenantID int64
	Role     rbac.Role
}

// Authenticator validates opaque bearer tokens against the auth_tokens table.
// Tokens are stored as SHA-256 hashes; the join against tenant_members picks
// up the caller's current role, so a role change takes effect on the next
// request without reissuing tokens.
type Authenticator struct {
	runner *dbcontext.Runner
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(runner *dbcontext.Runner) *Authenticator {
	return &Authenticator{runner: runner}
}

// HashToken returns the stored form of a raw token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Handler wraps an HTTP handler with bearer token authentication.
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		authCtx, err := a.validate(r.Context(), parts[1])
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
	})
}

// validate resolves a raw token to an AuthContext. Runs in a system-context
// transaction: the caller has no tenant binding yet.
func (a *Authenticator) validate(ctx context.Context, token string) (*AuthContext, error) {
	var authCtx AuthContext
	err := a.runner.WithSystemContext(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			SELECT t.user_id, t.tenant_id, m.role
			FROM auth_tokens t
			JOIN tenant_members m ON m.tenant_id = t.tenant_id AND m.user_id = t.user_id
			WHERE t.token_hash = $1
			  AND t.revoked_at IS NULL
			  AND (t.expires_at IS NULL OR t.expires_at > NOW())
		`, HashToken(token)).Scan(&authCtx.UserID, &authCtx.TenantID, &authCtx.Role)
	})
	if err != nil {
		return nil, err
	}
	return &authCtx, nil
}

// WithAuth returns a context carrying the auth context.
func WithAuth(ctx context.Context, authCtx *AuthContext) context.Context {
	return context.WithValue(ctx, authKey, authCtx)
}

// GetAuthContext extracts the auth context from a request, or nil.
func GetAuthContext(r *http.Request) *AuthContext {
	authCtx, _ := r.Context().Value(authKey).(*AuthContext)
	return authCtx
}

// RequireTenant rejects requests whose {tenantId} path parameter does not
// match the authenticated tenant. The rejection is the generic Forbidden
// payload, not an RBAC denial: the caller may well be a member of the other
// tenant, but this token grants nothing there.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := GetAuthContext(r)
		if authCtx == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		tenantID, ok := httputil.ParsePathInt64OrError(w, r, "tenantId")
		if !ok {
			return
		}
		if tenantID != authCtx.TenantID {
			httputil.WriteForbidden(w, "not a member of this tenant")
			return
		}

		next.ServeHTTP(w, r)
	})
}
