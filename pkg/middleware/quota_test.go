package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SylTi/saascore/pkg/dbcontext"
	"github.com/SylTi/saascore/pkg/httputil"
	"github.com/SylTi/saascore/pkg/rbac"
	"github.com/SylTi/saascore/pkg/tenants"
)

type fixedTier struct {
	tier *tenants.Tier
}

func (f *fixedTier) TierForTenant(ctx context.Context, tenantID int64) (*tenants.Tier, error) {
	return f.tier, nil
}

func intPtr(v int) *int { return &v }

// quotaGateRoundtrip drives RequireMemberCapacity against a mocked store with
// the given members limit and current member count.
func quotaGateRoundtrip(t *testing.T, membersLimit, memberCount int) *httptest.ResponseRecorder {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	runner := dbcontext.NewRunner(db)
	tiers := &fixedTier{tier: &tenants.Tier{
		Name:  "pro",
		Level: 1,
		Features: tenants.TierFeatures{
			Quotas: &tenants.TierQuotas{Members: intPtr(membersLimit)},
		},
	}}
	gate := NewQuotaGate(tenants.NewPostgresService(db, runner, tiers))

	// GetTenant runs on the request transaction.
	mock.ExpectBegin()
	mock.ExpectExec("set_config\\('app.user_id'").
		WithArgs("42").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("set_config\\('app.tenant_id'").
		WithArgs("7").
		WillReturnResult(sqlmock.NewResult(0, 0))
	now := time.Now()
	mock.ExpectQuery("FROM tenants WHERE id").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "slug", "name", "owner_user_id", "max_members", "quota_overrides",
			"balance_cents", "balance_currency", "plan_tier", "created_at", "updated_at",
		}).AddRow(int64(7), "acme", "Acme", int64(42), nil, []byte(`{}`),
			int64(0), "usd", "pro", now, now))

	// The four usage counts each open their own system-context transaction
	// and run concurrently, so expectation order cannot be pinned.
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 4; i++ {
		mock.ExpectBegin()
		mock.ExpectExec("set_config\\('app.user_id'").
			WithArgs("0").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
	}
	mock.ExpectQuery("COUNT\\(\\*\\) FROM tenant_members").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(memberCount))
	mock.ExpectQuery("COUNT\\(\\*\\) FROM tenant_invitations").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("COUNT\\(\\*\\) FROM auth_tokens WHERE tenant_id = \\$1 AND revoked_at").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("COUNT\\(\\*\\) FROM auth_tokens WHERE tenant_id = \\$1 AND user_id").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	// Outer request transaction commit.
	mock.ExpectCommit()

	handler := TenantTransaction(runner, discardLogger())(
		gate.RequireMemberCapacity()(okHandler()))

	req := httptest.NewRequest(http.MethodPost, "/v1/tenants/7/members", nil)
	req = req.WithContext(WithAuth(req.Context(), &AuthContext{UserID: 42, TenantID: 7, Role: rbac.RoleAdmin}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestQuotaGateAllowsUnderLimit(t *testing.T) {
	rec := quotaGateRoundtrip(t, 10, 3)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQuotaGateRejectsAtLimit(t *testing.T) {
	rec := quotaGateRoundtrip(t, 5, 5)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := errorPayload(t, rec)
	assert.Equal(t, httputil.CodeQuotaExceeded, resp.Error)
	assert.Contains(t, resp.Message, "members")
}

func TestQuotaGateRequiresTransaction(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	runner := dbcontext.NewRunner(db)
	gate := NewQuotaGate(tenants.NewPostgresService(db, runner, &fixedTier{}))

	req := httptest.NewRequest(http.MethodPost, "/v1/tenants/7/members", nil)
	req = req.WithContext(WithAuth(req.Context(), &AuthContext{UserID: 42, TenantID: 7, Role: rbac.RoleAdmin}))
	rec := httptest.NewRecorder()
	gate.RequireMemberCapacity()(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
