package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SylTi/saascore/pkg/audit"
	"github.com/SylTi/saascore/pkg/billing"
	"github.com/SylTi/saascore/pkg/dbcontext"
	"github.com/SylTi/saascore/pkg/httputil"
	"github.com/SylTi/saascore/pkg/middleware"
	"github.com/SylTi/saascore/pkg/notifications"
	"github.com/SylTi/saascore/pkg/rbac"
	"github.com/SylTi/saascore/pkg/tenants"
)

type stubTiers struct{}

func (stubTiers) TierForTenant(ctx context.Context, tenantID int64) (*tenants.Tier, error) {
	return nil, sql.ErrNoRows
}

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := dbcontext.NewRunner(db)
	engine := rbac.NewEngine()

	srv := NewServer(Dependencies{
		Logger:        logger,
		Runner:        runner,
		Tenants:       tenants.NewPostgresService(db, runner, stubTiers{}),
		Coupons:       billing.NewCouponService(db, runner),
		Tiers:         billing.NewTierService(db, runner, 64, time.Minute),
		Notifications: notifications.NewStore(),
		Audit:         audit.NewRecorder(runner, engine, logger),
		Engine:        engine,
	})
	return srv, mock, db
}

// expectAuth queues the token validation roundtrip for the given role.
func expectAuth(mock sqlmock.Sqlmock, token string, userID, tenantID int64, role string) {
	mock.ExpectBegin()
	mock.ExpectExec("set_config\\('app.user_id'").
		WithArgs("0").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM auth_tokens").
		WithArgs(middleware.HashToken(token)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "tenant_id", "role"}).
			AddRow(userID, tenantID, role))
	mock.ExpectCommit()
}

// expectTenantTx queues the tenant-bound transaction open.
func expectTenantTx(mock sqlmock.Sqlmock, userID, tenantID string) {
	mock.ExpectBegin()
	mock.ExpectExec("set_config\\('app.user_id'").
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("set_config\\('app.tenant_id'").
		WithArgs(tenantID).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func doRequest(srv *Server, method, path, token, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestListNotificationsEndToEnd(t *testing.T) {
	srv, mock, _ := newTestServer(t)

	expectAuth(mock, "tok", 42, 7, "member")
	expectTenantTx(mock, "42", "7")
	now := time.Now()
	mock.ExpectQuery("FROM notifications").
		WithArgs(int64(7), int64(42), int64(99), 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "recipient_id", "kind", "title", "body", "read_at", "created_at"}).
			AddRow(int64(5), int64(7), int64(42), "billing", "Account credited", "", nil, now))
	mock.ExpectCommit()

	rec := doRequest(srv, http.MethodGet, "/v1/tenants/7/notifications?beforeId=99", "tok", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var list []notifications.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, int64(5), list[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTenantDeniedForMember(t *testing.T) {
	srv, mock, _ := newTestServer(t)

	expectAuth(mock, "tok", 42, 7, "member")
	expectTenantTx(mock, "42", "7")
	// RBAC denies before any handler query; the transaction still commits
	// because a 403 is not a server failure.
	mock.ExpectCommit()

	rec := doRequest(srv, http.MethodDelete, "/v1/tenants/7", "tok", "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	var resp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, httputil.CodeRbacDenied, resp.Error)
	assert.Equal(t, []string{string(rbac.ActionTenantDelete)}, resp.DeniedActions)
}

func TestTenantMismatchForbiddenBeforeTransaction(t *testing.T) {
	srv, mock, _ := newTestServer(t)

	expectAuth(mock, "tok", 42, 7, "admin")

	rec := doRequest(srv, http.MethodGet, "/v1/tenants/9/notifications", "tok", "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	var resp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, httputil.CodeForbidden, resp.Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/v1/tenants/7/members", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRedeemCouponEndToEnd(t *testing.T) {
	srv, mock, _ := newTestServer(t)

	expectAuth(mock, "tok", 42, 7, "admin")
	expectTenantTx(mock, "42", "7")

	now := time.Now()
	future := now.Add(24 * time.Hour)
	couponCols := []string{"id", "code", "credit_amount_cents", "currency", "is_active",
		"expires_at", "redeemed_by_user_id", "redeemed_by_tenant_id", "redeemed_at",
		"created_at", "updated_at"}

	mock.ExpectQuery("FROM coupons WHERE code").
		WithArgs("WELCOME50").
		WillReturnRows(sqlmock.NewRows(couponCols).
			AddRow(int64(3), "WELCOME50", int64(5000), "usd", true, future, nil, nil, nil, now, now))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "credit_amount_cents", "currency", "is_active", "expires_at", "redeemed_at"}).
			AddRow(int64(3), int64(5000), "usd", true, future, nil))
	mock.ExpectQuery("UPDATE tenants SET balance_cents").
		WithArgs(int64(5000), int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}).AddRow(int64(5000)))
	mock.ExpectExec("UPDATE coupons").
		WithArgs(int64(42), int64(7), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Fan-out: member list then one insert per member.
	mock.ExpectQuery("FROM tenant_members").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "user_id", "role", "invited_by", "joined_at", "created_at"}).
			AddRow(int64(1), int64(7), int64(42), "admin", nil, now, now))
	mock.ExpectQuery("INSERT INTO notifications").
		WithArgs(int64(7), int64(42), "billing", "Account credited", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(10), now))
	mock.ExpectCommit()

	rec := doRequest(srv, http.MethodPost, "/v1/tenants/7/coupons/redeem", "tok", `{"code":"welcome50"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	var result billing.RedeemCouponResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, int64(5000), result.CreditAmountCents)
	assert.Equal(t, int64(5000), result.NewBalanceCents)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemCouponNotFoundIsStructuredFailure(t *testing.T) {
	srv, mock, _ := newTestServer(t)

	expectAuth(mock, "tok", 42, 7, "admin")
	expectTenantTx(mock, "42", "7")
	mock.ExpectQuery("FROM coupons WHERE code").
		WithArgs("NOPE").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	rec := doRequest(srv, http.MethodPost, "/v1/tenants/7/coupons/redeem", "tok", `{"code":"nope"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, httputil.CodeRedemptionError, resp.Error)
	assert.Equal(t, "Coupon not found", resp.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}
