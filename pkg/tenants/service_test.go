package tenants

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SylTi/saascore/pkg/dbcontext"
	"github.com/SylTi/saascore/pkg/rbac"
)

func newService(t *testing.T) (*PostgresService, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresService(db, dbcontext.NewRunner(db), &staticTiers{}), mock, db
}

func TestCreateTenant_DefaultsAndOwnerMembership(t *testing.T) {
	service, mock, db := newService(t)

	mock.ExpectQuery("INSERT INTO tenants").
		WithArgs("acme-corp", "Acme Corp!", int64(42), nil, sqlmock.AnyArg(),
			int64(0), "usd", "free").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(7), time.Now(), time.Now()))
	mock.ExpectExec("INSERT INTO tenant_members").
		WithArgs(int64(7), int64(42), rbac.RoleOwner).
		WillReturnResult(sqlmock.NewResult(1, 1))

	tenant := &Tenant{Name: "Acme Corp!", OwnerUserID: 42}
	err := service.CreateTenant(context.Background(), db, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(7), tenant.ID)
	assert.Equal(t, "acme-corp", tenant.Slug)
	assert.Equal(t, "usd", tenant.BalanceCurrency)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTenant_ParsesOverrides(t *testing.T) {
	service, mock, db := newService(t)

	rows := sqlmock.NewRows([]string{
		"id", "slug", "name", "owner_user_id", "max_members", "quota_overrides",
		"balance_cents", "balance_currency", "plan_tier", "created_at", "updated_at",
	}).AddRow(
		int64(7), "acme", "Acme", int64(42), int64(10),
		[]byte(`{"pendingInvitations": 15, "authTokensPerUser": null}`),
		int64(5000), "usd", "pro", time.Now(), time.Now(),
	)
	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").
		WithArgs(int64(7)).
		WillReturnRows(rows)

	tenant, err := service.GetTenant(context.Background(), db, 7)
	require.NoError(t, err)
	assert.Equal(t, "acme", tenant.Slug)
	require.NotNil(t, tenant.MaxMembers)
	assert.Equal(t, 10, *tenant.MaxMembers)
	assert.Equal(t, 15, *tenant.QuotaOverrides.PendingInvitations.Value)
	assert.True(t, tenant.QuotaOverrides.AuthTokensPerUser.Present)
	assert.Nil(t, tenant.QuotaOverrides.AuthTokensPerUser.Value)
	assert.Equal(t, int64(5000), tenant.BalanceCents)
}

func TestGetTenant_NotFound(t *testing.T) {
	service, mock, db := newService(t)

	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := service.GetTenant(context.Background(), db, 99)
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestAddMember_Duplicate(t *testing.T) {
	service, mock, db := newService(t)

	mock.ExpectExec("INSERT INTO tenant_members").
		WithArgs(int64(7), int64(8), rbac.RoleMember, nil).
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "tenant_members_tenant_id_user_id_key"`))

	err := service.AddMember(context.Background(), db, 7, 8, rbac.RoleMember, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already a member")
}

func TestRemoveMember_OwnerProtected(t *testing.T) {
	service, mock, db := newService(t)

	mock.ExpectQuery("SELECT owner_user_id FROM tenants").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"owner_user_id"}).AddRow(int64(42)))

	err := service.RemoveMember(context.Background(), db, 7, 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner")
}

func TestAcceptInvitation_LocksAndJoins(t *testing.T) {
	service, mock, _ := newService(t)

	mock.ExpectBegin()
	mock.ExpectExec("set_config").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT id, tenant_id, role, expires_at, accepted_at FROM tenant_invitations (.+) FOR UPDATE").
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "role", "expires_at", "accepted_at"}).
			AddRow(int64(3), int64(7), "member", time.Now().Add(time.Hour), nil))
	mock.ExpectExec("INSERT INTO tenant_members").
		WithArgs(int64(7), int64(8), rbac.Role("member")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE tenant_invitations SET accepted_at").
		WithArgs(int64(8), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := service.AcceptInvitation(context.Background(), "tok-1", 8)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcceptInvitation_AlreadyAccepted(t *testing.T) {
	service, mock, _ := newService(t)

	accepted := time.Now().Add(-time.Hour)
	mock.ExpectBegin()
	mock.ExpectExec("set_config").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "role", "expires_at", "accepted_at"}).
			AddRow(int64(3), int64(7), "member", time.Now().Add(time.Hour), accepted))
	mock.ExpectRollback()

	err := service.AcceptInvitation(context.Background(), "tok-1", 8)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already accepted")
}

func TestAcceptInvitation_Expired(t *testing.T) {
	service, mock, _ := newService(t)

	mock.ExpectBegin()
	mock.ExpectExec("set_config").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "role", "expires_at", "accepted_at"}).
			AddRow(int64(3), int64(7), "member", time.Now().Add(-time.Minute), nil))
	mock.ExpectRollback()

	err := service.AcceptInvitation(context.Background(), "tok-1", 8)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestCreateInvitation_GeneratesToken(t *testing.T) {
	service, mock, db := newService(t)

	mock.ExpectQuery("INSERT INTO tenant_invitations").
		WithArgs(int64(7), "new@example.com", rbac.RoleMember, sqlmock.AnyArg(), int64(42), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "invited_at"}).AddRow(int64(1), time.Now()))

	inv := &TenantInvitation{TenantID: 7, Email: "New@Example.com", Role: rbac.RoleMember, InvitedBy: 42}
	err := service.CreateInvitation(context.Background(), db, inv)
	require.NoError(t, err)
	assert.NotEmpty(t, inv.Token)
	assert.False(t, inv.ExpiresAt.IsZero())
}

func TestCleanupExpiredInvitations(t *testing.T) {
	service, mock, _ := newService(t)

	mock.ExpectBegin()
	mock.ExpectExec("set_config").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM tenant_invitations WHERE accepted_at IS NULL AND expires_at").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	removed, err := service.CleanupExpiredInvitations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
}
