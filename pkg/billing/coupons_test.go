package billing

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SylTi/saascore/pkg/dbcontext"
)

func newCouponService(t *testing.T) (*CouponService, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewCouponService(db, dbcontext.NewRunner(db)), mock, db
}

var couponCols = []string{
	"id", "code", "credit_amount_cents", "currency", "is_active", "expires_at",
	"redeemed_by_user_id", "redeemed_by_tenant_id", "redeemed_at", "created_at", "updated_at",
}

func redeemableCouponRow(id int64, code string, amount int64) *sqlmock.Rows {
	return sqlmock.NewRows(couponCols).
		AddRow(id, code, amount, "usd", true, nil, nil, nil, nil, time.Now(), time.Now())
}

// expectLockedRedemption queues the locked phase: row lock, balance credit,
// mark redeemed.
func expectLockedRedemption(mock sqlmock.Sqlmock, couponID, amount, tenantID, userID, newBalance int64) {
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(couponID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "credit_amount_cents", "currency", "is_active", "expires_at", "redeemed_at"}).
			AddRow(couponID, amount, "usd", true, nil, nil))
	mock.ExpectQuery("UPDATE tenants SET balance_cents = balance_cents").
		WithArgs(amount, tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}).AddRow(newBalance))
	mock.ExpectExec("UPDATE coupons SET redeemed_by_user_id").
		WithArgs(userID, tenantID, couponID).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestRedeemCouponForTenant_Success(t *testing.T) {
	service, mock, db := newCouponService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM coupons WHERE code").
		WithArgs("WELCOME50").
		WillReturnRows(redeemableCouponRow(1, "WELCOME50", 5000))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	expectLockedRedemption(mock, 1, 5000, 7, 42, 5000)
	mock.ExpectCommit()

	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)

	result, err := service.RedeemCouponForTenant(context.Background(), "welcome50", 7, 42, tx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.True(t, result.Success)
	assert.Equal(t, int64(5000), result.CreditAmountCents)
	assert.Equal(t, "usd", result.Currency)
	assert.Equal(t, int64(5000), result.NewBalanceCents)
	assert.Empty(t, result.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemCouponForTenant_AlreadyRedeemedPreflight(t *testing.T) {
	service, mock, db := newCouponService(t)

	redeemed := time.Now().Add(-time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM coupons WHERE code").
		WithArgs("WELCOME50").
		WillReturnRows(sqlmock.NewRows(couponCols).
			AddRow(1, "WELCOME50", 5000, "usd", true, nil, int64(9), int64(3), redeemed, time.Now(), time.Now()))

	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)

	result, err := service.RedeemCouponForTenant(context.Background(), "WELCOME50", 7, 42, tx)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "Coupon has already been redeemed", result.Message)
	assert.Zero(t, result.CreditAmountCents)
	assert.Zero(t, result.NewBalanceCents)
	// Pre-flight rejection never reaches the lock.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemCouponForTenant_Inactive(t *testing.T) {
	service, mock, db := newCouponService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM coupons WHERE code").
		WithArgs("STALE").
		WillReturnRows(sqlmock.NewRows(couponCols).
			AddRow(1, "STALE", 5000, "usd", false, nil, nil, nil, nil, time.Now(), time.Now()))

	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)

	result, err := service.RedeemCouponForTenant(context.Background(), "STALE", 7, 42, tx)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "Coupon is inactive", result.Message)
	assert.Zero(t, result.NewBalanceCents)
}

func TestRedeemCouponForTenant_Expired(t *testing.T) {
	service, mock, db := newCouponService(t)

	expired := time.Now().Add(-time.Minute)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM coupons WHERE code").
		WithArgs("LASTYEAR").
		WillReturnRows(sqlmock.NewRows(couponCols).
			AddRow(1, "LASTYEAR", 5000, "usd", true, expired, nil, nil, nil, time.Now(), time.Now()))

	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)

	result, err := service.RedeemCouponForTenant(context.Background(), "LASTYEAR", 7, 42, tx)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "Coupon has expired", result.Message)
}

func TestRedeemCouponForTenant_NotFound(t *testing.T) {
	service, mock, db := newCouponService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM coupons WHERE code").
		WithArgs("NOPE").
		WillReturnError(sql.ErrNoRows)

	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)

	result, err := service.RedeemCouponForTenant(context.Background(), "nope", 7, 42, tx)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "Coupon not found", result.Message)
}

func TestRedeemCouponForTenant_TenantNotFound(t *testing.T) {
	service, mock, db := newCouponService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM coupons WHERE code").
		WithArgs("WELCOME50").
		WillReturnRows(redeemableCouponRow(1, "WELCOME50", 5000))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)

	result, err := service.RedeemCouponForTenant(context.Background(), "WELCOME50", 99, 42, tx)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "Tenant not found", result.Message)
}

// A coupon that passes pre-flight but is redeemed by the time the row lock is
// acquired must fail exactly like a pre-flight "already redeemed", with no
// balance write.
func TestRedeemCouponForTenant_LockRace(t *testing.T) {
	service, mock, db := newCouponService(t)

	redeemed := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("FROM coupons WHERE code").
		WithArgs("WELCOME50").
		WillReturnRows(redeemableCouponRow(1, "WELCOME50", 5000))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "credit_amount_cents", "currency", "is_active", "expires_at", "redeemed_at"}).
			AddRow(int64(1), int64(5000), "usd", true, nil, redeemed))

	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)

	result, err := service.RedeemCouponForTenant(context.Background(), "WELCOME50", 7, 42, tx)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "Coupon has already been redeemed", result.Message)
	assert.Zero(t, result.NewBalanceCents)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// With no caller transaction the service opens its own tenant-context
// transaction and commits it around the whole protocol.
func TestRedeemCouponForTenant_OwnTransaction(t *testing.T) {
	service, mock, _ := newCouponService(t)

	mock.ExpectBegin()
	mock.ExpectExec("set_config").
		WithArgs("42").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("set_config").
		WithArgs("7").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM coupons WHERE code").
		WithArgs("WELCOME50").
		WillReturnRows(redeemableCouponRow(1, "WELCOME50", 5000))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	expectLockedRedemption(mock, 1, 5000, 7, 42, 5000)
	mock.ExpectCommit()

	result, err := service.RedeemCouponForTenant(context.Background(), "WELCOME50", 7, 42, nil)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, int64(5000), result.NewBalanceCents)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCoupon_NormalizesCode(t *testing.T) {
	service, mock, db := newCouponService(t)

	mock.ExpectQuery("INSERT INTO coupons").
		WithArgs("WELCOME50", int64(5000), "usd", true, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(1), time.Now(), time.Now()))

	coupon := &Coupon{Code: "  welcome50 ", CreditAmountCents: 5000, IsActive: true}
	err := service.CreateCoupon(context.Background(), db, coupon)
	require.NoError(t, err)
	assert.Equal(t, "WELCOME50", coupon.Code)
	assert.Equal(t, "usd", coupon.Currency)
}

func TestDeactivateExpiredCoupons(t *testing.T) {
	service, mock, _ := newCouponService(t)

	mock.ExpectBegin()
	mock.ExpectExec("set_config").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE coupons SET is_active = FALSE").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	swept, err := service.DeactivateExpiredCoupons(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), swept)
}

func TestCouponRedeemability(t *testing.T) {
	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)
	now := time.Now()

	tests := []struct {
		name       string
		coupon     Coupon
		redeemable bool
	}{
		{"active no expiry", Coupon{IsActive: true}, true},
		{"active future expiry", Coupon{IsActive: true, ExpiresAt: &future}, true},
		{"inactive", Coupon{IsActive: false}, false},
		{"expired", Coupon{IsActive: true, ExpiresAt: &past}, false},
		{"redeemed", Coupon{IsActive: true, RedeemedAt: &now}, false},
		{"redeemed and inactive", Coupon{IsActive: false, RedeemedAt: &now}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.redeemable, tt.coupon.IsRedeemable())
		})
	}
}
