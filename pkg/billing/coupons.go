package billing

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/SylTi/saascore/pkg/dbcontext"
)

// ErrCouponNotRedeemable signals that the locked re-check found the coupon no
// longer redeemable. It is raised only inside the locked phase; the caller
// translates it into an "already redeemed" failure result, because losing the
// lock race is indistinguishable from arriving late.
var ErrCouponNotRedeemable = fmt.Errorf("coupon is not redeemable")

// User-facing failure messages. These are part of the API contract; handlers
// pass them through verbatim.
const (
	msgCouponNotFound = "Coupon not found"
	msgTenantNotFound = "Tenant not found"
	msgCouponInactive = "Coupon is inactive"
	msgCouponExpired  = "Coupon has expired"
	msgCouponRedeemed = "Coupon has already been redeemed"
)

// CouponService implements coupon lifecycle and redemption over PostgreSQL.
type CouponService struct {
	db     *sql.DB
	runner *dbcontext.Runner
}

// NewCouponService creates a new CouponService.
func NewCouponService(db *sql.DB, runner *dbcontext.Runner) *CouponService {
	return &CouponService{db: db, runner: runner}
}

const couponColumns = `id, code, credit_amount_cents, currency, is_active, expires_at,
	       redeemed_by_user_id, redeemed_by_tenant_id, redeemed_at, created_at, updated_at`

// CreateCoupon inserts a coupon, normalizing the code to uppercase.
func (s *CouponService) CreateCoupon(ctx context.Context, q dbcontext.Querier, c *Coupon) error {
	c.Code = NormalizeCouponCode(c.Code)
	if c.Currency == "" {
		c.Currency = "usd"
	}
	query := `
		INSERT INTO coupons (code, credit_amount_cents, currency, is_active, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := q.QueryRowContext(ctx, query, c.Code, c.CreditAmountCents, c.Currency, c.IsActive, c.ExpiresAt).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create coupon: %w", err)
	}
	return nil
}

// GetCouponByCode retrieves a coupon by its case-insensitive code. Returns
// (nil, nil) when no such coupon exists.
func (s *CouponService) GetCouponByCode(ctx context.Context, q dbcontext.Querier, code string) (*Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`
	return scanCoupon(q.QueryRowContext(ctx, query, NormalizeCouponCode(code)))
}

// RedeemCouponForTenant converts a coupon code into a one-time credit on the
// tenant's balance, at most once per coupon even under concurrent attempts.
//
// When tx is non-nil both the pre-flight reads and the locked phase run on
// it, so RLS context bound by the caller stays in force; the service never
// opens a second, unscoped connection behind the caller's back. A nil tx gets
// a fresh tenant-context transaction.
//
// Expected failures (unknown code, inactive, expired, already redeemed,
// unknown tenant) come back as a result with Success=false and a message;
// the error return is for infrastructure failures only.
func (s *CouponService) RedeemCouponForTenant(ctx context.Context, code string, tenantID, userID int64, tx *sql.Tx) (*RedeemCouponResult, error) {
	if tx != nil {
		return s.redeem(ctx, tx, code, tenantID, userID)
	}

	var result *RedeemCouponResult
	err := s.runner.WithTenantContext(ctx, tenantID, userID, func(tx *sql.Tx) error {
		var err error
		result, err = s.redeem(ctx, tx, code, tenantID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *CouponService) redeem(ctx context.Context, tx *sql.Tx, code string, tenantID, userID int64) (*RedeemCouponResult, error) {
	normalized := NormalizeCouponCode(code)

	// Pre-flight: classify bad codes cheaply, no lock taken.
	coupon, err := s.GetCouponByCode(ctx, tx, normalized)
	if err != nil {
		return nil, err
	}
	if coupon == nil {
		return redemptionFailure(msgCouponNotFound), nil
	}
	if !coupon.IsRedeemable() {
		return redemptionFailure(classifyUnredeemable(coupon)), nil
	}

	var tenantExists bool
	err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)`, tenantID).Scan(&tenantExists)
	if err != nil {
		return nil, fmt.Errorf("failed to check tenant: %w", err)
	}
	if !tenantExists {
		return redemptionFailure(msgTenantNotFound), nil
	}

	newBalance, err := s.redeemLocked(ctx, tx, coupon, tenantID, userID)
	if err == ErrCouponNotRedeemable {
		// Lost the lock race: the winner redeemed it first.
		return redemptionFailure(msgCouponRedeemed), nil
	}
	if err != nil {
		return nil, err
	}

	return &RedeemCouponResult{
		Success:           true,
		CreditAmountCents: coupon.CreditAmountCents,
		Currency:          coupon.Currency,
		NewBalanceCents:   newBalance,
	}, nil
}

// redeemLocked takes the coupon row lock, re-checks redeemability under it,
// then credits the tenant and marks the coupon redeemed. All three steps
// share the caller's transaction, so a failure anywhere rolls back the lot.
func (s *CouponService) redeemLocked(ctx context.Context, tx *sql.Tx, coupon *Coupon, tenantID, userID int64) (int64, error) {
	locked := &Coupon{}
	query := `
		SELECT id, credit_amount_cents, currency, is_active, expires_at, redeemed_at
		FROM coupons
		WHERE id = $1
		FOR UPDATE
	`
	var expiresAt, redeemedAt sql.NullTime
	err := tx.QueryRowContext(ctx, query, coupon.ID).Scan(
		&locked.ID, &locked.CreditAmountCents, &locked.Currency,
		&locked.IsActive, &expiresAt, &redeemedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to lock coupon: %w", err)
	}
	if expiresAt.Valid {
		locked.ExpiresAt = &expiresAt.Time
	}
	if redeemedAt.Valid {
		locked.RedeemedAt = &redeemedAt.Time
	}

	if !locked.IsRedeemable() {
		return 0, ErrCouponNotRedeemable
	}

	var newBalance int64
	err = tx.QueryRowContext(ctx, `
		UPDATE tenants
		SET balance_cents = balance_cents + $1, updated_at = NOW()
		WHERE id = $2
		RETURNING balance_cents
	`, locked.CreditAmountCents, tenantID).Scan(&newBalance)
	if err != nil {
		return 0, fmt.Errorf("failed to credit tenant balance: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE coupons
		SET redeemed_by_user_id = $1, redeemed_by_tenant_id = $2, redeemed_at = NOW(), updated_at = NOW()
		WHERE id = $3
	`, userID, tenantID, locked.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark coupon redeemed: %w", err)
	}

	return newBalance, nil
}

// DeactivateExpiredCoupons flags expired, unredeemed coupons inactive and
// returns the number touched. Run from the sweeper binary.
func (s *CouponService) DeactivateExpiredCoupons(ctx context.Context) (int64, error) {
	var swept int64
	err := s.runner.WithSystemContext(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE coupons
			SET is_active = FALSE, updated_at = NOW()
			WHERE is_active = TRUE AND redeemed_at IS NULL AND expires_at IS NOT NULL AND expires_at < NOW()
		`)
		if err != nil {
			return fmt.Errorf("failed to deactivate expired coupons: %w", err)
		}
		swept, err = result.RowsAffected()
		return err
	})
	return swept, err
}

func redemptionFailure(message string) *RedeemCouponResult {
	return &RedeemCouponResult{Success: false, Message: message}
}

// classifyUnredeemable picks the user-facing message for a coupon that failed
// the redeemability check. Redeemed is checked first: a coupon that is both
// redeemed and expired reads better as already redeemed.
func classifyUnredeemable(c *Coupon) string {
	switch {
	case c.IsRedeemed():
		return msgCouponRedeemed
	case !c.IsActive:
		return msgCouponInactive
	case c.IsExpired():
		return msgCouponExpired
	default:
		return msgCouponRedeemed
	}
}

func scanCoupon(row *sql.Row) (*Coupon, error) {
	c := &Coupon{}
	var expiresAt, redeemedAt sql.NullTime
	var redeemedByUser, redeemedByTenant sql.NullInt64
	err := row.Scan(
		&c.ID, &c.Code, &c.CreditAmountCents, &c.Currency, &c.IsActive, &expiresAt,
		&redeemedByUser, &redeemedByTenant, &redeemedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}

	if expiresAt.Valid {
		c.ExpiresAt = &expiresAt.Time
	}
	if redeemedAt.Valid {
		c.RedeemedAt = &redeemedAt.Time
	}
	if redeemedByUser.Valid {
		c.RedeemedByUserID = &redeemedByUser.Int64
	}
	if redeemedByTenant.Valid {
		c.RedeemedByTenantID = &redeemedByTenant.Int64
	}

	return c, nil
}
