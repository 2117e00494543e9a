package billing

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/SylTi/saascore/pkg/dbcontext"
)

// Discount validation messages, part of the API contract.
const (
	msgDiscountNotFound    = "Discount code not found"
	msgDiscountInactive    = "Discount code is inactive"
	msgDiscountExpired     = "Discount code has expired"
	msgDiscountMaxUses     = "Discount code has reached its usage limit"
	msgDiscountMaxUserUses = "You have already used this discount code"
	msgDiscountMinAmount   = "Order amount is below the minimum for this discount code"
	msgDiscountBadCurrency = "Discount code is not valid for this currency"
)

// ValidateDiscountCode checks a discount code against an order, running the
// checks in a fixed order and short-circuiting on the first failure. It
// mutates nothing and takes no locks; the race between validation and usage
// recording is accepted for discounts, unlike coupons.
func (s *CouponService) ValidateDiscountCode(ctx context.Context, q dbcontext.Querier, code string, userID, amountCents int64, currency string) (*DiscountValidationResult, error) {
	discount, err := s.getDiscountCode(ctx, q, code)
	if err != nil {
		return nil, err
	}
	if discount == nil {
		return discountFailure(amountCents, msgDiscountNotFound), nil
	}
	if !discount.IsActive {
		return discountFailure(amountCents, msgDiscountInactive), nil
	}
	if discount.IsExpired() {
		return discountFailure(amountCents, msgDiscountExpired), nil
	}

	if discount.MaxUses != nil {
		total, err := s.countUsages(ctx, q, discount.ID, nil)
		if err != nil {
			return nil, err
		}
		if total >= *discount.MaxUses {
			return discountFailure(amountCents, msgDiscountMaxUses), nil
		}
	}
	if discount.MaxUsesPerUser != nil {
		userUses, err := s.countUsages(ctx, q, discount.ID, &userID)
		if err != nil {
			return nil, err
		}
		if userUses >= *discount.MaxUsesPerUser {
			return discountFailure(amountCents, msgDiscountMaxUserUses), nil
		}
	}

	if discount.MinAmountCents != nil && amountCents < *discount.MinAmountCents {
		return discountFailure(amountCents, msgDiscountMinAmount), nil
	}
	if discount.Currency != nil && !strings.EqualFold(*discount.Currency, currency) {
		return discountFailure(amountCents, msgDiscountBadCurrency), nil
	}

	applied := discount.DiscountAmountCents(amountCents)
	return &DiscountValidationResult{
		Valid:                 true,
		OriginalAmountCents:   amountCents,
		DiscountedAmountCents: amountCents - applied,
		DiscountAppliedCents:  applied,
	}, nil
}

// RecordDiscountUsage appends a usage row for a discount code. Call it after
// the discounted charge succeeds, on the same transaction.
func (s *CouponService) RecordDiscountUsage(ctx context.Context, q dbcontext.Querier, discountCodeID, userID int64, tenantID *int64, amountCents int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO discount_code_usages (discount_code_id, user_id, tenant_id, amount_cents)
		VALUES ($1, $2, $3, $4)
	`, discountCodeID, userID, tenantID, amountCents)
	if err != nil {
		return fmt.Errorf("failed to record discount usage: %w", err)
	}
	return nil
}

func (s *CouponService) getDiscountCode(ctx context.Context, q dbcontext.Querier, code string) (*DiscountCode, error) {
	query := `
		SELECT id, code, percent_off, amount_off_cents, currency, is_active, expires_at,
		       max_uses, max_uses_per_user, min_amount_cents, created_at
		FROM discount_codes
		WHERE code = $1
	`
	d := &DiscountCode{}
	var percentOff, maxUses, maxUsesPerUser sql.NullInt64
	var amountOff, minAmount sql.NullInt64
	var currency sql.NullString
	var expiresAt sql.NullTime
	err := q.QueryRowContext(ctx, query, NormalizeCouponCode(code)).Scan(
		&d.ID, &d.Code, &percentOff, &amountOff, &currency, &d.IsActive, &expiresAt,
		&maxUses, &maxUsesPerUser, &minAmount, &d.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get discount code: %w", err)
	}

	if percentOff.Valid {
		v := int(percentOff.Int64)
		d.PercentOff = &v
	}
	if amountOff.Valid {
		d.AmountOffCents = &amountOff.Int64
	}
	if currency.Valid {
		d.Currency = &currency.String
	}
	if expiresAt.Valid {
		d.ExpiresAt = &expiresAt.Time
	}
	if maxUses.Valid {
		v := int(maxUses.Int64)
		d.MaxUses = &v
	}
	if maxUsesPerUser.Valid {
		v := int(maxUsesPerUser.Int64)
		d.MaxUsesPerUser = &v
	}
	if minAmount.Valid {
		d.MinAmountCents = &minAmount.Int64
	}

	return d, nil
}

func (s *CouponService) countUsages(ctx context.Context, q dbcontext.Querier, discountCodeID int64, userID *int64) (int, error) {
	query := `SELECT COUNT(*) FROM discount_code_usages WHERE discount_code_id = $1`
	args := []any{discountCodeID}
	if userID != nil {
		query += ` AND user_id = $2`
		args = append(args, *userID)
	}

	var count int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count discount usages: %w", err)
	}
	return count, nil
}

func discountFailure(amountCents int64, message string) *DiscountValidationResult {
	return &DiscountValidationResult{
		Valid:                 false,
		OriginalAmountCents:   amountCents,
		DiscountedAmountCents: amountCents,
		Message:               message,
	}
}
