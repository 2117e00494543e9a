package billing

import (
	"strings"
	"time"
)

// Coupon represents a one-time credit coupon. Codes are stored uppercase and
// matched case-insensitively.
type Coupon struct {
	ID                 int64      `json:"id"`
	Code               string     `json:"code"`
	CreditAmountCents  int64      `json:"credit_amount_cents"`
	Currency           string     `json:"currency"`
	IsActive           bool       `json:"is_active"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	RedeemedByUserID   *int64     `json:"redeemed_by_user_id,omitempty"`
	RedeemedByTenantID *int64     `json:"redeemed_by_tenant_id,omitempty"`
	RedeemedAt         *time.Time `json:"redeemed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsExpired reports whether the coupon's expiry, if set, has passed.
func (c *Coupon) IsExpired() bool {
	return c.ExpiresAt != nil && time.Now().After(*c.ExpiresAt)
}

// IsRedeemed reports whether the coupon has already been redeemed.
func (c *Coupon) IsRedeemed() bool {
	return c.RedeemedAt != nil
}

// IsRedeemable reports whether the coupon can still be redeemed. The
// redeemed state is terminal: once false because of redemption, it stays
// false.
func (c *Coupon) IsRedeemable() bool {
	return c.IsActive && !c.IsExpired() && !c.IsRedeemed()
}

// NormalizeCouponCode uppercases and trims a user-supplied coupon code.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// RedeemCouponResult is the structured outcome of a redemption attempt.
// Failure is an expected outcome, not an error: CreditAmountCents and
// NewBalanceCents are zero and Message classifies the reason.
type RedeemCouponResult struct {
	Success           bool   `json:"success"`
	CreditAmountCents int64  `json:"credit_amount_cents"`
	Currency          string `json:"currency,omitempty"`
	NewBalanceCents   int64  `json:"new_balance_cents"`
	Message           string `json:"message,omitempty"`
}

// DiscountCode represents a reusable checkout discount, either a percentage
// or a fixed amount off.
type DiscountCode struct {
	ID             int64      `json:"id"`
	Code           string     `json:"code"`
	PercentOff     *int       `json:"percent_off,omitempty"`
	AmountOffCents *int64     `json:"amount_off_cents,omitempty"`
	Currency       *string    `json:"currency,omitempty"`
	IsActive       bool       `json:"is_active"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	MaxUses        *int       `json:"max_uses,omitempty"`
	MaxUsesPerUser *int       `json:"max_uses_per_user,omitempty"`
	MinAmountCents *int64     `json:"min_amount_cents,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// IsExpired reports whether the discount code's expiry, if set, has passed.
func (d *DiscountCode) IsExpired() bool {
	return d.ExpiresAt != nil && time.Now().After(*d.ExpiresAt)
}

// DiscountAmountCents computes the discount for an order amount, capped at
// the order amount itself.
func (d *DiscountCode) DiscountAmountCents(amountCents int64) int64 {
	var discount int64
	switch {
	case d.PercentOff != nil:
		discount = amountCents * int64(*d.PercentOff) / 100
	case d.AmountOffCents != nil:
		discount = *d.AmountOffCents
	}
	if discount > amountCents {
		discount = amountCents
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

// DiscountValidationResult is the structured outcome of validating a
// discount code against an order.
type DiscountValidationResult struct {
	Valid                 bool   `json:"valid"`
	OriginalAmountCents   int64  `json:"original_amount_cents"`
	DiscountedAmountCents int64  `json:"discounted_amount_cents"`
	DiscountAppliedCents  int64  `json:"discount_applied_cents"`
	Message               string `json:"message,omitempty"`
}

// Subscription is a tenant's subscription record. Tier level drives quota
// fallbacks; features carries tier-level quota defaults as JSON.
type Subscription struct {
	ID               int64      `json:"id"`
	TenantID         int64      `json:"tenant_id"`
	PlanTier         string     `json:"plan_tier"`
	TierLevel        int        `json:"tier_level"`
	Status           string     `json:"status"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
