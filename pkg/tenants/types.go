package tenants

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/SylTi/saascore/pkg/rbac"
)

// Tenant is the billing and membership root.
type Tenant struct {
	ID              int64          `json:"id"`
	Slug            string         `json:"slug"`
	Name            string         `json:"name"`
	OwnerUserID     int64          `json:"owner_user_id"`
	MaxMembers      *int           `json:"max_members,omitempty"`
	QuotaOverrides  QuotaOverrides `json:"quota_overrides"`
	BalanceCents    int64          `json:"balance_cents"`
	BalanceCurrency string         `json:"balance_currency"`
	PlanTier        string         `json:"plan_tier"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// TenantMember is the (tenant, user, role) triple, unique on (tenant, user).
type TenantMember struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	UserID    int64     `json:"user_id"`
	Role      rbac.Role `json:"role"`
	InvitedBy *int64    `json:"invited_by,omitempty"`
	JoinedAt  time.Time `json:"joined_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TenantInvitation is a pending invitation to join a tenant.
type TenantInvitation struct {
	ID         int64      `json:"id"`
	TenantID   int64      `json:"tenant_id"`
	Email      string     `json:"email"`
	Role       rbac.Role  `json:"role"`
	Token      string     `json:"token,omitempty"`
	InvitedBy  int64      `json:"invited_by"`
	InvitedAt  time.Time  `json:"invited_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy *int64     `json:"accepted_by,omitempty"`
}

// OptionalInt distinguishes "absent" from "explicit null" in quota override
// JSON. Absent means leave unchanged; explicit null means unlimited. Any value
// that is not a positive integer is dropped as if absent; configuration input
// is permissive and fails safe to no-op.
type OptionalInt struct {
	Present bool
	Value   *int // nil with Present=true means unlimited
}

// UnmarshalJSON accepts a positive integer or null; everything else resolves
// to absent without error.
func (o *OptionalInt) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		o.Present = true
		o.Value = nil
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		o.Present = false
		o.Value = nil
		return nil
	}
	o.Present = true
	o.Value = &n
	return nil
}

// MarshalJSON emits the value, or null for unlimited. Absent entries are
// filtered out by QuotaOverrides.MarshalJSON.
func (o OptionalInt) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}

// QuotaOverrides holds tenant-specific limit overrides, stored as JSONB.
type QuotaOverrides struct {
	Members             OptionalInt
	PendingInvitations  OptionalInt
	AuthTokensPerTenant OptionalInt
	AuthTokensPerUser   OptionalInt
}

const (
	overrideKeyMembers             = "members"
	overrideKeyPendingInvitations  = "pendingInvitations"
	overrideKeyAuthTokensPerTenant = "authTokensPerTenant"
	overrideKeyAuthTokensPerUser   = "authTokensPerUser"
)

// MarshalJSON emits only the present overrides.
func (q QuotaOverrides) MarshalJSON() ([]byte, error) {
	out := make(map[string]OptionalInt, 4)
	if q.Members.Present {
		out[overrideKeyMembers] = q.Members
	}
	if q.PendingInvitations.Present {
		out[overrideKeyPendingInvitations] = q.PendingInvitations
	}
	if q.AuthTokensPerTenant.Present {
		out[overrideKeyAuthTokensPerTenant] = q.AuthTokensPerTenant
	}
	if q.AuthTokensPerUser.Present {
		out[overrideKeyAuthTokensPerUser] = q.AuthTokensPerUser
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the stored override map, dropping malformed entries.
func (q *QuotaOverrides) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		// Malformed overrides blob behaves as "no overrides".
		*q = QuotaOverrides{}
		return nil
	}
	parse := func(key string) OptionalInt {
		msg, ok := raw[key]
		if !ok {
			return OptionalInt{}
		}
		var o OptionalInt
		_ = o.UnmarshalJSON(msg)
		return o
	}
	q.Members = parse(overrideKeyMembers)
	q.PendingInvitations = parse(overrideKeyPendingInvitations)
	q.AuthTokensPerTenant = parse(overrideKeyAuthTokensPerTenant)
	q.AuthTokensPerUser = parse(overrideKeyAuthTokensPerUser)
	return nil
}

// QuotaUpdateInput carries a partial quota update. Absent fields leave the
// tenant unchanged.
type QuotaUpdateInput struct {
	MaxMembers          OptionalInt `json:"maxMembers"`
	PendingInvitations  OptionalInt `json:"pendingInvitations"`
	AuthTokensPerTenant OptionalInt `json:"authTokensPerTenant"`
	AuthTokensPerUser   OptionalInt `json:"authTokensPerUser"`
}

// EffectiveLimits are the resolved ceilings for a tenant. nil means unlimited.
type EffectiveLimits struct {
	Members             *int `json:"members"`
	PendingInvitations  *int `json:"pending_invitations"`
	AuthTokensPerTenant *int `json:"auth_tokens_per_tenant"`
	AuthTokensPerUser   *int `json:"auth_tokens_per_user"`
}

// Usage holds the live counts for the tracked resources.
type Usage struct {
	Members             int `json:"members"`
	PendingInvitations  int `json:"pending_invitations"`
	AuthTokensPerTenant int `json:"auth_tokens_per_tenant"`
	AuthTokensPerUser   int `json:"auth_tokens_per_user"`
}

// QuotaMetric is one resource's limit-vs-usage tuple.
type QuotaMetric struct {
	Limit     *int `json:"limit"`
	Used      int  `json:"used"`
	Remaining *int `json:"remaining"`
	Exceeded  bool `json:"exceeded"`
}

// QuotaSnapshot is the derived, non-persisted limit/usage view.
type QuotaSnapshot struct {
	Members             QuotaMetric `json:"members"`
	PendingInvitations  QuotaMetric `json:"pending_invitations"`
	AuthTokensPerTenant QuotaMetric `json:"auth_tokens_per_tenant"`
	AuthTokensPerUser   QuotaMetric `json:"auth_tokens_per_user"`
}

// TierQuotas are quota defaults embedded on a subscription tier.
type TierQuotas struct {
	Members             *int `json:"members,omitempty"`
	PendingInvitations  *int `json:"pendingInvitations,omitempty"`
	AuthTokensPerTenant *int `json:"authTokensPerTenant,omitempty"`
	AuthTokensPerUser   *int `json:"authTokensPerUser,omitempty"`
}

// TierFeatures is the structured feature config on a tier.
type TierFeatures struct {
	Quotas *TierQuotas `json:"quotas,omitempty"`
}

// Tier describes a subscription tier as supplied by the billing collaborator.
type Tier struct {
	Name     string       `json:"name"`
	Level    int          `json:"level"`
	Features TierFeatures `json:"features"`
}

// TierProvider supplies the subscription tier for a tenant. Implemented by
// pkg/billing.
type TierProvider interface {
	TierForTenant(ctx context.Context, tenantID int64) (*Tier, error)
}

// QuotaExceededError signals that an operation would push a resource past its
// effective limit. It is an expected outcome of normal operation, never a 500.
type QuotaExceededError struct {
	Resource string
	Used     int
	Limit    int
}

func (e *QuotaExceededError) Error() string {
	return "quota exceeded for " + e.Resource
}

// IsQuotaExceeded checks if an error is a quota exceeded error
func IsQuotaExceeded(err error) bool {
	_, ok := err.(*QuotaExceededError)
	return ok
}
