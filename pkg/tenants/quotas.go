package tenants

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Hard fallbacks for token-type limits, keyed by tier level. Applied only when
// neither a tenant override nor a tier default is present.
func tokenFallbacks(level int) (perTenant, perUser int) {
	switch {
	case level >= 2:
		return 5000, 500
	case level >= 1:
		return 500, 100
	default:
		return 50, 20
	}
}

// fallbackPendingInvitations caps pending invitations when no override or
// tier default applies.
const fallbackPendingInvitations = 20

// resolveLimit picks the effective limit from the prioritized sources:
// tenant override first (explicit null means unlimited), then the tier
// default, then the hard fallback. A nil result means unlimited.
func resolveLimit(override OptionalInt, tierDefault *int, fallback *int) *int {
	if override.Present {
		return override.Value
	}
	if tierDefault != nil {
		return tierDefault
	}
	return fallback
}

// EffectiveLimits resolves the four resource ceilings for a tenant.
//
// Resolution order for members: quota override, then tier default, then the
// tenant's raw stored max_members. The raw value is also the last resort when
// the tier lookup fails entirely. The other three metrics use override, tier
// default, hard fallback. A tier lookup failure never fails the call; limits
// degrade to the fallback layer.
func (s *PostgresService) EffectiveLimits(ctx context.Context, tenant *Tenant) (*EffectiveLimits, error) {
	var tierQuotas *TierQuotas
	level := 0
	if tier, err := s.tiers.TierForTenant(ctx, tenant.ID); err == nil && tier != nil {
		level = tier.Level
		tierQuotas = tier.Features.Quotas
	}
	if tierQuotas == nil {
		tierQuotas = &TierQuotas{}
	}

	perTenant, perUser := tokenFallbacks(level)
	invFallback := fallbackPendingInvitations

	return &EffectiveLimits{
		Members:             resolveLimit(tenant.QuotaOverrides.Members, tierQuotas.Members, tenant.MaxMembers),
		PendingInvitations:  resolveLimit(tenant.QuotaOverrides.PendingInvitations, tierQuotas.PendingInvitations, &invFallback),
		AuthTokensPerTenant: resolveLimit(tenant.QuotaOverrides.AuthTokensPerTenant, tierQuotas.AuthTokensPerTenant, &perTenant),
		AuthTokensPerUser:   resolveLimit(tenant.QuotaOverrides.AuthTokensPerUser, tierQuotas.AuthTokensPerUser, &perUser),
	}, nil
}

// Usage runs the four usage counts concurrently, each in its own
// system-context transaction so the counts see the whole tenant regardless of
// the caller's per-request binding.
func (s *PostgresService) Usage(ctx context.Context, tenantID, userID int64) (*Usage, error) {
	usage := &Usage{}
	g, gctx := errgroup.WithContext(ctx)

	count := func(dest *int, query string, args ...interface{}) func() error {
		return func() error {
			return s.runner.WithSystemContext(gctx, func(tx *sql.Tx) error {
				return tx.QueryRowContext(gctx, query, args...).Scan(dest)
			})
		}
	}

	g.Go(count(&usage.Members,
		`SELECT COUNT(*) FROM tenant_members WHERE tenant_id = $1`, tenantID))
	g.Go(count(&usage.PendingInvitations,
		`SELECT COUNT(*) FROM tenant_invitations WHERE tenant_id = $1 AND accepted_at IS NULL AND expires_at > NOW()`, tenantID))
	g.Go(count(&usage.AuthTokensPerTenant,
		`SELECT COUNT(*) FROM auth_tokens WHERE tenant_id = $1 AND revoked_at IS NULL`, tenantID))
	g.Go(count(&usage.AuthTokensPerUser,
		`SELECT COUNT(*) FROM auth_tokens WHERE tenant_id = $1 AND user_id = $2 AND revoked_at IS NULL`, tenantID, userID))

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}

	return usage, nil
}

// Snapshot combines effective limits and live usage into the per-resource
// limit/used/remaining/exceeded tuples.
func (s *PostgresService) Snapshot(ctx context.Context, tenant *Tenant, userID int64) (*QuotaSnapshot, error) {
	limits, err := s.EffectiveLimits(ctx, tenant)
	if err != nil {
		return nil, err
	}
	usage, err := s.Usage(ctx, tenant.ID, userID)
	if err != nil {
		return nil, err
	}

	return &QuotaSnapshot{
		Members:             buildMetric(limits.Members, usage.Members),
		PendingInvitations:  buildMetric(limits.PendingInvitations, usage.PendingInvitations),
		AuthTokensPerTenant: buildMetric(limits.AuthTokensPerTenant, usage.AuthTokensPerTenant),
		AuthTokensPerUser:   buildMetric(limits.AuthTokensPerUser, usage.AuthTokensPerUser),
	}, nil
}

func buildMetric(limit *int, used int) QuotaMetric {
	m := QuotaMetric{Limit: limit, Used: used}
	if limit == nil {
		return m
	}
	remaining := *limit - used
	if remaining < 0 {
		remaining = 0
	}
	m.Remaining = &remaining
	m.Exceeded = used > *limit
	return m
}

// WillExceed is the advisory pre-flight check: would adding increment push
// used past limit? A nil limit is unlimited and never exceeds. Being exactly
// at the limit already blocks further increments, but does not count as
// exceeded in the snapshot.
func WillExceed(limit *int, used, increment int) bool {
	if limit == nil {
		return false
	}
	return used+increment > *limit
}

// CheckMemberQuota returns a QuotaExceededError when adding one member would
// exceed the effective members limit.
func (s *PostgresService) CheckMemberQuota(ctx context.Context, tenant *Tenant) error {
	limits, err := s.EffectiveLimits(ctx, tenant)
	if err != nil {
		return err
	}
	usage, err := s.Usage(ctx, tenant.ID, tenant.OwnerUserID)
	if err != nil {
		return err
	}
	if WillExceed(limits.Members, usage.Members, 1) {
		return &QuotaExceededError{Resource: "members", Used: usage.Members, Limit: *limits.Members}
	}
	return nil
}

// CheckInvitationQuota returns a QuotaExceededError when creating one more
// pending invitation would exceed the effective limit.
func (s *PostgresService) CheckInvitationQuota(ctx context.Context, tenant *Tenant) error {
	limits, err := s.EffectiveLimits(ctx, tenant)
	if err != nil {
		return err
	}
	usage, err := s.Usage(ctx, tenant.ID, tenant.OwnerUserID)
	if err != nil {
		return err
	}
	if WillExceed(limits.PendingInvitations, usage.PendingInvitations, 1) {
		return &QuotaExceededError{Resource: "pending_invitations", Used: usage.PendingInvitations, Limit: *limits.PendingInvitations}
	}
	return nil
}

// ApplyQuotaUpdates merges a partial quota update into the tenant, key by
// key. Absent fields leave the tenant unchanged; malformed values were already
// dropped at decode time. The caller persists the tenant afterward.
func ApplyQuotaUpdates(tenant *Tenant, input QuotaUpdateInput) {
	if input.MaxMembers.Present {
		tenant.MaxMembers = input.MaxMembers.Value
		tenant.QuotaOverrides.Members = input.MaxMembers
	}
	if input.PendingInvitations.Present {
		tenant.QuotaOverrides.PendingInvitations = input.PendingInvitations
	}
	if input.AuthTokensPerTenant.Present {
		tenant.QuotaOverrides.AuthTokensPerTenant = input.AuthTokensPerTenant
	}
	if input.AuthTokensPerUser.Present {
		tenant.QuotaOverrides.AuthTokensPerUser = input.AuthTokensPerUser
	}
}
