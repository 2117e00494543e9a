package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/SylTi/saascore/pkg/dbcontext"
	"github.com/SylTi/saascore/pkg/tenants"
)

// defaultTier is what tenants without a subscription row resolve to.
var defaultTier = tenants.Tier{Name: "free", Level: 0}

// TierService resolves subscription tiers for tenants, implementing
// tenants.TierProvider. Lookups go through a short-TTL in-process cache; tier
// changes are rare and the quota evaluator tolerates slightly stale tiers.
type TierService struct {
	db     *sql.DB
	runner *dbcontext.Runner
	cache  *lru.LRU[int64, *tenants.Tier]
}

// NewTierService creates a TierService with a tier cache of the given size
// and TTL. A zero TTL disables expiry-based eviction.
func NewTierService(db *sql.DB, runner *dbcontext.Runner, cacheSize int, cacheTTL time.Duration) *TierService {
	if cacheSize < 16 {
		cacheSize = 16
	}
	return &TierService{
		db:     db,
		runner: runner,
		cache:  lru.NewLRU[int64, *tenants.Tier](cacheSize, nil, cacheTTL),
	}
}

// TierForTenant returns the tenant's subscription tier, falling back to the
// free tier when no subscription exists. Runs in its own system-context
// transaction: subscriptions are readable regardless of the caller's tenant
// binding.
func (s *TierService) TierForTenant(ctx context.Context, tenantID int64) (*tenants.Tier, error) {
	if tier, ok := s.cache.Get(tenantID); ok {
		return tier, nil
	}

	var tier *tenants.Tier
	err := s.runner.WithSystemContext(ctx, func(tx *sql.Tx) error {
		var name string
		var level int
		var featuresJSON []byte
		err := tx.QueryRowContext(ctx, `
			SELECT plan_tier, tier_level, features
			FROM subscriptions
			WHERE tenant_id = $1 AND status = 'active'
		`, tenantID).Scan(&name, &level, &featuresJSON)
		if err == sql.ErrNoRows {
			t := defaultTier
			tier = &t
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get subscription: %w", err)
		}

		tier = &tenants.Tier{Name: name, Level: level}
		if len(featuresJSON) > 0 {
			if err := json.Unmarshal(featuresJSON, &tier.Features); err != nil {
				return fmt.Errorf("failed to unmarshal tier features: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Add(tenantID, tier)
	return tier, nil
}

// Invalidate drops a tenant's cached tier. Call after any subscription
// change.
func (s *TierService) Invalidate(tenantID int64) {
	s.cache.Remove(tenantID)
}

// UpsertSubscription creates or replaces a tenant's subscription and drops
// the cached tier.
func (s *TierService) UpsertSubscription(ctx context.Context, q dbcontext.Querier, sub *Subscription, features tenants.TierFeatures) error {
	featuresJSON, err := json.Marshal(features)
	if err != nil {
		return fmt.Errorf("failed to marshal tier features: %w", err)
	}

	if sub.Status == "" {
		sub.Status = "active"
	}
	query := `
		INSERT INTO subscriptions (tenant_id, plan_tier, tier_level, features, status, current_period_end)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id) DO UPDATE
		SET plan_tier = EXCLUDED.plan_tier, tier_level = EXCLUDED.tier_level,
		    features = EXCLUDED.features, status = EXCLUDED.status,
		    current_period_end = EXCLUDED.current_period_end, updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err = q.QueryRowContext(ctx, query, sub.TenantID, sub.PlanTier, sub.TierLevel,
		featuresJSON, sub.Status, sub.CurrentPeriodEnd).
		Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}

	s.Invalidate(sub.TenantID)
	return nil
}

// CancelSubscription marks a tenant's subscription canceled and drops the
// cached tier. The tenant falls back to the free tier on the next lookup.
func (s *TierService) CancelSubscription(ctx context.Context, q dbcontext.Querier, tenantID int64) error {
	result, err := q.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = 'canceled', updated_at = NOW()
		WHERE tenant_id = $1 AND status = 'active'
	`, tenantID)
	if err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("subscription not found")
	}

	s.Invalidate(tenantID)
	return nil
}

// ExpireLapsedSubscriptions cancels active subscriptions whose period ended,
// returning the number touched. Run from the sweeper binary. The tier cache
// TTL bounds how long a lapsed tenant can still see its old tier.
func (s *TierService) ExpireLapsedSubscriptions(ctx context.Context) (int64, error) {
	var lapsed int64
	err := s.runner.WithSystemContext(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE subscriptions
			SET status = 'canceled', updated_at = NOW()
			WHERE status = 'active' AND current_period_end IS NOT NULL AND current_period_end < NOW()
		`)
		if err != nil {
			return fmt.Errorf("failed to expire subscriptions: %w", err)
		}
		lapsed, err = result.RowsAffected()
		return err
	})
	return lapsed, err
}
