package tenants

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/SylTi/saascore/pkg/dbcontext"
	"github.com/SylTi/saascore/pkg/rbac"
)

// ErrTenantNotFound is returned when a tenant lookup matches no row visible
// to the current context.
var ErrTenantNotFound = fmt.Errorf("tenant not found")

// PostgresService implements tenant, membership and quota operations over
// PostgreSQL. Write methods take an explicit Querier so callers keep them on
// the RLS-bound transaction they already hold; none of them opens a hidden
// connection.
type PostgresService struct {
	db     *sql.DB
	runner *dbcontext.Runner
	tiers  TierProvider
}

// NewPostgresService creates a new PostgresService.
func NewPostgresService(db *sql.DB, runner *dbcontext.Runner, tiers TierProvider) *PostgresService {
	return &PostgresService{db: db, runner: runner, tiers: tiers}
}

// CreateTenant creates a tenant and its owner membership in one shot. The
// caller supplies a system-context transaction: the tenant does not exist yet,
// so no tenant context can be bound.
func (s *PostgresService) CreateTenant(ctx context.Context, q dbcontext.Querier, t *Tenant) error {
	if t.Slug == "" {
		t.Slug = generateSlug(t.Name)
	}
	if t.BalanceCurrency == "" {
		t.BalanceCurrency = "usd"
	}
	if t.PlanTier == "" {
		t.PlanTier = "free"
	}

	overridesJSON, err := json.Marshal(t.QuotaOverrides)
	if err != nil {
		return fmt.Errorf("failed to marshal quota overrides: %w", err)
	}

	query := `
		INSERT INTO tenants (slug, name, owner_user_id, max_members, quota_overrides, balance_cents, balance_currency, plan_tier)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	err = q.QueryRowContext(ctx, query, t.Slug, t.Name, t.OwnerUserID, t.MaxMembers,
		overridesJSON, t.BalanceCents, t.BalanceCurrency, t.PlanTier).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO tenant_members (tenant_id, user_id, role)
		VALUES ($1, $2, $3)
	`, t.ID, t.OwnerUserID, rbac.RoleOwner)
	if err != nil {
		return fmt.Errorf("failed to create owner membership: %w", err)
	}

	return nil
}

const tenantColumns = `id, slug, name, owner_user_id, max_members, quota_overrides,
	       balance_cents, balance_currency, plan_tier, created_at, updated_at`

// GetTenant retrieves a tenant by ID.
func (s *PostgresService) GetTenant(ctx context.Context, q dbcontext.Querier, id int64) (*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	return scanTenant(q.QueryRowContext(ctx, query, id))
}

// GetTenantBySlug retrieves a tenant by slug.
func (s *PostgresService) GetTenantBySlug(ctx context.Context, q dbcontext.Querier, slug string) (*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE slug = $1`
	return scanTenant(q.QueryRowContext(ctx, query, slug))
}

// UpdateTenant persists the mutable tenant fields, including quota overrides
// previously merged by ApplyQuotaUpdates.
func (s *PostgresService) UpdateTenant(ctx context.Context, q dbcontext.Querier, t *Tenant) error {
	overridesJSON, err := json.Marshal(t.QuotaOverrides)
	if err != nil {
		return fmt.Errorf("failed to marshal quota overrides: %w", err)
	}

	query := `
		UPDATE tenants
		SET name = $1, max_members = $2, quota_overrides = $3, plan_tier = $4, updated_at = NOW()
		WHERE id = $5
	`
	result, err := q.ExecContext(ctx, query, t.Name, t.MaxMembers, overridesJSON, t.PlanTier, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTenantNotFound
	}

	return nil
}

// DeleteTenant removes a tenant. The RBAC layer restricts this to the owner;
// membership rows cascade.
func (s *PostgresService) DeleteTenant(ctx context.Context, q dbcontext.Querier, id int64) error {
	result, err := q.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTenantNotFound
	}

	return nil
}

func scanTenant(row *sql.Row) (*Tenant, error) {
	t := &Tenant{}
	var maxMembers sql.NullInt64
	var overridesJSON []byte
	err := row.Scan(
		&t.ID, &t.Slug, &t.Name, &t.OwnerUserID, &maxMembers, &overridesJSON,
		&t.BalanceCents, &t.BalanceCurrency, &t.PlanTier, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	if maxMembers.Valid {
		v := int(maxMembers.Int64)
		t.MaxMembers = &v
	}
	if len(overridesJSON) > 0 {
		if err := json.Unmarshal(overridesJSON, &t.QuotaOverrides); err != nil {
			return nil, fmt.Errorf("failed to unmarshal quota overrides: %w", err)
		}
	}

	return t, nil
}

// generateSlug derives a URL-safe slug from a tenant name.
func generateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	return slug
}
