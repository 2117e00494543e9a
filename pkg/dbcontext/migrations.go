package dbcontext

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the schema migrations for the core tables and their
// row-level-security policies. Policies read the session variables with
// current_setting(name, true): NULL when unset, so missing context denies.
// The sentinel app.user_id = '0' marks a system-context transaction and
// bypasses tenant isolation.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create tenants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenants (
					id BIGSERIAL PRIMARY KEY,
					slug VARCHAR(255) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					owner_user_id BIGINT NOT NULL,
					max_members INT,
					quota_overrides JSONB NOT NULL DEFAULT '{}',
					balance_cents BIGINT NOT NULL DEFAULT 0,
					balance_currency VARCHAR(8) NOT NULL DEFAULT 'usd',
					plan_tier VARCHAR(32) NOT NULL DEFAULT 'free',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_tenants_owner ON tenants(owner_user_id);
			`,
		},
		{
			Version:     2,
			Description: "Create tenant members and invitations",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenant_members (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL,
					role VARCHAR(32) NOT NULL,
					invited_by BIGINT,
					joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(tenant_id, user_id)
				);

				CREATE TABLE IF NOT EXISTS tenant_invitations (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					email VARCHAR(320) NOT NULL,
					role VARCHAR(32) NOT NULL,
					token VARCHAR(64) NOT NULL UNIQUE,
					invited_by BIGINT NOT NULL,
					invited_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMPTZ NOT NULL,
					accepted_at TIMESTAMPTZ,
					accepted_by BIGINT
				);

				CREATE INDEX IF NOT EXISTS idx_tenant_invitations_tenant ON tenant_invitations(tenant_id);
			`,
		},
		{
			Version:     3,
			Description: "Create auth tokens table",
			SQL: `
				CREATE TABLE IF NOT EXISTS auth_tokens (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL,
					token_hash VARCHAR(128) NOT NULL,
					name VARCHAR(255),
					expires_at TIMESTAMPTZ,
					revoked_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_auth_tokens_tenant ON auth_tokens(tenant_id);
				CREATE INDEX IF NOT EXISTS idx_auth_tokens_tenant_user ON auth_tokens(tenant_id, user_id);
			`,
		},
		{
			Version:     4,
			Description: "Create coupons and discount codes",
			SQL: `
				CREATE TABLE IF NOT EXISTS coupons (
					id BIGSERIAL PRIMARY KEY,
					code VARCHAR(64) NOT NULL UNIQUE,
					credit_amount_cents BIGINT NOT NULL CHECK (credit_amount_cents > 0),
					currency VARCHAR(8) NOT NULL DEFAULT 'usd',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					expires_at TIMESTAMPTZ,
					redeemed_by_user_id BIGINT,
					redeemed_by_tenant_id BIGINT REFERENCES tenants(id),
					redeemed_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS discount_codes (
					id BIGSERIAL PRIMARY KEY,
					code VARCHAR(64) NOT NULL UNIQUE,
					percent_off INT,
					amount_off_cents BIGINT,
					currency VARCHAR(8),
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					expires_at TIMESTAMPTZ,
					max_uses INT,
					max_uses_per_user INT,
					min_amount_cents BIGINT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS discount_code_usages (
					id BIGSERIAL PRIMARY KEY,
					discount_code_id BIGINT NOT NULL REFERENCES discount_codes(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL,
					tenant_id BIGINT REFERENCES tenants(id) ON DELETE SET NULL,
					amount_cents BIGINT NOT NULL,
					used_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_discount_usages_code_user
					ON discount_code_usages(discount_code_id, user_id);
			`,
		},
		{
			Version:     5,
			Description: "Create subscriptions and notifications",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscriptions (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL UNIQUE REFERENCES tenants(id) ON DELETE CASCADE,
					plan_tier VARCHAR(32) NOT NULL DEFAULT 'free',
					tier_level INT NOT NULL DEFAULT 0,
					features JSONB NOT NULL DEFAULT '{}',
					status VARCHAR(32) NOT NULL DEFAULT 'active',
					current_period_end TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS notifications (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					recipient_id BIGINT NOT NULL,
					kind VARCHAR(64) NOT NULL DEFAULT 'generic',
					title VARCHAR(255) NOT NULL,
					body TEXT NOT NULL DEFAULT '',
					read_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_notifications_recipient
					ON notifications(tenant_id, recipient_id, id DESC);
			`,
		},
		{
			Version:     6,
			Description: "Create audit logs",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_logs (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT,
					tenant_id BIGINT,
					action VARCHAR(128) NOT NULL,
					resource_type VARCHAR(64) NOT NULL,
					resource_id VARCHAR(255),
					status VARCHAR(32) NOT NULL,
					error_message TEXT,
					ip_address VARCHAR(64),
					user_agent TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_audit_logs_tenant ON audit_logs(tenant_id, created_at);
			`,
		},
		{
			Version:     7,
			Description: "Enable row level security and tenant isolation policies",
			SQL: `
				ALTER TABLE tenants ENABLE ROW LEVEL SECURITY;
				ALTER TABLE tenant_members ENABLE ROW LEVEL SECURITY;
				ALTER TABLE tenant_invitations ENABLE ROW LEVEL SECURITY;
				ALTER TABLE auth_tokens ENABLE ROW LEVEL SECURITY;
				ALTER TABLE notifications ENABLE ROW LEVEL SECURITY;

				-- current_setting(name, true) yields NULL when the variable is
				-- unset, so a transaction that never bound its context matches
				-- no rows: absence of context is the most restrictive state.
				DO $$
				BEGIN
					IF NOT EXISTS (SELECT 1 FROM pg_policies WHERE policyname = 'tenants_isolation') THEN
						CREATE POLICY tenants_isolation ON tenants
						USING (
							current_setting('app.user_id', true) = '0'
							OR id = NULLIF(current_setting('app.tenant_id', true), '')::bigint
						);
					END IF;
					IF NOT EXISTS (SELECT 1 FROM pg_policies WHERE policyname = 'tenant_members_isolation') THEN
						CREATE POLICY tenant_members_isolation ON tenant_members
						USING (
							current_setting('app.user_id', true) = '0'
							OR tenant_id = NULLIF(current_setting('app.tenant_id', true), '')::bigint
						);
					END IF;
					IF NOT EXISTS (SELECT 1 FROM pg_policies WHERE policyname = 'tenant_invitations_isolation') THEN
						CREATE POLICY tenant_invitations_isolation ON tenant_invitations
						USING (
							current_setting('app.user_id', true) = '0'
							OR tenant_id = NULLIF(current_setting('app.tenant_id', true), '')::bigint
						);
					END IF;
					IF NOT EXISTS (SELECT 1 FROM pg_policies WHERE policyname = 'auth_tokens_isolation') THEN
						CREATE POLICY auth_tokens_isolation ON auth_tokens
						USING (
							current_setting('app.user_id', true) = '0'
							OR tenant_id = NULLIF(current_setting('app.tenant_id', true), '')::bigint
						);
					END IF;
					IF NOT EXISTS (SELECT 1 FROM pg_policies WHERE policyname = 'notifications_isolation') THEN
						CREATE POLICY notifications_isolation ON notifications
						USING (
							current_setting('app.user_id', true) = '0'
							OR (
								tenant_id = NULLIF(current_setting('app.tenant_id', true), '')::bigint
								AND recipient_id = NULLIF(current_setting('app.user_id', true), '')::bigint
							)
						);
					END IF;
				END
				$$;
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS core_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM core_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO core_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
