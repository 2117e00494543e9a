package tenants

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SylTi/saascore/pkg/dbcontext"
	"github.com/SylTi/saascore/pkg/rbac"
)

// Membership errors surfaced to callers. Not-found is deliberately
// indistinguishable from not-visible, preserving no-enumeration semantics.
var (
	ErrMemberNotFound     = fmt.Errorf("member not found")
	ErrInvitationNotFound = fmt.Errorf("invitation not found")
)

// ListMembers retrieves all members of a tenant, oldest first.
func (s *PostgresService) ListMembers(ctx context.Context, q dbcontext.Querier, tenantID int64) ([]*TenantMember, error) {
	query := `
		SELECT id, tenant_id, user_id, role, invited_by, joined_at, created_at
		FROM tenant_members
		WHERE tenant_id = $1
		ORDER BY created_at ASC
	`
	rows, err := q.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*TenantMember
	for rows.Next() {
		member := &TenantMember{}
		var invitedBy sql.NullInt64
		if err := rows.Scan(
			&member.ID, &member.TenantID, &member.UserID, &member.Role,
			&invitedBy, &member.JoinedAt, &member.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		if invitedBy.Valid {
			v := invitedBy.Int64
			member.InvitedBy = &v
		}
		members = append(members, member)
	}

	return members, rows.Err()
}

// GetMember retrieves a specific membership.
func (s *PostgresService) GetMember(ctx context.Context, q dbcontext.Querier, tenantID, userID int64) (*TenantMember, error) {
	query := `
		SELECT id, tenant_id, user_id, role, invited_by, joined_at, created_at
		FROM tenant_members
		WHERE tenant_id = $1 AND user_id = $2
	`
	member := &TenantMember{}
	var invitedBy sql.NullInt64
	err := q.QueryRowContext(ctx, query, tenantID, userID).Scan(
		&member.ID, &member.TenantID, &member.UserID, &member.Role,
		&invitedBy, &member.JoinedAt, &member.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	if invitedBy.Valid {
		v := invitedBy.Int64
		member.InvitedBy = &v
	}

	return member, nil
}

// AddMember adds a user to a tenant. Callers run WillExceed on the members
// metric first; the unique (tenant_id, user_id) constraint is the
// authoritative guard against the insert race.
func (s *PostgresService) AddMember(ctx context.Context, q dbcontext.Querier, tenantID, userID int64, role rbac.Role, invitedBy *int64) error {
	query := `
		INSERT INTO tenant_members (tenant_id, user_id, role, invited_by)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := q.ExecContext(ctx, query, tenantID, userID, role, invitedBy); err != nil {
		if strings.Contains(err.Error(), "unique") || strings.Contains(err.Error(), "duplicate") {
			return fmt.Errorf("user is already a member")
		}
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// UpdateMemberRole changes a member's role.
func (s *PostgresService) UpdateMemberRole(ctx context.Context, q dbcontext.Querier, tenantID, userID int64, role rbac.Role) error {
	result, err := q.ExecContext(ctx,
		`UPDATE tenant_members SET role = $1 WHERE tenant_id = $2 AND user_id = $3`,
		role, tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrMemberNotFound
	}

	return nil
}

// RemoveMember removes a user from a tenant. The tenant owner cannot be
// removed; ownership transfers are a tenant update, not a membership change.
func (s *PostgresService) RemoveMember(ctx context.Context, q dbcontext.Querier, tenantID, userID int64) error {
	var ownerID int64
	err := q.QueryRowContext(ctx, `SELECT owner_user_id FROM tenants WHERE id = $1`, tenantID).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return ErrTenantNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get tenant: %w", err)
	}
	if ownerID == userID {
		return fmt.Errorf("cannot remove the tenant owner")
	}

	result, err := q.ExecContext(ctx,
		`DELETE FROM tenant_members WHERE tenant_id = $1 AND user_id = $2`,
		tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrMemberNotFound
	}

	return nil
}

// CreateInvitation creates a pending invitation with a random token.
func (s *PostgresService) CreateInvitation(ctx context.Context, q dbcontext.Querier, inv *TenantInvitation) error {
	if inv.Token == "" {
		inv.Token = uuid.NewString()
	}
	if inv.ExpiresAt.IsZero() {
		inv.ExpiresAt = time.Now().Add(7 * 24 * time.Hour)
	}

	query := `
		INSERT INTO tenant_invitations (tenant_id, email, role, token, invited_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, invited_at
	`
	err := q.QueryRowContext(ctx, query,
		inv.TenantID, strings.ToLower(inv.Email), inv.Role, inv.Token, inv.InvitedBy, inv.ExpiresAt).
		Scan(&inv.ID, &inv.InvitedAt)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}

	return nil
}

// ListInvitations lists pending invitations for a tenant.
func (s *PostgresService) ListInvitations(ctx context.Context, q dbcontext.Querier, tenantID int64) ([]*TenantInvitation, error) {
	query := `
		SELECT id, tenant_id, email, role, token, invited_by, invited_at, expires_at, accepted_at, accepted_by
		FROM tenant_invitations
		WHERE tenant_id = $1 AND accepted_at IS NULL
		ORDER BY invited_at DESC
	`
	rows, err := q.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*TenantInvitation
	for rows.Next() {
		inv := &TenantInvitation{}
		var acceptedAt sql.NullTime
		var acceptedBy sql.NullInt64
		if err := rows.Scan(
			&inv.ID, &inv.TenantID, &inv.Email, &inv.Role, &inv.Token,
			&inv.InvitedBy, &inv.InvitedAt, &inv.ExpiresAt, &acceptedAt, &acceptedBy,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		if acceptedAt.Valid {
			v := acceptedAt.Time
			inv.AcceptedAt = &v
		}
		if acceptedBy.Valid {
			v := acceptedBy.Int64
			inv.AcceptedBy = &v
		}
		invitations = append(invitations, inv)
	}

	return invitations, rows.Err()
}

// AcceptInvitation accepts an invitation and adds the user to the tenant. The
// invitation row is locked so two concurrent accepts serialize: the second one
// re-reads accepted_at under the lock and fails. Runs in its own
// system-context transaction because the accepting user has no tenant context yet.
func (s *PostgresService) AcceptInvitation(ctx context.Context, token string, userID int64) error {
	return s.runner.WithSystemContext(ctx, func(tx *sql.Tx) error {
		query := `
			SELECT id, tenant_id, role, expires_at, accepted_at
			FROM tenant_invitations
			WHERE token = $1
			FOR UPDATE
		`
		var id, tenantID int64
		var role rbac.Role
		var expiresAt time.Time
		var acceptedAt sql.NullTime

		err := tx.QueryRowContext(ctx, query, token).Scan(&id, &tenantID, &role, &expiresAt, &acceptedAt)
		if err == sql.ErrNoRows {
			return ErrInvitationNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get invitation: %w", err)
		}

		if acceptedAt.Valid {
			return fmt.Errorf("invitation already accepted")
		}
		if time.Now().After(expiresAt) {
			return fmt.Errorf("invitation expired")
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO tenant_members (tenant_id, user_id, role)
			VALUES ($1, $2, $3)
			ON CONFLICT (tenant_id, user_id) DO NOTHING
		`, tenantID, userID, role)
		if err != nil {
			return fmt.Errorf("failed to add member: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE tenant_invitations SET accepted_at = NOW(), accepted_by = $1 WHERE id = $2`,
			userID, id)
		if err != nil {
			return fmt.Errorf("failed to update invitation: %w", err)
		}

		return nil
	})
}

// RevokeInvitation deletes a pending invitation.
func (s *PostgresService) RevokeInvitation(ctx context.Context, q dbcontext.Querier, tenantID, id int64) error {
	result, err := q.ExecContext(ctx,
		`DELETE FROM tenant_invitations WHERE id = $1 AND tenant_id = $2 AND accepted_at IS NULL`,
		id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to revoke invitation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrInvitationNotFound
	}

	return nil
}

// CleanupExpiredInvitations deletes expired, unaccepted invitations and
// returns the number removed. Run from the sweeper binary.
func (s *PostgresService) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	var removed int64
	err := s.runner.WithSystemContext(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM tenant_invitations WHERE accepted_at IS NULL AND expires_at < NOW()`)
		if err != nil {
			return fmt.Errorf("failed to cleanup invitations: %w", err)
		}
		removed, err = result.RowsAffected()
		return err
	})
	return removed, err
}
