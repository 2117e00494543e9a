package notifications

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/SylTi/saascore/pkg/dbcontext"
)

// ErrNotificationNotFound covers both truly absent rows and rows visible only
// to another recipient.
var ErrNotificationNotFound = fmt.Errorf("notification not found")

// Notification is a single message delivered to one recipient within a
// tenant.
type Notification struct {
	ID          int64      `json:"id"`
	TenantID    int64      `json:"tenant_id"`
	RecipientID int64      `json:"recipient_id"`
	Kind        string     `json:"kind"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ListOptions controls ListForRecipient. BeforeID is a strictly-less-than
// keyset cursor over descending ids; zero means start from the newest.
type ListOptions struct {
	UnreadOnly bool
	BeforeID   int64
	Limit      int
}

const defaultListLimit = 50

// Store persists notifications. All methods take the caller's Querier; the
// store opens no connections of its own.
type Store struct{}

// NewStore creates a Store.
func NewStore() *Store {
	return &Store{}
}

// Send inserts one notification on the caller's transaction.
func (s *Store) Send(ctx context.Context, q dbcontext.Querier, n *Notification) error {
	if n.Kind == "" {
		n.Kind = "generic"
	}
	query := `
		INSERT INTO notifications (tenant_id, recipient_id, kind, title, body)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := q.QueryRowContext(ctx, query, n.TenantID, n.RecipientID, n.Kind, n.Title, n.Body).
		Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

// SendBatch fans one message out to several recipients on the caller's
// transaction. A failure on any recipient fails the batch; the caller's
// rollback discards the partial fan-out.
func (s *Store) SendBatch(ctx context.Context, q dbcontext.Querier, tenantID int64, recipientIDs []int64, kind, title, body string) ([]*Notification, error) {
	sent := make([]*Notification, 0, len(recipientIDs))
	for _, recipientID := range recipientIDs {
		n := &Notification{
			TenantID:    tenantID,
			RecipientID: recipientID,
			Kind:        kind,
			Title:       title,
			Body:        body,
		}
		if err := s.Send(ctx, q, n); err != nil {
			return nil, err
		}
		sent = append(sent, n)
	}
	return sent, nil
}

// ListForRecipient returns a recipient's notifications, newest first.
func (s *Store) ListForRecipient(ctx context.Context, q dbcontext.Querier, tenantID, recipientID int64, opts ListOptions) ([]*Notification, error) {
	query := `
		SELECT id, tenant_id, recipient_id, kind, title, body, read_at, created_at
		FROM notifications
		WHERE tenant_id = $1 AND recipient_id = $2
	`
	args := []any{tenantID, recipientID}
	if opts.UnreadOnly {
		query += ` AND read_at IS NULL`
	}
	if opts.BeforeID > 0 {
		args = append(args, opts.BeforeID)
		query += fmt.Sprintf(` AND id < $%d`, len(args))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d`, len(args))

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// FindForRecipient retrieves one notification scoped to (tenant, recipient).
// Another recipient's notification comes back as not found.
func (s *Store) FindForRecipient(ctx context.Context, q dbcontext.Querier, tenantID, recipientID, id int64) (*Notification, error) {
	query := `
		SELECT id, tenant_id, recipient_id, kind, title, body, read_at, created_at
		FROM notifications
		WHERE id = $1 AND tenant_id = $2 AND recipient_id = $3
	`
	n := &Notification{}
	var readAt sql.NullTime
	err := q.QueryRowContext(ctx, query, id, tenantID, recipientID).Scan(
		&n.ID, &n.TenantID, &n.RecipientID, &n.Kind, &n.Title, &n.Body, &readAt, &n.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	if readAt.Valid {
		n.ReadAt = &readAt.Time
	}

	return n, nil
}

// MarkAsRead marks one notification read. Re-marking an already-read
// notification is a no-op; an unknown or other-recipient id is not found.
func (s *Store) MarkAsRead(ctx context.Context, q dbcontext.Querier, tenantID, recipientID, id int64) error {
	result, err := q.ExecContext(ctx, `
		UPDATE notifications
		SET read_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND recipient_id = $3 AND read_at IS NULL
	`, id, tenantID, recipientID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	// Nothing transitioned: either already read (fine) or not visible.
	if _, err := s.FindForRecipient(ctx, q, tenantID, recipientID, id); err != nil {
		return err
	}
	return nil
}

// MarkAllAsRead marks every unread notification for the recipient and
// returns the count actually transitioned.
func (s *Store) MarkAllAsRead(ctx context.Context, q dbcontext.Querier, tenantID, recipientID int64) (int64, error) {
	result, err := q.ExecContext(ctx, `
		UPDATE notifications
		SET read_at = NOW()
		WHERE tenant_id = $1 AND recipient_id = $2 AND read_at IS NULL
	`, tenantID, recipientID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}

	return result.RowsAffected()
}

// CountUnread returns the recipient's unread notification count.
func (s *Store) CountUnread(ctx context.Context, q dbcontext.Querier, tenantID, recipientID int64) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE tenant_id = $1 AND recipient_id = $2 AND read_at IS NULL
	`, tenantID, recipientID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

func scanNotification(rows *sql.Rows) (*Notification, error) {
	n := &Notification{}
	var readAt sql.NullTime
	if err := rows.Scan(
		&n.ID, &n.TenantID, &n.RecipientID, &n.Kind, &n.Title, &n.Body, &readAt, &n.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan notification: %w", err)
	}
	if readAt.Valid {
		n.ReadAt = &readAt.Time
	}
	return n, nil
}
