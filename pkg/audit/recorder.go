package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/SylTi/saascore/pkg/dbcontext"
	"github.com/SylTi/saascore/pkg/rbac"
)

// Status classifies the outcome of the audited operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusDenied  Status = "denied"
	StatusFailure Status = "failure"
)

// Event is one audit record.
type Event struct {
	ID           int64     `json:"id"`
	UserID       *int64    `json:"user_id,omitempty"`
	TenantID     *int64    `json:"tenant_id,omitempty"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id,omitempty"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Recorder writes audit events. Writes run in their own system-context
// transaction so a denied request, which never gets a tenant-bound
// transaction, can still be recorded.
type Recorder struct {
	runner *dbcontext.Runner
	engine *rbac.Engine
	logger *slog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(runner *dbcontext.Runner, engine *rbac.Engine, logger *slog.Logger) *Recorder {
	return &Recorder{runner: runner, engine: engine, logger: logger}
}

// Record persists an event, logging and swallowing any storage failure.
func (r *Recorder) Record(ctx context.Context, event *Event) {
	err := r.runner.WithSystemContext(ctx, func(tx *sql.Tx) error {
		return insertEvent(ctx, tx, event)
	})
	if err != nil {
		r.logger.Error("failed to record audit event",
			"action", event.Action,
			"status", string(event.Status),
			"error", err,
		)
	}
}

// RecordInTx persists an event on the caller's transaction, so the audit row
// commits and rolls back with the operation it describes.
func (r *Recorder) RecordInTx(ctx context.Context, q dbcontext.Querier, event *Event) error {
	return insertEvent(ctx, q, event)
}

// RecordAction audits an RBAC-checked operation when the action is in the
// sensitive set. Non-sensitive actions are dropped to keep the log small.
func (r *Recorder) RecordAction(ctx context.Context, userID, tenantID int64, action rbac.Action, status Status, errMsg string) {
	if !r.engine.IsSensitiveAction(action) {
		return
	}
	r.Record(ctx, &Event{
		UserID:       &userID,
		TenantID:     &tenantID,
		Action:       string(action),
		ResourceType: "tenant",
		Status:       status,
		ErrorMessage: errMsg,
	})
}

func insertEvent(ctx context.Context, q dbcontext.Querier, event *Event) error {
	query := `
		INSERT INTO audit_logs (user_id, tenant_id, action, resource_type, resource_id,
		                        status, error_message, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	err := q.QueryRowContext(ctx, query,
		event.UserID, event.TenantID, event.Action, event.ResourceType, nullable(event.ResourceID),
		event.Status, nullable(event.ErrorMessage), nullable(event.IPAddress), nullable(event.UserAgent)).
		Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// ListForTenant returns a tenant's audit trail, newest first.
func (r *Recorder) ListForTenant(ctx context.Context, q dbcontext.Querier, tenantID int64, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, tenant_id, action, resource_type, resource_id,
		       status, error_message, ip_address, user_agent, created_at
		FROM audit_logs
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var userID, eventTenantID sql.NullInt64
		var resourceID, errMsg, ip, agent sql.NullString
		if err := rows.Scan(
			&e.ID, &userID, &eventTenantID, &e.Action, &e.ResourceType, &resourceID,
			&e.Status, &errMsg, &ip, &agent, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if userID.Valid {
			e.UserID = &userID.Int64
		}
		if eventTenantID.Valid {
			e.TenantID = &eventTenantID.Int64
		}
		e.ResourceID = resourceID.String
		e.ErrorMessage = errMsg.String
		e.IPAddress = ip.String
		e.UserAgent = agent.String
		events = append(events, e)
	}

	return events, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
