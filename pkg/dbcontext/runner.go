package dbcontext

import (
	"context"
	"database/sql"
	"fmt"
)

// SystemUserID is the sentinel bound to app.user_id for system-context
// transactions. RLS policies treat it as "no restriction".
const SystemUserID int64 = 0

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Services accept it so that writes can be kept on the caller's RLS-bound
// transaction instead of silently opening an unscoped connection.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Runner opens identity-bound transactions. Each call creates its own
// transaction; concurrent calls are isolated by ordinary transaction isolation
// and hold no locking at this layer.
type Runner struct {
	db *sql.DB
}

// NewRunner creates a Runner over the connection pool.
func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db}
}

// DB returns the underlying pool, for callers that need unscoped reads such
// as health checks.
func (r *Runner) DB() *sql.DB {
	return r.db
}

// WithSystemContext runs fn inside a transaction with app.user_id bound to the
// system sentinel. The transaction commits when fn returns nil and rolls back
// otherwise; a rollback leaves no partial writes observable.
func (r *Runner) WithSystemContext(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return r.run(ctx, SystemUserID, nil, fn)
}

// WithTenantContext runs fn inside a transaction with both app.user_id and
// app.tenant_id bound, so every RLS policy that restricts by tenant passes for
// this connection for the duration of the transaction.
func (r *Runner) WithTenantContext(ctx context.Context, tenantID, userID int64, fn func(tx *sql.Tx) error) error {
	return r.run(ctx, userID, &tenantID, fn)
}

func (r *Runner) run(ctx context.Context, userID int64, tenantID *int64, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := BindTx(ctx, tx, userID, tenantID); err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// BindTx binds the session variables on an already-open transaction. The
// is_local flag scopes the setting to the transaction, so pooled connections
// never carry a stale identity into a later transaction.
func BindTx(ctx context.Context, tx *sql.Tx, userID int64, tenantID *int64) error {
	if _, err := tx.ExecContext(ctx,
		`SELECT set_config('app.user_id', $1, true)`,
		fmt.Sprintf("%d", userID),
	); err != nil {
		return fmt.Errorf("failed to bind app.user_id: %w", err)
	}
	if tenantID != nil {
		if _, err := tx.ExecContext(ctx,
			`SELECT set_config('app.tenant_id', $1, true)`,
			fmt.Sprintf("%d", *tenantID),
		); err != nil {
			return fmt.Errorf("failed to bind app.tenant_id: %w", err)
		}
	}
	return nil
}
