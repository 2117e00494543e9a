// Package dbcontext bridges application identity to the PostgreSQL session
// variables that row-level-security policies read.
//
// # Overview
//
// Every RLS-governed query must run inside a transaction whose connection has
// app.user_id (and usually app.tenant_id) bound via set_config with the local
// flag, so the binding dies with the transaction. The Runner provides the two
// entry points:
//
//	runner.WithSystemContext(ctx, func(tx *sql.Tx) error { ... })
//	runner.WithTenantContext(ctx, tenantID, userID, func(tx *sql.Tx) error { ... })
//
// System context binds the sentinel user id 0, which the RLS policies treat as
// "no restriction". It exists for operations that legitimately need
// cross-tenant visibility before a tenant is established, such as looking up a
// coupon by code.
//
// # Fail-closed contract
//
// The policies read the variables with current_setting(name, true), which
// returns NULL when unset. Absent context is therefore the most restrictive
// state: a code path that forgets to use one of the wrappers is denied by RLS,
// never silently granted system access. Because set_config is called with
// is_local=true, the binding cannot leak onto a pooled connection reused by a
// later transaction.
package dbcontext
