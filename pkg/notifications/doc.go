// Package notifications implements a tenant- and recipient-scoped message
// store.
//
// Sends require the caller's transaction: the caller is already inside a
// tenant-context transaction and the store never opens its own connection, so
// RLS stays in force for every write. Every lookup is double-scoped by
// (tenant, recipient); a notification belonging to another recipient in the
// same tenant is simply not found, never an authorization error, so
// notification ids cannot be enumerated across recipients.
//
// Reads are marked idempotently: re-marking a read notification is a no-op
// and MarkAllAsRead reports only the rows it actually transitioned.
package notifications
