// Package cache provides a Redis read-through layer over tenant lookups and
// the shared Redis client constructor.
//
// The cache is strictly an optimization: every Redis failure falls through to
// Postgres, and every tenant mutation must call Invalidate so stale quota
// overrides or balances never outlive the TTL.
package cache
