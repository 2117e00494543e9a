// Package tenants manages tenants, memberships, invitations and resource
// quotas.
//
// # Overview
//
// A tenant is the billing and membership root: it owns a slug, an owner user,
// a credit balance, optional quota overrides and a subscription tier. Each
// (user, tenant) pair holds exactly one role, stored on the membership row.
//
// # Quota evaluation
//
// Effective limits resolve through a fixed priority order, highest first:
//
//	1. tenant quota override (positive integer, or explicit null = unlimited)
//	2. subscription-tier feature defaults
//	3. hard-coded fallbacks keyed by tier level
//
// Limits combine with live usage counts into a QuotaSnapshot. WillExceed is
// the advisory pre-flight check callers run before increment-causing
// operations; the authoritative guard against races is the database constraint
// on the actual insert.
//
// Override input is permissive: malformed values are silently dropped rather
// than rejected, the opposite of the fail-closed policy applied to
// authorization data. Configuration mistakes become no-ops, authorization
// ambiguity becomes denial.
package tenants
