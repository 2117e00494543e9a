// Package api exposes the tenant-scoped HTTP surface.
//
// Routes under /v1/tenants/{tenantId} run through the full middleware chain:
// bearer authentication, tenant match, a request-scoped RLS-bound
// transaction, then per-route RBAC and quota gates. Provisioning routes
// (tenant and coupon creation) sit outside the tenant scope and are expected
// to be reachable only from an internal gateway.
package api
