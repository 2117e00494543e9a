// Package middleware provides the request-scoped security chain: token
// authentication, tenant selection, RLS-bound transactions, RBAC enforcement
// and quota gates.
//
// # Middleware ordering
//
// The chain has strict ordering dependencies. Incorrect order makes later
// stages see an empty context and reject (or worse, skip) the request.
//
// REQUIRED ORDERING (outer to inner):
//  1. Authenticator.Handler - validates the bearer token, sets AuthContext
//  2. RequireTenant - matches the URL tenant against the token's tenant
//  3. TenantTransaction - opens the RLS-bound transaction for the handler
//  4. RequireActions / quota gates - RBAC and quota checks
//
// RequireTenant rejects a non-member with the Forbidden payload;
// RequireActions rejects an insufficient role with the RbacDenied payload.
// The two 403s are distinct on purpose: membership and permission are
// different questions.
//
// TenantTransaction commits when the handler finishes without a 5xx status
// and rolls back otherwise, so a handler that fails mid-way leaves no partial
// writes.
package middleware
