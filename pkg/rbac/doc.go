// Package rbac provides the role-based access control decision engine for the
// multi-tenant SaaS core.
//
// # Overview
//
// The engine is a pure, synchronous decision function: it maps a (role, action)
// pair to allow or deny against a static, data-driven permission table. It
// performs no I/O, holds no mutable state, and never returns an error. Every
// ambiguous input (unknown role, unknown action, malformed ownership context)
// resolves to deny.
//
// # Components
//
//  1. Roles: per-tenant membership roles (owner, admin, member)
//  2. Actions: a closed catalog of operations (e.g. "tenant:update")
//  3. Permission table: role -> allowed action set
//  4. Ownership bypass: a safe-action allowlist granted to the resource owner
//  5. Sensitive actions: destructive or privilege-affecting actions that can
//     never be granted through ownership alone
//
// # Usage
//
//	engine := rbac.NewEngine()
//	if engine.Can(rbac.RoleAdmin, rbac.ActionTenantUpdate) {
//		// allowed
//	}
//
// Ownership-aware checks short-circuit for the resource owner on safe actions
// and fall back to the role table otherwise:
//
//	ok := engine.CanWithOwnership(rbac.OwnershipContext{OwnerID: 7, UserID: 7},
//		rbac.RoleMember, rbac.ActionBillingView)
//
// Denial payloads for API responses preserve caller ordering:
//
//	denied := engine.DeniedActions(role, requested)
//
// # Fail-closed semantics
//
// Unknown roles and unknown actions are not errors; they are denials. The
// enforcement layer (pkg/middleware) translates denials into structured 403
// responses and never leaks why a resource exists to non-members.
package rbac
