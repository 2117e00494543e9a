// Package httputil provides HTTP utilities for standardized request/response
// handling.
//
// Failure payloads carry a stable code in the "error" field plus an optional
// human-readable message:
//
//	{"error": "RbacDenied", "deniedActions": ["tenant:delete"]}
//	{"error": "Forbidden", "message": "not a member of this tenant"}
//	{"error": "RedemptionError", "message": "Coupon has already been redeemed"}
//
// The two 403 shapes are deliberately distinct: RbacDenied means the caller
// is a member whose role lacks the listed actions, Forbidden means the caller
// is not a member of the tenant at all.
//
// Request helpers parse JSON bodies, path parameters and query parameters,
// writing the BadRequest payload on failure so handlers can early-return:
//
//	tenantID, ok := httputil.ParsePathInt64OrError(w, r, "tenantId")
//	if !ok {
//		return
//	}
//
// Middleware covers request logging, panic recovery, request ids and body
// size limits; Chain composes them outermost-first.
package httputil
