// Package audit records security-relevant events to PostgreSQL.
//
// The recorder is wired to the RBAC sensitive-action set: destructive or
// privilege-changing operations get an audit row whether they succeed or are
// denied. Recording failures are logged and swallowed; an audit outage must
// not take the request path down with it.
package audit
