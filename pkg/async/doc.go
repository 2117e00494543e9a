// Package async provides panic-safe goroutine helpers and a bounded worker
// pool for background work that must not take down the serving process, such
// as notification fan-out after a commit and audit writes.
package async
