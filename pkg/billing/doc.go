// Package billing implements credit coupons, checkout discount codes and
// subscription tiers.
//
// The coupon redemption engine is the security-critical piece. Redemption is
// a two-phase protocol: a cheap pre-flight read classifies obviously bad
// codes (unknown, inactive, expired, already redeemed) without taking any
// lock, then a row lock (SELECT ... FOR UPDATE) on the coupon serializes
// concurrent attempts and the redeemability check is repeated under the lock.
// The first transaction to acquire the lock wins; every later one re-reads
// post-redemption state and fails. Balance credit and coupon mark-redeemed
// happen in the same transaction, so partial redemption is never observable.
//
// Expected failures (bad code, already redeemed) are reported as structured
// results with Success=false and a human-readable message, not as errors:
// they are normal outcomes of concurrent operation and must never surface as
// a 500.
//
// Discount codes follow the same fail-fast classification but never lock:
// validation mutates nothing, and usage recording is a separate append-only
// insert.
//
// The package also implements the tenants.TierProvider interface, resolving a
// tenant's subscription tier from the subscriptions table with a short-lived
// in-process cache in front.
package billing
