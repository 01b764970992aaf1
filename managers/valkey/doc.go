// Package valkey provides a Valkey/Redis-compatible implementation of the
// TokenManager interface for production deployments where token records must
// be shared across server instances.
//
// # Atomicity
//
// The one-shot status transitions the request core depends on are
// implemented as Lua scripts, which Valkey executes atomically:
//
//   - TryRedeem: compare-and-set valid -> redeemed; exactly one concurrent
//     caller succeeds for a given token identifier
//   - TryRevoke: compare-and-set valid -> revoked
//   - TryExtend: conditional expiration update while the record is valid
//
// This provides the same at-most-once redemption guarantee as the in-memory
// backend, but across processes.
//
// # Key layout
//
//   - {prefix}token:{id}    JSON-serialized token record, TTL = expiry
//   - {prefix}authz:{id}    set of token ids attached to one authorization
package valkey
