// Package memory provides an in-memory implementation of all manager
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
//
// All status mutations on token records are performed under a single write
// lock, which gives the compare-and-set semantics the request core requires:
// exactly one concurrent TryRedeem succeeds for a given token identifier.
package memory
