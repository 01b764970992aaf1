// Package security provides ambient security features for the authorization
// server: audit logging with PII protection, per-identifier rate limiting,
// clock-skew tolerant expiry checks, client IP extraction and secure
// response headers.
//
// The package is deliberately free of protocol logic. The request core in
// package server calls into it for observability and abuse protection but
// never for accept/reject decisions.
package security
