// Package managers defines the capability contracts consumed by the request
// core: applications (OAuth clients), authorizations (consent grants), scopes,
// and token records.
//
// The core never talks to a database directly. Every lookup, permission
// check, credential validation and status mutation goes through one of the
// four manager interfaces, so the same pipeline runs unchanged against
// in-memory, Valkey, or any other backend.
//
// Implementations are provided in subpackages:
//   - managers/memory: In-memory managers for development and testing
//   - managers/valkey: Valkey/Redis-compatible token manager for production
package managers
