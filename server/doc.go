// Package server implements the request-handling core of the authorization
// server: per-endpoint validation chains, side-effecting handlers, and
// response shaping for the authorization, token, introspection, revocation,
// userinfo and logout endpoints.
//
// Control flow is a fixed pipeline of stages (extract, validate, handle,
// apply) dispatched through a Registry keyed by endpoint and stage.
// Validators may short-circuit a request with a protocol rejection before any
// side effect occurs; handlers run only on accepted requests and perform the
// grant/token lifecycle transitions (redemption, rotation, extension, ad hoc
// authorization creation); shapers run last and move public ticket properties
// into the outgoing response.
//
// Protocol rejections are values, not errors: a rejected request still
// produces a Response carrying a structured error code. Only backend failures
// (storage unavailable and the like) propagate as Go errors.
package server
