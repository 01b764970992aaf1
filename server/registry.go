package server

import (
	"context"
	"fmt"
)

// Stage identifies one phase of the request pipeline
type Stage string

const (
	// StageExtract normalizes the parsed request before validation
	StageExtract Stage = "extract"

	// StageValidate runs the accept/reject predicate chain. No side
	// effects happen in this stage.
	StageValidate Stage = "validate"

	// StageHandle performs side effects on accepted requests
	StageHandle Stage = "handle"

	// StageApply shapes the final response
	StageApply Stage = "apply"
)

// Hook is one pipeline step. It may record a rejection on the request, in
// which case the remaining stages are skipped; a returned error is a fatal
// backend failure, never an expected protocol outcome.
type Hook func(ctx context.Context, req *Request, resp *Response) error

// SerializeFunc encodes a finalized ticket into the opaque payload of one
// token kind. DeserializeFunc is its inverse.
type SerializeFunc func(ticket *Ticket) ([]byte, error)
type DeserializeFunc func(payload []byte) (*Ticket, error)

type registryKey struct {
	endpoint Endpoint
	stage    Stage
}

// Registry is the dispatch table mapping each protocol lifecycle event to
// its implementation: one hook per (endpoint, stage) pair plus a codec per
// token kind. Events the server does not customize fall back to a no-op
// base hook, so overriding is composition, not inheritance.
//
// All registrations happen during construction; a Registry is read-only
// once the server starts serving and is therefore safe for concurrent use.
type Registry struct {
	hooks         map[registryKey]Hook
	serializers   map[string]SerializeFunc
	deserializers map[string]DeserializeFunc
}

// NewRegistry creates a registry with no-op hooks for every endpoint and
// stage and the default JSON ticket codec for every token kind.
func NewRegistry() *Registry {
	r := &Registry{
		hooks:         make(map[registryKey]Hook),
		serializers:   make(map[string]SerializeFunc),
		deserializers: make(map[string]DeserializeFunc),
	}
	endpoints := []Endpoint{
		EndpointAuthorization,
		EndpointToken,
		EndpointIntrospection,
		EndpointRevocation,
		EndpointUserinfo,
		EndpointLogout,
	}
	stages := []Stage{StageExtract, StageValidate, StageHandle, StageApply}
	for _, ep := range endpoints {
		for _, st := range stages {
			r.hooks[registryKey{ep, st}] = noopHook
		}
	}
	kinds := []string{
		UsageAuthorizationCode,
		UsageAccessToken,
		UsageRefreshToken,
		UsageIdentityToken,
	}
	for _, kind := range kinds {
		r.serializers[kind] = serializeTicketJSON
		r.deserializers[kind] = deserializeTicketJSON
	}
	return r
}

func noopHook(ctx context.Context, req *Request, resp *Response) error {
	return nil
}

// Hook returns the registered hook for the endpoint and stage
func (r *Registry) Hook(endpoint Endpoint, stage Stage) Hook {
	if h, ok := r.hooks[registryKey{endpoint, stage}]; ok {
		return h
	}
	return noopHook
}

// Register replaces the hook for the endpoint and stage
func (r *Registry) Register(endpoint Endpoint, stage Stage, hook Hook) error {
	if hook == nil {
		return fmt.Errorf("hook is required")
	}
	key := registryKey{endpoint, stage}
	if _, ok := r.hooks[key]; !ok {
		return fmt.Errorf("unknown pipeline event: %s/%s", endpoint, stage)
	}
	r.hooks[key] = hook
	return nil
}

// Override wraps the currently registered hook for the endpoint and stage.
// The wrapper receives the previous hook and decides whether to run it, so
// custom validation can delegate to the base chain it wraps.
func (r *Registry) Override(endpoint Endpoint, stage Stage, wrap func(next Hook) Hook) error {
	if wrap == nil {
		return fmt.Errorf("wrapper is required")
	}
	key := registryKey{endpoint, stage}
	next, ok := r.hooks[key]
	if !ok {
		return fmt.Errorf("unknown pipeline event: %s/%s", endpoint, stage)
	}
	r.hooks[key] = wrap(next)
	return nil
}

// Serializer returns the ticket serializer for the token kind
func (r *Registry) Serializer(kind string) (SerializeFunc, error) {
	if f, ok := r.serializers[kind]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("no serializer registered for token kind %q", kind)
}

// Deserializer returns the ticket deserializer for the token kind
func (r *Registry) Deserializer(kind string) (DeserializeFunc, error) {
	if f, ok := r.deserializers[kind]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("no deserializer registered for token kind %q", kind)
}

// RegisterCodec replaces the codec for one token kind
func (r *Registry) RegisterCodec(kind string, serialize SerializeFunc, deserialize DeserializeFunc) error {
	if serialize == nil || deserialize == nil {
		return fmt.Errorf("both serializer and deserializer are required")
	}
	if _, ok := r.serializers[kind]; !ok {
		return fmt.Errorf("unknown token kind: %s", kind)
	}
	r.serializers[kind] = serialize
	r.deserializers[kind] = deserialize
	return nil
}
