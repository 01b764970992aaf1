package server

import (
	"fmt"

	"github.com/giantswarm/oidc-core/managers"
)

// Endpoint identifies the protocol endpoint a request arrived at
type Endpoint string

const (
	EndpointAuthorization Endpoint = "authorization"
	EndpointToken         Endpoint = "token"
	EndpointIntrospection Endpoint = "introspection"
	EndpointRevocation    Endpoint = "revocation"
	EndpointUserinfo      Endpoint = "userinfo"
	EndpointLogout        Endpoint = "logout"
)

// OAuth 2.0 grant types from RFC 6749
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeClientCredentials = "client_credentials"
)

// OAuth 2.0 error codes from RFC 6749 and RFC 7662.
// Note: These are intentionally duplicated from the root package to avoid
// circular imports (the root package imports server for type aliases).
// Keep these in sync with the root package.
const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeInvalidClient      = "invalid_client"
	ErrorCodeUnauthorizedClient = "unauthorized_client"
	ErrorCodeInvalidGrant       = "invalid_grant"
)

// Rejection is a terminal protocol-level refusal of a request. It is a
// value, not an error: expected protocol failures never travel as Go errors
// through the pipeline.
type Rejection struct {
	Code        string
	Description string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Description)
}

// Transaction carries entities resolved during earlier pipeline stages so
// later stages do not re-query the managers. Typed slots, not a string-keyed
// bag, so there is no key-collision risk between stages.
type Transaction struct {
	// Application is the client resolved during validation
	Application *managers.Application

	// Token is the record backing the presented code/refresh token
	Token *managers.Token

	// OriginalTicket is the ticket deserialized from the redeemed
	// code/refresh token on the token endpoint
	OriginalTicket *Ticket

	// grantRejection is a grant-integrity failure noticed during
	// extraction, applied only after client validation so callers
	// cannot probe grant material without authenticating first
	grantRejection *Rejection
}

// Request is the parsed protocol message for one call. One Request is
// processed by exactly one pipeline run; it is never shared between
// concurrent requests.
type Request struct {
	Endpoint Endpoint

	// GrantType is set on token requests
	GrantType string

	ClientID     string
	ClientSecret string

	// Token is the raw token parameter on introspection/revocation requests
	Token string

	// TokenTypeHint is the optional token_type_hint parameter
	TokenTypeHint string

	// Scopes the caller asked for
	Scopes []string

	// Ticket is the session ticket attached to the request. On the token
	// endpoint this is the new ticket about to be serialized; on
	// introspection it is the ticket decoded from the presented token.
	Ticket *Ticket

	// Transaction holds entities resolved by earlier stages
	Transaction Transaction

	rejection *Rejection
}

// Reject terminally refuses the request with a protocol error. All
// subsequent pipeline stages are skipped. The first rejection wins.
func (r *Request) Reject(code, description string) {
	if r.rejection != nil {
		return
	}
	r.rejection = &Rejection{Code: code, Description: description}
}

// IsRejected reports whether a terminal rejection was recorded
func (r *Request) IsRejected() bool {
	return r.rejection != nil
}

// Rejection returns the recorded rejection, or nil
func (r *Request) Rejection() *Rejection {
	return r.rejection
}

// HasScope reports whether the request asked for the named scope
func (r *Request) HasScope(scope string) bool {
	for _, s := range r.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// IsAuthorizationCodeGrant reports whether this is a code-grant token request
func (r *Request) IsAuthorizationCodeGrant() bool {
	return r.Endpoint == EndpointToken && r.GrantType == GrantTypeAuthorizationCode
}

// IsRefreshTokenGrant reports whether this is a refresh-token-grant token request
func (r *Request) IsRefreshTokenGrant() bool {
	return r.Endpoint == EndpointToken && r.GrantType == GrantTypeRefreshToken
}

// IsClientCredentialsGrant reports whether this is a client-credentials token request
func (r *Request) IsClientCredentialsGrant() bool {
	return r.Endpoint == EndpointToken && r.GrantType == GrantTypeClientCredentials
}
