package oidc

import "encoding/json"

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

// TokenResponse represents an OAuth 2.0 token endpoint response (RFC 6749 §5.1)
type TokenResponse struct {
	// AccessToken is the issued access token
	AccessToken string `json:"access_token"`

	// TokenType is the token type, always "Bearer"
	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// RefreshToken is the issued refresh token, if any
	RefreshToken string `json:"refresh_token,omitempty"`

	// IDToken is the issued OpenID Connect identity token, if any
	IDToken string `json:"id_token,omitempty"`

	// Scope is the granted scope, space separated
	Scope string `json:"scope,omitempty"`

	// Parameters carries additional response members copied from public
	// ticket properties. They are flattened into the top-level JSON
	// object when the response is marshaled.
	Parameters map[string]string `json:"-"`
}

// MarshalJSON flattens Parameters into the top-level response object.
// Standard members always win over parameters with colliding names.
func (r TokenResponse) MarshalJSON() ([]byte, error) {
	type alias TokenResponse
	base, err := json.Marshal(alias(r))
	if err != nil {
		return nil, err
	}
	if len(r.Parameters) == 0 {
		return base, nil
	}

	merged := make(map[string]json.RawMessage)
	for name, value := range r.Parameters {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		merged[name] = encoded
	}
	var standard map[string]json.RawMessage
	if err := json.Unmarshal(base, &standard); err != nil {
		return nil, err
	}
	for name, value := range standard {
		merged[name] = value
	}
	return json.Marshal(merged)
}

// IntrospectionResponse represents a token introspection response (RFC 7662 §2.2)
type IntrospectionResponse struct {
	// Active reports whether the presented token is currently usable
	Active bool `json:"active"`

	// Scope is the token's scope, space separated
	Scope string `json:"scope,omitempty"`

	// ClientID is the client the token was issued to
	ClientID string `json:"client_id,omitempty"`

	// Subject is the subject of the token
	Subject string `json:"sub,omitempty"`

	// Audiences lists the token's intended audiences
	Audiences []string `json:"aud,omitempty"`

	// TokenType is the token type, "Bearer" for access tokens
	TokenType string `json:"token_type,omitempty"`

	// IssuedAt is the issuance timestamp as Unix seconds
	IssuedAt int64 `json:"iat,omitempty"`
}
