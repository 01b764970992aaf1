package server

import (
	"context"
	"errors"

	"github.com/giantswarm/oidc-core/managers"
	"github.com/giantswarm/oidc-core/security"
)

// validateIntrospectionRequest is the accept/reject chain for the
// introspection endpoint. No side effects happen here; the resolved
// application is stashed on the request transaction for the handler.
func (s *Server) validateIntrospectionRequest(ctx context.Context, req *Request) error {
	// Credentials must be present before any lookup happens
	if req.ClientID == "" || req.ClientSecret == "" {
		req.Reject(ErrorCodeInvalidRequest, "The mandatory 'client_id' and 'client_secret' parameters are missing.")
		return nil
	}

	app, err := s.applications.FindByClientID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, managers.ErrApplicationNotFound) {
			req.Reject(ErrorCodeInvalidClient, "The specified client identifier is invalid.")
			return nil
		}
		return err
	}

	// Keep the resolved application for the handler so it is not
	// re-queried after validation
	req.Transaction.Application = app

	allowed, err := s.applications.HasPermission(ctx, app, managers.PermissionEndpointIntrospection)
	if err != nil {
		return err
	}
	if !allowed {
		req.Reject(ErrorCodeUnauthorizedClient, "This client application is not allowed to use the introspection endpoint.")
		return nil
	}

	// SECURITY: Public clients are categorically barred from introspection,
	// stricter than RFC 7662. A leaked public client identifier must not be
	// enough to probe token validity.
	if app.IsPublic() {
		req.Reject(ErrorCodeInvalidClient, "This client application is not allowed to use the introspection endpoint.")
		return nil
	}

	if err := s.applications.ValidateClientSecret(ctx, app, req.ClientSecret); err != nil {
		if errors.Is(err, managers.ErrInvalidClientSecret) {
			if s.Auditor != nil {
				s.Auditor.LogEvent(clientAuthFailureEvent(req))
			}
			req.Reject(ErrorCodeInvalidClient, "The specified client credentials are invalid.")
			return nil
		}
		return err
	}

	return nil
}

// validateTokenRequest is the accept/reject chain for the token endpoint
func (s *Server) validateTokenRequest(ctx context.Context, req *Request) error {
	if req.GrantType == "" {
		req.Reject(ErrorCodeInvalidRequest, "The mandatory 'grant_type' parameter is missing.")
		return nil
	}
	if req.ClientID == "" {
		req.Reject(ErrorCodeInvalidRequest, "The mandatory 'client_id' parameter is missing.")
		return nil
	}

	app, err := s.applications.FindByClientID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, managers.ErrApplicationNotFound) {
			req.Reject(ErrorCodeInvalidClient, "The specified client identifier is invalid.")
			return nil
		}
		return err
	}
	req.Transaction.Application = app

	// Confidential clients must always authenticate; public clients have
	// no credential material to check.
	if !app.IsPublic() {
		if req.ClientSecret == "" {
			req.Reject(ErrorCodeInvalidClient, "The mandatory 'client_secret' parameter is missing.")
			return nil
		}
		if err := s.applications.ValidateClientSecret(ctx, app, req.ClientSecret); err != nil {
			if errors.Is(err, managers.ErrInvalidClientSecret) {
				if s.Auditor != nil {
					s.Auditor.LogEvent(clientAuthFailureEvent(req))
				}
				req.Reject(ErrorCodeInvalidClient, "The specified client credentials are invalid.")
				return nil
			}
			return err
		}
	} else if req.ClientSecret != "" {
		// A public client presenting a secret is a configuration error
		// on the caller's side
		req.Reject(ErrorCodeInvalidClient, "Public client applications must not send a client secret.")
		return nil
	}

	allowed, err := s.applications.HasPermission(ctx, app, managers.PermissionEndpointToken)
	if err != nil {
		return err
	}
	if !allowed {
		req.Reject(ErrorCodeUnauthorizedClient, "This client application is not allowed to use the token endpoint.")
		return nil
	}

	if permission, ok := grantTypePermissions[req.GrantType]; ok {
		allowed, err := s.applications.HasPermission(ctx, app, permission)
		if err != nil {
			return err
		}
		if !allowed {
			req.Reject(ErrorCodeUnauthorizedClient, "This client application is not allowed to use the specified grant type.")
			return nil
		}
	} else {
		req.Reject(ErrorCodeInvalidRequest, "The specified grant type is not supported.")
		return nil
	}

	return nil
}

// clientAuthFailureEvent builds the audit event for a failed client secret
// check. Possible credential stuffing, so it is always worth a record.
func clientAuthFailureEvent(req *Request) security.Event {
	return security.Event{
		Type:     security.EventClientAuthenticationFailed,
		ClientID: req.ClientID,
		Details: map[string]any{
			"endpoint": string(req.Endpoint),
		},
	}
}

var grantTypePermissions = map[string]string{
	GrantTypeAuthorizationCode: managers.PermissionGrantTypeAuthorizationCode,
	GrantTypeRefreshToken:      managers.PermissionGrantTypeRefreshToken,
	GrantTypeClientCredentials: managers.PermissionGrantTypeClientCredentials,
}

// validateRevocationRequest is the accept/reject chain for the revocation
// endpoint. Unlike introspection, public clients may revoke their own
// tokens, so the secret check only applies to confidential clients.
func (s *Server) validateRevocationRequest(ctx context.Context, req *Request) error {
	if req.ClientID == "" {
		req.Reject(ErrorCodeInvalidRequest, "The mandatory 'client_id' parameter is missing.")
		return nil
	}
	if req.Token == "" {
		req.Reject(ErrorCodeInvalidRequest, "The mandatory 'token' parameter is missing.")
		return nil
	}

	app, err := s.applications.FindByClientID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, managers.ErrApplicationNotFound) {
			req.Reject(ErrorCodeInvalidClient, "The specified client identifier is invalid.")
			return nil
		}
		return err
	}
	req.Transaction.Application = app

	allowed, err := s.applications.HasPermission(ctx, app, managers.PermissionEndpointRevocation)
	if err != nil {
		return err
	}
	if !allowed {
		req.Reject(ErrorCodeUnauthorizedClient, "This client application is not allowed to use the revocation endpoint.")
		return nil
	}

	if !app.IsPublic() {
		if req.ClientSecret == "" {
			req.Reject(ErrorCodeInvalidClient, "The mandatory 'client_secret' parameter is missing.")
			return nil
		}
		if err := s.applications.ValidateClientSecret(ctx, app, req.ClientSecret); err != nil {
			if errors.Is(err, managers.ErrInvalidClientSecret) {
				if s.Auditor != nil {
					s.Auditor.LogEvent(clientAuthFailureEvent(req))
				}
				req.Reject(ErrorCodeInvalidClient, "The specified client credentials are invalid.")
				return nil
			}
			return err
		}
	}

	return nil
}
