package managers

import "errors"

// Sentinel errors returned by manager implementations. Callers match these
// with errors.Is to distinguish expected protocol conditions from backend
// failures, which are returned as ordinary wrapped errors and treated as
// fatal by the request core.
var (
	// ErrApplicationNotFound indicates no application exists for the client id
	ErrApplicationNotFound = errors.New("application not found")

	// ErrAuthorizationNotFound indicates no authorization exists for the id
	ErrAuthorizationNotFound = errors.New("authorization not found")

	// ErrTokenNotFound indicates no token record exists for the identifier
	ErrTokenNotFound = errors.New("token not found")

	// ErrScopeNotFound indicates no scope is registered under the name
	ErrScopeNotFound = errors.New("scope not found")

	// ErrInvalidClientSecret indicates client secret validation failed
	ErrInvalidClientSecret = errors.New("invalid client secret")

	// ErrDuplicateEntity indicates a create collided with an existing record
	ErrDuplicateEntity = errors.New("entity already exists")
)
