package managers

import (
	"context"
	"time"
)

// ApplicationManager resolves and authenticates OAuth client applications.
// All methods accept context.Context for tracing and cancellation.
type ApplicationManager interface {
	// FindByClientID retrieves an application by its client identifier.
	// Returns ErrApplicationNotFound if no application matches.
	FindByClientID(ctx context.Context, clientID string) (*Application, error)

	// HasPermission reports whether the application holds the given
	// endpoint or grant-type permission.
	HasPermission(ctx context.Context, app *Application, permission string) (bool, error)

	// ValidateClientSecret checks the presented secret against the
	// application's stored credential material. Returns
	// ErrInvalidClientSecret on mismatch.
	//
	// SECURITY: Implementations must compare in constant time and must
	// perform the same amount of work whether or not the application
	// exists or carries a secret.
	ValidateClientSecret(ctx context.Context, app *Application, clientSecret string) error
}

// AuthorizationManager creates and resolves consent grants.
type AuthorizationManager interface {
	// CreateAuthorization persists a new authorization binding the subject,
	// client and scopes under the given type ("permanent" or "ad-hoc") and
	// returns the stored record with its identifier populated.
	CreateAuthorization(ctx context.Context, subject, clientID string, scopes []string, typ string) (*Authorization, error)

	// FindAuthorizationByID retrieves an authorization by its identifier.
	// Returns ErrAuthorizationNotFound if no authorization matches.
	FindAuthorizationByID(ctx context.Context, id string) (*Authorization, error)
}

// ScopeManager resolves registered scopes. The request core treats scopes
// carried on tickets as opaque strings; this interface exists for hosts that
// validate requested scopes against a registry.
type ScopeManager interface {
	// FindByName retrieves a scope by name.
	// Returns ErrScopeNotFound if no scope matches.
	FindByName(ctx context.Context, name string) (*Scope, error)

	// List returns all registered scopes.
	List(ctx context.Context) ([]*Scope, error)
}

// TokenManager persists and mutates token records. Status mutations must be
// atomic manager-level operations: handlers may be abandoned at any
// suspension point and must never leave a record mid-transition.
type TokenManager interface {
	// Create persists a new token record with status "valid".
	Create(ctx context.Context, token *Token) error

	// FindByID retrieves a token record by its identifier.
	// Returns ErrTokenNotFound if no record matches.
	FindByID(ctx context.Context, id string) (*Token, error)

	// FindByAuthorizationID retrieves every token record attached to the
	// given authorization.
	FindByAuthorizationID(ctx context.Context, authorizationID string) ([]*Token, error)

	// IsValid reports whether the record is still usable: status "valid"
	// and not past its expiration (with clock skew grace).
	IsValid(ctx context.Context, token *Token) (bool, error)

	// TryRedeem atomically transitions the record from "valid" to
	// "redeemed". Exactly one concurrent caller observes true for a given
	// identifier; losers of the race observe false with a nil error. A
	// missing record is reported as ErrTokenNotFound so callers can tell
	// a replayed grant apart from one whose record was cleaned up. Any
	// other non-nil error indicates a backend failure, not a lost race.
	//
	// SECURITY: This operation MUST be a compare-and-set on the current
	// status to prevent concurrent double redemption of codes and
	// refresh tokens.
	TryRedeem(ctx context.Context, id string) (bool, error)

	// TryRevoke atomically transitions the record from "valid" to
	// "revoked". Returns false with a nil error when the record is
	// missing or already redeemed/revoked; callers treat this as a
	// benign concurrent mutation and must not retry.
	TryRevoke(ctx context.Context, id string) (bool, error)

	// TryExtend moves the record's expiration to the given instant when
	// the record is still valid. Returns false with a nil error when the
	// record is missing or no longer valid; callers treat this as a
	// benign concurrent mutation and must not retry.
	TryExtend(ctx context.Context, id string, expiresAt time.Time) (bool, error)
}
