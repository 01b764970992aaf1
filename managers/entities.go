package managers

import "time"

// Application client types
const (
	ApplicationTypeConfidential = "confidential"
	ApplicationTypePublic       = "public"
	ApplicationTypeHybrid       = "hybrid"
)

// Endpoint and grant-type permissions attached to applications.
// An application may only reach an endpoint or use a grant type when the
// corresponding permission has been provisioned.
const (
	PermissionEndpointAuthorization = "ept:authorization"
	PermissionEndpointToken         = "ept:token"
	PermissionEndpointIntrospection = "ept:introspection"
	PermissionEndpointRevocation    = "ept:revocation"
	PermissionEndpointLogout        = "ept:logout"

	PermissionGrantTypeAuthorizationCode = "gt:authorization_code"
	PermissionGrantTypeRefreshToken      = "gt:refresh_token"
	PermissionGrantTypeClientCredentials = "gt:client_credentials"
)

// Token kinds persisted as records when reference tokens are enabled
const (
	TokenTypeAuthorizationCode = "authorization_code"
	TokenTypeAccessToken       = "access_token"
	TokenTypeRefreshToken      = "refresh_token"
	TokenTypeIdentityToken     = "id_token"
)

// Token statuses. Transitions are monotonic: a token moves from valid to
// redeemed or from valid to revoked and never back.
const (
	TokenStatusValid    = "valid"
	TokenStatusRedeemed = "redeemed"
	TokenStatusRevoked  = "revoked"
)

// Authorization types
const (
	// AuthorizationTypePermanent is a grant created through an explicit
	// consent flow and reused across requests.
	AuthorizationTypePermanent = "permanent"

	// AuthorizationTypeAdHoc is a grant created implicitly because a code or
	// refresh token was issued without a pre-existing authorization.
	AuthorizationTypeAdHoc = "ad-hoc"
)

// Application represents a registered OAuth client. Applications are
// provisioned administratively and are read-only to the request core.
type Application struct {
	ClientID         string
	ClientSecretHash string // bcrypt hash, empty for public clients
	Type             string // "confidential", "public" or "hybrid"
	DisplayName      string
	RedirectURIs     []string
	Permissions      []string
	CreatedAt        time.Time
}

// IsPublic reports whether the application is a public client.
// Public clients hold no credential material and are categorically barred
// from the introspection endpoint.
func (a *Application) IsPublic() bool {
	return a.Type == ApplicationTypePublic
}

// HasPermission reports whether the given permission was provisioned for
// this application.
func (a *Application) HasPermission(permission string) bool {
	for _, p := range a.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// Authorization is a logical grant of scopes by an application to a subject.
// It binds together the codes and tokens issued under one consent. The
// request core creates authorizations but never mutates or deletes them.
type Authorization struct {
	ID        string
	Subject   string
	ClientID  string
	Scopes    []string
	Type      string // "permanent" or "ad-hoc"
	CreatedAt time.Time
}

// Token is the persisted record backing an authorization code, access token,
// identity token or refresh token when reference tokens are enabled. The
// record identifier doubles as the correlation key embedded in the session
// ticket of the issued token.
type Token struct {
	ID              string
	Type            string // "authorization_code", "access_token", ...
	Status          string // "valid", "redeemed" or "revoked"
	Subject         string
	ClientID        string
	AuthorizationID string
	CreatedAt       time.Time
	ExpiresAt       time.Time // zero means no expiration
}

// Scope is a named permission unit attached to requests and tickets.
type Scope struct {
	Name        string
	Description string
	CreatedAt   time.Time
}
