package server

import (
	"sort"
	"time"
)

// Token usage values recorded on a ticket. They identify which artifact the
// ticket was, or is about to be, serialized into.
const (
	UsageAuthorizationCode = "authorization_code"
	UsageAccessToken       = "access_token"
	UsageRefreshToken      = "refresh_token"
	UsageIdentityToken     = "id_token"
)

// Well-known ticket property names
const (
	PropertyTokenID         = "token_id"
	PropertyAuthorizationID = "authorization_id"
)

// Standard scope names with pipeline-visible semantics
const (
	ScopeOpenID        = "openid"
	ScopeOfflineAccess = "offline_access"
)

// Property is a named ticket value. Public properties are copied into the
// outgoing response during shaping and stripped before the ticket is
// serialized into the persisted token payload; private properties travel
// inside the token only.
type Property struct {
	Value  string
	Public bool
}

// Ticket is the transient bearer of identity claims, scopes, audiences and
// properties exchanged between pipeline stages. It is what an issued token
// ultimately encodes.
//
// Tickets are treated as immutable at stage boundaries: a stage that needs a
// derived ticket calls Clone and mutates the copy. A Ticket value is never
// shared between concurrent requests.
type Ticket struct {
	Subject  string
	IssuedAt time.Time

	// Usage identifies the token kind this ticket is serialized into
	Usage string

	scopes    []string
	scopesSet bool

	audiences []string

	props map[string]Property
}

// NewTicket creates an empty ticket for the given subject
func NewTicket(subject string) *Ticket {
	return &Ticket{Subject: subject}
}

// Clone returns a deep copy of the ticket. Mutations on the copy are never
// visible through the original.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	cp := &Ticket{
		Subject:   t.Subject,
		IssuedAt:  t.IssuedAt,
		Usage:     t.Usage,
		scopesSet: t.scopesSet,
	}
	if t.scopes != nil {
		cp.scopes = append([]string(nil), t.scopes...)
	}
	if t.audiences != nil {
		cp.audiences = append([]string(nil), t.audiences...)
	}
	if t.props != nil {
		cp.props = make(map[string]Property, len(t.props))
		for k, v := range t.props {
			cp.props[k] = v
		}
	}
	return cp
}

// SetScopes replaces the ticket's scopes and marks them explicitly assigned.
// Explicit assignment suppresses scope inheritance from an original ticket.
func (t *Ticket) SetScopes(scopes ...string) {
	t.scopes = append([]string(nil), scopes...)
	t.scopesSet = true
}

// Scopes returns a copy of the ticket's scopes
func (t *Ticket) Scopes() []string {
	return append([]string(nil), t.scopes...)
}

// HasScope reports whether the ticket carries the named scope
func (t *Ticket) HasScope(scope string) bool {
	for _, s := range t.scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ScopesExplicitlySet reports whether SetScopes was called on this ticket
func (t *Ticket) ScopesExplicitlySet() bool {
	return t.scopesSet
}

// SetAudiences replaces the ticket's audience list
func (t *Ticket) SetAudiences(audiences ...string) {
	t.audiences = append([]string(nil), audiences...)
}

// Audiences returns a copy of the ticket's audience list
func (t *Ticket) Audiences() []string {
	return append([]string(nil), t.audiences...)
}

// HasAudience reports whether the ticket names the given audience
func (t *Ticket) HasAudience(audience string) bool {
	for _, a := range t.audiences {
		if a == audience {
			return true
		}
	}
	return false
}

// SetProperty attaches a private property to the ticket
func (t *Ticket) SetProperty(name, value string) {
	t.setProperty(name, Property{Value: value})
}

// SetPublicProperty attaches a public-facing property. It is copied into the
// response during shaping and removed from the persisted payload.
func (t *Ticket) SetPublicProperty(name, value string) {
	t.setProperty(name, Property{Value: value, Public: true})
}

func (t *Ticket) setProperty(name string, p Property) {
	if t.props == nil {
		t.props = make(map[string]Property)
	}
	t.props[name] = p
}

// Property returns the named property's value and whether it is present
func (t *Ticket) Property(name string) (string, bool) {
	p, ok := t.props[name]
	return p.Value, ok
}

// HasProperty reports whether the named property is present
func (t *Ticket) HasProperty(name string) bool {
	_, ok := t.props[name]
	return ok
}

// RemoveProperty deletes the named property if present
func (t *Ticket) RemoveProperty(name string) {
	delete(t.props, name)
}

// PropertyNames returns the names of all properties in sorted order
func (t *Ticket) PropertyNames() []string {
	names := make([]string, 0, len(t.props))
	for name := range t.props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PublicProperties returns the name/value pairs of all public properties
func (t *Ticket) PublicProperties() map[string]string {
	out := make(map[string]string)
	for name, p := range t.props {
		if p.Public {
			out[name] = p.Value
		}
	}
	return out
}

// TokenID returns the stable token identifier embedded in the ticket, or ""
func (t *Ticket) TokenID() string {
	v, _ := t.Property(PropertyTokenID)
	return v
}

// SetTokenID embeds the token record identifier in the ticket
func (t *Ticket) SetTokenID(id string) {
	t.SetProperty(PropertyTokenID, id)
}

// AuthorizationID returns the authorization identifier on the ticket, or ""
func (t *Ticket) AuthorizationID() string {
	v, _ := t.Property(PropertyAuthorizationID)
	return v
}

// SetAuthorizationID stamps the authorization identifier onto the ticket
func (t *Ticket) SetAuthorizationID(id string) {
	t.SetProperty(PropertyAuthorizationID, id)
}

// inheritFrom copies every property from the original ticket onto t, except
// properties t already sets. Explicit settings always win.
func (t *Ticket) inheritFrom(original *Ticket) {
	if original == nil {
		return
	}
	for name, p := range original.props {
		if t.HasProperty(name) {
			continue
		}
		t.setProperty(name, p)
	}
	if t.Subject == "" {
		t.Subject = original.Subject
	}
	if len(t.audiences) == 0 {
		t.audiences = append([]string(nil), original.audiences...)
	}
	if !t.scopesSet && len(t.scopes) == 0 {
		t.scopes = append([]string(nil), original.scopes...)
	}
}
