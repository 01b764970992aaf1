package server

import (
	"testing"
	"time"
)

func TestTicketCloneIsolation(t *testing.T) {
	original := NewTicket("alice")
	original.IssuedAt = time.Now()
	original.SetScopes(ScopeOpenID)
	original.SetAudiences("resource-1")
	original.SetProperty("key", "original")

	cp := original.Clone()
	cp.SetScopes("changed")
	cp.SetAudiences("resource-2")
	cp.SetProperty("key", "changed")
	cp.Subject = "bob"

	if original.Subject != "alice" {
		t.Error("clone mutation changed the original subject")
	}
	if !original.HasScope(ScopeOpenID) || original.HasScope("changed") {
		t.Error("clone mutation changed the original scopes")
	}
	if !original.HasAudience("resource-1") || original.HasAudience("resource-2") {
		t.Error("clone mutation changed the original audiences")
	}
	if v, _ := original.Property("key"); v != "original" {
		t.Error("clone mutation changed the original properties")
	}

	var nilTicket *Ticket
	if nilTicket.Clone() != nil {
		t.Error("nil ticket must clone to nil")
	}
}

func TestTicketInheritanceExplicitWins(t *testing.T) {
	original := NewTicket("alice")
	original.SetProperty("shared", "from-original")
	original.SetProperty("only-original", "inherited")
	original.SetPublicProperty("display", "from-original")

	fresh := NewTicket("")
	fresh.SetProperty("shared", "explicit")

	fresh.inheritFrom(original)

	if v, _ := fresh.Property("shared"); v != "explicit" {
		t.Errorf("explicit property overwritten: got %q", v)
	}
	if v, _ := fresh.Property("only-original"); v != "inherited" {
		t.Errorf("property not inherited: got %q", v)
	}
	if fresh.Subject != "alice" {
		t.Errorf("subject not inherited: got %q", fresh.Subject)
	}
	// Public flag travels with the property
	if props := fresh.PublicProperties(); props["display"] != "from-original" {
		t.Error("public flag lost during inheritance")
	}

	// Inheriting twice changes nothing
	fresh.inheritFrom(original)
	if v, _ := fresh.Property("shared"); v != "explicit" {
		t.Error("inheritance is not idempotent")
	}
	fresh.inheritFrom(nil)
}

func TestTicketScopeTracking(t *testing.T) {
	ticket := NewTicket("alice")
	if ticket.ScopesExplicitlySet() {
		t.Error("fresh ticket reports explicit scopes")
	}
	ticket.SetScopes(ScopeOpenID, ScopeOfflineAccess)
	if !ticket.ScopesExplicitlySet() {
		t.Error("SetScopes did not mark scopes explicit")
	}
	if !ticket.HasScope(ScopeOfflineAccess) || ticket.HasScope("other") {
		t.Error("HasScope misreports membership")
	}

	scopes := ticket.Scopes()
	scopes[0] = "mutated"
	if ticket.HasScope("mutated") {
		t.Error("Scopes returned the internal slice")
	}
}

func TestTicketWellKnownProperties(t *testing.T) {
	ticket := NewTicket("alice")

	if ticket.TokenID() != "" || ticket.AuthorizationID() != "" {
		t.Error("fresh ticket carries identifiers")
	}
	ticket.SetTokenID("tok-1")
	ticket.SetAuthorizationID("authz-1")
	if ticket.TokenID() != "tok-1" {
		t.Errorf("token id = %q", ticket.TokenID())
	}
	if ticket.AuthorizationID() != "authz-1" {
		t.Errorf("authorization id = %q", ticket.AuthorizationID())
	}

	names := ticket.PropertyNames()
	if len(names) != 2 || names[0] != PropertyAuthorizationID || names[1] != PropertyTokenID {
		t.Errorf("property names = %v", names)
	}

	ticket.RemoveProperty(PropertyTokenID)
	if ticket.HasProperty(PropertyTokenID) {
		t.Error("property not removed")
	}
}
