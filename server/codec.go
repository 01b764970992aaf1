package server

import (
	"encoding/json"
	"fmt"
	"time"
)

// ticketJSON is the default wire form of a ticket. Cryptographic signing and
// encryption of the payload happen outside this package; the codec only
// defines the structural encoding.
type ticketJSON struct {
	Subject   string                  `json:"sub"`
	IssuedAt  int64                   `json:"iat,omitempty"`
	Usage     string                  `json:"usage,omitempty"`
	Scopes    []string                `json:"scopes,omitempty"`
	ScopesSet bool                    `json:"scopes_set,omitempty"`
	Audiences []string                `json:"aud,omitempty"`
	Props     map[string]propertyJSON `json:"props,omitempty"`
}

type propertyJSON struct {
	Value  string `json:"value"`
	Public bool   `json:"public,omitempty"`
}

func serializeTicketJSON(ticket *Ticket) ([]byte, error) {
	if ticket == nil {
		return nil, fmt.Errorf("ticket is required")
	}
	j := ticketJSON{
		Subject:   ticket.Subject,
		Usage:     ticket.Usage,
		Scopes:    ticket.scopes,
		ScopesSet: ticket.scopesSet,
		Audiences: ticket.audiences,
	}
	if !ticket.IssuedAt.IsZero() {
		j.IssuedAt = ticket.IssuedAt.Unix()
	}
	if len(ticket.props) > 0 {
		j.Props = make(map[string]propertyJSON, len(ticket.props))
		for name, p := range ticket.props {
			j.Props[name] = propertyJSON{Value: p.Value, Public: p.Public}
		}
	}
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize ticket: %w", err)
	}
	return data, nil
}

func deserializeTicketJSON(payload []byte) (*Ticket, error) {
	var j ticketJSON
	if err := json.Unmarshal(payload, &j); err != nil {
		return nil, fmt.Errorf("failed to deserialize ticket: %w", err)
	}
	t := &Ticket{
		Subject:   j.Subject,
		Usage:     j.Usage,
		scopes:    j.Scopes,
		scopesSet: j.ScopesSet,
		audiences: j.Audiences,
	}
	if j.IssuedAt > 0 {
		t.IssuedAt = time.Unix(j.IssuedAt, 0)
	}
	if len(j.Props) > 0 {
		t.props = make(map[string]Property, len(j.Props))
		for name, p := range j.Props {
			t.props[name] = Property{Value: p.Value, Public: p.Public}
		}
	}
	return t, nil
}
