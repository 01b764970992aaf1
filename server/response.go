package server

// Response is the shaped outcome of one pipeline run. It carries decision
// flags and named parameters, not wire bytes; HTTP framing happens in the
// transport layer.
type Response struct {
	// Active is the introspection decision. It defaults to true and is
	// forced to false by the introspection handler; once false it stays
	// false.
	Active bool

	// IncludeRefreshToken reports whether a refresh token is issued
	IncludeRefreshToken bool

	// IncludeIdentityToken reports whether an identity token is issued
	IncludeIdentityToken bool

	// Parameters holds public ticket properties moved into the response
	// during shaping
	Parameters map[string]string

	// Ticket is the finalized ticket to serialize into issued tokens.
	// Public properties have already been stripped from it.
	Ticket *Ticket

	// Error is the protocol rejection when the request was refused
	Error *Rejection
}

// NewResponse creates a response with introspection activity defaulted on
func NewResponse() *Response {
	return &Response{
		Active:     true,
		Parameters: make(map[string]string),
	}
}

// SetParameter records a named response parameter
func (r *Response) SetParameter(name, value string) {
	if r.Parameters == nil {
		r.Parameters = make(map[string]string)
	}
	r.Parameters[name] = value
}

// Parameter returns the named response parameter and whether it is present
func (r *Response) Parameter(name string) (string, bool) {
	v, ok := r.Parameters[name]
	return v, ok
}
