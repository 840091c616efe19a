package resources

// The Order resource represents a collection of identifiers that an account
// wishes to create a Certificate for.
//
// See https://tools.ietf.org/html/rfc8555#section-7.1.3
//
// To understand the Status changes specified by ACME for the Order resource
// see https://tools.ietf.org/html/rfc8555#section-7.1.6
type Order struct {
	// The server-assigned ID (a URL) identifying the Order. Populated from the
	// Location header of the newOrder response, not from the response body.
	ID string `json:"-"`
	// The Status of the Order.
	Status string `json:"status"`
	// The Identifiers the Order wishes to finalize a Certificate for once the
	// Order is ready.
	Identifiers []Identifier `json:"identifiers"`
	// A list of URLs for Authorization resources the server specifies for the
	// Order Identifiers.
	Authorizations []string `json:"authorizations"`
	// A URL used to Finalize the Order with a CSR once the Order has a status
	// of "ready".
	Finalize string `json:"finalize"`
	// A URL used to fetch the Certificate issued by the server for the Order
	// after being Finalized. Present and not-empty only when the Order has
	// a status of "valid".
	Certificate string `json:"certificate,omitempty"`
	// The Error associated with an order that failed processing.
	Error *Problem `json:"error,omitempty"`
}

// String returns the Order's ID URL.
func (o Order) String() string {
	return o.ID
}

// Terminal returns true when the order has reached a state the server will
// never move it out of.
func (o Order) Terminal() bool {
	return o.Status == "valid" || o.Status == "invalid"
}
