// Package acme provides ACME protocol constants. See RFC 8555.
package acme

const (
	// Directory constants
	// See https://tools.ietf.org/html/rfc8555#section-9.7.5

	// The ACME directory key for the newNonce endpoint
	NEW_NONCE_ENDPOINT = "newNonce"
	// The ACME directory key for the newAccount endpoint.
	NEW_ACCOUNT_ENDPOINT = "newAccount"
	// The ACME directory key for the newOrder endpoint.
	NEW_ORDER_ENDPOINT = "newOrder"

	// The HTTP response header used by ACME to communicate a fresh nonce. See
	// https://tools.ietf.org/html/rfc8555#section-9.3
	REPLAY_NONCE_HEADER = "Replay-Nonce"

	// Order/authorization/challenge status values. See
	// https://tools.ietf.org/html/rfc8555#section-7.1.6
	STATUS_PENDING    = "pending"
	STATUS_READY      = "ready"
	STATUS_PROCESSING = "processing"
	STATUS_VALID      = "valid"
	STATUS_INVALID    = "invalid"

	// The challenge type for DNS-01 challenges. See
	// https://tools.ietf.org/html/rfc8555#section-8.4
	CHALLENGE_TYPE_DNS01 = "dns-01"

	// The DNS label TXT challenge responses are published under.
	DNS01_LABEL = "_acme-challenge"

	// Problem document type URNs the client reacts to. See
	// https://tools.ietf.org/html/rfc8555#section-6.7
	PROBLEM_BAD_NONCE    = "urn:ietf:params:acme:error:badNonce"
	PROBLEM_RATE_LIMITED = "urn:ietf:params:acme:error:rateLimited"
)
