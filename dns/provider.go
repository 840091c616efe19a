// Package dns defines the DNS capability the renewal flow depends on:
// publishing and removing the TXT records that answer DNS-01 challenges.
// The Azure DNS implementation lives in this package too; the ACME core only
// sees the Provider interface.
package dns

import "context"

// DefaultTTL is the TTL applied to challenge TXT records. Challenge records
// are short-lived, a low TTL keeps stale answers from outliving the renewal.
const DefaultTTL = 60

// RecordHandle identifies a published TXT value so it can be removed again.
// One handle is produced per published value; several handles may refer to
// the same record set (a wildcard and its base domain share the
// _acme-challenge name).
type RecordHandle struct {
	// Zone the record was published in.
	Zone string
	// The fully qualified record name.
	FQDN string
	// The single TXT value this handle covers.
	Value string
}

// Provider publishes and removes DNS TXT records. Publication must be
// visible (at least once) before the corresponding ACME challenge is
// signaled ready; removal is best-effort cleanup.
type Provider interface {
	// PublishTXT creates (or extends) the TXT record set for fqdn in the given
	// zone with value.
	PublishTXT(ctx context.Context, zone, fqdn, value string, ttl int) (RecordHandle, error)
	// DeleteTXT removes the value identified by handle, deleting the record
	// set once no values remain.
	DeleteTXT(ctx context.Context, handle RecordHandle) error
}
