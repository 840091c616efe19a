package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/avazar/letsencrypt-aw/acme"
	"github.com/avazar/letsencrypt-aw/acme/keys"
	"github.com/avazar/letsencrypt-aw/acme/resources"
	"github.com/avazar/letsencrypt-aw/acmeerr"
)

// ChallengeRecord pairs an order identifier with the DNS-01 response the
// caller must publish for it and the challenge URL used to signal readiness
// once the record is visible.
type ChallengeRecord struct {
	// The authorization's identifier value (wildcard prefix already stripped
	// by the server).
	Identifier string
	// The fully qualified name the TXT record must be published under:
	// _acme-challenge.<identifier>.
	FQDN string
	// The TXT record value: base64url(SHA-256(key authorization)).
	Value string
	// The dns-01 challenge URL POSTed to by SignalReady.
	URL string
}

// PrepareChallenges fetches every authorization of the order and derives one
// ChallengeRecord per identifier from its dns-01 challenge. Challenges of any
// other type offered by the server are ignored; an authorization that offers
// no dns-01 challenge is a protocol error.
//
// The caller must publish every record's TXT value before invoking
// SignalReady for any of them: ACME servers may validate immediately after
// the ready signal.
func (c *Client) PrepareChallenges(ctx context.Context, order *resources.Order) ([]ChallengeRecord, error) {
	if order == nil || len(order.Authorizations) == 0 {
		return nil, acmeerr.New(acmeerr.Protocol,
			"prepareChallenges: order has no authorizations")
	}

	records := make([]ChallengeRecord, 0, len(order.Authorizations))
	for _, authzURL := range order.Authorizations {
		authz := &resources.Authorization{ID: authzURL}
		if err := c.UpdateAuthz(ctx, authz); err != nil {
			return nil, err
		}

		chall, err := dns01Challenge(authz)
		if err != nil {
			return nil, err
		}

		keyAuth, err := keys.KeyAuth(c.Account.Signer, chall.Token)
		if err != nil {
			return nil, err
		}

		record := ChallengeRecord{
			Identifier: authz.Identifier.Value,
			FQDN:       fmt.Sprintf("%s.%s", acme.DNS01_LABEL, authz.Identifier.Value),
			Value:      keys.DNS01TXTValue(keyAuth),
			URL:        chall.URL,
		}
		records = append(records, record)
		c.log.V(1).Info("prepared dns-01 challenge",
			"identifier", record.Identifier, "fqdn", record.FQDN)
	}

	return records, nil
}

func dns01Challenge(authz *resources.Authorization) (*resources.Challenge, error) {
	for i := range authz.Challenges {
		if authz.Challenges[i].Type == acme.CHALLENGE_TYPE_DNS01 {
			return &authz.Challenges[i], nil
		}
	}
	return nil, acmeerr.New(acmeerr.Protocol,
		"authorization %q offers no %q challenge", authz.ID, acme.CHALLENGE_TYPE_DNS01)
}

// SignalReady notifies the server that the challenge response for the given
// record has been published and may be validated. It must only be called
// after the corresponding DNS record publication succeeded.
//
// See https://tools.ietf.org/html/rfc8555#section-7.5.1
func (c *Client) SignalReady(ctx context.Context, record ChallengeRecord) error {
	resp, err := c.signedRequest(ctx, record.URL, []byte("{}"), nil)
	if err != nil {
		return err
	}

	if resp.Response.StatusCode != http.StatusOK {
		return acmeerr.New(acmeerr.Protocol,
			"challenge %q returned status code %d, expected %d",
			record.URL, resp.Response.StatusCode, http.StatusOK)
	}

	c.log.Info("signaled challenge ready", "identifier", record.Identifier, "challenge", record.URL)
	return nil
}
