package client

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/avazar/letsencrypt-aw/acme"
	"github.com/avazar/letsencrypt-aw/acme/resources"
	"github.com/avazar/letsencrypt-aw/acmeerr"
)

// EnsureAccount makes sure the client holds a registered account. If the
// Account already has a server-assigned URL (freshly registered or restored
// via LoadState) it is reused without re-registering. Otherwise the account
// keypair is registered with the server's newAccount endpoint, agreeing to
// the terms of service, and the returned account URL is stored.
//
// For more information on account creation see
// https://tools.ietf.org/html/rfc8555#section-7.3
func (c *Client) EnsureAccount(ctx context.Context) (*resources.Account, error) {
	if c.Account.ID != "" {
		c.log.Info("reusing existing account", "account", c.Account.ID)
		return c.Account, nil
	}

	newAcctReq := struct {
		Contact   []string `json:"contact,omitempty"`
		ToSAgreed bool     `json:"termsOfServiceAgreed"`
	}{
		Contact:   c.Account.Contact,
		ToSAgreed: true,
	}

	reqBody, err := json.Marshal(&newAcctReq)
	if err != nil {
		return nil, err
	}

	newAcctURL, ok := c.GetEndpointURL(ctx, acme.NEW_ACCOUNT_ENDPOINT)
	if !ok {
		return nil, acmeerr.New(acmeerr.Protocol,
			"ACME server missing %q endpoint in directory", acme.NEW_ACCOUNT_ENDPOINT)
	}

	// The account URL does not exist yet, so the public key is embedded as
	// a JWK instead of sending a KeyID header.
	resp, err := c.signedRequest(ctx, newAcctURL, reqBody, &SigningOptions{
		EmbedKey: true,
	})
	if err != nil {
		if acmeerr.Is(err, acmeerr.Protocol) && resp != nil &&
			resp.Response.StatusCode >= 400 && resp.Response.StatusCode < 500 {
			return nil, acmeerr.New(acmeerr.Registration,
				"server rejected account registration: %s", err)
		}
		return nil, err
	}

	respOb := resp.Response
	if respOb.StatusCode != http.StatusCreated && respOb.StatusCode != http.StatusOK {
		return nil, acmeerr.New(acmeerr.Registration,
			"newAccount returned status code %d, expected %d",
			respOb.StatusCode, http.StatusCreated)
	}

	locHeader := respOb.Header.Get("Location")
	if locHeader == "" {
		return nil, acmeerr.New(acmeerr.Protocol,
			"newAccount response had no Location header")
	}

	// Store the Location header as the Account's URL.
	c.Account.ID = locHeader
	c.log.Info("registered account", "account", c.Account.ID, "contact", c.Account.Contact)
	return c.Account, nil
}
