package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/avazar/letsencrypt-aw/acme"
)

// Nonce satisfies the JWS "NonceSource" interface by consuming the nonce
// stored by the client from the previous response. Callers must arrange for
// a nonce to be present (see ensureNonce) before signing; every signed
// request's response replaces the consumed value via storeNonce.
func (c *Client) Nonce() (string, error) {
	if c.nonce == "" {
		return "", fmt.Errorf("no nonce available: ensureNonce was not called")
	}
	n := c.nonce
	c.nonce = ""
	return n, nil
}

// ensureNonce makes sure the client holds an unused nonce, fetching one from
// the newNonce endpoint if the previous response's nonce was already consumed.
func (c *Client) ensureNonce(ctx context.Context) error {
	if c.nonce != "" {
		return nil
	}
	return c.RefreshNonce(ctx)
}

// storeNonce saves the Replay-Nonce header from a response, replacing
// whatever nonce the client held. ACME servers include the header on error
// responses too, which keeps the client usable for the next attempt.
func (c *Client) storeNonce(header http.Header) {
	if nonce := header.Get(acme.REPLAY_NONCE_HEADER); nonce != "" {
		c.nonce = nonce
	}
}

// RefreshNonce fetches a new nonce from the ACME server's newNonce endpoint
// and stores it in the client's memory to be consumed by the next signing
// operation.
//
// See https://tools.ietf.org/html/rfc8555#section-7.2
func (c *Client) RefreshNonce(ctx context.Context) error {
	nonceURL, ok := c.GetEndpointURL(ctx, acme.NEW_NONCE_ENDPOINT)
	if !ok {
		return fmt.Errorf(
			"missing %q entry in ACME server directory", acme.NEW_NONCE_ENDPOINT)
	}

	resp, err := c.net.HeadURL(ctx, nonceURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%q returned HTTP status %d, expected %d",
			acme.NEW_NONCE_ENDPOINT, resp.StatusCode, http.StatusOK)
	}

	nonce := resp.Header.Get(acme.REPLAY_NONCE_HEADER)
	if nonce == "" {
		return fmt.Errorf("%q returned no %q header value",
			acme.NEW_NONCE_ENDPOINT, acme.REPLAY_NONCE_HEADER)
	}

	c.nonce = nonce
	c.metrics.nonceRefreshes.Inc()
	c.log.V(1).Info("refreshed nonce", "nonce", nonce)
	return nil
}
