package client

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/avazar/letsencrypt-aw/acme/keys"
	"github.com/avazar/letsencrypt-aw/acme/resources"
	"github.com/avazar/letsencrypt-aw/acmeerr"
	"github.com/avazar/letsencrypt-aw/pki"
)

// FinalizeOptions customizes certificate key generation during Finalize.
type FinalizeOptions struct {
	// Key type for the certificate keypair: "ecdsa" (default) or "rsa". The
	// certificate key is always generated fresh and is never the account key.
	KeyType string
}

// Finalize drives a ready order to issuance: it generates a fresh certificate
// keypair, submits a CSR for the order's identifiers to the order's finalize
// URL, polls until the server has issued (WaitCertificate), downloads the
// certificate chain and returns it bundled with the certificate key.
//
// A rejected CSR is a Finalization error. A certificate URL that cannot be
// fetched or parsed is a Download error. The returned bundle is only valid
// once the chain was fully downloaded and parsed.
//
// See https://tools.ietf.org/html/rfc8555#section-7.4
func (c *Client) Finalize(ctx context.Context, order *resources.Order, opts FinalizeOptions) (*pki.Bundle, error) {
	if order == nil || order.Finalize == "" {
		return nil, acmeerr.New(acmeerr.Finalization,
			"finalize: order has no finalize URL")
	}

	keyType := opts.KeyType
	if keyType == "" {
		keyType = "ecdsa"
	}
	certKey, err := keys.NewSigner(keyType)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(order.Identifiers))
	for _, ident := range order.Identifiers {
		names = append(names, ident.Value)
	}

	b64CSR, _, err := CSR(names, certKey)
	if err != nil {
		return nil, err
	}

	finalizeReq := struct {
		CSR string `json:"csr"`
	}{
		CSR: string(b64CSR),
	}
	reqBody, err := json.Marshal(&finalizeReq)
	if err != nil {
		return nil, err
	}

	resp, err := c.signedRequest(ctx, order.Finalize, reqBody, nil)
	if err != nil {
		if acmeerr.Is(err, acmeerr.Protocol) && resp != nil &&
			resp.Response.StatusCode >= 400 && resp.Response.StatusCode < 500 {
			return nil, acmeerr.New(acmeerr.Finalization,
				"server rejected the CSR: %s", err)
		}
		return nil, err
	}
	if resp.Response.StatusCode != http.StatusOK {
		return nil, acmeerr.New(acmeerr.Finalization,
			"finalize returned status code %d, expected %d",
			resp.Response.StatusCode, http.StatusOK)
	}

	// Pick up the order state the finalize response carried before starting
	// the issuance polling phase.
	if err := json.Unmarshal(resp.RespBody, order); err != nil {
		return nil, acmeerr.New(acmeerr.Protocol,
			"finalize response was invalid JSON: %s", err)
	}
	c.log.Info("submitted CSR", "order", order.ID, "names", names)

	if err := c.WaitCertificate(ctx, order); err != nil {
		return nil, err
	}

	chainPEM, err := c.downloadCertificate(ctx, order.Certificate)
	if err != nil {
		return nil, err
	}

	bundle, err := pki.NewBundle(certKey, chainPEM)
	if err != nil {
		return nil, acmeerr.New(acmeerr.Download,
			"certificate chain from %q was invalid: %s", order.Certificate, err)
	}

	c.log.Info("downloaded certificate",
		"order", order.ID, "certificate", order.Certificate, "chainLength", len(bundle.Chain))
	return bundle, nil
}

// downloadCertificate fetches the issued PEM chain from the order's
// certificate URL with a POST-as-GET request.
//
// See https://tools.ietf.org/html/rfc8555#section-7.4.2
func (c *Client) downloadCertificate(ctx context.Context, certURL string) ([]byte, error) {
	if certURL == "" {
		return nil, acmeerr.New(acmeerr.Download, "order has no certificate URL")
	}

	resp, err := c.PostAsGet(ctx, certURL)
	if err != nil {
		return nil, acmeerr.New(acmeerr.Download,
			"fetching certificate %q failed: %s", certURL, err)
	}
	if resp.Response.StatusCode != http.StatusOK {
		return nil, acmeerr.New(acmeerr.Download,
			"certificate %q returned status code %d, expected %d",
			certURL, resp.Response.StatusCode, http.StatusOK)
	}
	if len(resp.RespBody) == 0 {
		return nil, acmeerr.New(acmeerr.Download,
			"certificate %q returned an empty body", certURL)
	}
	return resp.RespBody, nil
}
