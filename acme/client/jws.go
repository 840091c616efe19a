package client

import (
	"crypto"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/avazar/letsencrypt-aw/acme/keys"
)

// SigningOptions allows specifying signature related options when calling the
// Client's Sign function.
type SigningOptions struct {
	// If true, embed the signing key's public component as a JWK in the signed
	// JWS instead of using a KeyID header. This is required for the newAccount
	// endpoint, where no account URL exists yet. Setting EmbedKey to true is
	// mutually exclusive with a non-empty KeyID.
	EmbedKey bool
	// If not-empty, a KeyID value to use for the JWS Key ID header to identify
	// the ACME account. If empty the Account's ID field will be used.
	// Providing a KeyID is mutually exclusive with setting EmbedKey to true.
	KeyID string
	// If not-nil, a Signer to use to sign the JWS. If nil the Account's key is
	// used.
	Signer crypto.Signer
	// NonceSource provides the Replay-Nonce header value for the produced JWS.
	// Defaults to the Client itself.
	NonceSource jose.NonceSource
}

// validate checks that the SigningOptions are sensible. It must only be
// called after populating defaults (the Account's key and ID).
func (opts *SigningOptions) validate() error {
	if opts.KeyID != "" && opts.EmbedKey {
		return fmt.Errorf("SigningOptions validate: cannot specify both KeyID and EmbedKey")
	}
	if opts.KeyID == "" && !opts.EmbedKey {
		return fmt.Errorf("SigningOptions validate: you must specify a KeyID or EmbedKey")
	}
	if opts.NonceSource == nil {
		return fmt.Errorf("SigningOptions validate: you must specify a NonceSource")
	}
	if opts.Signer == nil {
		return fmt.Errorf("SigningOptions validate: you must specify a private key")
	}
	return nil
}

// SignResult holds the input and output from a Sign operation.
type SignResult struct {
	// The url argument given to Sign.
	InputURL string
	// The data argument given to Sign.
	InputData []byte
	// The JWS in serialized form.
	SerializedJWS []byte
}

// Sign produces a SignResult by signing the provided data (with a protected
// "url" header) according to the SigningOptions provided. If no Signer is
// specified in the SigningOptions the Account's key is used. If the
// SigningOptions specify not to embed a JWK and no KeyID is given, the
// Account's ID is used as the JWS Key ID.
func (c *Client) Sign(url string, data []byte, opts *SigningOptions) (*SignResult, error) {
	if opts == nil {
		opts = &SigningOptions{}
	}

	if opts.Signer == nil {
		if c.Account == nil {
			return nil, fmt.Errorf("sign: no Account and no Signer was specified in SigningOptions")
		}
		opts.Signer = c.Account.Signer
	}

	if !opts.EmbedKey && opts.KeyID == "" {
		if c.Account == nil || c.Account.ID == "" {
			return nil, fmt.Errorf(
				"sign: no KeyID specified and the Account has not been registered")
		}
		opts.KeyID = c.Account.ID
	}

	if opts.NonceSource == nil {
		opts.NonceSource = c
	}

	if err := opts.validate(); err != nil {
		return nil, err
	}

	if opts.EmbedKey {
		return signEmbedded(url, data, *opts)
	}
	return signKeyID(url, data, *opts)
}

func signEmbedded(url string, data []byte, opts SigningOptions) (*SignResult, error) {
	alg, err := keys.SigAlgForKey(opts.Signer)
	if err != nil {
		return nil, err
	}

	signingKey := jose.SigningKey{
		Key:       opts.Signer,
		Algorithm: alg,
	}

	signer, err := jose.NewSigner(signingKey, &jose.SignerOptions{
		NonceSource: opts.NonceSource,
		EmbedJWK:    true,
		ExtraHeaders: map[jose.HeaderKey]any{
			"url": url,
		},
	})
	if err != nil {
		return nil, err
	}

	return sign(signer, url, data)
}

func signKeyID(url string, data []byte, opts SigningOptions) (*SignResult, error) {
	alg, err := keys.SigAlgForKey(opts.Signer)
	if err != nil {
		return nil, err
	}

	jwk := &jose.JSONWebKey{
		Key:       opts.Signer,
		Algorithm: string(alg),
		KeyID:     opts.KeyID,
	}

	signerKey := jose.SigningKey{
		Key:       jwk,
		Algorithm: alg,
	}

	joseOpts := &jose.SignerOptions{
		NonceSource: opts.NonceSource,
		ExtraHeaders: map[jose.HeaderKey]any{
			"url": url,
		},
	}

	signer, err := jose.NewSigner(signerKey, joseOpts)
	if err != nil {
		return nil, err
	}

	return sign(signer, url, data)
}

func sign(signer jose.Signer, url string, data []byte) (*SignResult, error) {
	signed, err := signer.Sign(data)
	if err != nil {
		return nil, err
	}

	return &SignResult{
		InputURL:      url,
		InputData:     data,
		SerializedJWS: []byte(signed.FullSerialize()),
	}, nil
}
