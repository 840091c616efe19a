// Package pki handles certificate chain parsing and packaging of issued
// certificates into exportable bundles.
package pki

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/avazar/letsencrypt-aw/acme/keys"
)

// Bundle holds an issued certificate chain together with the private key the
// leaf was issued for. A Bundle is only constructed once the full chain has
// been downloaded and parsed; there is no partially-valid bundle.
type Bundle struct {
	// The certificate key. Distinct from the ACME account key.
	Key crypto.Signer
	// The issued chain, leaf first.
	Chain []*x509.Certificate
	// The PEM encoding of the chain as downloaded from the server.
	ChainPEM []byte
}

// NewBundle parses the PEM chain and pairs it with the certificate key. The
// chain must contain at least the leaf certificate.
func NewBundle(key crypto.Signer, chainPEM []byte) (*Bundle, error) {
	if key == nil {
		return nil, fmt.Errorf("bundle key must not be nil")
	}
	chain, err := ParseChainPEM(chainPEM)
	if err != nil {
		return nil, err
	}
	return &Bundle{
		Key:      key,
		Chain:    chain,
		ChainPEM: chainPEM,
	}, nil
}

// Leaf returns the end-entity certificate of the chain.
func (b *Bundle) Leaf() *x509.Certificate {
	return b.Chain[0]
}

// KeyPEM returns the PEM encoding of the certificate key.
func (b *Bundle) KeyPEM() (string, error) {
	return keys.SignerToPEM(b.Key)
}

// PKCS12 encodes the bundle as a password-protected PKCS#12 archive: the leaf
// and key as the keystore entry, the remaining chain as CA certificates. This
// is the exportable form load balancers consume.
func (b *Bundle) PKCS12(password string) ([]byte, error) {
	if password == "" {
		return nil, fmt.Errorf("export password must not be empty")
	}
	return pkcs12.Encode(rand.Reader, b.Key, b.Chain[0], b.Chain[1:], password)
}

// ParseChainPEM parses a PEM encoded certificate chain, leaf first. Non
// certificate PEM blocks are rejected.
func ParseChainPEM(chainPEM []byte) ([]*x509.Certificate, error) {
	var chain []*x509.Certificate
	rest := chainPEM
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("chain contained a %q PEM block, expected only certificates", block.Type)
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("chain contained an unparsable certificate: %w", err)
		}
		chain = append(chain, cert)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no certificates found in chain")
	}
	return chain, nil
}
