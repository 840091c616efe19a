package client

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"fmt"
)

// PEMCSR is the PEM encoding of an x509 Certificate Signing Request (CSR)
type PEMCSR string

// B64CSR is the Base64URLSafe encoding of an x509 Certificate Signing Request
// (CSR), the form ACME finalize requests carry.
type B64CSR string

// CSR produces a CertificateSigningRequest for the provided names, signed by
// and carrying the public component of the given key. The first name is used
// as the subject common name. CSR returns the Base64URL encoding of the CSR
// as well as its PEM encoding.
func CSR(names []string, certKey crypto.Signer) (B64CSR, PEMCSR, error) {
	if len(names) == 0 {
		return B64CSR(""), PEMCSR(""), fmt.Errorf("no names specified")
	}
	if certKey == nil {
		return B64CSR(""), PEMCSR(""), fmt.Errorf("no certificate key specified")
	}

	template := x509.CertificateRequest{
		Subject: pkix.Name{
			CommonName: names[0],
		},
		DNSNames: names,
	}

	csrBytes, err := x509.CreateCertificateRequest(rand.Reader, &template, certKey)
	if err != nil {
		return B64CSR(""), PEMCSR(""), err
	}

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type: "CERTIFICATE REQUEST", Bytes: csrBytes,
	})

	return B64CSR(base64.RawURLEncoding.EncodeToString(csrBytes)),
		PEMCSR(pemBytes),
		nil
}
