// Package keys offers utility functions for working with crypto.Signers,
// JWKs, key authorizations and PEM/DER serialization.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// SigAlgForKey returns the JWS signature algorithm matching the signer's key
// type.
func SigAlgForKey(signer crypto.Signer) (jose.SignatureAlgorithm, error) {
	switch signer.(type) {
	case *ecdsa.PrivateKey:
		return jose.ES256, nil
	case *rsa.PrivateKey:
		return jose.RS256, nil
	}
	return "", fmt.Errorf("signer was unknown type: %T", signer)
}

// JWKForSigner returns the public JWK for the given signer.
func JWKForSigner(signer crypto.Signer) jose.JSONWebKey {
	return jose.JSONWebKey{
		Key: signer.Public(),
	}
}

// JWKThumbprint returns the base64url encoded SHA-256 thumbprint of the
// signer's public JWK. See https://tools.ietf.org/html/rfc7638
func JWKThumbprint(signer crypto.Signer) (string, error) {
	jwk := JWKForSigner(signer)
	thumbBytes, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(thumbBytes), nil
}

// KeyAuth computes the key authorization for the given challenge token. See
// https://tools.ietf.org/html/rfc8555#section-8.1
func KeyAuth(signer crypto.Signer, token string) (string, error) {
	thumbprint, err := JWKThumbprint(signer)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%s", token, thumbprint), nil
}

// DNS01TXTValue computes the TXT record value for a DNS-01 challenge response
// from a key authorization: the base64url encoding of the SHA-256 digest of
// the key authorization. See https://tools.ietf.org/html/rfc8555#section-8.4
func DNS01TXTValue(keyAuth string) string {
	digest := sha256.Sum256([]byte(keyAuth))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}

// MarshalSigner serializes the signer's private key to DER, returning the key
// bytes and a type label understood by UnmarshalSigner.
func MarshalSigner(signer crypto.Signer) ([]byte, string, error) {
	var keyBytes []byte
	var keyType string
	var err error
	switch k := signer.(type) {
	case *ecdsa.PrivateKey:
		keyType = "ecdsa"
		keyBytes, err = x509.MarshalECPrivateKey(k)
	case *rsa.PrivateKey:
		keyType = "rsa"
		keyBytes = x509.MarshalPKCS1PrivateKey(k)
	default:
		err = fmt.Errorf("signer was unknown type: %T", k)
	}
	if err != nil {
		return nil, "", err
	}
	return keyBytes, keyType, nil
}

// UnmarshalSigner deserializes a private key previously serialized with
// MarshalSigner.
func UnmarshalSigner(keyBytes []byte, keyType string) (crypto.Signer, error) {
	var privKey crypto.Signer
	var err error
	switch keyType {
	case "ecdsa":
		privKey, err = x509.ParseECPrivateKey(keyBytes)
	case "rsa":
		privKey, err = x509.ParsePKCS1PrivateKey(keyBytes)
	default:
		err = fmt.Errorf("unknown key type %q", keyType)
	}
	if err != nil {
		return nil, err
	}
	return privKey, nil
}

// SignerToPEM returns the PEM encoding of the signer's private key.
func SignerToPEM(signer crypto.Signer) (string, error) {
	var keyBytes []byte
	var keyHeader string
	var err error
	switch k := signer.(type) {
	case *ecdsa.PrivateKey:
		keyBytes, err = x509.MarshalECPrivateKey(k)
		keyHeader = "EC PRIVATE KEY"
	case *rsa.PrivateKey:
		keyBytes = x509.MarshalPKCS1PrivateKey(k)
		keyHeader = "RSA PRIVATE KEY"
	default:
		err = fmt.Errorf("unknown key type: %T", k)
	}
	if err != nil {
		return "", err
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  keyHeader,
		Bytes: keyBytes,
	})
	return string(pemBytes), nil
}

// NewSigner generates a new random private key of the given type ("ecdsa"
// generates a P-256 key, "rsa" a 2048 bit key).
func NewSigner(keyType string) (crypto.Signer, error) {
	var randKey crypto.Signer
	var err error
	switch keyType {
	case "ecdsa":
		randKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case "rsa":
		randKey, err = rsa.GenerateKey(rand.Reader, 2048)
	default:
		err = fmt.Errorf("unknown key type: %q", keyType)
	}
	if err != nil {
		return nil, err
	}
	return randKey, nil
}
