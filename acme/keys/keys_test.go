package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"
)

func TestSigAlgForKey(t *testing.T) {
	ec, err := NewSigner("ecdsa")
	require.NoError(t, err)
	alg, err := SigAlgForKey(ec)
	require.NoError(t, err)
	require.Equal(t, jose.ES256, alg)

	rsaKey, err := NewSigner("rsa")
	require.NoError(t, err)
	alg, err = SigAlgForKey(rsaKey)
	require.NoError(t, err)
	require.Equal(t, jose.RS256, alg)

	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, err = SigAlgForKey(edKey)
	require.Error(t, err)
}

func TestKeyAuthFormat(t *testing.T) {
	signer, err := NewSigner("ecdsa")
	require.NoError(t, err)

	thumb, err := JWKThumbprint(signer)
	require.NoError(t, err)
	require.NotEmpty(t, thumb)
	// Thumbprints are base64url without padding.
	require.NotContains(t, thumb, "=")
	require.NotContains(t, thumb, "+")
	require.NotContains(t, thumb, "/")

	keyAuth, err := KeyAuth(signer, "evaGxfADs6pSRb2LAv9IZf17Dt3juxGJ-PCt92wr-oA")
	require.NoError(t, err)
	require.Equal(t, "evaGxfADs6pSRb2LAv9IZf17Dt3juxGJ-PCt92wr-oA."+thumb, keyAuth)
}

func TestDNS01TXTValue(t *testing.T) {
	keyAuth := "token.thumbprint"
	digest := sha256.Sum256([]byte(keyAuth))
	want := base64.RawURLEncoding.EncodeToString(digest[:])

	got := DNS01TXTValue(keyAuth)
	require.Equal(t, want, got)
	// TXT values are pure base64url: no dots, no padding.
	require.False(t, strings.ContainsAny(got, ".=+/"))
}

func TestMarshalSignerRoundTrip(t *testing.T) {
	for _, keyType := range []string{"ecdsa", "rsa"} {
		signer, err := NewSigner(keyType)
		require.NoError(t, err, keyType)

		keyBytes, gotType, err := MarshalSigner(signer)
		require.NoError(t, err, keyType)
		require.Equal(t, keyType, gotType)

		restored, err := UnmarshalSigner(keyBytes, gotType)
		require.NoError(t, err, keyType)
		require.Equal(t, signer.Public(), restored.Public(), keyType)
	}
}

func TestUnmarshalSignerUnknownType(t *testing.T) {
	_, err := UnmarshalSigner([]byte{0x01}, "dsa")
	require.Error(t, err)
}

func TestNewSignerUnknownType(t *testing.T) {
	_, err := NewSigner("ed25519")
	require.Error(t, err)
}

func TestSignerToPEM(t *testing.T) {
	ec, err := NewSigner("ecdsa")
	require.NoError(t, err)
	pemStr, err := SignerToPEM(ec)
	require.NoError(t, err)
	require.Contains(t, pemStr, "BEGIN EC PRIVATE KEY")

	rsaKey, err := NewSigner("rsa")
	require.NoError(t, err)
	pemStr, err = SignerToPEM(rsaKey)
	require.NoError(t, err)
	require.Contains(t, pemStr, "BEGIN RSA PRIVATE KEY")
}
