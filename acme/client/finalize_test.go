package client

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avazar/letsencrypt-aw/acme"
	"github.com/avazar/letsencrypt-aw/acme/keys"
	"github.com/avazar/letsencrypt-aw/acmeerr"
)

func TestFinalizeIssuesCertificate(t *testing.T) {
	srv := newTestACMEServer(t, "example.com", "www.example.com")
	c, fc := newTestClient(t, srv)
	order := setupOrder(t, c, srv)
	signalAll(t, c, order)
	require.NoError(t, c.WaitOrderReady(context.Background(), order))

	// The server keeps the order in "processing" for two polls before the
	// certificate URL appears.
	srv.certAfterPolls = 2
	start := fc.Now()

	bundle, err := c.Finalize(context.Background(), order, FinalizeOptions{})
	require.NoError(t, err)
	require.Equal(t, acme.STATUS_VALID, order.Status)
	require.Equal(t, 2*c.Polling.CertInterval, fc.Now().Sub(start))

	require.Len(t, bundle.Chain, 2)
	require.Equal(t, "example.com", bundle.Leaf().Subject.CommonName)
	require.ElementsMatch(t, []string{"example.com", "www.example.com"}, bundle.Leaf().DNSNames)

	// The certificate key is generated fresh, never the account key.
	require.NotEqual(t, c.Account.Signer.Public(), bundle.Key.Public())
}

func TestFinalizeRejectedCSR(t *testing.T) {
	srv := newTestACMEServer(t)
	c, _ := newTestClient(t, srv)
	order := setupOrder(t, c, srv)
	signalAll(t, c, order)
	require.NoError(t, c.WaitOrderReady(context.Background(), order))

	srv.rejectCSR = true

	_, err := c.Finalize(context.Background(), order, FinalizeOptions{})
	require.Error(t, err)
	require.True(t, acmeerr.Is(err, acmeerr.Finalization), "got %v", err)
}

func TestFinalizeBeforeReady(t *testing.T) {
	srv := newTestACMEServer(t)
	c, _ := newTestClient(t, srv)
	order := setupOrder(t, c, srv)

	// The order is still pending; the server rejects finalization.
	_, err := c.Finalize(context.Background(), order, FinalizeOptions{})
	require.Error(t, err)
	require.True(t, acmeerr.Is(err, acmeerr.Finalization), "got %v", err)
}

func TestFinalizeDownloadFailure(t *testing.T) {
	srv := newTestACMEServer(t)
	c, _ := newTestClient(t, srv)
	order := setupOrder(t, c, srv)
	signalAll(t, c, order)
	require.NoError(t, c.WaitOrderReady(context.Background(), order))

	srv.failCertDownload = true

	_, err := c.Finalize(context.Background(), order, FinalizeOptions{})
	require.Error(t, err)
	require.True(t, acmeerr.Is(err, acmeerr.Download), "got %v", err)
}

func TestFinalizeRSACertificateKey(t *testing.T) {
	srv := newTestACMEServer(t)
	c, _ := newTestClient(t, srv)
	order := setupOrder(t, c, srv)
	signalAll(t, c, order)
	require.NoError(t, c.WaitOrderReady(context.Background(), order))

	bundle, err := c.Finalize(context.Background(), order, FinalizeOptions{KeyType: "rsa"})
	require.NoError(t, err)

	keyPEM, err := bundle.KeyPEM()
	require.NoError(t, err)
	require.Contains(t, keyPEM, "RSA PRIVATE KEY")
}

func TestCSRCoversAllNames(t *testing.T) {
	certKey, err := keys.NewSigner("ecdsa")
	require.NoError(t, err)

	names := []string{"example.com", "www.example.com", "api.example.com"}
	b64, pemCSR, err := CSR(names, certKey)
	require.NoError(t, err)
	require.Contains(t, string(pemCSR), "CERTIFICATE REQUEST")

	der, err := base64.RawURLEncoding.DecodeString(string(b64))
	require.NoError(t, err)
	csr, err := x509.ParseCertificateRequest(der)
	require.NoError(t, err)
	require.NoError(t, csr.CheckSignature())

	require.Equal(t, "example.com", csr.Subject.CommonName)
	require.Equal(t, names, csr.DNSNames)
	require.Equal(t, certKey.Public(), csr.PublicKey)
}

func TestCSRRejectsEmptyInput(t *testing.T) {
	certKey, err := keys.NewSigner("ecdsa")
	require.NoError(t, err)

	_, _, err = CSR(nil, certKey)
	require.Error(t, err)

	_, _, err = CSR([]string{"example.com"}, nil)
	require.Error(t, err)
}
