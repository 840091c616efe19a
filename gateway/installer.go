// Package gateway defines the load-balancer capability the renewal flow
// hands the finished certificate to, and its Azure Application Gateway
// implementation. None of the ACME logic lives here.
package gateway

import "context"

// Installer consumes a finished, password-protected certificate bundle and
// installs it under a named certificate slot on the edge device.
type Installer interface {
	// UploadCertificate installs the PKCS#12 archive as the gateway's SSL
	// certificate named slot, replacing any previous certificate of that
	// name. Listeners bound to the slot pick the new certificate up with the
	// update.
	UploadCertificate(ctx context.Context, slot string, pfxData []byte, password string) error
}
