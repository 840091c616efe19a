// Package renew ties the ACME client and the external collaborators together
// into a single certificate renewal flow.
package renew

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/jmhodges/clock"

	"github.com/avazar/letsencrypt-aw/acme/client"
	"github.com/avazar/letsencrypt-aw/acme/resources"
	"github.com/avazar/letsencrypt-aw/acmeerr"
	"github.com/avazar/letsencrypt-aw/dns"
	"github.com/avazar/letsencrypt-aw/gateway"
)

// Request describes one renewal run.
type Request struct {
	// Domains to order a certificate for: the primary domain first, optionally
	// followed by a secondary or wildcard domain.
	Domains []string
	// The DNS zone challenge records are published in.
	Zone string
	// The gateway certificate slot the finished bundle is installed under.
	CertificateSlot string
	// Export password protecting the PKCS#12 bundle.
	PFXPassword string
	// TTL for challenge TXT records. Defaults to dns.DefaultTTL.
	TTL int
	// Certificate key type, "ecdsa" or "rsa". Defaults to "ecdsa".
	KeyType string

	// If true, wait until the published TXT records are resolvable before
	// signaling the challenges ready.
	Precheck bool
	// Nameservers for the pre-check. Defaults to the system resolvers.
	PrecheckNameservers []string
	// Interval between pre-check queries. Defaults to 5s.
	PrecheckInterval time.Duration
	// Budget for the pre-check per record. Defaults to 2m.
	PrecheckTimeout time.Duration
}

func (req *Request) normalize() error {
	if len(req.Domains) == 0 {
		return fmt.Errorf("at least one domain is required")
	}
	if req.Zone == "" {
		return fmt.Errorf("a DNS zone is required")
	}
	if req.CertificateSlot == "" {
		return fmt.Errorf("a certificate slot is required")
	}
	if req.PFXPassword == "" {
		return fmt.Errorf("a PFX export password is required")
	}
	if req.TTL <= 0 {
		req.TTL = dns.DefaultTTL
	}
	if req.PrecheckInterval <= 0 {
		req.PrecheckInterval = 5 * time.Second
	}
	if req.PrecheckTimeout <= 0 {
		req.PrecheckTimeout = 2 * time.Minute
	}
	return nil
}

// Renewer owns one renewal flow: an ACME client plus the DNS and gateway
// collaborators.
type Renewer struct {
	// The ACME client. Its account state is loaded from and saved to
	// StatePath around the run when StatePath is set.
	Client *client.Client
	// DNS record publication for DNS-01 challenges.
	DNS dns.Provider
	// Certificate installation target.
	Gateway gateway.Installer
	// Optional account state file. Empty disables persistence.
	StatePath string
	// Logger. The zero value logs nothing.
	Log logr.Logger
	// Clock for pre-check pacing. Defaults to the system clock.
	Clock clock.Clock
}

func (r *Renewer) clk() clock.Clock {
	if r.Clock == nil {
		return clock.Default()
	}
	return r.Clock
}

// Renew runs a full renewal: ensure the account, create the order, publish
// every DNS-01 record, signal the challenges, wait for readiness, finalize,
// package and install the certificate.
//
// Published DNS records are cleaned up on every path out of this function,
// success, failure or cancellation alike; stale challenge records in the
// zone are the one side effect a failed run must not leave behind. Cleanup
// failures are logged, never escalated over the primary error.
func (r *Renewer) Renew(ctx context.Context, req Request) (retErr error) {
	if err := req.normalize(); err != nil {
		return err
	}

	if r.StatePath != "" {
		if err := client.LoadState(r.StatePath, r.Client); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	if _, err := r.Client.EnsureAccount(ctx); err != nil {
		return err
	}
	if r.StatePath != "" {
		if err := client.SaveState(r.StatePath, r.Client); err != nil {
			return err
		}
	}

	identifiers := make([]resources.Identifier, 0, len(req.Domains))
	for _, domain := range req.Domains {
		identifiers = append(identifiers, resources.DNSIdentifier(domain))
	}

	order, err := r.Client.CreateOrder(ctx, identifiers)
	if err != nil {
		return err
	}

	records, err := r.Client.PrepareChallenges(ctx, order)
	if err != nil {
		return err
	}

	// Publish every record before signaling any challenge: the server may
	// validate the moment a challenge is signaled ready.
	var handles []dns.RecordHandle
	defer func() {
		// The run's context may already be cancelled; cleanup still has to
		// reach the DNS API.
		cleanupCtx := context.WithoutCancel(ctx)
		for _, handle := range handles {
			if err := r.DNS.DeleteTXT(cleanupCtx, handle); err != nil {
				r.Log.Error(err, "failed to clean up challenge record",
					"fqdn", handle.FQDN, "zone", handle.Zone)
			}
		}
	}()

	for _, record := range records {
		handle, err := r.DNS.PublishTXT(ctx, req.Zone, record.FQDN, record.Value, req.TTL)
		if err != nil {
			return fmt.Errorf("publishing challenge record for %q: %w", record.Identifier, err)
		}
		handles = append(handles, handle)
	}

	if req.Precheck {
		if err := r.waitRecordsVisible(ctx, req, records); err != nil {
			return err
		}
	}

	for _, record := range records {
		if err := r.Client.SignalReady(ctx, record); err != nil {
			return err
		}
	}

	if err := r.Client.WaitOrderReady(ctx, order); err != nil {
		return err
	}

	bundle, err := r.Client.Finalize(ctx, order, client.FinalizeOptions{KeyType: req.KeyType})
	if err != nil {
		return err
	}

	pfxData, err := bundle.PKCS12(req.PFXPassword)
	if err != nil {
		return err
	}

	if err := r.Gateway.UploadCertificate(ctx, req.CertificateSlot, pfxData, req.PFXPassword); err != nil {
		return fmt.Errorf("installing certificate in slot %q: %w", req.CertificateSlot, err)
	}

	r.Log.Info("renewal complete",
		"domains", req.Domains, "slot", req.CertificateSlot,
		"notAfter", bundle.Leaf().NotAfter)
	return nil
}

// waitRecordsVisible polls public DNS until every challenge record resolves
// with its expected value, bounded per record by the pre-check budget.
func (r *Renewer) waitRecordsVisible(ctx context.Context, req Request, records []client.ChallengeRecord) error {
	nameservers := req.PrecheckNameservers
	if len(nameservers) == 0 {
		nameservers = dns.RecursiveNameservers()
	}

	clk := r.clk()
	for _, record := range records {
		deadline := clk.Now().Add(req.PrecheckTimeout)
		for {
			if err := ctx.Err(); err != nil {
				return acmeerr.New(acmeerr.Timeout,
					"propagation pre-check cancelled: %s", err)
			}

			visible, err := dns.TXTVisible(record.FQDN, record.Value, nameservers)
			if err != nil {
				r.Log.V(1).Info("pre-check query failed, will retry",
					"fqdn", record.FQDN, "err", err.Error())
			} else if visible {
				break
			}

			if !clk.Now().Add(req.PrecheckInterval).Before(deadline) {
				return acmeerr.New(acmeerr.Timeout,
					"challenge record %q not visible after %s", record.FQDN, req.PrecheckTimeout)
			}
			clk.Sleep(req.PrecheckInterval)
		}
		r.Log.V(1).Info("challenge record visible", "fqdn", record.FQDN)
	}
	return nil
}
