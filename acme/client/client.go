// Package client provides a low-level ACME v2 client scoped to DNS-01
// certificate renewal.
package client

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/avazar/letsencrypt-aw/acme/resources"
	acmenet "github.com/avazar/letsencrypt-aw/net"
)

// Default polling cadence. Order readiness and certificate issuance are two
// independent phases with their own intervals.
const (
	DefaultReadyInterval = 10 * time.Second
	DefaultCertInterval  = 15 * time.Second
	DefaultPollTimeout   = 10 * time.Minute
)

// PollingConfig controls the two polling phases of a renewal: waiting for an
// order to become ready and waiting for the issued certificate URL.
type PollingConfig struct {
	// Interval between order status checks while waiting for authorizations to
	// be validated.
	ReadyInterval time.Duration
	// Interval between order status checks while waiting for the certificate
	// URL after finalization.
	CertInterval time.Duration
	// Maximum total wait per polling phase. Exceeding it is a Timeout error,
	// never a silent loop.
	Timeout time.Duration
}

func (pc PollingConfig) withDefaults() PollingConfig {
	if pc.ReadyInterval <= 0 {
		pc.ReadyInterval = DefaultReadyInterval
	}
	if pc.CertInterval <= 0 {
		pc.CertInterval = DefaultCertInterval
	}
	if pc.Timeout <= 0 {
		pc.Timeout = DefaultPollTimeout
	}
	return pc
}

// Client allows interaction with an ACME server on behalf of a single
// account. All protocol state a renewal run mutates (the anti-replay nonce,
// the cached directory, the account registration) lives on the Client; the
// durable parts are persisted with SaveState and restored with LoadState.
//
// The Client is not safe for concurrent use: the nonce and account key are
// single-writer resources and the protocol is inherently sequential.
type Client struct {
	// A parsed *url.URL pointer for the ACME server's directory URL.
	DirectoryURL *url.URL
	// The renewal identity. Account.ID is empty until EnsureAccount has
	// registered the keypair with the server.
	Account *resources.Account
	// Polling cadence for WaitOrderReady / WaitCertificate.
	Polling PollingConfig

	log logr.Logger
	clk clock.Clock
	// the net object is used to make HTTP GET/POST/HEAD requests to the ACME
	// server.
	net *acmenet.ACMENet
	// directory is an in-memory representation of the ACME server's directory
	// object.
	directory map[string]any
	// nonce is the value of the last-seen Replay-Nonce header from the ACME
	// server's HTTP responses. It is consumed by the next signing operation
	// and replaced from every response.
	nonce string
	// retry policy for transient transport failures.
	retry retryPolicy
	// transport counters.
	metrics *clientMetrics
}

// Config contains configuration options provided to New when creating
// a Client instance.
type Config struct {
	// A fully qualified URL for the ACME server's directory resource. Must
	// include an HTTP/HTTPS protocol prefix. Mandatory.
	DirectoryURL string
	// An optional file path to one or more PEM encoded CA certificates to be
	// used as trust roots for HTTPS requests to the ACME server (e.g. the
	// Pebble minica root when testing).
	CACert string
	// An optional email address used as the account's mailto: contact when
	// registering.
	ContactEmail string
	// Polling cadence. Zero values take the package defaults.
	Polling PollingConfig
	// Retry policy for transient transport failures. Zero values take the
	// package defaults.
	Retry RetryConfig
	// Logger for protocol progress. Defaults to logr.Discard.
	Logger *logr.Logger
	// Clock for polling and backoff. Defaults to the system clock. Tests pass
	// clock.NewFake().
	Clock clock.Clock
	// Registerer for transport metrics. Defaults to no registration.
	Metrics prometheus.Registerer
}

// normalize validates a Config.
func (conf *Config) normalize() error {
	conf.DirectoryURL = strings.TrimSpace(conf.DirectoryURL)
	conf.ContactEmail = strings.TrimSpace(conf.ContactEmail)

	if conf.DirectoryURL == "" {
		return fmt.Errorf("DirectoryURL must not be empty")
	}

	if _, err := url.Parse(conf.DirectoryURL); err != nil {
		return fmt.Errorf("DirectoryURL invalid: %s", err.Error())
	}

	if conf.ContactEmail != "" {
		addr, err := mail.ParseAddress(conf.ContactEmail)
		if err != nil {
			return fmt.Errorf("ContactEmail is invalid: %s", err.Error())
		}
		conf.ContactEmail = addr.Address
	}

	return nil
}

// New creates a Client instance from the given Config. The Client starts with
// a fresh account keypair; use LoadState to resume a previously registered
// identity.
func New(config Config) (*Client, error) {
	if err := config.normalize(); err != nil {
		return nil, err
	}

	net, err := acmenet.New(config.CACert)
	if err != nil {
		return nil, fmt.Errorf("unable to create ACME net client: %w", err)
	}

	// Safe to discard the error: normalize already parsed the URL.
	dirURL, _ := url.Parse(config.DirectoryURL)

	logger := logr.Discard()
	if config.Logger != nil {
		logger = *config.Logger
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Default()
	}

	var emails []string
	if config.ContactEmail != "" {
		emails = append(emails, config.ContactEmail)
	}
	acct, err := resources.NewAccount(emails, nil)
	if err != nil {
		return nil, err
	}

	return &Client{
		DirectoryURL: dirURL,
		Account:      acct,
		Polling:      config.Polling.withDefaults(),
		log:          logger,
		clk:          clk,
		net:          net,
		retry:        config.Retry.policy(),
		metrics:      newClientMetrics(config.Metrics),
	}, nil
}
