// letsencrypt-aw renews a TLS certificate via ACME DNS-01 and installs it on
// an Azure Application Gateway.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/go-logr/stdr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/avazar/letsencrypt-aw/acme/client"
	"github.com/avazar/letsencrypt-aw/cmd"
	"github.com/avazar/letsencrypt-aw/dns"
	"github.com/avazar/letsencrypt-aw/gateway"
	"github.com/avazar/letsencrypt-aw/renew"
)

const defaultDirectory = "https://acme-v02.api.letsencrypt.org/directory"

type renewFlags struct {
	domain      string
	extraDomain string
	email       string

	directory string
	caCert    string
	statePath string
	keyType   string

	subscriptionID   string
	dnsZone          string
	dnsResourceGroup string
	gatewayName      string
	gatewayGroup     string
	certName         string

	pfxPasswordEnv string

	readyInterval time.Duration
	certInterval  time.Duration
	pollTimeout   time.Duration
	dnsPrecheck   bool
	ttl           int

	verbosity int
}

func main() {
	flags := &renewFlags{}

	root := &cobra.Command{
		Use:           "letsencrypt-aw",
		Short:         "ACME DNS-01 certificate renewal for Azure Application Gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().IntVarP(&flags.verbosity, "verbose", "v", 0,
		"log verbosity (0-2)")

	renewCmd := &cobra.Command{
		Use:   "renew",
		Short: "Renew the certificate and install it on the application gateway",
		RunE: func(c *cobra.Command, _ []string) error {
			return runRenew(c.Context(), flags)
		},
	}

	rf := renewCmd.Flags()
	rf.StringVar(&flags.domain, "domain", "", "primary domain to issue for (required)")
	rf.StringVar(&flags.extraDomain, "extra-domain", "", "optional secondary or wildcard domain")
	rf.StringVar(&flags.email, "email", "", "account contact email (required)")
	rf.StringVar(&flags.directory, "directory", defaultDirectory, "ACME directory URL")
	rf.StringVar(&flags.caCert, "ca-cert", "", "PEM trust roots for the ACME server (testing)")
	rf.StringVar(&flags.statePath, "state", "letsencrypt-aw.json", "account state file")
	rf.StringVar(&flags.keyType, "key-type", "ecdsa", "certificate key type: ecdsa or rsa")
	rf.StringVar(&flags.subscriptionID, "subscription", "", "Azure subscription ID (required)")
	rf.StringVar(&flags.dnsZone, "dns-zone", "", "Azure DNS zone name (required)")
	rf.StringVar(&flags.dnsResourceGroup, "dns-resource-group", "", "resource group of the DNS zone (required)")
	rf.StringVar(&flags.gatewayName, "gateway-name", "", "application gateway name (required)")
	rf.StringVar(&flags.gatewayGroup, "gateway-resource-group", "", "resource group of the gateway (required)")
	rf.StringVar(&flags.certName, "cert-name", "", "gateway SSL certificate slot to install into (required)")
	rf.StringVar(&flags.pfxPasswordEnv, "pfx-password-env", "LEAW_PFX_PASSWORD",
		"environment variable holding the PKCS#12 export password")
	rf.DurationVar(&flags.readyInterval, "ready-interval", client.DefaultReadyInterval,
		"polling interval while waiting for order readiness")
	rf.DurationVar(&flags.certInterval, "cert-interval", client.DefaultCertInterval,
		"polling interval while waiting for the issued certificate")
	rf.DurationVar(&flags.pollTimeout, "poll-timeout", client.DefaultPollTimeout,
		"budget per polling phase")
	rf.BoolVar(&flags.dnsPrecheck, "dns-precheck", true,
		"wait for challenge records to resolve before signaling readiness")
	rf.IntVar(&flags.ttl, "ttl", dns.DefaultTTL, "TTL for challenge TXT records")

	for _, name := range []string{
		"domain", "email", "subscription", "dns-zone", "dns-resource-group",
		"gateway-name", "gateway-resource-group", "cert-name",
	} {
		cmd.FailOnError(renewCmd.MarkFlagRequired(name), "marking flag required")
	}

	root.AddCommand(renewCmd)

	ctx, stop := cmd.SignalContext(context.Background())
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Fatalf("[!] renewal failed - %s", err)
	}
}

func runRenew(ctx context.Context, flags *renewFlags) error {
	stdr.SetVerbosity(flags.verbosity)
	logger := stdr.New(log.New(os.Stderr, "", log.LstdFlags))

	pfxPassword := cmd.EnvOrExit(flags.pfxPasswordEnv)

	cred, err := azureCredential()
	if err != nil {
		return err
	}

	acmeClient, err := client.New(client.Config{
		DirectoryURL: flags.directory,
		CACert:       flags.caCert,
		ContactEmail: flags.email,
		Polling: client.PollingConfig{
			ReadyInterval: flags.readyInterval,
			CertInterval:  flags.certInterval,
			Timeout:       flags.pollTimeout,
		},
		Logger:  &logger,
		Metrics: prometheus.NewRegistry(),
	})
	if err != nil {
		return err
	}

	dnsProvider, err := dns.NewAzureProvider(
		flags.subscriptionID, flags.dnsResourceGroup, cred, logger)
	if err != nil {
		return err
	}

	installer, err := gateway.NewAzureApplicationGateway(
		flags.subscriptionID, flags.gatewayGroup, flags.gatewayName, cred, logger)
	if err != nil {
		return err
	}

	domains := []string{flags.domain}
	if flags.extraDomain != "" {
		domains = append(domains, flags.extraDomain)
	}

	renewer := &renew.Renewer{
		Client:    acmeClient,
		DNS:       dnsProvider,
		Gateway:   installer,
		StatePath: flags.statePath,
		Log:       logger,
	}

	return renewer.Renew(ctx, renew.Request{
		Domains:         domains,
		Zone:            flags.dnsZone,
		CertificateSlot: flags.certName,
		PFXPassword:     pfxPassword,
		TTL:             flags.ttl,
		KeyType:         flags.keyType,
		Precheck:        flags.dnsPrecheck,
	})
}

// azureCredential prefers an explicit service principal from the environment
// (AZURE_TENANT_ID / AZURE_CLIENT_ID / AZURE_CLIENT_SECRET) and falls back to
// the default credential chain (CLI login, managed identity).
func azureCredential() (azcore.TokenCredential, error) {
	tenantID := os.Getenv("AZURE_TENANT_ID")
	clientID := os.Getenv("AZURE_CLIENT_ID")
	clientSecret := os.Getenv("AZURE_CLIENT_SECRET")

	if tenantID != "" && clientID != "" && clientSecret != "" {
		return azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	}
	return azidentity.NewDefaultAzureCredential(nil)
}
