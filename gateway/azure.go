package gateway

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	armnetwork "github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v6"
	"github.com/go-logr/logr"
)

// AzureApplicationGateway implements Installer against an Azure Application
// Gateway's SSL certificate collection.
type AzureApplicationGateway struct {
	client            *armnetwork.ApplicationGatewaysClient
	resourceGroupName string
	gatewayName       string
	log               logr.Logger
}

// NewAzureApplicationGateway returns an Installer for the named Application
// Gateway.
func NewAzureApplicationGateway(subscriptionID, resourceGroupName, gatewayName string, cred azcore.TokenCredential, log logr.Logger) (*AzureApplicationGateway, error) {
	client, err := armnetwork.NewApplicationGatewaysClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, err
	}

	return &AzureApplicationGateway{
		client:            client,
		resourceGroupName: resourceGroupName,
		gatewayName:       gatewayName,
		log:               log.WithName("app-gateway"),
	}, nil
}

// UploadCertificate fetches the gateway, upserts the SSL certificate entry
// named slot with the PKCS#12 data, and waits for the gateway update to
// complete. The update is a full gateway create-or-update: that is the only
// write surface the Application Gateway API offers for certificates.
func (g *AzureApplicationGateway) UploadCertificate(ctx context.Context, slot string, pfxData []byte, password string) error {
	resp, err := g.client.Get(ctx, g.resourceGroupName, g.gatewayName, nil)
	if err != nil {
		return fmt.Errorf("fetching application gateway %q: %w", g.gatewayName, err)
	}

	gw := resp.ApplicationGateway
	if gw.Properties == nil {
		return fmt.Errorf("application gateway %q returned no properties", g.gatewayName)
	}

	replaced := upsertSSLCertificate(gw.Properties, slot, pfxData, password)

	poller, err := g.client.BeginCreateOrUpdate(ctx, g.resourceGroupName, g.gatewayName, gw, nil)
	if err != nil {
		return fmt.Errorf("updating application gateway %q: %w", g.gatewayName, err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return fmt.Errorf("waiting for application gateway %q update: %w", g.gatewayName, err)
	}

	g.log.Info("installed certificate", "gateway", g.gatewayName, "slot", slot, "replaced", replaced)
	return nil
}

// upsertSSLCertificate replaces the SSL certificate entry named slot in the
// gateway properties, or appends it when no entry of that name exists yet. It
// reports whether an existing entry was replaced.
func upsertSSLCertificate(props *armnetwork.ApplicationGatewayPropertiesFormat, slot string, pfxData []byte, password string) bool {
	cert := &armnetwork.ApplicationGatewaySSLCertificate{
		Name: to.Ptr(slot),
		Properties: &armnetwork.ApplicationGatewaySSLCertificatePropertiesFormat{
			Data:     to.Ptr(base64.StdEncoding.EncodeToString(pfxData)),
			Password: to.Ptr(password),
		},
	}

	for i, existing := range props.SSLCertificates {
		if existing.Name != nil && *existing.Name == slot {
			props.SSLCertificates[i] = cert
			return true
		}
	}
	props.SSLCertificates = append(props.SSLCertificates, cert)
	return false
}
