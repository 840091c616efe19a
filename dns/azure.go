package dns

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	armdns "github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/dns/armdns"
	"github.com/go-logr/logr"
)

// AzureProvider implements Provider on top of Azure DNS record sets.
type AzureProvider struct {
	recordClient      *armdns.RecordSetsClient
	resourceGroupName string
	log               logr.Logger
}

// NewAzureProvider returns a Provider backed by the Azure DNS zone record
// API. The credential is typically an azidentity.ClientSecretCredential or
// the default credential chain.
func NewAzureProvider(subscriptionID, resourceGroupName string, cred azcore.TokenCredential, log logr.Logger) (*AzureProvider, error) {
	rc, err := armdns.NewRecordSetsClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, err
	}

	return &AzureProvider{
		recordClient:      rc,
		resourceGroupName: resourceGroupName,
		log:               log.WithName("azure-dns"),
	}, nil
}

// PublishTXT upserts the TXT record set for fqdn in the zone, merging the
// value into any values already present. Merging matters when a wildcard and
// its base domain are ordered together: both challenges publish under the
// same _acme-challenge name.
func (p *AzureProvider) PublishTXT(ctx context.Context, zone, fqdn, value string, ttl int) (RecordHandle, error) {
	handle := RecordHandle{Zone: zone, FQDN: fqdn, Value: value}

	relative, err := relativeRecordName(fqdn, zone)
	if err != nil {
		return handle, err
	}

	values, err := p.currentValues(ctx, zone, relative)
	if err != nil {
		return handle, err
	}
	merged := mergeValue(values, value)

	rs := armdns.RecordSet{
		Properties: &armdns.RecordSetProperties{
			TTL:        to.Ptr(int64(ttl)),
			TxtRecords: txtRecords(merged),
		},
	}
	_, err = p.recordClient.CreateOrUpdate(
		ctx, p.resourceGroupName, zone, relative, armdns.RecordTypeTXT, rs, nil)
	if err != nil {
		return handle, fmt.Errorf("publishing TXT %q in zone %q: %w", fqdn, zone, err)
	}

	p.log.Info("published TXT record", "fqdn", fqdn, "zone", zone, "values", len(merged))
	return handle, nil
}

// DeleteTXT removes the handle's value from its record set, deleting the set
// when it was the last value.
func (p *AzureProvider) DeleteTXT(ctx context.Context, handle RecordHandle) error {
	relative, err := relativeRecordName(handle.FQDN, handle.Zone)
	if err != nil {
		return err
	}

	values, err := p.currentValues(ctx, handle.Zone, relative)
	if err != nil {
		return err
	}

	remaining := make([]string, 0, len(values))
	for _, v := range values {
		if v != handle.Value {
			remaining = append(remaining, v)
		}
	}

	if len(remaining) == 0 {
		_, err = p.recordClient.Delete(
			ctx, p.resourceGroupName, handle.Zone, relative, armdns.RecordTypeTXT, nil)
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("deleting TXT %q in zone %q: %w", handle.FQDN, handle.Zone, err)
		}
	} else {
		rs := armdns.RecordSet{
			Properties: &armdns.RecordSetProperties{
				TTL:        to.Ptr(int64(DefaultTTL)),
				TxtRecords: txtRecords(remaining),
			},
		}
		_, err = p.recordClient.CreateOrUpdate(
			ctx, p.resourceGroupName, handle.Zone, relative, armdns.RecordTypeTXT, rs, nil)
		if err != nil {
			return fmt.Errorf("trimming TXT %q in zone %q: %w", handle.FQDN, handle.Zone, err)
		}
	}

	p.log.Info("removed TXT record value", "fqdn", handle.FQDN, "zone", handle.Zone)
	return nil
}

// currentValues fetches the existing TXT values for the record set, treating
// a missing record set as empty.
func (p *AzureProvider) currentValues(ctx context.Context, zone, relative string) ([]string, error) {
	resp, err := p.recordClient.Get(
		ctx, p.resourceGroupName, zone, relative, armdns.RecordTypeTXT, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching TXT record set %q in zone %q: %w", relative, zone, err)
	}

	var values []string
	if resp.Properties != nil {
		for _, rec := range resp.Properties.TxtRecords {
			for _, v := range rec.Value {
				if v != nil {
					values = append(values, *v)
				}
			}
		}
	}
	return values, nil
}

func mergeValue(values []string, value string) []string {
	for _, v := range values {
		if v == value {
			return values
		}
	}
	return append(values, value)
}

func txtRecords(values []string) []*armdns.TxtRecord {
	records := make([]*armdns.TxtRecord, 0, len(values))
	for _, v := range values {
		records = append(records, &armdns.TxtRecord{
			Value: []*string{to.Ptr(v)},
		})
	}
	return records
}

// relativeRecordName strips the zone suffix from a fully qualified record
// name, the form the Azure record set API expects.
func relativeRecordName(fqdn, zone string) (string, error) {
	name := strings.TrimSuffix(fqdn, ".")
	zone = strings.TrimSuffix(zone, ".")
	if name == zone {
		return "@", nil
	}
	if !strings.HasSuffix(name, "."+zone) {
		return "", fmt.Errorf("record %q is not inside zone %q", fqdn, zone)
	}
	return strings.TrimSuffix(name, "."+zone), nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
