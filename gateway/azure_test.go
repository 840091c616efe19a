package gateway

import (
	"encoding/base64"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	armnetwork "github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v6"
	"github.com/stretchr/testify/require"
)

func TestUpsertSSLCertificateAppends(t *testing.T) {
	props := &armnetwork.ApplicationGatewayPropertiesFormat{
		SSLCertificates: []*armnetwork.ApplicationGatewaySSLCertificate{
			{Name: to.Ptr("other-cert")},
		},
	}

	replaced := upsertSSLCertificate(props, "frontend-cert", []byte("pfx-bytes"), "s3cret")
	require.False(t, replaced)
	require.Len(t, props.SSLCertificates, 2)

	added := props.SSLCertificates[1]
	require.Equal(t, "frontend-cert", *added.Name)
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("pfx-bytes")), *added.Properties.Data)
	require.Equal(t, "s3cret", *added.Properties.Password)
}

func TestUpsertSSLCertificateReplaces(t *testing.T) {
	props := &armnetwork.ApplicationGatewayPropertiesFormat{
		SSLCertificates: []*armnetwork.ApplicationGatewaySSLCertificate{
			{Name: to.Ptr("other-cert")},
			{
				Name: to.Ptr("frontend-cert"),
				Properties: &armnetwork.ApplicationGatewaySSLCertificatePropertiesFormat{
					Data: to.Ptr("old-data"),
				},
			},
		},
	}

	replaced := upsertSSLCertificate(props, "frontend-cert", []byte("new-pfx"), "s3cret")
	require.True(t, replaced)
	require.Len(t, props.SSLCertificates, 2)
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("new-pfx")),
		*props.SSLCertificates[1].Properties.Data)
	// Unrelated certificate entries are untouched.
	require.Equal(t, "other-cert", *props.SSLCertificates[0].Name)
}
