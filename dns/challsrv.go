package dns

import (
	"context"

	"github.com/letsencrypt/challtestsrv"
	mdns "github.com/miekg/dns"
)

// ChallSrvProvider implements Provider against a letsencrypt/challtestsrv
// instance. It exists for integration testing against local ACME servers
// (Pebble) that resolve challenges through the test DNS server instead of
// public DNS.
type ChallSrvProvider struct {
	Srv *challtestsrv.ChallSrv
}

// PublishTXT serves value as a TXT answer for fqdn. The zone and ttl are
// irrelevant to the test server.
func (p ChallSrvProvider) PublishTXT(_ context.Context, zone, fqdn, value string, _ int) (RecordHandle, error) {
	p.Srv.AddDNSOneChallenge(mdns.Fqdn(fqdn), value)
	return RecordHandle{Zone: zone, FQDN: fqdn, Value: value}, nil
}

// DeleteTXT stops serving the handle's record name.
func (p ChallSrvProvider) DeleteTXT(_ context.Context, handle RecordHandle) error {
	p.Srv.DeleteDNSOneChallenge(mdns.Fqdn(handle.FQDN))
	return nil
}
