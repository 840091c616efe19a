package dns

import (
	"fmt"
	"net"
	"time"

	mdns "github.com/miekg/dns"
)

const defaultResolvConf = "/etc/resolv.conf"

var defaultNameservers = []string{
	"8.8.8.8:53",
	"8.8.4.4:53",
}

// QueryTimeout bounds a single DNS query during the propagation pre-check.
var QueryTimeout = 10 * time.Second

// RecursiveNameservers returns the system resolvers, falling back to public
// recursive resolvers when none are configured.
func RecursiveNameservers() []string {
	config, err := mdns.ClientConfigFromFile(defaultResolvConf)
	if err != nil || len(config.Servers) == 0 {
		return defaultNameservers
	}

	var servers []string
	for _, server := range config.Servers {
		// ensure all servers have a port number
		if _, _, err := net.SplitHostPort(server); err != nil {
			servers = append(servers, net.JoinHostPort(server, "53"))
		} else {
			servers = append(servers, server)
		}
	}
	return servers
}

// TXTVisible reports whether a TXT record with the expected value is already
// resolvable for fqdn via the given nameservers. The renewal flow uses it
// between publishing challenge records and signaling the challenges ready, so
// the ACME server's immediate validation doesn't race record propagation.
func TXTVisible(fqdn, value string, nameservers []string) (bool, error) {
	r, err := txtQuery(fqdn, nameservers)
	if err != nil {
		return false, err
	}

	if r.Rcode != mdns.RcodeSuccess {
		return false, nil
	}

	for _, rr := range r.Answer {
		if txt, ok := rr.(*mdns.TXT); ok {
			for _, v := range txt.Txt {
				if v == value {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

// txtQuery sends a TXT query to each nameserver in turn, returning the first
// response obtained.
func txtQuery(fqdn string, nameservers []string) (*mdns.Msg, error) {
	m := new(mdns.Msg)
	m.SetQuestion(mdns.Fqdn(fqdn), mdns.TypeTXT)
	m.SetEdns0(4096, false)
	m.RecursionDesired = true

	client := &mdns.Client{Timeout: QueryTimeout}

	var lastErr error
	for _, ns := range nameservers {
		in, _, err := client.Exchange(m, ns)
		if err != nil {
			lastErr = err
			continue
		}
		if in.Truncated {
			tcpClient := &mdns.Client{Net: "tcp", Timeout: QueryTimeout}
			in, _, err = tcpClient.Exchange(m, ns)
			if err != nil {
				lastErr = err
				continue
			}
		}
		return in, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no nameservers configured")
	}
	return nil, fmt.Errorf("querying TXT %q failed: %w", fqdn, lastErr)
}
