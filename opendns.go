package ddns

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// myip.opendns.com answers with the address of the querying client,
// but only when asked through the OpenDNS resolvers.
const myIPHost = "myip.opendns.com."

var (
	openDNSServers4 = []string{"208.67.222.222:53", "208.67.220.220:53"}
	openDNSServers6 = []string{"[2620:119:35::35]:53", "[2620:119:53::53]:53"}
)

// OpenDNSResolver constructs a resolver that discovers the machine's public
// IP addresses by querying myip.opendns.com against the OpenDNS resolvers.
//
// The A query is sent to the IPv4 resolver addresses and the AAAA query to
// the IPv6 ones, so each answer reflects the address used for that family.
// A machine without connectivity for one family still resolves the other;
// Resolve only fails when neither family produces an address.
//
// Compared to WebResolver this skips the HTTP layer entirely,
// at the cost of trusting a single operator's answer.
func OpenDNSResolver() Resolver {
	return &openDNSResolver{}
}

type openDNSResolver struct {
	client   *dns.Client
	servers4 []string
	servers6 []string
}

// Resolve implements ddns.Resolver.
func (r *openDNSResolver) Resolve(ctx context.Context) ([]netip.Addr, error) {
	c := r.client
	if c == nil {
		c = &dns.Client{Timeout: 5 * time.Second}
	}
	servers4 := r.servers4
	if servers4 == nil {
		servers4 = openDNSServers4
	}
	servers6 := r.servers6
	if servers6 == nil {
		servers6 = openDNSServers6
	}

	var addrs []netip.Addr
	var errs []error

	v4, err := query(ctx, c, dns.TypeA, servers4)
	if err != nil {
		errs = append(errs, fmt.Errorf("A lookup: %w", err))
	}
	addrs = append(addrs, v4...)

	v6, err := query(ctx, c, dns.TypeAAAA, servers6)
	if err != nil {
		errs = append(errs, fmt.Errorf("AAAA lookup: %w", err))
	}
	addrs = append(addrs, v6...)

	if len(addrs) == 0 {
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
		return nil, errors.New("OpenDNS returned no addresses")
	}
	return addrs, nil
}

// query tries each server in order and returns the answers from the first
// one that responds.
func query(ctx context.Context, c *dns.Client, qtype uint16, servers []string) ([]netip.Addr, error) {
	m := new(dns.Msg)
	m.SetQuestion(myIPHost, qtype)

	var errs []error
	for _, server := range servers {
		resp, _, err := c.ExchangeContext(ctx, m, server)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			errs = append(errs, fmt.Errorf("%s returned %s", server, dns.RcodeToString[resp.Rcode]))
			continue
		}
		var addrs []netip.Addr
		for _, rr := range resp.Answer {
			var value string
			switch rec := rr.(type) {
			case *dns.A:
				value = rec.A.String()
			case *dns.AAAA:
				value = rec.AAAA.String()
			default:
				continue
			}
			a, err := netip.ParseAddr(value)
			if err != nil {
				errs = append(errs, fmt.Errorf("error parsing IP from answer %q: %w", value, err))
				continue
			}
			addrs = append(addrs, a)
		}
		return addrs, nil
	}
	return nil, errors.Join(errs...)
}
