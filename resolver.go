package ddns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/sync/errgroup"
)

// Resolver determines the set of IP addresses that DNS records should point at.
type Resolver interface {
	Resolve(context.Context) ([]netip.Addr, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(context.Context) ([]netip.Addr, error)

func (f ResolverFunc) Resolve(ctx context.Context) ([]netip.Addr, error) {
	return f(ctx)
}

// Join combines resolvers into one that runs them concurrently and merges
// their results, dropping duplicate addresses.
//
// The common use is combining an IPv4-only and an IPv6-only resolver so that
// both A and AAAA records get set.
func Join(resolvers ...Resolver) Resolver {
	return joinResolver(resolvers)
}

type joinResolver []Resolver

func (j joinResolver) Resolve(ctx context.Context) ([]netip.Addr, error) {
	results := make([][]netip.Addr, len(j))
	g, ctx := errgroup.WithContext(ctx)
	for i, r := range j {
		i, r := i, r
		g.Go(func() (err error) {
			results[i], err = r.Resolve(ctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var addrs []netip.Addr
	seen := make(map[netip.Addr]bool)
	for _, result := range results {
		for _, a := range result {
			if seen[a] {
				continue
			}
			seen[a] = true
			addrs = append(addrs, a)
		}
	}
	return addrs, nil
}

// FromString constructs a resolver that parses an IP from the string addr.
func FromString(addr string) (Resolver, error) {
	if _, err := netip.ParseAddr(addr); err != nil {
		return nil, fmt.Errorf("unable to parse IP: %w", err)
	}
	return stringResolver(addr), nil
}

type stringResolver string

func (s stringResolver) Resolve(context.Context) ([]netip.Addr, error) {
	addr, err := netip.ParseAddr(string(s))
	if err != nil {
		return nil, fmt.Errorf("unable to parse IP: %w", err)
	}
	return []netip.Addr{addr}, nil
}

// InterfaceResolver constructs a resolver that returns the IP addresses
// reported by the given network interfaces.
// If no interfaces are provided then all interfaces will be used,
// but loopback addresses will be skipped.
//
// The addresses returned are whatever the interfaces carry,
// which on most home networks means a private IPv4 address.
// Use it when the machine has a publicly routed address,
// or behind NAT when the DNS records should track the LAN address.
func InterfaceResolver(iface ...string) Resolver {
	if len(iface) == 0 {
		return localResolver{}
	}
	return interfaceResolver{ifaces: iface}
}

type interfaceResolver struct {
	ifaces []string
}

func (r interfaceResolver) Resolve(ctx context.Context) (addrs []netip.Addr, err error) {
	var errs []error
	for _, name := range r.ifaces {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("error getting interface %s by name: %w", name, err))
			continue
		}
		a, err := iface.Addrs()
		if err != nil {
			errs = append(errs, fmt.Errorf("error looking up addresses for interface %s: %w", name, err))
			continue
		}
		for _, addr := range a {
			ip, err := netip.ParsePrefix(addr.String())
			if err != nil {
				errs = append(errs, fmt.Errorf("error parsing local ip %s for interface %s: %s", addr.String(), name, err))
				continue
			}
			if ip.Addr().IsLoopback() {
				continue
			}
			addrs = append(addrs, ip.Addr())
		}
	}
	return addrs, errors.Join(errs...)
}

type localResolver struct{}

func (r localResolver) Resolve(ctx context.Context) (addrs []netip.Addr, err error) {
	adds, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("error getting interface addresses: %w", err)
	}
	// addr: ip+net:192.168.86.253/24
	// addr: ip+net:fe80::2cc9:801b:3551:9a43/64
	var parseErrors []error
	for _, addr := range adds {
		ip, err := netip.ParsePrefix(addr.String())
		if err != nil {
			parseErrors = append(parseErrors, fmt.Errorf("error parsing local ip %s: %s", addr.String(), err))
			continue
		}
		if ip.Addr().IsLoopback() {
			continue
		}
		addrs = append(addrs, ip.Addr())
	}
	return addrs, errors.Join(parseErrors...)
}
