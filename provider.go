package ddns

import (
	"context"
	"net/netip"
)

// Provider makes a DNS provider's A/AAAA records for hostname match records.
//
// Implementations are expected to be idempotent:
// when the provider's records already equal the given set,
// SetDNSRecords issues no mutations.
// Records of other types or for other hostnames are never touched.
type Provider interface {
	SetDNSRecords(ctx context.Context, hostname string, records []netip.Addr) error
}

func recordType(a netip.Addr) string {
	if a.Is4() {
		return "A"
	}
	if a.Is6() {
		return "AAAA"
	}
	panic("unknown ip configuration")
}
