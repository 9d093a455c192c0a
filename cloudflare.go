package ddns

import (
	"context"
	"fmt"
	"log"
	"net/netip"
	"strings"

	"github.com/cloudflare/cloudflare-go"
)

func newCloudflareProvider(token string) (*cloudflareProvider, error) {
	api, err := cloudflare.NewWithAPIToken(token)
	if err != nil {
		return nil, fmt.Errorf("error creating cloudflare api client: %w", err)
	}
	return &cloudflareProvider{
		api:     api,
		logger:  discard,
		comment: "managed by ddns",
	}, nil
}

// cloudflareProvider implements ddns.Provider on top of the Cloudflare API.
type cloudflareProvider struct {
	api     *cloudflare.API
	logger  *log.Logger
	comment string // optional comment to attach to each new DNS entry
}

func (cf *cloudflareProvider) SetDNSRecords(ctx context.Context, hostname string, addrs []netip.Addr) error {
	zid, err := cf.getZoneIDFromDomain(ctx, hostname)
	if err != nil {
		return fmt.Errorf("unable to get zone ID for %s: %w", hostname, err)
	}
	cf.logger.Printf("got zone ID: %s\n", zid)
	cf.logger.Printf("looking up A,AAAA records for zone %s...\n", zid)

	records, _, err := cf.api.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(zid), cloudflare.ListDNSRecordsParams{
		Type: "A,AAAA",
		Name: hostname,
	})
	if err != nil {
		return fmt.Errorf("unable to list records for %s: %w", hostname, err)
	}
	cf.logger.Printf("found %d existing records: %+v\n", len(records), records)

	existing := map[netip.Addr]bool{}
	newAddrs := map[netip.Addr]bool{}

	for _, a := range addrs {
		newAddrs[a] = true
	}
	for _, r := range records {
		a, err := netip.ParseAddr(r.Content)
		if err != nil {
			return fmt.Errorf("error parsing IP from record content: %w", err)
		}
		existing[a] = true

		if newAddrs[a] {
			cf.logger.Printf("existing record %s is in the set of new addrs\n", a)
			continue
		}

		cf.logger.Printf("deleting DNS record for %s...\n", a)
		if err := cf.api.DeleteDNSRecord(ctx, cloudflare.ZoneIdentifier(zid), r.ID); err != nil {
			return fmt.Errorf("unable to delete DNS record %s: %w", r.ID, err)
		}
		cf.logger.Printf("successfully deleted record for %s\n", a)
	}

	for _, a := range addrs {
		if existing[a] {
			cf.logger.Printf("record already exists for %s\n", a)
			continue
		}
		cf.logger.Printf("creating record for %s...\n", a)
		record, err := cf.api.CreateDNSRecord(ctx, cloudflare.ZoneIdentifier(zid), cloudflare.CreateDNSRecordParams{
			Type:    recordType(a),
			Name:    hostname,
			Content: a.String(),
			ZoneID:  zid,
			TTL:     60,
			Comment: cf.comment,
		})
		if err != nil {
			return fmt.Errorf("error creating DNS record: %w", err)
		}
		cf.logger.Printf("successfully added record: %+v\n", record)
	}

	return nil
}

// getZoneIDFromDomain picks the zone with the longest name that is a suffix
// of hostname, so sub.home.example.com matches the example.com zone even
// when the token can also see other zones.
func (cf *cloudflareProvider) getZoneIDFromDomain(ctx context.Context, hostname string) (zid string, err error) {
	zones, err := cf.api.ListZones(ctx)
	if err != nil {
		return "", fmt.Errorf("error listing zones: %w", err)
	}

	longest := 0
	for _, z := range zones {
		if strings.HasSuffix(hostname, z.Name) && len(z.Name) > longest {
			longest, zid = len(z.Name), z.ID
		}
	}
	if longest == 0 {
		return "", fmt.Errorf("unable to find a zone matching %q", hostname)
	}
	return zid, nil
}
