package ddns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/netip"
	"net/url"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrInvalidKey is returned when the DreamHost API rejects the API key.
// Callers can use errors.Is to distinguish an authentication failure from a
// transient network problem, since retrying with the same key will not help.
var ErrInvalidKey = errors.New("invalid API key")

const dreamhostAPIURL = "https://api.dreamhost.com/"

func newDreamhostProvider(key string) (*dreamhostProvider, error) {
	if key == "" {
		return nil, errors.New("API key cannot be empty")
	}
	hc := retryablehttp.NewClient()
	hc.RetryMax = 2
	hc.Logger = nil
	return &dreamhostProvider{
		key:        key,
		apiURL:     dreamhostAPIURL,
		httpClient: hc,
		logger:     discard,
		comment:    "managed by ddns",
	}, nil
}

// dreamhostProvider implements ddns.Provider against the DreamHost
// record-management API (dns-list_records, dns-add_record, dns-remove_record).
//
// Every command is an https GET with key, cmd, and format=json query
// parameters. Responses are a JSON envelope where result is "success" or
// "error" and data carries either the payload or an error code string.
type dreamhostProvider struct {
	key        string
	apiURL     string
	httpClient *retryablehttp.Client
	logger     *log.Logger
	comment    string // attached to each record added
}

type dreamhostRecord struct {
	Record string `json:"record"`
	Type   string `json:"type"`
	Value  string `json:"value"`
}

// recordIdentity is what makes two records the same for diffing purposes.
type recordIdentity struct {
	rtype string
	addr  netip.Addr
}

func (dh *dreamhostProvider) SetHTTPClient(hc *http.Client) {
	dh.httpClient.HTTPClient = hc
}

func (dh *dreamhostProvider) SetDNSRecords(ctx context.Context, hostname string, addrs []netip.Addr) error {
	records, err := dh.listRecords(ctx, hostname)
	if err != nil {
		return fmt.Errorf("unable to list records for %s: %w", hostname, err)
	}
	dh.logger.Printf("found %d existing records for %s: %+v\n", len(records), hostname, records)

	// existing maps each record identity to the verbatim value string from
	// the list response. DreamHost matches removal values string-for-string,
	// so an abbreviated IPv6 literal would fail to delete a record that was
	// stored in expanded form.
	// Records are compared by type and address together:
	// an A record holding an IPv6 literal is stale no matter what it parses to.
	existing := map[recordIdentity]string{}
	newAddrs := map[recordIdentity]bool{}

	for _, a := range addrs {
		newAddrs[recordIdentity{recordType(a), a}] = true
	}
	for _, r := range records {
		a, err := netip.ParseAddr(r.Value)
		if err != nil {
			dh.logger.Printf("skipping %s record with unparseable value %q: %s\n", r.Type, r.Value, err)
			continue
		}
		id := recordIdentity{r.Type, a}
		existing[id] = r.Value

		if newAddrs[id] {
			dh.logger.Printf("existing record %s is in the set of new addrs\n", a)
			continue
		}

		dh.logger.Printf("removing DNS record for %s...\n", r.Value)
		if err := dh.removeRecord(ctx, hostname, r); err != nil {
			// A stale record is not worth aborting the cycle over;
			// the next cycle will see it again.
			dh.logger.Printf("error removing record %s: %s; continuing\n", r.Value, err)
			continue
		}
		dh.logger.Printf("successfully removed record for %s\n", r.Value)
	}

	for _, a := range addrs {
		if _, found := existing[recordIdentity{recordType(a), a}]; found {
			dh.logger.Printf("record already exists for %s\n", a)
			continue
		}
		dh.logger.Printf("adding record for %s...\n", a)
		if err := dh.addRecord(ctx, hostname, a); err != nil {
			return fmt.Errorf("error adding DNS record for %s: %w", a, err)
		}
		dh.logger.Printf("successfully added record for %s\n", a)
	}

	return nil
}

// listRecords returns the A/AAAA records for hostname.
// dns-list_records returns every record on the account;
// anything for another hostname or of another type is filtered out here and
// never considered for removal.
func (dh *dreamhostProvider) listRecords(ctx context.Context, hostname string) ([]dreamhostRecord, error) {
	data, err := dh.call(ctx, "dns-list_records", nil)
	if err != nil {
		return nil, err
	}
	var all []dreamhostRecord
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("error decoding record list: %w", err)
	}
	var records []dreamhostRecord
	for _, r := range all {
		if r.Record != hostname {
			continue
		}
		if r.Type != "A" && r.Type != "AAAA" {
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

func (dh *dreamhostProvider) addRecord(ctx context.Context, hostname string, a netip.Addr) error {
	params := url.Values{}
	params.Set("record", hostname)
	params.Set("type", recordType(a))
	params.Set("value", a.String())
	if dh.comment != "" {
		params.Set("comment", dh.comment)
	}
	_, err := dh.call(ctx, "dns-add_record", params)
	return err
}

func (dh *dreamhostProvider) removeRecord(ctx context.Context, hostname string, r dreamhostRecord) error {
	params := url.Values{}
	params.Set("record", hostname)
	params.Set("type", r.Type)
	params.Set("value", r.Value)
	_, err := dh.call(ctx, "dns-remove_record", params)
	return err
}

func (dh *dreamhostProvider) call(ctx context.Context, cmd string, params url.Values) (json.RawMessage, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("key", dh.key)
	q.Set("cmd", cmd)
	q.Set("format", "json")

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, dh.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	resp, err := dh.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", cmd, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s request returned %s", cmd, resp.Status)
	}

	var envelope struct {
		Result string          `json:"result"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("error decoding %s response: %w", cmd, err)
	}
	if envelope.Result != "success" {
		var msg string
		_ = json.Unmarshal(envelope.Data, &msg)
		if msg == "invalid_api_key" {
			return nil, fmt.Errorf("%s: %w", cmd, ErrInvalidKey)
		}
		return nil, fmt.Errorf("%s returned result %q: %s", cmd, envelope.Result, msg)
	}
	return envelope.Data, nil
}

// VerifyDreamhostKey checks that key is accepted by the DreamHost API.
// It is intended for interactive setup flows that want to reject a mistyped
// key before writing it anywhere.
func VerifyDreamhostKey(ctx context.Context, key string) error {
	dh, err := newDreamhostProvider(key)
	if err != nil {
		return err
	}
	if _, err := dh.call(ctx, "dns-list_records", nil); err != nil {
		return err
	}
	return nil
}
