package ddns

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const testKey = "NYKCAWSCEXAMPLE"

// fakeDreamhost serves just enough of the DreamHost API for the provider:
// dns-list_records, dns-add_record, and dns-remove_record with the same
// success/error JSON envelope the real endpoint uses.
type fakeDreamhost struct {
	mu      sync.Mutex
	records []dreamhostRecord
	calls   []string // cmd of each request, in order
	removed []string // verbatim value param of each remove request
	failAll bool     // respond to mutations with an error envelope
}

func (f *fakeDreamhost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	q := r.URL.Query()
	cmd := q.Get("cmd")
	f.calls = append(f.calls, cmd)

	writeJSON := func(result string, data any) {
		json.NewEncoder(w).Encode(map[string]any{"result": result, "data": data})
	}

	if q.Get("key") != testKey {
		writeJSON("error", "invalid_api_key")
		return
	}
	if q.Get("format") != "json" {
		writeJSON("error", "invalid_format")
		return
	}

	switch cmd {
	case "dns-list_records":
		records := f.records
		if records == nil {
			records = []dreamhostRecord{}
		}
		writeJSON("success", records)
	case "dns-add_record":
		if f.failAll {
			writeJSON("error", "internal_error_updating_zone")
			return
		}
		f.records = append(f.records, dreamhostRecord{
			Record: q.Get("record"),
			Type:   q.Get("type"),
			Value:  q.Get("value"),
		})
		writeJSON("success", "record_added")
	case "dns-remove_record":
		if f.failAll {
			writeJSON("error", "internal_error_updating_zone")
			return
		}
		f.removed = append(f.removed, q.Get("value"))
		kept := f.records[:0]
		for _, rec := range f.records {
			if rec.Record == q.Get("record") && rec.Type == q.Get("type") && rec.Value == q.Get("value") {
				continue
			}
			kept = append(kept, rec)
		}
		f.records = kept
		writeJSON("success", "record_removed")
	default:
		writeJSON("error", "unknown_command")
	}
}

func (f *fakeDreamhost) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestProvider(t *testing.T, fake *fakeDreamhost, key string) *dreamhostProvider {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	dh, err := newDreamhostProvider(key)
	if err != nil {
		t.Fatalf("newDreamhostProvider failed: %s", err)
	}
	dh.apiURL = srv.URL + "/"
	return dh
}

func TestDreamhostNoChangeIssuesNoMutations(t *testing.T) {
	fake := &fakeDreamhost{records: []dreamhostRecord{
		{Record: "home.example.com", Type: "A", Value: "203.0.113.7"},
	}}
	dh := newTestProvider(t, fake, testKey)

	addrs := []netip.Addr{netip.MustParseAddr("203.0.113.7")}
	if err := dh.SetDNSRecords(context.Background(), "home.example.com", addrs); err != nil {
		t.Fatalf("SetDNSRecords failed: %s", err)
	}

	want := []string{"dns-list_records"}
	if diff := cmp.Diff(want, fake.commands()); diff != "" {
		t.Fatalf("unexpected API calls (-want +got):\n%s", diff)
	}
}

func TestDreamhostChangedAddress(t *testing.T) {
	fake := &fakeDreamhost{records: []dreamhostRecord{
		{Record: "home.example.com", Type: "A", Value: "203.0.113.7"},
	}}
	dh := newTestProvider(t, fake, testKey)

	addrs := []netip.Addr{netip.MustParseAddr("203.0.113.8")}
	if err := dh.SetDNSRecords(context.Background(), "home.example.com", addrs); err != nil {
		t.Fatalf("SetDNSRecords failed: %s", err)
	}

	want := []string{"dns-list_records", "dns-remove_record", "dns-add_record"}
	if diff := cmp.Diff(want, fake.commands()); diff != "" {
		t.Fatalf("unexpected API calls (-want +got):\n%s", diff)
	}
	wantRecords := []dreamhostRecord{
		{Record: "home.example.com", Type: "A", Value: "203.0.113.8"},
	}
	if diff := cmp.Diff(wantRecords, fake.records); diff != "" {
		t.Fatalf("unexpected final records (-want +got):\n%s", diff)
	}
}

func TestDreamhostRemovesVerbatimValue(t *testing.T) {
	// DreamHost only removes a record when the value matches
	// string-for-string, so the expanded form it returned must be sent back
	// even though it parses equal to 2001:db8::1.
	const stored = "2001:0DB8:0000:0000:0000:0000:0000:0001"
	fake := &fakeDreamhost{records: []dreamhostRecord{
		{Record: "home.example.com", Type: "AAAA", Value: stored},
	}}
	dh := newTestProvider(t, fake, testKey)

	addrs := []netip.Addr{netip.MustParseAddr("2001:db8::2")}
	if err := dh.SetDNSRecords(context.Background(), "home.example.com", addrs); err != nil {
		t.Fatalf("SetDNSRecords failed: %s", err)
	}

	if diff := cmp.Diff([]string{stored}, fake.removed); diff != "" {
		t.Fatalf("unexpected remove values (-want +got):\n%s", diff)
	}
}

func TestDreamhostEquivalentIPv6NotReplaced(t *testing.T) {
	fake := &fakeDreamhost{records: []dreamhostRecord{
		{Record: "home.example.com", Type: "AAAA", Value: "2001:0DB8:0000:0000:0000:0000:0000:0001"},
	}}
	dh := newTestProvider(t, fake, testKey)

	addrs := []netip.Addr{netip.MustParseAddr("2001:db8::1")}
	if err := dh.SetDNSRecords(context.Background(), "home.example.com", addrs); err != nil {
		t.Fatalf("SetDNSRecords failed: %s", err)
	}

	want := []string{"dns-list_records"}
	if diff := cmp.Diff(want, fake.commands()); diff != "" {
		t.Fatalf("unexpected API calls (-want +got):\n%s", diff)
	}
}

func TestDreamhostCorrectsMistypedRecord(t *testing.T) {
	// An A record holding an IPv6 literal parses to the same address as the
	// desired AAAA record, but it is still wrong and must be replaced.
	fake := &fakeDreamhost{records: []dreamhostRecord{
		{Record: "home.example.com", Type: "A", Value: "2001:db8::1"},
	}}
	dh := newTestProvider(t, fake, testKey)

	addrs := []netip.Addr{netip.MustParseAddr("2001:db8::1")}
	if err := dh.SetDNSRecords(context.Background(), "home.example.com", addrs); err != nil {
		t.Fatalf("SetDNSRecords failed: %s", err)
	}

	want := []string{"dns-list_records", "dns-remove_record", "dns-add_record"}
	if diff := cmp.Diff(want, fake.commands()); diff != "" {
		t.Fatalf("unexpected API calls (-want +got):\n%s", diff)
	}
	wantRecords := []dreamhostRecord{
		{Record: "home.example.com", Type: "AAAA", Value: "2001:db8::1"},
	}
	if diff := cmp.Diff(wantRecords, fake.records); diff != "" {
		t.Fatalf("unexpected final records (-want +got):\n%s", diff)
	}
}

func TestDreamhostLeavesOtherRecordsAlone(t *testing.T) {
	fake := &fakeDreamhost{records: []dreamhostRecord{
		{Record: "home.example.com", Type: "A", Value: "203.0.113.7"},
		{Record: "other.example.com", Type: "A", Value: "198.51.100.4"},
		{Record: "home.example.com", Type: "CNAME", Value: "example.com."},
		{Record: "home.example.com", Type: "TXT", Value: "v=spf1 -all"},
	}}
	dh := newTestProvider(t, fake, testKey)

	addrs := []netip.Addr{netip.MustParseAddr("203.0.113.9")}
	if err := dh.SetDNSRecords(context.Background(), "home.example.com", addrs); err != nil {
		t.Fatalf("SetDNSRecords failed: %s", err)
	}

	if diff := cmp.Diff([]string{"203.0.113.7"}, fake.removed); diff != "" {
		t.Fatalf("expected only the stale A record to be removed (-want +got):\n%s", diff)
	}
}

func TestDreamhostInvalidKey(t *testing.T) {
	fake := &fakeDreamhost{}
	dh := newTestProvider(t, fake, "wrongkey")

	addrs := []netip.Addr{netip.MustParseAddr("203.0.113.7")}
	err := dh.SetDNSRecords(context.Background(), "home.example.com", addrs)
	if err == nil {
		t.Fatal("expected an error; got err == nil")
	}
	if !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected errors.Is(err, ErrInvalidKey); got %q", err)
	}
	// An auth failure must abort the cycle before any mutation is attempted.
	if diff := cmp.Diff([]string{"dns-list_records"}, fake.commands()); diff != "" {
		t.Fatalf("unexpected API calls (-want +got):\n%s", diff)
	}
}

func TestDreamhostRemoveFailureDoesNotAbortAdds(t *testing.T) {
	fake := &fakeDreamhost{records: []dreamhostRecord{
		{Record: "home.example.com", Type: "A", Value: "203.0.113.7"},
	}}
	dh := newTestProvider(t, fake, testKey)

	// Fail the removal, then let the add through.
	fake.failAll = true
	addrs := []netip.Addr{netip.MustParseAddr("203.0.113.8")}
	if err := dh.SetDNSRecords(context.Background(), "home.example.com", addrs); err == nil {
		t.Fatal("expected add failure to surface as an error")
	}
	// The failed removal must not have stopped the cycle from attempting the add.
	want := []string{"dns-list_records", "dns-remove_record", "dns-add_record"}
	if diff := cmp.Diff(want, fake.commands()); diff != "" {
		t.Fatalf("unexpected API calls on the failing pass (-want +got):\n%s", diff)
	}

	fake.mu.Lock()
	fake.failAll = false
	fake.calls = nil
	fake.mu.Unlock()

	if err := dh.SetDNSRecords(context.Background(), "home.example.com", addrs); err != nil {
		t.Fatalf("SetDNSRecords failed: %s", err)
	}
	want = []string{"dns-list_records", "dns-remove_record", "dns-add_record"}
	if diff := cmp.Diff(want, fake.commands()); diff != "" {
		t.Fatalf("unexpected API calls (-want +got):\n%s", diff)
	}
}

func TestDreamhostCallAuth(t *testing.T) {
	fake := &fakeDreamhost{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	dh, err := newDreamhostProvider(testKey)
	if err != nil {
		t.Fatalf("newDreamhostProvider failed: %s", err)
	}
	dh.apiURL = srv.URL + "/"
	if _, err := dh.call(context.Background(), "dns-list_records", nil); err != nil {
		t.Fatalf("expected valid key to verify; got %q", err)
	}

	dh.key = "wrongkey"
	_, err = dh.call(context.Background(), "dns-list_records", nil)
	if !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected errors.Is(err, ErrInvalidKey); got %v", err)
	}
}

func TestNewDreamhostProviderRequiresKey(t *testing.T) {
	if _, err := newDreamhostProvider(""); err == nil {
		t.Fatal("expected an error for an empty key")
	}
}
