package lookup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/netident/netident/internal/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestSanitizeIP(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"No wildcards", "1.2.3.4", "1.2.3.4"},
		{"Single wildcard octet", "1.2.*.4", "1.2.0.4"},
		{"Multiple wildcards", "*.*.*.*", "0.0.0.0"},
		{"Wildcard inside octet", "1.2.3.1*", "1.2.3.10"},
		{"Surrounding whitespace", "  1.2.*.4 ", "1.2.0.4"},
		{"IPv6 untouched", "2001:db8::1", "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeIP(tt.input); got != tt.expected {
				t.Errorf("SanitizeIP(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

const fullPayload = `{
	"location": {"country": "Germany", "state": "Hessen", "city": "Frankfurt", "zip": "60311", "timezone": "Europe/Berlin", "latitude": 50.11, "longitude": 8.68},
	"company": {"name": "Example Hosting", "domain": "example-hosting.test", "type": "hosting", "abuser_score": "0.05 (Elevated)"},
	"asn": {"asn": 64500, "org": "EXAMPLE-AS", "route": "203.0.113.0/24", "type": "hosting", "abuser_score": "0.0005 (Very Low)"},
	"abuse": {"name": "Abuse Desk", "email": "abuse@example-hosting.test", "phone": "+49 69 000000"},
	"is_vpn": true,
	"is_proxy": false,
	"is_tor": false,
	"is_crawler": false,
	"is_abuser": true,
	"is_bogon": false
}`

func detailServer(t *testing.T, payload string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "" {
			t.Error("detail request missing q parameter")
		}
		if r.URL.Query().Get("t") == "" {
			t.Error("detail request missing cache-busting t parameter")
		}
		w.Write([]byte(payload))
	}))
}

func TestDetail_FullPayload(t *testing.T) {
	server := detailServer(t, fullPayload)
	defer server.Close()

	client := NewClient(nil, server.URL, "test-agent", testLogger())
	detail, err := client.Detail(context.Background(), "203.0.113.9")
	if err != nil {
		t.Fatalf("Detail failed: %v", err)
	}

	if detail.Location.City != "Frankfurt" {
		t.Errorf("City = %q, want Frankfurt", detail.Location.City)
	}
	if detail.Company.Name != "Example Hosting" {
		t.Errorf("Company = %q, want Example Hosting", detail.Company.Name)
	}
	if detail.ASN.Number != 64500 {
		t.Errorf("ASN = %d, want 64500", detail.ASN.Number)
	}
	if detail.Abuse.Email != "abuse@example-hosting.test" {
		t.Errorf("Abuse email = %q", detail.Abuse.Email)
	}
	if !detail.Flags.IsVPN || !detail.Flags.IsAbuser {
		t.Errorf("flags not parsed: %+v", detail.Flags)
	}
	if detail.Flags.Count() != 2 {
		t.Errorf("flag count = %d, want 2", detail.Flags.Count())
	}

	// base = ((0.05+0.0005)/2)*5, risk = 2*0.15
	if detail.CompositeScore == nil {
		t.Fatal("CompositeScore = nil, want value")
	}
	expected := ((0.05+0.0005)/2)*5 + 0.3
	if diff := *detail.CompositeScore - expected; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("CompositeScore = %v, want %v", *detail.CompositeScore, expected)
	}
	if detail.RiskPercent == nil {
		t.Fatal("RiskPercent = nil, want value")
	}
	// 42.6% -> high
	if detail.Severity != "high" {
		t.Errorf("Severity = %q, want high (at %v%%)", detail.Severity, *detail.RiskPercent)
	}

	if detail.Company.Badge != "warning" {
		t.Errorf("Company badge = %q, want warning", detail.Company.Badge)
	}
	if detail.ASN.Badge != "success" {
		t.Errorf("ASN badge = %q, want success", detail.ASN.Badge)
	}
	if detail.Source != "remote" {
		t.Errorf("Source = %q, want remote", detail.Source)
	}
}

func TestDetail_EmptyPayloadIsAllUnknown(t *testing.T) {
	server := detailServer(t, `{}`)
	defer server.Close()

	client := NewClient(nil, server.URL, "", testLogger())
	detail, err := client.Detail(context.Background(), "203.0.113.9")
	if err != nil {
		t.Fatalf("Detail failed: %v", err)
	}

	if detail.Location.Country != types.Unknown {
		t.Errorf("Country = %q, want unknown sentinel", detail.Location.Country)
	}
	if detail.Company.AbuserScore != types.Unknown {
		t.Errorf("Company score = %q, want unknown sentinel", detail.Company.AbuserScore)
	}
	if detail.Flags.Count() != 0 {
		t.Errorf("flags = %+v, want none set", detail.Flags)
	}

	// No signal at all: composite must be nil, severity unknown
	if detail.CompositeScore != nil {
		t.Errorf("CompositeScore = %v, want nil", *detail.CompositeScore)
	}
	if detail.Severity != types.Unknown {
		t.Errorf("Severity = %q, want unknown sentinel", detail.Severity)
	}
	if detail.Company.Badge != "info" {
		t.Errorf("Company badge = %q, want info for absent score", detail.Company.Badge)
	}
}

func TestDetail_WildcardSanitizedBeforeRequest(t *testing.T) {
	var requested string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Query().Get("q")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(nil, server.URL, "", testLogger())
	detail, err := client.Detail(context.Background(), "1.2.*.4")
	if err != nil {
		t.Fatalf("Detail failed: %v", err)
	}
	if requested != "1.2.0.4" {
		t.Errorf("endpoint saw %q, want 1.2.0.4", requested)
	}
	if detail.IP != "1.2.0.4" {
		t.Errorf("detail IP = %q, want 1.2.0.4", detail.IP)
	}
}

func TestDetail_InvalidIP(t *testing.T) {
	client := NewClient(nil, "http://127.0.0.1:0", "", testLogger())
	if _, err := client.Detail(context.Background(), "not-an-ip"); err == nil {
		t.Error("Detail should reject an invalid IP")
	}
}

func TestDetail_RemoteFailureWithoutDatabases(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(nil, server.URL, "", testLogger())
	if _, err := client.Detail(context.Background(), "203.0.113.9"); err == nil {
		t.Error("Detail should fail when the endpoint fails and no local databases are open")
	}
}

func TestOpenDatabases_MissingFiles(t *testing.T) {
	client := NewClient(nil, "http://127.0.0.1:0", "", testLogger())
	if err := client.OpenDatabases("/nonexistent/city.mmdb", ""); err == nil {
		t.Error("OpenDatabases should fail on a missing city database")
	}
	if err := client.OpenDatabases("", "/nonexistent/asn.mmdb"); err == nil {
		t.Error("OpenDatabases should fail on a missing ASN database")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestDetail_MalformedJSONDegradesToUnknown(t *testing.T) {
	// A 200 with a broken body still yields a record; every field falls
	// back to its sentinel rather than erroring
	server := detailServer(t, `{"location": {"country": `)
	defer server.Close()

	client := NewClient(nil, server.URL, "", testLogger())
	detail, err := client.Detail(context.Background(), "203.0.113.9")
	if err != nil {
		t.Fatalf("Detail failed: %v", err)
	}
	if detail.Location.Country != types.Unknown {
		t.Errorf("Country = %q, want unknown sentinel", detail.Location.Country)
	}
	if detail.CompositeScore != nil {
		t.Error("CompositeScore should be nil for a payload with no signal")
	}
}
