package provider

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"

	"github.com/netident/netident/internal/types"
)

// ParseIPAPI parses an ip-api.com JSON response. The provider signals
// logical failure through a "status" field rather than the HTTP status.
func ParseIPAPI(body []byte) (*types.NetworkInfo, error) {
	var payload struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Query   string `json:"query"`
		Country string `json:"country"`
		City    string `json:"city"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode ip-api payload: %w", err)
	}
	if payload.Status != "success" {
		return nil, fmt.Errorf("ip-api status %q: %s", payload.Status, payload.Message)
	}

	info := types.NewNetworkInfo()
	info.IP = payload.Query
	info.Country = payload.Country
	info.City = payload.City
	return info, nil
}

// ParseIPWho parses an ipwho.is JSON response, which signals failure
// through a boolean "success" field.
func ParseIPWho(body []byte) (*types.NetworkInfo, error) {
	var payload struct {
		Success *bool  `json:"success"`
		Message string `json:"message"`
		IP      string `json:"ip"`
		Country string `json:"country"`
		City    string `json:"city"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode ipwho payload: %w", err)
	}
	if payload.Success != nil && !*payload.Success {
		return nil, fmt.Errorf("ipwho reported failure: %s", payload.Message)
	}
	if payload.IP == "" {
		return nil, fmt.Errorf("ipwho payload missing ip")
	}

	info := types.NewNetworkInfo()
	info.IP = payload.IP
	info.Country = payload.Country
	info.City = payload.City
	return info, nil
}

// ParseIPAPICo parses an ipapi.co JSON response. Errors arrive as a
// payload with "error": true and a reason string.
func ParseIPAPICo(body []byte) (*types.NetworkInfo, error) {
	var payload struct {
		Error   bool   `json:"error"`
		Reason  string `json:"reason"`
		IP      string `json:"ip"`
		Country string `json:"country_name"`
		City    string `json:"city"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode ipapi.co payload: %w", err)
	}
	if payload.Error {
		return nil, fmt.Errorf("ipapi.co reported failure: %s", payload.Reason)
	}
	if payload.IP == "" {
		return nil, fmt.Errorf("ipapi.co payload missing ip")
	}

	info := types.NewNetworkInfo()
	info.IP = payload.IP
	info.Country = payload.Country
	info.City = payload.City
	return info, nil
}

// ParsePlainIP parses a bare-IP text response such as api.ipify.org's.
func ParsePlainIP(body []byte) (*types.NetworkInfo, error) {
	raw := strings.TrimSpace(string(body))
	if net.ParseIP(raw) == nil {
		return nil, fmt.Errorf("response is not an IP address: %q", raw)
	}

	info := types.NewNetworkInfo()
	info.IP = raw
	return info, nil
}

// ParseKeyValue parses newline-delimited key=value text, the format of
// Cloudflare's cdn-cgi/trace endpoint. Lines without an equals sign are
// skipped; "ip" is required, "loc" supplies the country code.
func ParseKeyValue(body []byte) (*types.NetworkInfo, error) {
	fields := make(map[string]string)
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		key, value, found := strings.Cut(line, "=")
		if !found || key == "" {
			continue
		}
		fields[key] = value
	}

	ip, ok := fields["ip"]
	if !ok || net.ParseIP(ip) == nil {
		return nil, fmt.Errorf("trace payload missing valid ip")
	}

	info := types.NewNetworkInfo()
	info.IP = ip
	if loc := fields["loc"]; loc != "" {
		info.Country = loc
	}
	return info, nil
}

// GeoCascade returns the default multi-provider geolocation cascade, in
// priority order.
func GeoCascade() []Descriptor {
	return []Descriptor{
		{Name: "ip-api.com", Endpoint: "http://ip-api.com/json", Parse: ParseIPAPI},
		{Name: "ipwho.is", Endpoint: "https://ipwho.is", Parse: ParseIPWho},
		{Name: "ipapi.co", Endpoint: "https://ipapi.co/json", Parse: ParseIPAPICo},
	}
}

// IPv4Lookup returns the single-provider public IPv4 source.
func IPv4Lookup() []Descriptor {
	return []Descriptor{
		{Name: "ipify-v4", Endpoint: "https://api.ipify.org", Parse: ParsePlainIP},
	}
}

// IPv6Lookup returns the single-provider public IPv6 source. The endpoint
// answers with IPv4 on v4-only networks; either is accepted.
func IPv6Lookup() []Descriptor {
	return []Descriptor{
		{Name: "ipify-v6", Endpoint: "https://api64.ipify.org", Parse: ParsePlainIP},
	}
}

// TraceLookup returns the single-provider key=value trace source.
func TraceLookup() []Descriptor {
	return []Descriptor{
		{Name: "cloudflare-trace", Endpoint: "https://one.one.one.one/cdn-cgi/trace", Parse: ParseKeyValue},
	}
}
