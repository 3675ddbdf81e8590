// Package lookup fetches the on-demand detail record for a single IP from
// a remote intelligence endpoint, optionally enriched from local MaxMind
// databases, and computes its composite abuse score.
package lookup

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oschwald/geoip2-golang"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/netident/netident/internal/abuse"
	"github.com/netident/netident/internal/types"
)

const maxBodySize = 1 << 20

// Client performs IP detail lookups.
type Client struct {
	httpClient *http.Client
	endpoint   string
	userAgent  string
	logger     *logrus.Logger

	cityReader *geoip2.Reader
	asnReader  *geoip2.Reader
}

// NewClient creates a detail lookup client. A nil httpClient falls back to
// http.DefaultClient.
func NewClient(httpClient *http.Client, endpoint, userAgent string, logger *logrus.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		endpoint:   endpoint,
		userAgent:  userAgent,
		logger:     logger,
	}
}

// OpenDatabases opens the optional local GeoLite2 City and ASN databases
// used to fill fields the remote endpoint did not supply. Either path may
// be empty. Open failures are returned but leave the client usable.
func (c *Client) OpenDatabases(cityPath, asnPath string) error {
	if cityPath != "" {
		reader, err := geoip2.Open(cityPath)
		if err != nil {
			return fmt.Errorf("open city database: %w", err)
		}
		c.cityReader = reader
	}
	if asnPath != "" {
		reader, err := geoip2.Open(asnPath)
		if err != nil {
			return fmt.Errorf("open ASN database: %w", err)
		}
		c.asnReader = reader
	}
	return nil
}

// Close closes any open local databases.
func (c *Client) Close() error {
	var firstErr error
	if c.cityReader != nil {
		if err := c.cityReader.Close(); err != nil {
			firstErr = err
		}
		c.cityReader = nil
	}
	if c.asnReader != nil {
		if err := c.asnReader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.asnReader = nil
	}
	return firstErr
}

// SanitizeIP replaces wildcard characters with zeros so a masked address
// like "1.2.*.4" becomes a concrete one before being sent anywhere.
func SanitizeIP(raw string) string {
	return strings.ReplaceAll(strings.TrimSpace(raw), "*", "0")
}

// Detail looks up the full record for an IP. The input is sanitized and
// validated first. When the remote endpoint fails but local databases are
// open, a database-only record is returned instead of an error.
func (c *Client) Detail(ctx context.Context, rawIP string) (*types.IPDetail, error) {
	ip := SanitizeIP(rawIP)
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("invalid IP address: %s", rawIP)
	}

	detail := newDetail(ip)

	body, err := c.fetch(ctx, ip)
	if err != nil {
		if c.cityReader == nil && c.asnReader == nil {
			return nil, fmt.Errorf("detail lookup for %s: %w", ip, err)
		}
		c.logger.WithField("ip", ip).Warnf("remote detail lookup failed, using local databases: %v", err)
		detail.Source = "local-database"
	} else {
		parseDetail(body, detail)
		detail.Source = "remote"
	}

	c.enrich(parsed, detail)
	finalize(detail)
	return detail, nil
}

// fetch issues the single remote detail request.
func (c *Client) fetch(ctx context.Context, ip string) ([]byte, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid detail endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", ip)
	q.Set("t", strconv.FormatInt(time.Now().UnixMilli(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
}

func newDetail(ip string) *types.IPDetail {
	return &types.IPDetail{
		IP: ip,
		Location: types.Location{
			Country:  types.Unknown,
			State:    types.Unknown,
			City:     types.Unknown,
			Zip:      types.Unknown,
			Timezone: types.Unknown,
		},
		Company: types.Company{
			Name:        types.Unknown,
			Domain:      types.Unknown,
			Type:        types.Unknown,
			AbuserScore: types.Unknown,
		},
		ASN: types.ASN{
			Org:         types.Unknown,
			Route:       types.Unknown,
			Type:        types.Unknown,
			AbuserScore: types.Unknown,
		},
		Abuse: types.AbuseContact{
			Name:  types.Unknown,
			Email: types.Unknown,
			Phone: types.Unknown,
		},
	}
}

// parseDetail extracts the optional sections of the remote payload. The
// payload is untrusted; every access tolerates an absent field.
func parseDetail(body []byte, detail *types.IPDetail) {
	root := gjson.ParseBytes(body)

	loc := root.Get("location")
	detail.Location.Country = strOr(loc.Get("country"), detail.Location.Country)
	detail.Location.State = strOr(loc.Get("state"), detail.Location.State)
	detail.Location.City = strOr(loc.Get("city"), detail.Location.City)
	detail.Location.Zip = strOr(loc.Get("zip"), detail.Location.Zip)
	detail.Location.Timezone = strOr(loc.Get("timezone"), detail.Location.Timezone)
	detail.Location.Latitude = loc.Get("latitude").Float()
	detail.Location.Longitude = loc.Get("longitude").Float()

	company := root.Get("company")
	detail.Company.Name = strOr(company.Get("name"), detail.Company.Name)
	detail.Company.Domain = strOr(company.Get("domain"), detail.Company.Domain)
	detail.Company.Type = strOr(company.Get("type"), detail.Company.Type)
	detail.Company.AbuserScore = strOr(company.Get("abuser_score"), detail.Company.AbuserScore)

	asn := root.Get("asn")
	detail.ASN.Number = uint(asn.Get("asn").Uint())
	detail.ASN.Org = strOr(asn.Get("org"), detail.ASN.Org)
	detail.ASN.Route = strOr(asn.Get("route"), detail.ASN.Route)
	detail.ASN.Type = strOr(asn.Get("type"), detail.ASN.Type)
	detail.ASN.AbuserScore = strOr(asn.Get("abuser_score"), detail.ASN.AbuserScore)

	contact := root.Get("abuse")
	detail.Abuse.Name = strOr(contact.Get("name"), detail.Abuse.Name)
	detail.Abuse.Email = strOr(contact.Get("email"), detail.Abuse.Email)
	detail.Abuse.Phone = strOr(contact.Get("phone"), detail.Abuse.Phone)

	detail.Flags = types.SecurityFlags{
		IsCrawler: root.Get("is_crawler").Bool(),
		IsProxy:   root.Get("is_proxy").Bool(),
		IsVPN:     root.Get("is_vpn").Bool(),
		IsTor:     root.Get("is_tor").Bool(),
		IsAbuser:  root.Get("is_abuser").Bool(),
		IsBogon:   root.Get("is_bogon").Bool(),
	}
}

// enrich fills location and ASN fields still unknown after the remote
// parse from the local databases, when open.
func (c *Client) enrich(ip net.IP, detail *types.IPDetail) {
	if c.cityReader != nil {
		record, err := c.cityReader.City(ip)
		if err == nil && record != nil {
			if detail.Location.Country == types.Unknown {
				if name := record.Country.Names["en"]; name != "" {
					detail.Location.Country = name
				}
			}
			if detail.Location.City == types.Unknown {
				if name := record.City.Names["en"]; name != "" {
					detail.Location.City = name
				}
			}
			if detail.Location.Timezone == types.Unknown && record.Location.TimeZone != "" {
				detail.Location.Timezone = record.Location.TimeZone
			}
			if detail.Location.Latitude == 0 && detail.Location.Longitude == 0 {
				detail.Location.Latitude = record.Location.Latitude
				detail.Location.Longitude = record.Location.Longitude
			}
		}
	}

	if c.asnReader != nil {
		record, err := c.asnReader.ASN(ip)
		if err == nil && record != nil {
			if detail.ASN.Number == 0 {
				detail.ASN.Number = record.AutonomousSystemNumber
			}
			if detail.ASN.Org == types.Unknown && record.AutonomousSystemOrganization != "" {
				detail.ASN.Org = record.AutonomousSystemOrganization
			}
		}
	}
}

// finalize derives the badges, composite score, and severity bucket.
func finalize(detail *types.IPDetail) {
	detail.Company.Badge = abuse.BadgeForRaw(detail.Company.AbuserScore)
	detail.ASN.Badge = abuse.BadgeForRaw(detail.ASN.AbuserScore)

	companyScore, _ := abuse.ParseScore(detail.Company.AbuserScore)
	asnScore, _ := abuse.ParseScore(detail.ASN.AbuserScore)

	detail.CompositeScore = abuse.ComputeScore(companyScore, asnScore, detail.Flags)
	detail.RiskPercent = abuse.Percent(detail.CompositeScore)
	if detail.RiskPercent != nil {
		detail.Severity = abuse.Severity(*detail.RiskPercent)
	} else {
		detail.Severity = types.Unknown
	}
}

// strOr returns the string value of a gjson result, or the fallback when
// the field is absent or empty.
func strOr(result gjson.Result, fallback string) string {
	if result.Exists() {
		if s := result.String(); s != "" {
			return s
		}
	}
	return fallback
}
