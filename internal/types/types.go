package types

// Unknown is the sentinel rendered for any field a provider did not supply.
// It is distinct from a true empty or zero value.
const Unknown = "unknown"

// NetworkInfo represents the normalized result of a provider lookup
type NetworkInfo struct {
	IP      string `json:"ip"`
	Country string `json:"country"`
	City    string `json:"city"`
	// Source names the provider that supplied the result
	Source string `json:"source"`
}

// NewNetworkInfo returns a NetworkInfo with all fields set to the
// Unknown sentinel
func NewNetworkInfo() *NetworkInfo {
	return &NetworkInfo{
		IP:      Unknown,
		Country: Unknown,
		City:    Unknown,
		Source:  Unknown,
	}
}

// Normalize replaces empty fields with the Unknown sentinel
func (n *NetworkInfo) Normalize() {
	if n.IP == "" {
		n.IP = Unknown
	}
	if n.Country == "" {
		n.Country = Unknown
	}
	if n.City == "" {
		n.City = Unknown
	}
	if n.Source == "" {
		n.Source = Unknown
	}
}

// SecurityFlags holds the six independent risk indicators reported for an
// IP. Absent flags default to false.
type SecurityFlags struct {
	IsCrawler bool `json:"is_crawler"`
	IsProxy   bool `json:"is_proxy"`
	IsVPN     bool `json:"is_vpn"`
	IsTor     bool `json:"is_tor"`
	IsAbuser  bool `json:"is_abuser"`
	IsBogon   bool `json:"is_bogon"`
}

// Count returns the number of flags set to true
func (f SecurityFlags) Count() int {
	count := 0
	for _, set := range []bool{f.IsCrawler, f.IsProxy, f.IsVPN, f.IsTor, f.IsAbuser, f.IsBogon} {
		if set {
			count++
		}
	}
	return count
}

// Location is the optional geolocation section of a detail lookup
type Location struct {
	Country   string  `json:"country"`
	State     string  `json:"state"`
	City      string  `json:"city"`
	Zip       string  `json:"zip"`
	Timezone  string  `json:"timezone"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Company is the optional company section of a detail lookup. AbuserScore
// is the provider's raw score string (e.g. "0.0031 (Low)"); Badge is the
// per-field threat classification derived from it.
type Company struct {
	Name        string `json:"name"`
	Domain      string `json:"domain"`
	Type        string `json:"type"`
	AbuserScore string `json:"abuser_score"`
	Badge       string `json:"badge"`
}

// ASN is the optional autonomous-system section of a detail lookup
type ASN struct {
	Number      uint   `json:"asn"`
	Org         string `json:"org"`
	Route       string `json:"route"`
	Type        string `json:"type"`
	AbuserScore string `json:"abuser_score"`
	Badge       string `json:"badge"`
}

// AbuseContact is the optional abuse-contact section of a detail lookup
type AbuseContact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// IPDetail is the full on-demand detail record for a single IP, including
// the computed composite abuse score. CompositeScore and RiskPercent are
// nil when the lookup carried no abuse signal at all.
type IPDetail struct {
	IP             string        `json:"ip"`
	Location       Location      `json:"location"`
	Company        Company       `json:"company"`
	ASN            ASN           `json:"asn"`
	Abuse          AbuseContact  `json:"abuse"`
	Flags          SecurityFlags `json:"flags"`
	CompositeScore *float64      `json:"composite_score"`
	RiskPercent    *float64      `json:"risk_percent"`
	Severity       string        `json:"severity"`
	Source         string        `json:"source"`
}

// SourceResult is the settled outcome of one lookup source: either a
// normalized result or the error that exhausted its cascade.
type SourceResult struct {
	Info  *NetworkInfo `json:"info,omitempty"`
	Error string       `json:"error,omitempty"`
}

// OK reports whether the source produced a result
func (s SourceResult) OK() bool {
	return s.Info != nil && s.Error == ""
}

// NetworkReport aggregates the outcomes of all lookup sources. Complete is
// set only after every source has settled, success or failure.
type NetworkReport struct {
	Geo        SourceResult `json:"geo"`
	IPv4       SourceResult `json:"ipv4"`
	IPv6       SourceResult `json:"ipv6"`
	Trace      SourceResult `json:"trace"`
	Complete   bool         `json:"complete"`
	DurationMS int64        `json:"duration_ms"`
}
