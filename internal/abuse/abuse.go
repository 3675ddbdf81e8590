// Package abuse computes the composite abuse-risk score for an IP from two
// provider-reported abuser likelihoods and a set of boolean risk flags, and
// maps scores to display classifications.
package abuse

import (
	"strconv"
	"strings"

	"github.com/netident/netident/internal/types"
)

// FlagWeight is the risk contribution of each true security flag.
const FlagWeight = 0.15

// ParseScore extracts the numeric score from a provider's raw abuser-score
// field. Providers report strings like "0.0031 (Low)"; the sentinel
// "unknown", an empty string, or anything unparseable yields (0, false).
func ParseScore(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == types.Unknown {
		return 0, false
	}
	if idx := strings.IndexByte(raw, ' '); idx > 0 {
		raw = raw[:idx]
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil || score < 0 {
		return 0, false
	}
	return score, true
}

// ComputeScore combines the company and ASN abuser scores (each in [0,1],
// absent values passed as 0) with the count of true security flags into a
// single composite. It returns nil when there is no signal at all: both
// scores zero and no flags set. A nil result means "unknown", never "0%".
func ComputeScore(companyScore, asnScore float64, flags types.SecurityFlags) *float64 {
	if companyScore < 0 {
		companyScore = 0
	}
	if asnScore < 0 {
		asnScore = 0
	}

	base := ((companyScore + asnScore) / 2) * 5
	risk := float64(flags.Count()) * FlagWeight

	if base == 0 && risk == 0 {
		return nil
	}

	composite := base + risk
	return &composite
}

// Percent converts a composite score to a display percentage. A nil
// composite stays nil.
func Percent(composite *float64) *float64 {
	if composite == nil {
		return nil
	}
	pct := *composite * 100
	return &pct
}

// Severity maps a risk percentage to its bucket. Thresholds are inclusive
// at the lower bound and checked in descending order, first match wins.
func Severity(percent float64) string {
	switch {
	case percent >= 100:
		return "critical"
	case percent >= 20:
		return "high"
	case percent >= 5:
		return "elevated"
	case percent >= 0.25:
		return "low"
	default:
		return "very low"
	}
}

// ThreatBadge classifies a single raw provider score for display. This is
// independent of the composite Severity buckets and uses its own cut
// points. A nil score means the provider reported nothing and is shown as
// informational.
func ThreatBadge(score *float64) string {
	if score == nil {
		return "info"
	}
	switch {
	case *score < 0.001:
		return "success"
	case *score < 0.01:
		return "info"
	case *score < 0.1:
		return "warning"
	default:
		return "danger"
	}
}

// BadgeForRaw is ThreatBadge applied to a provider's raw score string,
// folding the parse step in. Unparseable input is treated as "no score".
func BadgeForRaw(raw string) string {
	score, ok := ParseScore(raw)
	if !ok {
		return ThreatBadge(nil)
	}
	return ThreatBadge(&score)
}
