package extractor

import "strings"

// FailureReason is a best-effort classification of extractor diagnostics.
//
// Classification is derived by substring matching against the tool's
// free-form stderr output, which is not a stable contract. It is advisory
// telemetry for error messages and logs only; control flow never depends
// on it.
type FailureReason string

const (
	// ReasonGeoRestricted indicates the source is blocked for this region.
	ReasonGeoRestricted FailureReason = "geo_restricted"
	// ReasonUnavailable indicates the content was removed, made private,
	// or otherwise no longer exists upstream.
	ReasonUnavailable FailureReason = "unavailable"
	// ReasonNetwork indicates a network-level fetch failure, including
	// quota/throttling responses from the upstream platform.
	ReasonNetwork FailureReason = "network"
	// ReasonUnknown is used when no known pattern matched.
	ReasonUnknown FailureReason = "unknown"
)

// stderrPatterns maps known diagnostic fragments (lowercase) to reasons.
// Order matters: the first match wins.
var stderrPatterns = []struct {
	substr string
	reason FailureReason
}{
	{"not available in your country", ReasonGeoRestricted},
	{"blocked it in your country", ReasonGeoRestricted},
	{"geo restriction", ReasonGeoRestricted},
	{"geo-restricted", ReasonGeoRestricted},

	{"video unavailable", ReasonUnavailable},
	{"has been removed", ReasonUnavailable},
	{"private video", ReasonUnavailable},
	{"account associated with this video has been terminated", ReasonUnavailable},
	{"no longer available", ReasonUnavailable},

	{"http error 429", ReasonNetwork},
	{"http error 403", ReasonNetwork},
	{"sign in to confirm", ReasonNetwork},
	{"unable to download", ReasonNetwork},
	{"connection refused", ReasonNetwork},
	{"connection reset", ReasonNetwork},
	{"timed out", ReasonNetwork},
	{"temporary failure in name resolution", ReasonNetwork},
	{"network is unreachable", ReasonNetwork},
}

// Classify maps extractor stderr output to a FailureReason.
func Classify(stderr string) FailureReason {
	lower := strings.ToLower(stderr)
	for _, p := range stderrPatterns {
		if strings.Contains(lower, p.substr) {
			return p.reason
		}
	}
	return ReasonUnknown
}
