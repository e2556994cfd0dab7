package appraisal

import (
	"regexp"
	"strconv"
	"strings"

	"go-appraiser/pkg/models"
)

// Fallback extraction runs only after the calculator reports insufficient
// data: first a regex sweep over raw response bodies, then a scan of the
// rendered page's accessible labels.

// Telemetry, search, and support endpoints that never carry a usable value.
var skipEndpoints = []string{
	"ceo",
	"search/appraisals",
	"intercom",
	"sentry",
	"ping",
	"dashboard",
	"recalls",
	"carfax",
	"auth/user",
}

var valuePatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"export_value", regexp.MustCompile(`(?i)"export_value"[:\s]*([\d.]+)`)},
	{"exportValue", regexp.MustCompile(`(?i)"exportValue"[:\s]*([\d.]+)`)},
	{"appraised_value", regexp.MustCompile(`(?i)"appraised_value"[:\s]*([\d.]+)`)},
	{"wholesale_value", regexp.MustCompile(`(?i)"wholesale_value"[:\s]*([\d.]+)`)},
	{"market_value", regexp.MustCompile(`(?i)"market_value"[:\s]*([\d.]+)`)},
	{"mmr_value", regexp.MustCompile(`(?i)"mmr_value"[:\s]*([\d.]+)`)},
}

var labelAmount = regexp.MustCompile(`\$?\s*([\d,]+)`)

// ScanResponses searches raw response bodies for a known value field. Only
// offer or export endpoints are considered, never the telemetry ones. The
// first match with at least four integer digits wins, in buffer order then
// pattern order. The name of the matched field is returned alongside the
// value.
func ScanResponses(responses []models.CapturedResponse) (value, field string, ok bool) {
	for _, resp := range responses {
		lower := strings.ToLower(resp.URL)
		if containsAny(lower, skipEndpoints) {
			continue
		}
		if !strings.Contains(resp.URL, "export2") && !strings.Contains(resp.URL, "offer") {
			continue
		}

		for _, p := range valuePatterns {
			m := p.re.FindStringSubmatch(resp.Body)
			if m == nil {
				continue
			}
			f, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			v := strconv.FormatInt(int64(f), 10)
			if len(v) >= 4 {
				return v, p.name, true
			}
		}
	}
	return "", "", false
}

// ScanLabels inspects accessible labels from the live page for currency-like
// text. A label qualifies when it mentions a dollar sign, "CAD", or any
// digit; the first run of digits and commas is taken, and the de-commafied
// value must be all digits and at least four long.
func ScanLabels(labels []string) (string, bool) {
	for _, label := range labels {
		if !strings.Contains(label, "$") && !strings.Contains(label, "CAD") && !strings.ContainsAny(label, "0123456789") {
			continue
		}
		m := labelAmount.FindStringSubmatch(label)
		if m == nil {
			continue
		}
		v := strings.ReplaceAll(m[1], ",", "")
		if len(v) >= 4 && isDigits(v) {
			return v, true
		}
	}
	return "", false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
