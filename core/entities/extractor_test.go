package entities

import (
	"errors"
	"testing"
)

var sampleCatalogYAML = []byte(`
extractor: regex:v1
patterns:
  site:
    normalize: digits
    patterns:
      - name: site_number
        regex: "(?i)site\\s*#?\\s*(\\d{2,5})"
        confidence: 0.9
  terminal:
    normalize: upper
    patterns:
      - name: terminal_code
        regex: "(?i)terminal\\s+([a-z]{2}\\d{3})"
  workplace:
    normalize: digit_list
    patterns:
      - name: register_list
        regex: "(?i)registers?\\s+([\\d,\\s]+)"
        confidence: 0.7
  ticket:
    patterns:
      - name: ticket_ref
        regex: "(SD-\\d+)"
        confidence: 1.0
`)

func mustCatalog(t *testing.T, raw []byte) *Extractor {
	t.Helper()
	ex, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return ex
}

func TestExtractNormalizesValues(t *testing.T) {
	ex := mustCatalog(t, sampleCatalogYAML)

	matches := ex.Extract("Site #042 terminal ab123 is down, see SD-9981")
	byType := map[string]Match{}
	for _, m := range matches {
		byType[m.Type] = m
	}

	if m := byType["site"]; m.Value != "042" || m.Confidence != 0.9 {
		t.Fatalf("site match: %+v", m)
	}
	if m := byType["terminal"]; m.Value != "AB123" {
		t.Fatalf("terminal must uppercase: %+v", m)
	}
	if m := byType["terminal"]; m.Confidence != 0.5 {
		t.Fatalf("omitted confidence must default to 0.5: %+v", m)
	}
	if m := byType["ticket"]; m.Value != "SD-9981" || m.Raw != "SD-9981" {
		t.Fatalf("ticket match: %+v", m)
	}
	if m := byType["site"]; m.Extractor != "regex:v1:site_number" {
		t.Fatalf("extractor tag: %q", m.Extractor)
	}
}

func TestExtractDigitListSplitsValues(t *testing.T) {
	ex := mustCatalog(t, sampleCatalogYAML)

	var values []string
	for _, m := range ex.Extract("registers 3, 7, 12 are frozen") {
		if m.Type == "workplace" {
			values = append(values, m.Value)
		}
	}
	if len(values) != 3 || values[0] != "3" || values[1] != "7" || values[2] != "12" {
		t.Fatalf("digit_list must yield one match per number: %v", values)
	}
}

func TestExtractEmptyText(t *testing.T) {
	ex := mustCatalog(t, sampleCatalogYAML)
	if got := ex.Extract(""); got != nil {
		t.Fatalf("empty text must extract nothing: %v", got)
	}
	var nilEx *Extractor
	if got := nilEx.Extract("site #042"); got != nil {
		t.Fatalf("nil extractor must extract nothing: %v", got)
	}
}

func TestParseSkipsBrokenPattern(t *testing.T) {
	ex := mustCatalog(t, []byte(`
patterns:
  ticket:
    patterns:
      - name: broken
        regex: "(unbalanced"
      - name: working
        regex: "(SD-\\d+)"
`))
	matches := ex.Extract("ref SD-5")
	if len(matches) != 1 || matches[0].Extractor != "regex:v1:working" {
		t.Fatalf("broken pattern must be skipped, working one kept: %+v", matches)
	}
}

func TestParseValidation(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"no patterns", `extractor: regex:v1`},
		{"empty group", `
patterns:
  ticket:
    patterns: []
`},
		{"nameless pattern", `
patterns:
  ticket:
    patterns:
      - regex: "SD-\\d+"
`},
		{"empty regex", `
patterns:
  ticket:
    patterns:
      - name: blank
        regex: ""
`},
		{"confidence out of range", `
patterns:
  ticket:
    patterns:
      - name: over
        regex: "SD-\\d+"
        confidence: 1.5
`},
		{"unknown normalize mode", `
patterns:
  ticket:
    normalize: rot13
    patterns:
      - name: t
        regex: "SD-\\d+"
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
