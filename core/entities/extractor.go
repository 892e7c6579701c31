// Package entities extracts structured values (site numbers, terminal
// codes, ticket ids) from event text using a YAML catalog of regex
// extractors. Extraction is a derived view computed on demand; nothing is
// persisted.
package entities

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "entities: " + e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Match is one extracted entity occurrence. Value is the normalized form,
// Raw the exact text that matched.
type Match struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Raw        string  `json:"raw"`
	Confidence float64 `json:"confidence"`
	Extractor  string  `json:"extractor"`
}

type pattern struct {
	Name       string   `yaml:"name"`
	Regex      string   `yaml:"regex"`
	Confidence *float64 `yaml:"confidence"`
}

type group struct {
	// Normalize selects how a captured value is canonicalized:
	// "" trims whitespace, "digits" keeps digits only, "upper" uppercases,
	// "digit_list" splits the capture into every 1-2 digit number it holds.
	Normalize string    `yaml:"normalize"`
	Patterns  []pattern `yaml:"patterns"`
}

type catalogFile struct {
	Extractor string           `yaml:"extractor"`
	Patterns  map[string]group `yaml:"patterns"`
}

type compiledPattern struct {
	name       string
	re         *regexp.Regexp
	confidence float64
}

type compiledGroup struct {
	entityType string
	normalize  string
	patterns   []compiledPattern
}

// Extractor is an immutable compiled catalog. A nil Extractor extracts
// nothing, so callers without a configured catalog need no special case.
type Extractor struct {
	version string
	groups  []compiledGroup
}

var digitListRe = regexp.MustCompile(`\b\d{1,2}\b`)

func Load(path string) (*Extractor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entities catalog: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Extractor, error) {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse entities catalog: %w", err)
	}
	if err := validate(&f); err != nil {
		return nil, err
	}

	version := f.Extractor
	if version == "" {
		version = "regex:v1"
	}
	ex := &Extractor{version: version}
	for entityType, g := range f.Patterns {
		cg := compiledGroup{entityType: entityType, normalize: g.Normalize}
		for _, p := range g.Patterns {
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				// A broken extractor pattern is skipped, not fatal.
				continue
			}
			confidence := 0.5
			if p.Confidence != nil {
				confidence = *p.Confidence
			}
			cg.patterns = append(cg.patterns, compiledPattern{name: p.Name, re: re, confidence: confidence})
		}
		if len(cg.patterns) > 0 {
			ex.groups = append(ex.groups, cg)
		}
	}
	// Map iteration order is random; keep extraction output stable.
	sort.Slice(ex.groups, func(i, j int) bool {
		return ex.groups[i].entityType < ex.groups[j].entityType
	})
	return ex, nil
}

func validate(f *catalogFile) error {
	if len(f.Patterns) == 0 {
		return invalid("patterns must be a non-empty mapping")
	}
	for entityType, g := range f.Patterns {
		if strings.TrimSpace(entityType) == "" {
			return invalid("entity type key must be non-empty")
		}
		switch g.Normalize {
		case "", "digits", "upper", "digit_list":
		default:
			return invalid("patterns.%s: unknown normalize mode %q", entityType, g.Normalize)
		}
		if len(g.Patterns) == 0 {
			return invalid("patterns.%s must list at least one pattern", entityType)
		}
		for _, p := range g.Patterns {
			if strings.TrimSpace(p.Name) == "" {
				return invalid("patterns.%s: every pattern needs a name", entityType)
			}
			if strings.TrimSpace(p.Regex) == "" {
				return invalid("patterns.%s.%s: regex must be non-empty", entityType, p.Name)
			}
			if p.Confidence != nil && (*p.Confidence < 0.0 || *p.Confidence > 1.0) {
				return invalid("patterns.%s.%s: confidence must be within [0,1]", entityType, p.Name)
			}
		}
	}
	return nil
}

// Extract runs every catalog pattern over text and returns all matches.
// The captured value is group 1 when the pattern has one, the whole match
// otherwise. Values normalizing to nothing are dropped.
func (e *Extractor) Extract(text string) []Match {
	if e == nil || text == "" {
		return nil
	}
	var found []Match
	for _, g := range e.groups {
		for _, p := range g.patterns {
			for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
				raw := text[loc[0]:loc[1]]
				val := raw
				if len(loc) >= 4 && loc[2] >= 0 {
					val = text[loc[2]:loc[3]]
				}
				extractor := e.version + ":" + p.name
				if g.normalize == "digit_list" {
					for _, n := range digitListRe.FindAllString(val, -1) {
						found = append(found, Match{
							Type:       g.entityType,
							Value:      n,
							Raw:        raw,
							Confidence: p.confidence,
							Extractor:  extractor,
						})
					}
					continue
				}
				norm := normalize(g.normalize, val)
				if norm == "" {
					continue
				}
				found = append(found, Match{
					Type:       g.entityType,
					Value:      norm,
					Raw:        raw,
					Confidence: p.confidence,
					Extractor:  extractor,
				})
			}
		}
	}
	return found
}

func normalize(mode, value string) string {
	v := strings.TrimSpace(value)
	switch mode {
	case "digits":
		var b strings.Builder
		for _, r := range v {
			if r >= '0' && r <= '9' {
				b.WriteRune(r)
			}
		}
		return b.String()
	case "upper":
		return strings.ToUpper(v)
	default:
		return v
	}
}

func (e *Extractor) Version() string {
	if e == nil {
		return ""
	}
	return e.version
}
