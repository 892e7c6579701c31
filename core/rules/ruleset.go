// Package rules implements the regex ruleset classifier and the scheduled
// backlog sweeper that feeds its results into the classification overlay.
package rules

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

func (e *ValidationError) Error() string { return "ruleset: " + e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Rule uses pointers for enabled and exclude_any so a key the file omits
// is distinguishable from an explicit false or empty list. Both keys are
// required: silence is a validation error, not a default.
type Rule struct {
	ID          string    `yaml:"id"`
	Enabled     *bool     `yaml:"enabled"`
	Code        string    `yaml:"code"`
	Priority    int       `yaml:"priority"`
	Weight      float64   `yaml:"weight"`
	HintSymptom string    `yaml:"hint_symptom"`
	IncludeAny  []string  `yaml:"include_any"`
	ExcludeAny  *[]string `yaml:"exclude_any"`
}

type taxonomy struct {
	Codes map[string]string `yaml:"codes"`
}

type rulesetFile struct {
	RulesetVersion string   `yaml:"ruleset_version"`
	Taxonomy       taxonomy `yaml:"problem_taxonomy"`
	Rules          []Rule   `yaml:"problem_rules"`
}

// Match is the outcome of classifying a text against the ruleset.
type Match struct {
	Code           string
	RuleID         string
	Priority       int
	Weight         float64
	HintSymptom    string
	MatchedInclude string
}

type compiledRule struct {
	rule    Rule
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// Ruleset is an ordered, validated set of classification rules. Immutable
// after Load.
type Ruleset struct {
	Version string
	Codes   map[string]string
	rules   []compiledRule
}

func Load(path string) (*Ruleset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ruleset: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Ruleset, error) {
	var f rulesetFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse ruleset: %w", err)
	}
	if err := validate(&f); err != nil {
		return nil, err
	}

	rs := &Ruleset{Version: f.RulesetVersion, Codes: f.Taxonomy.Codes}
	for _, r := range f.Rules {
		if !*r.Enabled {
			continue
		}
		cr := compiledRule{rule: r}
		ok := true
		for _, pat := range r.IncludeAny {
			re, err := regexp.Compile(pat)
			if err != nil {
				// A broken include pattern disables the whole rule.
				ok = false
				break
			}
			cr.include = append(cr.include, re)
		}
		if !ok {
			continue
		}
		for _, pat := range *r.ExcludeAny {
			re, err := regexp.Compile(pat)
			if err != nil {
				// A broken exclude pattern is skipped, not fatal.
				continue
			}
			cr.exclude = append(cr.exclude, re)
		}
		rs.rules = append(rs.rules, cr)
	}
	// Priority desc, then weight desc, stable by file order.
	sort.SliceStable(rs.rules, func(i, j int) bool {
		a, b := rs.rules[i].rule, rs.rules[j].rule
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.Weight > b.Weight
	})
	return rs, nil
}

func validate(f *rulesetFile) error {
	if strings.TrimSpace(f.RulesetVersion) == "" {
		return invalid("ruleset_version is required")
	}
	if len(f.Taxonomy.Codes) == 0 {
		return invalid("problem_taxonomy.codes must be a non-empty mapping")
	}
	seen := map[string]struct{}{}
	for i, r := range f.Rules {
		if strings.TrimSpace(r.ID) == "" {
			return invalid("rule #%d has no id", i)
		}
		if _, dup := seen[r.ID]; dup {
			return invalid("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
		if r.Enabled == nil {
			return invalid("rule %s: enabled must be an explicit boolean", r.ID)
		}
		if strings.TrimSpace(r.Code) == "" {
			return invalid("rule %s: code is required", r.ID)
		}
		if _, ok := f.Taxonomy.Codes[r.Code]; !ok {
			return invalid("rule %s: code %q is not in problem_taxonomy.codes", r.ID, r.Code)
		}
		if r.Weight < 0.0 || r.Weight > 1.0 {
			return invalid("rule %s: weight must be within [0,1]", r.ID)
		}
		if len(r.IncludeAny) == 0 {
			return invalid("rule %s: include_any must be non-empty", r.ID)
		}
		for _, p := range r.IncludeAny {
			if strings.TrimSpace(p) == "" {
				return invalid("rule %s: include_any contains an empty pattern", r.ID)
			}
		}
		if r.ExcludeAny == nil {
			return invalid("rule %s: exclude_any must be present (an empty list is fine)", r.ID)
		}
		for _, p := range *r.ExcludeAny {
			if strings.TrimSpace(p) == "" {
				return invalid("rule %s: exclude_any contains an empty pattern", r.ID)
			}
		}
	}
	return nil
}

// Classify returns the best matching rule for text, or nil. Rules are
// tried in priority order; a rule matches when at least one include
// pattern hits and no exclude pattern does.
func (rs *Ruleset) Classify(text string) *Match {
	if rs == nil || text == "" {
		return nil
	}
	for _, cr := range rs.rules {
		var matched string
		for _, re := range cr.include {
			if re.MatchString(text) {
				matched = re.String()
				break
			}
		}
		if matched == "" {
			continue
		}
		excluded := false
		for _, re := range cr.exclude {
			if re.MatchString(text) {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}
		return &Match{
			Code:           cr.rule.Code,
			RuleID:         cr.rule.ID,
			Priority:       cr.rule.Priority,
			Weight:         cr.rule.Weight,
			HintSymptom:    cr.rule.HintSymptom,
			MatchedInclude: matched,
		}
	}
	return nil
}

func (rs *Ruleset) RuleCount() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}
