package secrets

import (
	"fmt"
	"regexp"
)

// Scrubber redacts credential material from content.
type Scrubber interface {
	// Scrub replaces secret matches with typed placeholders.
	Scrub(content string) string

	// Check reports how many rules matched without modifying content.
	Check(content string) int
}

// Rule is a single redaction rule.
type Rule struct {
	// ID identifies the rule in findings and tests.
	ID string
	// Pattern is the regexp matched against content.
	Pattern string
	// Replacement is substituted for each match. Supports $1 group refs.
	Replacement string
}

type compiledRule struct {
	id          string
	re          *regexp.Regexp
	replacement string
}

type scrubber struct {
	rules []compiledRule
}

// New creates a Scrubber from the given rules. Nil rules means DefaultRules().
func New(rules []Rule) (Scrubber, error) {
	if rules == nil {
		rules = DefaultRules()
	}

	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile rule %s: %w", r.ID, err)
		}
		compiled = append(compiled, compiledRule{id: r.ID, re: re, replacement: r.Replacement})
	}
	return &scrubber{rules: compiled}, nil
}

// MustNew creates a Scrubber, panicking on error. For use with DefaultRules.
func MustNew(rules []Rule) Scrubber {
	s, err := New(rules)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *scrubber) Scrub(content string) string {
	for _, r := range s.rules {
		content = r.re.ReplaceAllString(content, r.replacement)
	}
	return content
}

func (s *scrubber) Check(content string) int {
	matched := 0
	for _, r := range s.rules {
		if r.re.MatchString(content) {
			matched++
		}
	}
	return matched
}
