package triage

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed severity_rules.yaml
var defaultRulesYAML []byte

// Rules is the keyword rule engine for severity and urgency. It is immutable
// and safe for concurrent use.
type Rules struct {
	high   []string
	medium []string
}

type rulesDoc struct {
	High   []string `yaml:"high"`
	Medium []string `yaml:"medium"`
}

// DefaultRules returns the built-in rule set.
func DefaultRules() *Rules {
	r, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("triage: embedded severity rules: %v", err))
	}
	return r
}

// LoadRules reads a rule set from a YAML file with "high" and "medium" lists.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is from operator config
	if err != nil {
		return nil, fmt.Errorf("read severity rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules parses a YAML rule set. Phrases are case-folded and blank
// entries dropped; list order is preserved.
func ParseRules(data []byte) (*Rules, error) {
	var doc rulesDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse severity rules: %w", err)
	}
	r := &Rules{high: fold(doc.High), medium: fold(doc.Medium)}
	if len(r.high) == 0 {
		return nil, errors.New("parse severity rules: high list is empty")
	}
	return r, nil
}

// Classify maps text to a severity and urgency flag. A high phrase wins;
// any other text, with or without a medium phrase, is medium and not urgent.
func (r *Rules) Classify(text string) (Severity, bool) {
	folded := strings.ToLower(text)
	if containsAny(folded, r.high) {
		return SeverityHigh, true
	}
	return SeverityMedium, false
}

// HighPhrases returns a copy of the high-severity phrases.
func (r *Rules) HighPhrases() []string { return append([]string(nil), r.high...) }

// MediumPhrases returns a copy of the medium-severity phrases.
func (r *Rules) MediumPhrases() []string { return append([]string(nil), r.medium...) }

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func fold(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
