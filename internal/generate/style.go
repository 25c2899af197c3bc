// Package generate implements the three-phase content pipeline: research
// briefs, style-constrained drafting, and QA with hard/soft validation.
package generate

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// StyleRules is the fixed rule-set drafts are written and validated against.
type StyleRules struct {
	BannedPhrases  []string `yaml:"banned_phrases"`
	BannedPatterns []string `yaml:"banned_patterns"`
	// MaxSentenceWords and MaxParagraphSentences bound prose density.
	MaxSentenceWords      int `yaml:"max_sentence_words"`
	MaxParagraphSentences int `yaml:"max_paragraph_sentences"`
	// Word band for the bottom description. Out-of-band is a hard blocker.
	WordCountMin int `yaml:"word_count_min"`
	WordCountMax int `yaml:"word_count_max"`
	// ClosingCTA is the required call-to-action the draft must end on.
	ClosingCTA string `yaml:"closing_cta"`

	compiled []*regexp.Regexp
}

// DefaultStyleRules returns the built-in rule-set used when no file is given.
func DefaultStyleRules() StyleRules {
	rules := StyleRules{
		BannedPhrases: []string{
			"in today's fast-paced world",
			"look no further",
			"game changer",
			"game-changer",
			"elevate your",
			"unleash",
			"delve into",
			"it's no secret",
			"whether you're a",
			"in conclusion",
		},
		BannedPatterns: []string{
			`(?i)\bvery\s+unique\b`,
			`(?i)\b(world|industry)[- ]class\b`,
			`(?i)!{2,}`,
		},
		MaxSentenceWords:      28,
		MaxParagraphSentences: 4,
		WordCountMin:          300,
		WordCountMax:          450,
		ClosingCTA:            "Browse the full range today.",
	}
	if err := rules.compile(); err != nil {
		panic(fmt.Sprintf("default style rules: %v", err))
	}
	return rules
}

// LoadStyleRules reads a rule-set from a YAML file, filling gaps with
// defaults.
func LoadStyleRules(path string) (StyleRules, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-provided config path
	if err != nil {
		return StyleRules{}, fmt.Errorf("read style rules: %w", err)
	}
	rules := DefaultStyleRules()
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return StyleRules{}, fmt.Errorf("parse style rules: %w", err)
	}
	if rules.WordCountMin <= 0 || rules.WordCountMax <= rules.WordCountMin {
		return StyleRules{}, fmt.Errorf("invalid word count band [%d,%d]", rules.WordCountMin, rules.WordCountMax)
	}
	if err := rules.compile(); err != nil {
		return StyleRules{}, err
	}
	return rules, nil
}

func (r *StyleRules) compile() error {
	r.compiled = r.compiled[:0]
	for _, p := range r.BannedPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("banned pattern %q: %w", p, err)
		}
		r.compiled = append(r.compiled, re)
	}
	return nil
}

// Violations returns every banned phrase or pattern found in text.
func (r *StyleRules) Violations(text string) []string {
	var found []string
	lower := strings.ToLower(text)
	for _, phrase := range r.BannedPhrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			found = append(found, fmt.Sprintf("banned phrase: %q", phrase))
		}
	}
	for i, re := range r.compiled {
		if re.MatchString(text) {
			found = append(found, fmt.Sprintf("banned pattern: %q", r.BannedPatterns[i]))
		}
	}
	return found
}

// Describe renders the rule-set as prompt instructions.
func (r *StyleRules) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sentences at most %d words. Paragraphs at most %d sentences.\n",
		r.MaxSentenceWords, r.MaxParagraphSentences)
	fmt.Fprintf(&b, "The bottom description must be %d to %d words and end with the call to action: %q\n",
		r.WordCountMin, r.WordCountMax, r.ClosingCTA)
	if len(r.BannedPhrases) > 0 {
		fmt.Fprintf(&b, "Never use these phrases: %s\n", strings.Join(r.BannedPhrases, "; "))
	}
	return b.String()
}
