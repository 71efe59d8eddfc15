// Package guard sanitizes final response text before it leaves the pipeline.
// An ordered list of pattern rules masks PII (email addresses, phone
// numbers) and profanity with fixed mask tokens. Rule application is
// idempotent: re-running the guard over already-masked text changes nothing.
package guard

import (
	"fmt"
	"regexp"
	"strings"
)

// Mask tokens. Fixed constants so masked output is stable and re-maskable.
const (
	EmailMask = "[email hidden]"
	PhoneMask = "[number hidden]"
)

// Hits summarizes what a SoftCensor pass masked, for logging.
type Hits struct {
	PII       int
	Profanity int
}

// Rule is one ordered substitution.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	// Replace produces the mask for one match.
	Replace func(match string) string
	// PII marks the rule as a PII rule for hit accounting.
	PII bool
}

var (
	emailRE = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	// Phone numbers: optional +country, then at least 7 digits allowing
	// spaces, dashes, dots and parentheses between groups.
	phoneRE = regexp.MustCompile(`\+?\d[\d\-. ()]{5,}\d`)
)

// defaultProfanity is the bundled profanity vocabulary. Deliberately short;
// deployments extend it via WithProfanity.
var defaultProfanity = []string{
	"bastard", "bullshit", "dickhead", "asshole", "shithead", "fuck", "shit",
}

// Guard applies its rules in order. Safe for concurrent use after
// construction.
type Guard struct {
	rules []Rule
}

// Options configures a Guard.
type Options struct {
	// Profanity replaces the bundled profanity vocabulary.
	Profanity []string
	// ExtraRules run before the built-in PII and profanity rules so a
	// deployment can claim more specific patterns first.
	ExtraRules []Rule
}

// WithProfanity overrides the profanity vocabulary.
func WithProfanity(words ...string) func(o *Options) {
	return func(o *Options) { o.Profanity = words }
}

// WithExtraRules prepends custom rules ahead of the built-ins.
func WithExtraRules(rules ...Rule) func(o *Options) {
	return func(o *Options) { o.ExtraRules = append(o.ExtraRules, rules...) }
}

// New builds a Guard with email, phone and profanity masking.
func New(optFns ...func(o *Options)) *Guard {
	opts := Options{Profanity: defaultProfanity}
	for _, fn := range optFns {
		fn(&opts)
	}

	rules := append([]Rule{}, opts.ExtraRules...)
	rules = append(rules,
		Rule{Name: "email", Pattern: emailRE, PII: true, Replace: func(string) string { return EmailMask }},
		Rule{Name: "phone", Pattern: phoneRE, PII: true, Replace: func(string) string { return PhoneMask }},
	)
	if len(opts.Profanity) > 0 {
		rules = append(rules, profanityRule(opts.Profanity))
	}
	return &Guard{rules: rules}
}

// profanityRule masks each listed word keeping its first letter, e.g.
// "damnword" becomes "d***". The mask contains no trailing word characters
// so a second pass cannot rematch.
func profanityRule(words []string) Rule {
	escaped := make([]string, 0, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		escaped = append(escaped, regexp.QuoteMeta(w))
	}
	re := regexp.MustCompile(`(?i)\b(` + strings.Join(escaped, "|") + `)\b`)
	return Rule{
		Name:    "profanity",
		Pattern: re,
		Replace: func(match string) string {
			return string([]rune(match)[0]) + "***"
		},
	}
}

// SoftCensor applies every rule in order and returns the masked text plus a
// hit summary. It never fails on content; the orchestrator treats only an
// unconfigured guard as a guard error.
func (g *Guard) SoftCensor(text string) (string, Hits) {
	var hits Hits
	for _, rule := range g.rules {
		masked := rule.Pattern.ReplaceAllStringFunc(text, func(m string) string {
			if rule.PII {
				hits.PII++
			} else {
				hits.Profanity++
			}
			return rule.Replace(m)
		})
		text = masked
	}
	return text, hits
}

// Healthy reports whether the guard has at least one rule. The orchestrator
// refuses to release text through an empty guard.
func (g *Guard) Healthy() error {
	if len(g.rules) == 0 {
		return fmt.Errorf("guard has no rules configured")
	}
	return nil
}
