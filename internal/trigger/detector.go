// Package trigger implements the keyword/regex trigger-phrase heuristic the
// agent state manager consults to decide whether an inbound chat message
// starts a tool operation.
package trigger

import (
	"regexp"
	"strings"
)

// Rule maps a compiled pattern to the tool_type it signals.
type Rule struct {
	Pattern  *regexp.Regexp
	ToolType string
}

// Detector implements toolops.TriggerDetector: the first rule (in
// registration order) whose pattern matches text wins.
type Detector struct {
	rules []Rule
}

// NewDetector builds a Detector from rules, whose patterns are already
// compiled (see MustRule).
func NewDetector(rules ...Rule) *Detector {
	return &Detector{rules: rules}
}

// Detect reports the tool_type of the first matching rule, if any.
func (d *Detector) Detect(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, rule := range d.rules {
		if rule.Pattern.MatchString(lower) {
			return rule.ToolType, true
		}
	}
	return "", false
}

// MustRule compiles pattern into a Rule bound to toolType, panicking on an
// invalid regex since rule sets are fixed at process startup.
func MustRule(pattern, toolType string) Rule {
	return Rule{Pattern: regexp.MustCompile(pattern), ToolType: toolType}
}

// DefaultDetector returns the rule set for the two bundled tools: tweet
// scheduling/posting phrasing, and NEAR deposit/withdraw/swap/limit-order
// phrasing.
func DefaultDetector() *Detector {
	return NewDetector(
		MustRule(`\b(schedule|post|draft|write)\b.*\btweets?\b`, "tweet"),
		MustRule(`\btweets?\b.*\b(schedule|post|draft|write)\b`, "tweet"),
		MustRule(`\b(deposit|withdraw|swap|limit[\s-]?order)\b`, "intents"),
	)
}
