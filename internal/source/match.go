// Package source maps message envelopes to configured newsletter sources.
package source

import (
	"strings"

	"NewsDigest/internal/config"
)

// Match returns the first enabled rule, in declaration order, whose
// from_pattern is contained in the sender address. Matching is
// case-insensitive; wildcard characters collapse to substring semantics
// ("*@example.com" matches any local part at example.com). An empty
// pattern matches every sender. nil means no rule matched and the message
// is excluded from the run.
func Match(rules []config.SourceRule, from string) *config.SourceRule {
	sender := strings.ToLower(from)
	for i := range rules {
		rule := &rules[i]
		if !rule.IsEnabled() {
			continue
		}
		pattern := strings.ToLower(strings.ReplaceAll(rule.FromPattern, "*", ""))
		if strings.Contains(sender, pattern) {
			return rule
		}
	}
	return nil
}
