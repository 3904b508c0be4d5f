package patch

import (
	"fmt"
	"regexp"

	"github.com/itiky/collaborate-doc/model"
)

// IgnoreRules excludes matching paths from locally generated patches.
type IgnoreRules []*regexp.Regexp

// Match checks if any rule matches the path.
func (r IgnoreRules) Match(path string) bool {
	for _, rule := range r {
		if rule != nil && rule.MatchString(path) {
			return true
		}
	}

	return false
}

// ParseIgnoreRules compiles host supplied path patterns.
func ParseIgnoreRules(patterns ...string) (IgnoreRules, error) {
	rules := make(IgnoreRules, 0, len(patterns))
	for i, pattern := range patterns {
		rule, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern[%d] (%s): %w", i, pattern, err)
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

// FilterOutgoing drops operations touching ignored paths.
// The input is not modified, the surviving order is kept and an empty (non-nil) patch means "nothing to send".
func FilterOutgoing(p model.Patch, rules IgnoreRules) model.Patch {
	res := make(model.Patch, 0, len(p))
	for _, op := range p {
		if rules.Match(op.Path) {
			continue
		}
		res = append(res, op)
	}

	return res
}
