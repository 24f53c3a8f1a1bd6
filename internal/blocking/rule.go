package blocking

import (
	"log/slog"
	"regexp"
	"strings"

	"privacyhub/internal/consent/models"
	"privacyhub/internal/platform/config"
)

// Action is what happens to a blocked activity.
type Action string

const (
	ActionBlock       Action = "block"
	ActionPlaceholder Action = "replace_with_placeholder"
)

// Rule gates activity whose URL matches Pattern behind Category.
//
// Pattern is a case-insensitive substring unless it is regex-shaped: wrapped in
// slashes ("/ads\d+\.js/") or prefixed with "re:".
type Rule struct {
	ID       string          `json:"id"`
	Pattern  string          `json:"pattern"`
	Category models.Category `json:"category"`
	Action   Action          `json:"action"`
}

// RulesFromPolicy converts the policy file representation.
func RulesFromPolicy(specs []config.RuleSpec) []Rule {
	rules := make([]Rule, 0, len(specs))
	for _, spec := range specs {
		action := Action(spec.Action)
		if action == "" {
			action = ActionBlock
		}
		rules = append(rules, Rule{
			ID:       spec.ID,
			Pattern:  spec.Pattern,
			Category: models.Category(spec.Category),
			Action:   action,
		})
	}
	return rules
}

type matcher struct {
	rule    Rule
	re      *regexp.Regexp
	literal string
}

// compileRule never fails. A regex that does not compile degrades to a substring
// match on the pattern body and is reported through broken.
func compileRule(r Rule, logger *slog.Logger) (m matcher, broken bool) {
	m.rule = r
	body, isRegex := regexBody(r.Pattern)
	if !isRegex {
		m.literal = strings.ToLower(r.Pattern)
		return m, false
	}
	re, err := regexp.Compile(body)
	if err != nil {
		logger.Warn("blocking rule pattern does not compile, using substring match",
			"rule_id", r.ID,
			"error", err,
		)
		m.literal = strings.ToLower(body)
		return m, true
	}
	m.re = re
	return m, false
}

func regexBody(pattern string) (string, bool) {
	if rest, ok := strings.CutPrefix(pattern, "re:"); ok {
		return rest, true
	}
	if len(pattern) >= 2 && strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/") {
		return pattern[1 : len(pattern)-1], true
	}
	return "", false
}

func (m matcher) matches(url string) bool {
	if m.re != nil {
		return m.re.MatchString(url)
	}
	if m.literal == "" {
		return false
	}
	return strings.Contains(strings.ToLower(url), m.literal)
}
